// Package gateway implements the health source adapter against the device
// health-data gateway, the HTTP bridge that exposes HealthKit records for a
// user's paired device.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rahulr8/trailblazer/internal/domain"
)

// HTTPError carries a non-2xx gateway response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway http %d: %s", e.StatusCode, e.Message)
}

// Gateway error codes that mean HealthKit access was declined or revoked.
const (
	codeAuthorizationDenied        = "authorization_denied"
	codeAuthorizationNotDetermined = "authorization_not_determined"
)

// Client talks to the health-data gateway.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a Client. The http.Client's timeout is the per-request
// fetch timeout; callers may tighten it further per call via context.
func NewClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	return &Client{
		baseURL: parsed,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "gateway").Logger(),
	}, nil
}

// Available reports whether the gateway can serve health data. Any failure
// reads as unavailable; the check must never propagate an error.
func (c *Client) Available(ctx context.Context) bool {
	var resp struct {
		Available bool `json:"available"`
	}
	if err := c.get(ctx, "/v1/availability", nil, &resp); err != nil {
		c.log.Debug().Err(err).Msg("availability probe failed")
		return false
	}
	return resp.Available
}

// RequestAuthorization asks the gateway to ensure HealthKit read access for
// the user. The gateway relays the OS behaviour: prompt only when not yet
// determined, succeed immediately when already granted, fail when denied.
func (c *Client) RequestAuthorization(ctx context.Context) error {
	var resp struct {
		Authorized bool `json:"authorized"`
	}
	err := c.post(ctx, "/v1/authorization", map[string]any{
		"read": []string{
			"workouts",
			string(domain.DistanceWalkingRunning),
			string(domain.DistanceCycling),
			string(domain.DistanceSwimming),
		},
	}, &resp)
	if err != nil {
		if isAuthorizationError(err) {
			return domain.ErrAuthorizationDenied
		}
		return err
	}
	if !resp.Authorized {
		return domain.ErrAuthorizationDenied
	}
	return nil
}

type workoutPayload struct {
	RecordID        string             `json:"record_id"`
	TypeCode        int                `json:"type_code"`
	TypeName        string             `json:"type_name"`
	StartedAt       time.Time          `json:"started_at"`
	DurationSeconds float64            `json:"duration_seconds"`
	DistanceMeters  map[string]float64 `json:"distance_meters"`
}

// FetchWorkoutsSince pulls raw workout records starting at the watermark.
// Revoked access maps to domain.ErrAuthorizationDenied so the orchestrator
// can clear the stored connection.
func (c *Client) FetchWorkoutsSince(ctx context.Context, uid string, since time.Time) ([]domain.RawWorkout, error) {
	query := url.Values{"since": {since.UTC().Format(time.RFC3339)}}
	var resp struct {
		Workouts []workoutPayload `json:"workouts"`
	}
	if err := c.get(ctx, "/v1/users/"+url.PathEscape(uid)+"/workouts", query, &resp); err != nil {
		if isAuthorizationError(err) {
			return nil, domain.ErrAuthorizationDenied
		}
		return nil, err
	}

	records := make([]domain.RawWorkout, 0, len(resp.Workouts))
	for _, w := range resp.Workouts {
		distances := make(map[domain.DistanceChannel]float64, len(w.DistanceMeters))
		for channel, meters := range w.DistanceMeters {
			distances[domain.DistanceChannel(channel)] = meters
		}
		records = append(records, domain.RawWorkout{
			RecordID:        w.RecordID,
			TypeCode:        w.TypeCode,
			TypeName:        w.TypeName,
			StartedAt:       w.StartedAt,
			DurationSeconds: w.DurationSeconds,
			DistanceMeters:  distances,
		})
	}
	return records, nil
}

func isAuthorizationError(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	switch httpErr.Code {
	case codeAuthorizationDenied, codeAuthorizationNotDetermined:
		return true
	}
	return httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := *c.baseURL
	target.Path, _ = url.JoinPath(c.baseURL.Path, path)
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: string(payload)}

	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &parsed); err == nil && parsed.Code != "" {
		httpErr.Code = parsed.Code
		httpErr.Message = parsed.Message
	}
	return httpErr
}
