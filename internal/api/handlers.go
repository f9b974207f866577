// Package api exposes the HTTP surface of the health sync service.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/rahulr8/trailblazer/internal/auth"
	"github.com/rahulr8/trailblazer/internal/connection"
	"github.com/rahulr8/trailblazer/internal/domain"
	"github.com/rahulr8/trailblazer/internal/stats"
	"github.com/rahulr8/trailblazer/internal/store"
	syncpipeline "github.com/rahulr8/trailblazer/internal/sync"
)

const defaultListLimit = 20

// Handler coordinates HTTP requests with the sync pipeline.
type Handler struct {
	orchestrator *syncpipeline.Orchestrator
	connections  *connection.Service
	users        store.UserStore
	activities   store.ActivityStore
	stats        *stats.Updater
	stepsPerKm   int
	now          func() time.Time
	log          zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(orchestrator *syncpipeline.Orchestrator, connections *connection.Service, users store.UserStore, activities store.ActivityStore, updater *stats.Updater, stepsPerKm int, log zerolog.Logger) *Handler {
	if stepsPerKm <= 0 {
		stepsPerKm = domain.DefaultStepsPerKm
	}
	return &Handler{
		orchestrator: orchestrator,
		connections:  connections,
		users:        users,
		activities:   activities,
		stats:        updater,
		stepsPerKm:   stepsPerKm,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes wires endpoints to the router. Authentication middleware is
// applied by the caller; /healthz is expected to be skipped there.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/health/connect", h.connect)
	r.Post("/v1/health/disconnect", h.disconnect)
	r.Post("/v1/health/sync", h.sync)
	r.Get("/v1/health/status", h.status)
	r.Get("/v1/health/status/ws", h.statusStream)
	r.Post("/v1/activities", h.createActivity)
	r.Get("/v1/activities", h.listActivities)
	r.Get("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.requireScope(w, r, auth.ScopeHealthSync)
	if !ok {
		return
	}

	if err := h.orchestrator.Connect(r.Context(), uid); err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{Connected: true})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.requireScope(w, r, auth.ScopeHealthSync)
	if !ok {
		return
	}

	if err := h.orchestrator.Disconnect(r.Context(), uid); err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{Connected: false})
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.requireScope(w, r, auth.ScopeHealthSync)
	if !ok {
		return
	}

	result, err := h.orchestrator.Sync(r.Context(), uid)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{
		SyncedCount:  result.Synced,
		SkippedCount: result.Skipped,
		FetchedCount: result.Fetched,
		FailedCount:  result.Failed,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.requireScope(w, r, auth.ScopeHealthRead)
	if !ok {
		return
	}

	resp, err := h.statusSnapshot(r)
	if err != nil {
		h.log.Error().Err(err).Str("uid", uid).Msg("status lookup failed")
		writeError(w, http.StatusInternalServerError, "server_error", "unable to load status")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusStream pushes the current status snapshot on connect, then a
// status update after every connection state change for the user.
func (h *Handler) statusStream(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.requireScope(w, r, auth.ScopeHealthRead)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("uid", uid).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()

	// Listener writes are non-blocking; a slow client observes the most
	// recent state on its next read rather than stalling the pipeline.
	updates := make(chan connection.State, 8)
	unsubscribe := h.connections.Subscribe(uid, func(state connection.State) {
		select {
		case updates <- state:
		default:
		}
	})
	defer unsubscribe()

	snapshot, err := h.statusSnapshot(r)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "status unavailable")
		return
	}
	if err := wsjson.Write(ctx, conn, snapshot); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case state := <-updates:
			update := StatusUpdate{Connected: state.Connected}
			if !state.LastSyncAt.IsZero() {
				at := state.LastSyncAt
				update.LastSyncAt = &at
			}
			if err := wsjson.Write(ctx, conn, update); err != nil {
				return
			}
		}
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.requireScope(w, r, auth.ScopeHealthSync)
	if !ok {
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	activityType, err := req.Validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Workout"
	}
	activity := domain.Activity{
		Source:          domain.SourceManual,
		Type:            activityType,
		DurationSeconds: req.DurationSeconds,
		DistanceKm:      req.DistanceKm,
		StartedAt:       req.StartedAt.UTC(),
		Name:            name,
		SportType:       req.SportType,
	}

	id, err := h.activities.Insert(r.Context(), uid, activity)
	if err != nil {
		h.log.Error().Err(err).Str("uid", uid).Msg("manual activity insert failed")
		writeError(w, http.StatusInternalServerError, "server_error", "unable to save activity")
		return
	}
	activity.ID = id

	var delta domain.StatsDelta
	delta.Add(activity, h.stepsPerKm)
	if err := h.stats.ApplyDelta(r.Context(), uid, delta); err != nil {
		h.log.Error().Err(err).Str("uid", uid).Msg("stats update failed after manual insert")
		writeError(w, http.StatusInternalServerError, "server_error", "activity saved but stats update failed")
		return
	}
	if err := h.stats.RecomputeStreak(r.Context(), uid, h.now()); err != nil {
		h.log.Error().Err(err).Str("uid", uid).Msg("streak recompute failed after manual insert")
		writeError(w, http.StatusInternalServerError, "server_error", "activity saved but streak update failed")
		return
	}

	writeJSON(w, http.StatusCreated, toActivityView(activity))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.requireScope(w, r, auth.ScopeHealthRead)
	if !ok {
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	activities, err := h.activities.ListByUser(r.Context(), uid, limit)
	if err != nil {
		h.log.Error().Err(err).Str("uid", uid).Msg("activity list failed")
		writeError(w, http.StatusInternalServerError, "server_error", "unable to list activities")
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: items})
}

func (h *Handler) statusSnapshot(r *http.Request) (StatusResponse, error) {
	claims, _ := auth.FromContext(r.Context())
	uid := claims.Subject

	conn, err := h.connections.Get(r.Context(), uid)
	if err != nil {
		return StatusResponse{}, err
	}
	userStats, err := h.users.GetStats(r.Context(), uid)
	if err != nil {
		return StatusResponse{}, err
	}

	resp := StatusResponse{
		Stats: StatsView{
			TotalMinutes:  userStats.TotalMinutes,
			TotalKm:       userStats.TotalKm,
			TotalSteps:    userStats.TotalSteps,
			CurrentStreak: userStats.CurrentStreak,
			LongestStreak: userStats.LongestStreak,
		},
	}
	if conn != nil && conn.IsAuthorized {
		resp.Connected = true
		if !conn.ConnectedAt.IsZero() {
			at := conn.ConnectedAt
			resp.ConnectedAt = &at
		}
		if !conn.LastSyncAt.IsZero() {
			at := conn.LastSyncAt
			resp.LastSyncAt = &at
		}
	}
	return resp, nil
}

// requireScope resolves the authenticated user and enforces the scope.
// ScopeHealthSync implies read access.
func (h *Handler) requireScope(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	if !claims.HasScope(scope) && !(scope == auth.ScopeHealthRead && claims.HasScope(auth.ScopeHealthSync)) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return "", false
	}
	return claims.Subject, true
}

func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "sync_in_progress", "a sync for this user is already running")
	case errors.Is(err, domain.ErrNotConnected):
		writeError(w, http.StatusPreconditionFailed, "not_connected", "connect a health source before syncing")
	case errors.Is(err, domain.ErrAuthorizationDenied):
		writeError(w, http.StatusForbidden, "authorization_denied", "health access was revoked, reconnect required")
	case errors.Is(err, domain.ErrSourceUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "source_unavailable", "health data is not available on this device")
	case errors.Is(err, domain.ErrFetchFailed):
		writeError(w, http.StatusBadGateway, "fetch_failed", "the health source did not respond, try again later")
	default:
		h.log.Error().Err(err).Msg("sync pipeline failure")
		writeError(w, http.StatusInternalServerError, "server_error", "unexpected failure")
	}
}

// ConnectResponse reports the connection state after connect/disconnect.
type ConnectResponse struct {
	Connected bool `json:"connected"`
}

// SyncResponse is the per-run accounting for POST /v1/health/sync.
type SyncResponse struct {
	SyncedCount  int `json:"synced_count"`
	SkippedCount int `json:"skipped_count"`
	FetchedCount int `json:"fetched_count"`
	FailedCount  int `json:"failed_count"`
}

// StatsView exposes the lifetime counters and streaks.
type StatsView struct {
	TotalMinutes  int     `json:"total_minutes"`
	TotalKm       float64 `json:"total_km"`
	TotalSteps    int     `json:"total_steps"`
	CurrentStreak int     `json:"current_streak"`
	LongestStreak int     `json:"longest_streak"`
}

// StatusResponse combines connection state with aggregate stats.
type StatusResponse struct {
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	Stats       StatsView  `json:"stats"`
}

// StatusUpdate is the incremental event pushed on the status stream.
type StatusUpdate struct {
	Connected  bool       `json:"connected"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	Type            string    `json:"type"`
	DurationSeconds int       `json:"duration_seconds"`
	DistanceKm      float64   `json:"distance_km"`
	StartedAt       time.Time `json:"started_at"`
	Name            string    `json:"name"`
	SportType       string    `json:"sport_type"`
}

// Validate checks request correctness and resolves the activity type.
func (r CreateActivityRequest) Validate() (domain.ActivityType, error) {
	activityType, ok := domain.ParseActivityType(strings.TrimSpace(r.Type))
	if !ok {
		return "", errors.New("type must be a known activity type")
	}
	if r.DurationSeconds <= 0 {
		return "", errors.New("duration_seconds must be > 0")
	}
	if r.DistanceKm < 0 {
		return "", errors.New("distance_km must be >= 0")
	}
	if r.StartedAt.IsZero() {
		return "", errors.New("started_at is required")
	}
	return activityType, nil
}

// ActivityView exposes a stored activity.
type ActivityView struct {
	ActivityID      string    `json:"activity_id"`
	Source          string    `json:"source"`
	ExternalID      string    `json:"external_id,omitempty"`
	Type            string    `json:"type"`
	DurationSeconds int       `json:"duration_seconds"`
	DistanceKm      float64   `json:"distance_km"`
	StartedAt       time.Time `json:"started_at"`
	Name            string    `json:"name"`
	SportType       string    `json:"sport_type,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:      a.ID,
		Source:          string(a.Source),
		ExternalID:      a.ExternalID,
		Type:            string(a.Type),
		DurationSeconds: a.DurationSeconds,
		DistanceKm:      a.DistanceKm,
		StartedAt:       a.StartedAt,
		Name:            a.Name,
		SportType:       a.SportType,
		CreatedAt:       a.CreatedAt,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
