package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/rahulr8/trailblazer/internal/auth"
	"github.com/rahulr8/trailblazer/internal/connection"
	"github.com/rahulr8/trailblazer/internal/domain"
	"github.com/rahulr8/trailblazer/internal/stats"
	"github.com/rahulr8/trailblazer/internal/store/memory"
	syncpipeline "github.com/rahulr8/trailblazer/internal/sync"
)

type stubProvider struct {
	available bool
	authErr   error
	records   []domain.RawWorkout
	fetchErr  error
}

func (s *stubProvider) Available(context.Context) bool { return s.available }

func (s *stubProvider) RequestAuthorization(context.Context) error { return s.authErr }

func (s *stubProvider) FetchWorkoutsSince(context.Context, string, time.Time) ([]domain.RawWorkout, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.records, nil
}

type harness struct {
	handler     *Handler
	provider    *stubProvider
	store       *memory.Store
	connections *connection.Service
	router      chi.Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := zerolog.Nop()
	st := memory.NewStore()
	prov := &stubProvider{available: true}
	connections := connection.NewService(st, log)
	updater := stats.NewUpdater(st, st, log)
	orchestrator := syncpipeline.NewOrchestrator(prov, st, connections, updater, nil, syncpipeline.Config{}, log)

	handler := NewHandler(orchestrator, connections, st, st, updater, 0, log)
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	return &harness{
		handler:     handler,
		provider:    prov,
		store:       st,
		connections: connections,
		router:      router,
	}
}

func claimsContext(ctx context.Context, scopes ...string) context.Context {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return auth.WithClaims(ctx, &auth.Claims{
		Subject:   "user-1",
		Scopes:    set,
		ExpiresAt: time.Now().Add(time.Hour),
	})
}

func (h *harness) do(t *testing.T, method, target string, body interface{}, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if len(scopes) > 0 {
		req = req.WithContext(claimsContext(req.Context(), scopes...))
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func rawRecord(id string, startedAt time.Time) domain.RawWorkout {
	return domain.RawWorkout{
		RecordID:        id,
		TypeCode:        37,
		StartedAt:       startedAt,
		DurationSeconds: 1800,
		DistanceMeters: map[domain.DistanceChannel]float64{
			domain.DistanceWalkingRunning: 5000,
		},
	}
}

func TestConnectThenStatus(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/health/connect", nil, auth.ScopeHealthSync)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ConnectResponse](t, rec).Connected)

	rec = h.do(t, http.MethodGet, "/v1/health/status", nil, auth.ScopeHealthRead)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.True(t, status.Connected)
	assert.NotNil(t, status.ConnectedAt)
	assert.Nil(t, status.LastSyncAt)
}

func TestConnectSourceUnavailable(t *testing.T) {
	h := newHarness(t)
	h.provider.available = false

	rec := h.do(t, http.MethodPost, "/v1/health/connect", nil, auth.ScopeHealthSync)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSyncReportsCounts(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	h.provider.records = []domain.RawWorkout{
		rawRecord("hk-1", now.Add(-2*time.Hour)),
		rawRecord("hk-2", now.Add(-time.Hour)),
	}

	rec := h.do(t, http.MethodPost, "/v1/health/connect", nil, auth.ScopeHealthSync)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/health/sync", nil, auth.ScopeHealthSync)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SyncResponse](t, rec)
	assert.Equal(t, 2, resp.SyncedCount)
	assert.Equal(t, 0, resp.SkippedCount)

	// Watermark advanced; the stub still returns both records, so a rerun
	// dedupes them all.
	rec = h.do(t, http.MethodPost, "/v1/health/sync", nil, auth.ScopeHealthSync)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[SyncResponse](t, rec)
	assert.Equal(t, 0, resp.SyncedCount)
	assert.Equal(t, 2, resp.SkippedCount)
}

func TestSyncNotConnected(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/health/sync", nil, auth.ScopeHealthSync)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestSyncAuthorizationRevoked(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/health/connect", nil, auth.ScopeHealthSync)
	require.Equal(t, http.StatusOK, rec.Code)

	h.provider.authErr = domain.ErrAuthorizationDenied
	rec = h.do(t, http.MethodPost, "/v1/health/sync", nil, auth.ScopeHealthSync)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The revocation cleared the stored connection.
	rec = h.do(t, http.MethodGet, "/v1/health/status", nil, auth.ScopeHealthRead)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[StatusResponse](t, rec).Connected)
}

func TestSyncFetchFailure(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/health/connect", nil, auth.ScopeHealthSync)
	require.Equal(t, http.StatusOK, rec.Code)

	h.provider.fetchErr = context.DeadlineExceeded
	rec = h.do(t, http.MethodPost, "/v1/health/sync", nil, auth.ScopeHealthSync)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestScopeEnforcement(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/health/sync", nil, auth.ScopeHealthRead)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/health/sync", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Sync scope implies read access.
	rec = h.do(t, http.MethodGet, "/v1/health/status", nil, auth.ScopeHealthSync)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateManualActivity(t *testing.T) {
	h := newHarness(t)

	req := CreateActivityRequest{
		Type:            "run",
		DurationSeconds: 1800,
		DistanceKm:      5,
		StartedAt:       time.Now().UTC().Add(-time.Hour),
		Name:            "Morning Run",
	}
	rec := h.do(t, http.MethodPost, "/v1/activities", req, auth.ScopeHealthSync)
	require.Equal(t, http.StatusCreated, rec.Code)
	view := decode[ActivityView](t, rec)
	assert.NotEmpty(t, view.ActivityID)
	assert.Equal(t, "manual", view.Source)
	assert.Empty(t, view.ExternalID)

	rec = h.do(t, http.MethodGet, "/v1/health/status", nil, auth.ScopeHealthRead)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, 30, status.Stats.TotalMinutes)
	assert.InDelta(t, 5.0, status.Stats.TotalKm, 1e-9)
	assert.Equal(t, 6500, status.Stats.TotalSteps)
	assert.Equal(t, 1, status.Stats.CurrentStreak)
}

func TestCreateActivityValidation(t *testing.T) {
	h := newHarness(t)

	req := CreateActivityRequest{
		Type:            "teleport",
		DurationSeconds: 1800,
		StartedAt:       time.Now().UTC(),
	}
	rec := h.do(t, http.MethodPost, "/v1/activities", req, auth.ScopeHealthSync)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = CreateActivityRequest{Type: "run", DurationSeconds: 0, StartedAt: time.Now().UTC()}
	rec = h.do(t, http.MethodPost, "/v1/activities", req, auth.ScopeHealthSync)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListActivities(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()

	for _, req := range []CreateActivityRequest{
		{Type: "run", DurationSeconds: 1800, DistanceKm: 5, StartedAt: now.Add(-3 * time.Hour)},
		{Type: "bike", DurationSeconds: 3600, DistanceKm: 20, StartedAt: now.Add(-2 * time.Hour)},
		{Type: "walk", DurationSeconds: 900, DistanceKm: 1.5, StartedAt: now.Add(-time.Hour)},
	} {
		rec := h.do(t, http.MethodPost, "/v1/activities", req, auth.ScopeHealthSync)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := h.do(t, http.MethodGet, "/v1/activities?limit=2", nil, auth.ScopeHealthRead)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ListActivitiesResponse](t, rec)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "walk", resp.Items[0].Type)
	assert.Equal(t, "bike", resp.Items[1].Type)

	rec = h.do(t, http.MethodGet, "/v1/activities?limit=nope", nil, auth.ScopeHealthRead)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthzUnauthenticated(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusStreamPushesUpdates(t *testing.T) {
	h := newHarness(t)

	// Inject claims the way the middleware would for ?token= requests.
	authed := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(claimsContext(r.Context(), auth.ScopeHealthRead)))
		})
	}
	srv := httptest.NewServer(authed(h.router))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/v1/health/status/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snapshot StatusResponse
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.False(t, snapshot.Connected)

	require.NoError(t, h.connections.Connect(ctx, "user-1", time.Now().UTC()))

	var update StatusUpdate
	require.NoError(t, wsjson.Read(ctx, conn, &update))
	assert.True(t, update.Connected)
}
