package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/internal/application/query"
	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/integrity"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/habitquest/progression-engine/internal/infrastructure/scheduler"
	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
	"github.com/habitquest/progression-engine/internal/interface/http/handlers"
	"github.com/habitquest/progression-engine/pkg/timeutil"
)

var now = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

type noopJob struct{ err error }

func (noopJob) Name() string                    { return "integrity_scan" }
func (noopJob) Description() string             { return "test job" }
func (j noopJob) Run(ctx context.Context) error { return j.err }

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body JSONResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServer_Health(t *testing.T) {
	hc := handlers.NewCompositeHealthChecker("test")
	hc.AddCheck("database", func(context.Context) error { return nil })
	hc.AddOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	srv := NewServer(DefaultConfig(), Dependencies{HealthChecker: hc})

	rec, _ := do(t, srv.Handler(), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), "Some checks failed: redis")

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	hc.AddCheck("database", func(context.Context) error { return errors.New("timeout") })
	rec, body := do(t, srv.Handler(), http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "not_ready", body.Error.Code)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	metrics := telemetry.NewMetrics("test")
	metrics.RecordScanUser("clean")

	srv := NewServer(DefaultConfig(), Dependencies{Metrics: metrics})
	rec, _ := do(t, srv.Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_")

	srv = NewServer(DefaultConfig(), Dependencies{})
	rec, _ = do(t, srv.Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Jobs(t *testing.T) {
	sched := scheduler.New(scheduler.DefaultConfig())
	require.NoError(t, sched.Register("@every 1h", noopJob{}))

	srv := NewServer(DefaultConfig(), Dependencies{Jobs: sched})

	rec, body := do(t, srv.Handler(), http.MethodGet, "/jobs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Contains(t, rec.Body.String(), `"integrity_scan"`)

	rec, body = do(t, srv.Handler(), http.MethodPost, "/jobs/integrity_scan/run")
	assert.Equal(t, http.StatusOK, rec.Code)
	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["success"])

	rec, body = do(t, srv.Handler(), http.MethodPost, "/jobs/nope/run")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job_not_found", body.Error.Code)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/jobs/integrity_scan/run")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Integrity(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c, err := character.New("char-1", "user-1", now)
	require.NoError(t, err)
	require.NoError(t, st.CreateCharacter(ctx, c))
	require.NoError(t, st.CreateGoal(ctx, "user-1", &goal.Goal{CharacterID: c.ID, Progress: 100}))

	checker := query.NewCheckIntegrityHandler(st, nil, nil, timeutil.Fixed(now), nil)
	srv := NewServer(DefaultConfig(), Dependencies{Checker: checker})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/user-1/integrity?fresh=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data integrity.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Data.IsValid)
	require.Len(t, body.Data.Warnings, 1)
	assert.Equal(t, integrity.CodeGoalCompletionMismatch, body.Data.Warnings[0].Code)
}

type stubChecker struct{ err error }

func (s stubChecker) Handle(context.Context, query.CheckIntegrityQuery) (*integrity.Report, error) {
	return nil, s.err
}

func TestServer_IntegrityErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", shared.WrapError("integrity", "Check", shared.ErrInvalidInput, "validation failed", errors.New("user_id is required")), http.StatusBadRequest},
		{"storage", shared.Storage("integrity", "Check", errors.New("connection reset")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(DefaultConfig(), Dependencies{Checker: stubChecker{err: tt.err}})
			rec, body := do(t, srv.Handler(), http.MethodGet, "/users/user-1/integrity")
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, body.Success)
		})
	}
}

type panicChecker struct{}

func (panicChecker) Handle(context.Context, query.CheckIntegrityQuery) (*integrity.Report, error) {
	panic("nil map")
}

func TestServer_RecoversFromPanic(t *testing.T) {
	srv := NewServer(DefaultConfig(), Dependencies{Checker: panicChecker{}})
	rec, body := do(t, srv.Handler(), http.MethodGet, "/users/user-1/integrity")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_server_error", body.Error.Code)
}
