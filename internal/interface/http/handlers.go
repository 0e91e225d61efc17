package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/habitquest/progression-engine/internal/application/query"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/infrastructure/scheduler"
	"github.com/habitquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.deps.Version})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// jobResultView is the JSON form of scheduler.JobResult.
type jobResultView struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.ListJobs())
}

// handleRunJob handles POST /jobs/{name}/run. The run is synchronous and
// bound to the request context.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	res, err := s.deps.Jobs.RunNow(r.Context(), name)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		writeJSONError(w, http.StatusNotFound, "job_not_found", err.Error())
		return
	}
	if res == nil {
		writeJSONError(w, http.StatusInternalServerError, "job_failed", err.Error())
		return
	}

	view := jobResultView{
		Job:        res.JobName,
		StartedAt:  res.StartedAt,
		DurationMs: res.Duration.Milliseconds(),
		Success:    res.Success,
	}
	if res.Error != nil {
		view.Error = res.Error.Error()
		s.logger.Warn("manual job run failed", logger.String("job", name), logger.Err(res.Error))
	}
	writeJSON(w, http.StatusOK, view)
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRITY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleIntegrity handles GET /users/{id}/integrity?fresh=true.
func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))

	report, err := s.deps.Checker.Handle(r.Context(), query.CheckIntegrityQuery{
		UserID: r.PathValue("id"),
		Fresh:  fresh,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case shared.IsStorage(err):
		s.logger.Warn("integrity check failed", logger.Err(err))
		writeJSONError(w, http.StatusServiceUnavailable, "storage_unavailable", "Record store unavailable, retry later")
	default:
		s.logger.Error("integrity check failed", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}
