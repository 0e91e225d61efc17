// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/integrity"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/domain/store"
	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
	"github.com/habitquest/progression-engine/pkg/logger"
	"github.com/habitquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK INTEGRITY QUERY
// Re-derives a user's streaks, level and goal completion from raw records and
// reports every difference from what is stored. Read-only.
// ══════════════════════════════════════════════════════════════════════════════

// CheckIntegrityQuery contains the parameters of an integrity check.
type CheckIntegrityQuery struct {
	UserID string

	// Fresh bypasses the report cache.
	Fresh bool
}

// Validate validates the query.
func (q CheckIntegrityQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return errors.New("check_integrity: user_id is required")
	}
	return nil
}

// CheckIntegrityHandler handles integrity checks.
type CheckIntegrityHandler struct {
	store   store.Store
	cache   store.ReportCache
	metrics *telemetry.Metrics
	clock   timeutil.Clock
	logger  *logger.Logger
}

// NewCheckIntegrityHandler creates a new CheckIntegrityHandler. cache,
// metrics and log may be nil.
func NewCheckIntegrityHandler(
	st store.Store,
	cache store.ReportCache,
	metrics *telemetry.Metrics,
	clock timeutil.Clock,
	log *logger.Logger,
) *CheckIntegrityHandler {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CheckIntegrityHandler{
		store:   st,
		cache:   cache,
		metrics: metrics,
		clock:   clock,
		logger:  log.With(logger.Component("check_integrity")),
	}
}

// Handle runs the check for userID. Findings never cause an error; only a
// failure to load the user's records does.
func (h *CheckIntegrityHandler) Handle(ctx context.Context, q CheckIntegrityQuery) (*integrity.Report, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("integrity", "Check", shared.ErrInvalidInput, "validation failed", err)
	}

	if h.cache != nil && !q.Fresh {
		report, ok, err := h.cache.Get(ctx, q.UserID)
		switch {
		case err != nil:
			h.logger.Warn("report cache read failed", logger.UserID(q.UserID), logger.Err(err))
		case ok:
			return report, nil
		}
	}

	start := time.Now()
	snapshot, err := store.LoadSnapshot(ctx, h.store, q.UserID)
	if err != nil {
		if shared.IsNotFound(err) || shared.IsStorage(err) {
			return nil, fmt.Errorf("check_integrity: %w", err)
		}
		return nil, shared.Storage("integrity", "LoadSnapshot", err)
	}

	report := integrity.Diagnose(snapshot, h.clock.Now())
	h.metrics.RecordReport(report, time.Since(start))

	if len(report.Errors) > 0 || len(report.Warnings) > 0 {
		h.logger.Info("integrity findings",
			logger.UserID(q.UserID),
			logger.Int("errors", len(report.Errors)),
			logger.Int("warnings", len(report.Warnings)),
		)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, report); err != nil {
			h.logger.Warn("report cache write failed", logger.UserID(q.UserID), logger.Err(err))
		}
	}
	return report, nil
}
