package command

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/integrity"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/domain/store"
	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
	"github.com/habitquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPAIR INTEGRITY COMMAND
// Overwrites drifted fields with their canonical values. Error-class findings
// are left for manual intervention. Each entity is written independently, so a
// failed write does not block the others. Writes carry the version read at
// diagnosis; a record changed since then is left for the next run.
// ══════════════════════════════════════════════════════════════════════════════

// FailedFix is a fix whose write failed.
type FailedFix struct {
	Fix   integrity.Fix `json:"fix"`
	Error string        `json:"error"`
}

// RepairResult contains the result of a repair run.
type RepairResult struct {
	UserID  string              `json:"user_id"`
	Applied []integrity.Fix     `json:"applied"`
	Skipped []integrity.Finding `json:"skipped"`
	Failed  []FailedFix         `json:"failed"`

	// Stale fixes lost a race with a concurrent write and were not applied.
	Stale []integrity.Fix `json:"stale"`
}

// Writes returns how many entity writes succeeded.
func (r *RepairResult) Writes() int { return len(r.Applied) }

// RepairIntegrityHandler handles repair requests for one user.
type RepairIntegrityHandler struct {
	deps   Deps
	logger *logger.Logger
}

// NewRepairIntegrityHandler creates a new RepairIntegrityHandler.
func NewRepairIntegrityHandler(deps Deps) *RepairIntegrityHandler {
	deps = deps.withDefaults()
	return &RepairIntegrityHandler{
		deps:   deps,
		logger: deps.Logger.With(logger.Component("repair_integrity")),
	}
}

// Handle diagnoses userID and writes every planned fix. Structural store
// failures while loading abort the run; per-entity write failures are
// collected in the result.
func (h *RepairIntegrityHandler) Handle(ctx context.Context, userID string) (*RepairResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, shared.NewDomainError("integrity", "Repair", shared.ErrInvalidInput, "user_id is required")
	}

	snapshot, err := store.LoadSnapshot(ctx, h.deps.Store, userID)
	if err != nil {
		return nil, storeError("LoadSnapshot", err)
	}

	now := h.deps.Clock.Now()
	report := integrity.Diagnose(snapshot, now)
	plan := integrity.PlanRepairs(snapshot, report, now)

	result := &RepairResult{
		UserID:  userID,
		Applied: []integrity.Fix{},
		Skipped: plan.Skipped,
		Failed:  []FailedFix{},
		Stale:   []integrity.Fix{},
	}

	log := h.logger.With(logger.UserID(userID))
	for _, fix := range plan.Fixes {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, FailedFix{Fix: fix, Error: err.Error()})
			continue
		}

		err := h.write(ctx, fix)
		if errors.Is(err, shared.ErrConcurrentModification) {
			log.Info("record changed since diagnosis, fix deferred",
				logger.String("entity_kind", string(fix.EntityKind)),
				logger.String("entity_id", fix.EntityID),
			)
			h.deps.Metrics.RecordVersionConflict()
			result.Stale = append(result.Stale, fix)
			continue
		}
		if err != nil {
			log.Warn("repair write failed",
				logger.String("entity_kind", string(fix.EntityKind)),
				logger.String("entity_id", fix.EntityID),
				logger.Err(err),
			)
			h.deps.Reporter.Report(errorReportFor(userID, fix, err, now))
			h.deps.Metrics.RecordRepair(fix.EntityKind, false)
			result.Failed = append(result.Failed, FailedFix{Fix: fix, Error: err.Error()})
			continue
		}

		h.deps.Metrics.RecordRepair(fix.EntityKind, true)
		result.Applied = append(result.Applied, fix)
	}

	if len(result.Applied) > 0 {
		h.deps.invalidateReport(ctx, userID)
		h.deps.publish(shared.NewIntegrityRepairedEvent(userID,
			len(result.Applied), len(result.Skipped), len(result.Failed), now))
	}

	log.Info("repair finished",
		logger.Int("applied", len(result.Applied)),
		logger.Int("skipped", len(result.Skipped)),
		logger.Int("failed", len(result.Failed)),
		logger.Int("stale", len(result.Stale)),
	)
	return result, nil
}

func (h *RepairIntegrityHandler) write(ctx context.Context, fix integrity.Fix) error {
	switch fix.EntityKind {
	case integrity.EntityCharacter:
		return h.deps.Store.UpdateCharacter(ctx, fix.Character)
	case integrity.EntityHabit:
		return h.deps.Store.UpdateHabit(ctx, fix.Habit)
	case integrity.EntityGoal:
		return h.deps.Store.UpdateGoal(ctx, fix.Goal)
	default:
		return errors.New("repair: unsupported entity kind " + string(fix.EntityKind))
	}
}

func errorReportFor(userID string, fix integrity.Fix, err error, now time.Time) telemetry.ErrorReport {
	return telemetry.ErrorReport{
		Component:  "repair_integrity",
		Operation:  "Update" + strings.ToUpper(string(fix.EntityKind[:1])) + string(fix.EntityKind[1:]),
		UserID:     userID,
		EntityID:   fix.EntityID,
		Message:    err.Error(),
		Retryable:  shared.IsRetryable(err),
		OccurredAt: now,
	}
}
