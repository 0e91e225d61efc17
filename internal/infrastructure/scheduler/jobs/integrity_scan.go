// Package jobs contains the scheduled jobs run by the worker.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/habitquest/progression-engine/internal/application/command"
	"github.com/habitquest/progression-engine/internal/application/query"
	"github.com/habitquest/progression-engine/internal/domain/integrity"
	"github.com/habitquest/progression-engine/internal/domain/store"
	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
	"github.com/habitquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRITY SCAN JOB
// ══════════════════════════════════════════════════════════════════════════════

// Per-user scan outcomes, also used as the metrics label.
const (
	ResultClean    = "clean"
	ResultDrift    = "drift"
	ResultErrors   = "errors"
	ResultRepaired = "repaired"
	ResultFailed   = "failed"
)

// Checker runs the integrity check for one user.
type Checker interface {
	Handle(ctx context.Context, q query.CheckIntegrityQuery) (*integrity.Report, error)
}

// Repairer repairs one user.
type Repairer interface {
	Handle(ctx context.Context, userID string) (*command.RepairResult, error)
}

// IntegrityScanConfig contains configuration for the scan job.
type IntegrityScanConfig struct {
	// PageSize is how many user ids are fetched per ListUserIDs call.
	PageSize int

	// Concurrency is the number of users checked in parallel.
	Concurrency int

	// UserTimeout bounds the check and repair of a single user.
	UserTimeout time.Duration

	// Repair writes fixes for users with drift. When false the scan only
	// reports.
	Repair bool

	// RepairFor narrows Repair to a subset of users. Nil means every user.
	RepairFor func(userID string) bool
}

// DefaultIntegrityScanConfig returns sensible defaults.
func DefaultIntegrityScanConfig() IntegrityScanConfig {
	return IntegrityScanConfig{
		PageSize:    200,
		Concurrency: 8,
		UserTimeout: 30 * time.Second,
		Repair:      false,
	}
}

// ScanStats contains statistics from a scan run.
type ScanStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	Users      int
	Clean      int
	Drifted    int
	WithErrors int
	Repaired   int
	Failed     int

	// Writes is the number of entity writes performed by repairs.
	Writes int
}

// IntegrityScanJob checks every user with a character and optionally repairs
// drift. A failure on one user is recorded and the scan moves on.
type IntegrityScanJob struct {
	store    store.Store
	checker  Checker
	repairer Repairer
	metrics  *telemetry.Metrics
	reporter *telemetry.ErrorReporter
	logger   *logger.Logger
	config   IntegrityScanConfig

	lastStats atomic.Pointer[ScanStats]
}

// NewIntegrityScanJob creates a new scan job. repairer may be nil when
// config.Repair is false.
func NewIntegrityScanJob(
	st store.Store,
	checker Checker,
	repairer Repairer,
	metrics *telemetry.Metrics,
	reporter *telemetry.ErrorReporter,
	log *logger.Logger,
	config IntegrityScanConfig,
) *IntegrityScanJob {
	defaults := DefaultIntegrityScanConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.UserTimeout <= 0 {
		config.UserTimeout = defaults.UserTimeout
	}
	if repairer == nil {
		config.Repair = false
	}
	if log == nil {
		log = logger.Nop()
	}

	return &IntegrityScanJob{
		store:    st,
		checker:  checker,
		repairer: repairer,
		metrics:  metrics,
		reporter: reporter,
		logger:   log.With(logger.Component("integrity_scan")),
		config:   config,
	}
}

// Name returns the job name.
func (j *IntegrityScanJob) Name() string {
	return "integrity_scan"
}

// Description returns a human-readable description.
func (j *IntegrityScanJob) Description() string {
	if j.config.Repair {
		return "Checks every user's progression data and repairs drift"
	}
	return "Checks every user's progression data for drift"
}

// LastStats returns the statistics of the last completed run, or nil.
func (j *IntegrityScanJob) LastStats() *ScanStats {
	return j.lastStats.Load()
}

// Run executes the scan.
func (j *IntegrityScanJob) Run(ctx context.Context) error {
	stats, err := j.Scan(ctx)
	if stats != nil {
		j.lastStats.Store(stats)
	}
	return err
}

// Scan pages through every user and returns the aggregated statistics. It
// fails only when listing users fails or ctx ends.
func (j *IntegrityScanJob) Scan(ctx context.Context) (*ScanStats, error) {
	startedAt := time.Now()
	j.logger.Info("starting integrity scan",
		logger.Bool("repair", j.config.Repair),
		logger.Int("concurrency", j.config.Concurrency),
	)

	var (
		clean, drifted, withErrors, repaired, failed, writes atomic.Int64
		users                                                int
	)

	finish := func() *ScanStats {
		completedAt := time.Now()
		stats := &ScanStats{
			StartedAt:   startedAt,
			CompletedAt: completedAt,
			Duration:    completedAt.Sub(startedAt),
			Users:       users,
			Clean:       int(clean.Load()),
			Drifted:     int(drifted.Load()),
			WithErrors:  int(withErrors.Load()),
			Repaired:    int(repaired.Load()),
			Failed:      int(failed.Load()),
			Writes:      int(writes.Load()),
		}
		j.metrics.RecordScan(stats.Duration)
		return stats
	}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return finish(), fmt.Errorf("integrity scan interrupted: %w", err)
		}

		page, err := j.store.ListUserIDs(ctx, after, j.config.PageSize)
		if err != nil {
			return finish(), fmt.Errorf("failed to list users after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		users += len(page)
		after = page[len(page)-1]

		var g errgroup.Group
		g.SetLimit(j.config.Concurrency)
		for _, userID := range page {
			g.Go(func() error {
				outcome, n := j.scanUser(ctx, userID)
				writes.Add(int64(n))
				switch outcome {
				case ResultClean:
					clean.Add(1)
				case ResultDrift:
					drifted.Add(1)
				case ResultErrors:
					withErrors.Add(1)
				case ResultRepaired:
					repaired.Add(1)
				default:
					failed.Add(1)
				}
				j.metrics.RecordScanUser(outcome)
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < j.config.PageSize {
			break
		}
	}

	stats := finish()
	j.logger.Info("integrity scan completed",
		logger.Int("users", stats.Users),
		logger.Int("clean", stats.Clean),
		logger.Int("drifted", stats.Drifted),
		logger.Int("with_errors", stats.WithErrors),
		logger.Int("repaired", stats.Repaired),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// scanUser checks one user and, when enabled, repairs drift. It returns the
// outcome and the number of entity writes.
func (j *IntegrityScanJob) scanUser(ctx context.Context, userID string) (string, int) {
	ctx, cancel := context.WithTimeout(ctx, j.config.UserTimeout)
	defer cancel()

	log := j.logger.With(logger.UserID(userID))

	report, err := j.checker.Handle(ctx, query.CheckIntegrityQuery{UserID: userID, Fresh: true})
	if err != nil {
		log.Warn("integrity check failed", logger.Err(err))
		j.reporter.ReportError("integrity_scan", "Check", userID, err, true)
		return ResultFailed, 0
	}

	outcome := ResultClean
	switch {
	case len(report.Errors) > 0:
		outcome = ResultErrors
	case report.HasDrift():
		outcome = ResultDrift
	}

	if !j.config.Repair || !report.HasDrift() {
		return outcome, 0
	}
	if j.config.RepairFor != nil && !j.config.RepairFor(userID) {
		return outcome, 0
	}

	res, err := j.repairer.Handle(ctx, userID)
	if err != nil {
		log.Warn("integrity repair failed", logger.Err(err))
		j.reporter.ReportError("integrity_scan", "Repair", userID, err, true)
		return ResultFailed, 0
	}
	if len(res.Failed) > 0 {
		return ResultFailed, res.Writes()
	}
	if res.Writes() > 0 && outcome == ResultDrift {
		return ResultRepaired, res.Writes()
	}
	return outcome, res.Writes()
}
