// Package main is the entry point of the progression engine worker.
//
// The worker runs the scheduled integrity scan over every user and exposes
// the operational HTTP surface: health probes, Prometheus metrics, manual
// job runs and a read-only integrity report per user.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/habitquest/progression-engine/config"
	"github.com/habitquest/progression-engine/internal/app"
	"github.com/habitquest/progression-engine/internal/infrastructure/scheduler"
	httpserver "github.com/habitquest/progression-engine/internal/interface/http"
	"github.com/habitquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Telemetry.LogLevel),
		AddCaller: true,
	})
	defer func() { _ = log.Sync() }()

	log.Info("starting progression worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Location.String()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Application
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Database.AutoMigrate {
		applied, err := a.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", logger.Int("applied", applied))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Integrity.JobTimeout,
	})
	if cfg.Integrity.ScanEnabled {
		if err := sched.Register(cfg.Integrity.ScanSchedule, a.NewScanJob()); err != nil {
			return fmt.Errorf("failed to register integrity scan: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Ops server
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpserver.Dependencies{
		Logger:        log,
		HealthChecker: a.Health,
		Jobs:          sched,
		Checker:       a.Check,
		Version:       cfg.App.Version,
	}
	if cfg.Telemetry.MetricsEnabled {
		deps.Metrics = a.Metrics
	}
	srvCfg := httpserver.DefaultConfig()
	srvCfg.Addr = cfg.Telemetry.MetricsAddr
	srv := httpserver.NewServer(srvCfg, deps)
	srvErr := srv.StartAsync()

	log.Info("progression worker is running",
		logger.String("ops_addr", srv.Address()),
		logger.Bool("integrity_scan", cfg.Integrity.ScanEnabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-srvErr:
		if ok && err != nil {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler did not stop cleanly", logger.Err(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("ops server did not stop cleanly", logger.Err(err))
	}

	log.Info("shutdown completed")
	return runErr
}
