// Package app assembles the progression engine from configuration: storage,
// caches, telemetry and the command and query handlers. Both binaries build
// on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/habitquest/progression-engine/config"
	"github.com/habitquest/progression-engine/internal/application/command"
	"github.com/habitquest/progression-engine/internal/application/eventhandler"
	"github.com/habitquest/progression-engine/internal/application/query"
	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/domain/store"
	"github.com/habitquest/progression-engine/internal/infrastructure/messaging"
	"github.com/habitquest/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/habitquest/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/habitquest/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/habitquest/progression-engine/internal/infrastructure/persistence/resilient"
	"github.com/habitquest/progression-engine/internal/infrastructure/scheduler/jobs"
	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
	"github.com/habitquest/progression-engine/internal/interface/http/handlers"
	"github.com/habitquest/progression-engine/pkg/circuitbreaker"
	"github.com/habitquest/progression-engine/pkg/logger"
	"github.com/habitquest/progression-engine/pkg/retry"
	"github.com/habitquest/progression-engine/pkg/timeutil"
)

// ErrNoDatabase is returned by operations that need PostgreSQL when the app
// runs on the in-memory store.
var ErrNoDatabase = errors.New("app: no database configured")

// Options tweak assembly.
type Options struct {
	// InMemory replaces PostgreSQL and Redis with the in-memory store.
	InMemory bool

	// Roller overrides the level-up attribute roll.
	Roller character.Roller

	// Clock overrides the system clock.
	Clock timeutil.Clock
}

// App holds the assembled components. Optional members are nil when not
// configured.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Metrics  *telemetry.Metrics
	Reporter *telemetry.ErrorReporter
	Health   *handlers.CompositeHealthChecker

	DB    *postgres.Connection
	Cache *redis.Cache

	// Events carries domain events to the activity feed and, with fan-out
	// enabled, to other instances.
	Events shared.EventBus
	Feed   *redis.ActivityFeed

	Store  store.Store
	Seeder store.Seeder

	Experience  *command.ApplyExperienceHandler
	Completions *command.RecordCompletionHandler
	Goals       *command.UpdateGoalProgressHandler
	Repair      *command.RepairIntegrityHandler
	Check       *query.CheckIntegrityHandler

	closers []func()
}

// New builds the application. Redis is optional: when it cannot be reached
// the app runs without report caching or idempotency claims.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: telemetry.NewMetrics(cfg.Telemetry.MetricsNamespace),
		Health:  handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Storage
	// ─────────────────────────────────────────────────────────────────────────
	var base store.Store
	if opts.InMemory {
		mem := memory.New()
		base, a.Seeder = mem, mem
		log.Info("using in-memory store")
	} else {
		conn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = conn
		a.closers = append(a.closers, conn.Close)
		a.Health.AddCheck("database", handlers.NewDatabaseCheck(conn))

		pg := postgres.NewStore(conn)
		base, a.Seeder = pg, pg
		log.Info("database connection established")
	}

	breaker := circuitbreaker.StoreBreaker(shared.IsStorage, func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	a.Store = resilient.New(base, log,
		retry.WithMaxAttempts(cfg.Retry.MaxAttempts),
		retry.WithInitialDelay(cfg.Retry.InitialDelay),
		retry.WithMaxDelay(cfg.Retry.MaxDelay),
		retry.WithMultiplier(cfg.Retry.Multiplier),
	).WithBreaker(breaker)

	// ─────────────────────────────────────────────────────────────────────────
	// Redis
	// ─────────────────────────────────────────────────────────────────────────
	if !opts.InMemory && !cfg.Redis.Disabled {
		cache, err := redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		} else {
			a.Cache = cache
			a.closers = append(a.closers, func() { _ = cache.Close() })
			a.Health.AddOptionalCheck("redis", handlers.NewCacheCheck(cache))
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Telemetry
	// ─────────────────────────────────────────────────────────────────────────
	var sink telemetry.ReportSink = telemetry.NewLogSink(log)
	if a.Cache != nil {
		sink = redis.NewErrorSink(a.Cache, cfg.Redis.ErrorLogMaxLen)
	}
	a.Reporter = telemetry.NewErrorReporter(sink, telemetry.ReporterConfig{
		BufferSize:    cfg.Telemetry.ReporterBufferSize,
		BatchSize:     cfg.Telemetry.ReporterBatchSize,
		FlushInterval: cfg.Telemetry.ReporterFlushInterval,
	}, log, a.Metrics)
	if err := a.Reporter.Start(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to start error reporter: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Events
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.setupEvents(); err != nil {
		a.Close()
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Handlers
	// ─────────────────────────────────────────────────────────────────────────
	deps := command.Deps{
		Store:    a.Store,
		Metrics:  a.Metrics,
		Reporter: a.Reporter,
		Logger:   log,
		Clock:    opts.Clock,
		Events:   a.Events,
	}
	var reportCache store.ReportCache
	if a.Cache != nil {
		if cfg.Features.IsEnabled(config.FeatureIntegrityReportCache, nil) {
			rc := redis.NewReportCache(a.Cache, cfg.Redis.ReportTTL)
			reportCache, deps.ReportCache = rc, rc
		}
		if cfg.Features.IsEnabled(config.FeatureProgressionIdempotency, nil) {
			deps.Guard = redis.NewIdempotencyGuard(a.Cache, cfg.Redis.IdempotencyTTL)
		}
	}

	a.Experience = command.NewApplyExperienceHandler(deps, command.ApplyExperienceHandlerConfig{
		Policy: character.LevelUpPolicy{
			AttributeBumpProbability: cfg.Progression.AttributeBumpProbability,
			Roller:                   opts.Roller,
		},
		MaxConflictRetries: cfg.Progression.MaxConflictRetries,
	})
	a.Completions = command.NewRecordCompletionHandler(deps, a.Experience)
	a.Goals = command.NewUpdateGoalProgressHandler(deps, a.Experience, cfg.Progression.GoalCompletionXP)
	a.Repair = command.NewRepairIntegrityHandler(deps)
	a.Check = query.NewCheckIntegrityHandler(a.Store, reportCache, a.Metrics, opts.Clock, log)

	return a, nil
}

// setupEvents builds the event bus and subscribes the activity feed writer.
// Without Redis the bus stays local and milestones are only logged.
func (a *App) setupEvents() error {
	cfg := a.Config.Events
	local := messaging.InMemoryEventBusConfig{
		AsyncMode:      cfg.Async,
		WorkerPoolSize: cfg.Workers,
		Logger:         a.Logger,
		Metrics:        a.Metrics,
	}

	var closeBus func() error
	if a.Cache != nil && cfg.RedisFanout {
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(a.Cache),
			ChannelName:    cfg.Channel,
			LocalBusConfig: local,
			Logger:         a.Logger,
		})
		if err != nil {
			return fmt.Errorf("failed to start event fan-out: %w", err)
		}
		a.Events, closeBus = bus, bus.Close
		a.Logger.Info("event fan-out enabled", logger.String("channel", cfg.Channel))
	} else {
		bus := messaging.NewInMemoryEventBus(local)
		a.Events, closeBus = bus, bus.Close
	}
	a.closers = append(a.closers, func() {
		if err := closeBus(); err != nil {
			a.Logger.Warn("event bus close failed", logger.Err(err))
		}
	})

	var feed eventhandler.FeedWriter
	if a.Cache != nil {
		a.Feed = redis.NewActivityFeed(a.Cache, cfg.FeedSize)
		feed = a.Feed
	}
	milestones := eventhandler.NewOnMilestoneHandler(feed, a.Logger, eventhandler.MilestoneConfig{})
	return milestones.Register(a.Events)
}

// Migrate applies pending schema migrations and returns how many ran.
func (a *App) Migrate(ctx context.Context) (int, error) {
	if a.DB == nil {
		return 0, ErrNoDatabase
	}
	return postgres.NewMigrator(a.DB).Migrate(ctx)
}

// MigrationStatus lists every known migration and whether it has run.
func (a *App) MigrationStatus(ctx context.Context) ([]postgres.Migration, error) {
	if a.DB == nil {
		return nil, ErrNoDatabase
	}
	return postgres.NewMigrator(a.DB).Status(ctx)
}

// RollbackMigration reverts the most recently applied migration.
func (a *App) RollbackMigration(ctx context.Context) error {
	if a.DB == nil {
		return ErrNoDatabase
	}
	return postgres.NewMigrator(a.DB).Rollback(ctx)
}

// NewScanJob builds the integrity scan. Repair is on for everyone when
// INTEGRITY_AUTO_REPAIR is set, otherwise for the users in the
// integrity.auto_repair rollout.
func (a *App) NewScanJob() *jobs.IntegrityScanJob {
	cfg := a.Config
	scan := jobs.IntegrityScanConfig{
		PageSize:    cfg.Integrity.ScanPageSize,
		Concurrency: cfg.Integrity.ScanConcurrency,
		UserTimeout: cfg.Integrity.UserTimeout,
		Repair:      cfg.Integrity.AutoRepair,
	}
	if !scan.Repair && cfg.Features.IsEnabled(config.FeatureIntegrityAutoRepair, nil) {
		scan.Repair = true
		scan.RepairFor = func(userID string) bool {
			return cfg.Features.EnabledFor(config.FeatureIntegrityAutoRepair, userID)
		}
	}
	return jobs.NewIntegrityScanJob(a.Store, a.Check, a.Repair, a.Metrics, a.Reporter, a.Logger, scan)
}

// Close flushes the error reporter and releases connections in reverse
// order of creation.
func (a *App) Close() {
	if a.Reporter != nil {
		if err := a.Reporter.Close(); err != nil {
			a.Logger.Warn("error reporter close failed", logger.Err(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = c.URL
	pc.Host = c.Host
	pc.Port = c.Port
	pc.Database = c.Name
	pc.User = c.User
	pc.Password = c.Password
	pc.SSLMode = c.SSLMode
	pc.MaxConns = c.MaxConns
	pc.MinConns = c.MinConns
	pc.MaxConnLifetime = c.ConnMaxLifetime
	pc.MaxConnIdleTime = c.ConnMaxIdleTime
	pc.ConnectTimeout = c.ConnectTimeout
	return pc
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	return rc
}
