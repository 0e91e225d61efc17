package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/config"
	"github.com/habitquest/progression-engine/internal/application/command"
	"github.com/habitquest/progression-engine/internal/application/query"
	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/pkg/timeutil"
)

var now = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Version: "test", Location: time.UTC},
		Progression: config.ProgressionConfig{
			AttributeBumpProbability: 1,
			MaxConflictRetries:       3,
			GoalCompletionXP:         50,
		},
		Integrity: config.IntegrityConfig{
			ScanPageSize:    10,
			ScanConcurrency: 2,
			UserTimeout:     time.Second,
		},
		Retry:     config.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Telemetry: config.TelemetryConfig{MetricsNamespace: "apptest"},
		Features:  config.LoadFeatureFlags(),
	}
}

func newInMemory(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil, Options{InMemory: true, Clock: timeutil.Fixed(now)})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_InMemoryEndToEnd(t *testing.T) {
	ctx := context.Background()
	a := newInMemory(t, testConfig())
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Cache)
	assert.Nil(t, a.Feed)
	require.NotNil(t, a.Events)

	c, err := character.New("char-1", "user-1", now)
	require.NoError(t, err)
	require.NoError(t, a.Seeder.CreateCharacter(ctx, c))
	require.NoError(t, a.Seeder.CreateGoal(ctx, "user-1", &goal.Goal{CharacterID: c.ID, Progress: 40}))

	res, err := a.Experience.Handle(ctx, command.ApplyExperienceCommand{
		CharacterID: c.ID,
		Amount:      250,
		Attribute:   character.AttributeStrength,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Level)
	assert.Equal(t, 1, res.AttributeIncreases[character.AttributeStrength])

	report, err := a.Check.Handle(ctx, query.CheckIntegrityQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.False(t, report.HasDrift())

	_, err = a.Migrate(ctx)
	assert.ErrorIs(t, err, ErrNoDatabase)
	_, err = a.MigrationStatus(ctx)
	assert.ErrorIs(t, err, ErrNoDatabase)
	assert.ErrorIs(t, a.RollbackMigration(ctx), ErrNoDatabase)

	status := a.Health.Check(ctx)
	assert.True(t, status.Healthy)
}

func TestApp_ScanJobRepairGate(t *testing.T) {
	cfg := testConfig()
	a := newInMemory(t, cfg)
	assert.Equal(t, "Checks every user's progression data for drift", a.NewScanJob().Description())

	require.NoError(t, cfg.Features.EnableFeature(config.FeatureIntegrityAutoRepair))
	assert.Equal(t, "Checks every user's progression data and repairs drift", a.NewScanJob().Description())

	require.NoError(t, cfg.Features.DisableFeature(config.FeatureIntegrityAutoRepair))
	cfg.Integrity.AutoRepair = true
	assert.Equal(t, "Checks every user's progression data and repairs drift", a.NewScanJob().Description())
}
