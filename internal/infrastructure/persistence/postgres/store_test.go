package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/habit"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/domain/store"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"
	assert.Equal(t,
		"host=localhost port=5432 dbname=habitquest user=postgres password=secret sslmode=prefer connect_timeout=10",
		cfg.DSN())

	cfg.URL = "postgres://u:p@db:5432/quests"
	assert.Equal(t, "postgres://u:p@db:5432/quests", cfg.DSN())
}

func TestConfig_PoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConns = 7

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("goal", "Get", "g1", nil))
	assert.True(t, shared.IsNotFound(classify("goal", "Get", "g1", pgx.ErrNoRows)))
	assert.True(t, shared.IsStorage(classify("goal", "Get", "g1", errors.New("broken pipe"))))
	assert.True(t, shared.IsValidation(classify("goal", "Create", "g1", &pgconn.PgError{Code: "23505"})))
	assert.ErrorIs(t, classify("goal", "Get", "g1", context.Canceled), context.Canceled)
}

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRATION
// ══════════════════════════════════════════════════════════════════════════════

// newIntegrationStore connects to DATABASE_URL and migrates it. Tests using it
// are skipped when the variable is not set.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := NewConnection(ctx, Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	return NewStore(conn)
}

func TestStore_CharacterRoundTripAndVersioning(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	userID := "user-" + uuid.NewString()

	c, err := character.New(uuid.NewString(), userID, now)
	require.NoError(t, err)
	c.CustomAttributes["meditation"] = 3
	c.Achievements.Add("Week Warrior")
	require.NoError(t, s.CreateCharacter(ctx, c))

	got, err := s.GetCharacter(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, 3, got.CustomAttributes["meditation"])
	assert.True(t, got.Achievements.Has("Week Warrior"))
	assert.Equal(t, int64(0), got.Version)

	got.Experience = 120
	got.Level = 2
	require.NoError(t, s.UpdateCharacter(ctx, got))
	assert.Equal(t, int64(1), got.Version)

	stale := c.Clone()
	stale.Experience = 5
	err = s.UpdateCharacter(ctx, stale)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)

	missing := c.Clone()
	missing.ID = uuid.NewString()
	assert.True(t, shared.IsNotFound(s.UpdateCharacter(ctx, missing)))

	got.Experience = 240
	entry := character.ExperienceLogEntry{CharacterID: c.ID, Amount: 120, Source: character.SourceManual, RequestID: "req-" + uuid.NewString()}
	require.NoError(t, s.CommitGrant(ctx, got, entry))
	assert.Equal(t, int64(2), got.Version)

	got.Experience = 360
	assert.ErrorIs(t, s.CommitGrant(ctx, got, entry), shared.ErrAlreadyProcessed)
	assert.Equal(t, int64(2), got.Version)

	reloaded, err := s.GetCharacterByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 240, reloaded.Experience, "a replayed request leaves the character untouched")

	ids, err := s.ListUserIDs(ctx, userID[:len(userID)-1], 1000)
	require.NoError(t, err)
	assert.Contains(t, ids, userID)
}

func TestStore_HabitsAndGoalsLoadIntoSnapshot(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	userID := "user-" + uuid.NewString()

	c, err := character.New(uuid.NewString(), userID, now)
	require.NoError(t, err)
	require.NoError(t, s.CreateCharacter(ctx, c))

	h := &habit.Habit{
		CharacterID:   c.ID,
		Name:          "Read",
		Frequency:     habit.FrequencyDaily,
		Completions:   []time.Time{now.Add(-24 * time.Hour), now},
		CurrentStreak: 2,
		LongestStreak: 2,
	}
	require.NoError(t, s.CreateHabit(ctx, userID, h))
	g := &goal.Goal{CharacterID: c.ID, Title: "Marathon", Progress: 100}
	require.NoError(t, s.CreateGoal(ctx, userID, g))

	snap, err := store.LoadSnapshot(ctx, s, userID)
	require.NoError(t, err)
	require.Len(t, snap.Characters, 1)
	require.Len(t, snap.Habits, 1)
	require.Len(t, snap.Goals, 1)
	assert.Len(t, snap.Habits[0].Completions, 2)
	assert.Nil(t, snap.Goals[0].CompletedAt)

	done := now
	g.CompletedAt = &done
	require.NoError(t, s.UpdateGoal(ctx, g))
	got, err := s.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))
	assert.Equal(t, int64(1), got.Version)

	staleGoal := snap.Goals[0]
	staleGoal.Progress = 40
	assert.ErrorIs(t, s.UpdateGoal(ctx, staleGoal), shared.ErrConcurrentModification)

	staleHabit := snap.Habits[0].Clone()
	fresh := snap.Habits[0]
	fresh.Completions = append(fresh.Completions, now.Add(24*time.Hour))
	require.NoError(t, s.UpdateHabit(ctx, fresh))
	staleHabit.CurrentStreak = 0
	assert.ErrorIs(t, s.UpdateHabit(ctx, staleHabit), shared.ErrConcurrentModification)
}

func TestStore_ListUserIDsIncludesUsersWithoutCharacter(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	userID := "user-" + uuid.NewString()

	require.NoError(t, s.CreateHabit(ctx, userID, &habit.Habit{CharacterID: uuid.NewString(), Frequency: habit.FrequencyDaily}))

	ids, err := s.ListUserIDs(ctx, userID[:len(userID)-1], 1000)
	require.NoError(t, err)
	assert.Contains(t, ids, userID)
}
