package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/shared"
)

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (b *recordingBus) Publish(e shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return b.err
}

func (b *recordingBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.EventType()
	}
	return out
}

func (b *recordingBus) last() shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[len(b.events)-1]
}

func withBus(f *fixture) *recordingBus {
	bus := &recordingBus{}
	f.deps.Events = bus
	return bus
}

func TestEvents_HabitMilestone(t *testing.T) {
	f := newFixture(t)
	bus := withBus(f)
	seedSixDayHabit(t, f, "", 15)
	h := NewRecordCompletionHandler(f.deps, f.experience(0))

	_, err := h.Handle(context.Background(), RecordCompletionCommand{HabitID: "habit-1", CharacterID: "char-1"})
	require.NoError(t, err)

	types := bus.types()
	require.NotEmpty(t, types)
	assert.Equal(t, shared.EventExperienceGained, types[0])
	assert.Contains(t, types, shared.EventAchievementUnlocked)
	assert.Contains(t, types, shared.EventStreakMilestone)
	assert.NotContains(t, types, shared.EventLevelUp)

	done, ok := bus.last().(shared.HabitCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "user-1", done.UserID)
	assert.Equal(t, 7, done.CurrentStreak)

	for _, e := range bus.events {
		if m, ok := e.(shared.StreakMilestoneEvent); ok {
			assert.Equal(t, "habit-1", m.HabitID)
			assert.Equal(t, 7, m.Streak)
		}
	}

	// A repeat on the same day changes nothing and publishes nothing.
	before := len(bus.types())
	_, err = h.Handle(context.Background(), RecordCompletionCommand{HabitID: "habit-1", CharacterID: "char-1"})
	require.NoError(t, err)
	assert.Len(t, bus.types(), before)
}

func TestEvents_UnrewardedHabitLooksUpOwner(t *testing.T) {
	f := newFixture(t)
	bus := withBus(f)
	seedSixDayHabit(t, f, "", 0)
	h := NewRecordCompletionHandler(f.deps, f.experience(0))

	_, err := h.Handle(context.Background(), RecordCompletionCommand{HabitID: "habit-1", CharacterID: "char-1"})
	require.NoError(t, err)

	require.Equal(t, []shared.EventType{shared.EventHabitCompleted}, bus.types())
	assert.Equal(t, "user-1", bus.last().(shared.HabitCompletedEvent).UserID)
}

func TestEvents_LevelUpAndGoal(t *testing.T) {
	f := newFixture(t)
	bus := withBus(f)
	ctx := context.Background()
	require.NoError(t, f.store.CreateGoal(ctx, "user-1", &goal.Goal{ID: "goal-1", CharacterID: "char-1", Progress: 90}))
	h := NewUpdateGoalProgressHandler(f.deps, f.experience(0), 120)

	_, err := h.Handle(ctx, UpdateGoalProgressCommand{GoalID: "goal-1", CharacterID: "char-1", Progress: 100})
	require.NoError(t, err)

	types := bus.types()
	assert.Contains(t, types, shared.EventLevelUp)
	completed, ok := bus.last().(shared.GoalCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "user-1", completed.UserID)
	assert.Equal(t, 120, completed.BonusXP)

	for _, e := range bus.events {
		if lu, ok := e.(shared.LevelUpEvent); ok {
			assert.Equal(t, 1, lu.OldLevel)
			assert.Equal(t, 2, lu.NewLevel)
			assert.Equal(t, 1, lu.LevelsGained())
		}
	}
}

func TestEvents_Repair(t *testing.T) {
	f := newFixture(t)
	bus := withBus(f)
	ctx := context.Background()
	require.NoError(t, f.store.CreateGoal(ctx, "user-1", &goal.Goal{ID: "goal-1", CharacterID: "char-1", Progress: 100}))
	h := NewRepairIntegrityHandler(f.deps)

	_, err := h.Handle(ctx, "user-1")
	require.NoError(t, err)
	repaired, ok := bus.last().(shared.IntegrityRepairedEvent)
	require.True(t, ok)
	assert.Equal(t, 1, repaired.Applied)

	_, err = h.Handle(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, bus.types(), 1)
}

func TestEvents_PublishFailureDoesNotFailGrant(t *testing.T) {
	f := newFixture(t)
	bus := withBus(f)
	bus.err = errors.New("bus closed")

	res, err := f.experience(0).Handle(context.Background(), ApplyExperienceCommand{CharacterID: "char-1", Amount: 30})
	require.NoError(t, err)
	assert.Equal(t, 30, res.Experience)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, 30, f.reload(t).Experience)
}
