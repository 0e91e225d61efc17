package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/internal/domain/shared"
)

var at = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

type memoryFeed struct {
	entries []FeedEntry
	err     error
}

func (f *memoryFeed) Append(_ context.Context, e FeedEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

type subscriptions map[shared.EventType]int

func (s subscriptions) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	s[t]++
	return nil
}

func (s subscriptions) SubscribeAll(shared.EventHandler) error { return nil }

func TestOnMilestone_Entries(t *testing.T) {
	feed := &memoryFeed{}
	h := NewOnMilestoneHandler(feed, nil, MilestoneConfig{})

	events := []shared.Event{
		shared.NewLevelUpEvent("char-1", "user-1", 9, 10, []string{"Silver Helm"}, at),
		shared.NewAchievementUnlockedEvent("char-1", "user-1", "Level 10 Hero", at),
		shared.NewStreakMilestoneEvent("char-1", "user-1", "habit-1", 30, at),
		shared.NewGoalCompletedEvent("goal-1", "char-1", "user-1", 50, at),
		shared.NewIntegrityRepairedEvent("user-1", 2, 0, 0, at),
		shared.NewExperienceGainedEvent("char-1", "user-1", 10, 910, "habit", "", at),
	}
	for _, e := range events {
		require.NoError(t, h.Handle(e))
	}

	require.Len(t, feed.entries, 5)
	assert.Equal(t, "Reached level 10 and unlocked 1 accessories", feed.entries[0].Message)
	assert.Equal(t, "Unlocked achievement Level 10 Hero", feed.entries[1].Message)
	assert.Equal(t, "Kept a habit going for 30 days", feed.entries[2].Message)
	assert.Equal(t, "goal-1", feed.entries[3].EntityID)
	assert.Equal(t, string(shared.EventIntegrityRepaired), feed.entries[4].Kind)
	for _, e := range feed.entries {
		assert.Equal(t, "user-1", e.UserID)
		assert.True(t, e.OccurredAt.Equal(at))
	}
}

func TestOnMilestone_FeedFailureIsReturned(t *testing.T) {
	h := NewOnMilestoneHandler(&memoryFeed{err: errors.New("redis down")}, nil, DefaultMilestoneConfig())
	err := h.Handle(shared.NewGoalCompletedEvent("goal-1", "char-1", "user-1", 50, at))
	assert.ErrorContains(t, err, "redis down")

	// Without a feed milestones are only logged.
	assert.NoError(t, NewOnMilestoneHandler(nil, nil, DefaultMilestoneConfig()).
		Handle(shared.NewGoalCompletedEvent("goal-1", "char-1", "user-1", 50, at)))
}

func TestOnMilestone_Register(t *testing.T) {
	subs := subscriptions{}
	require.NoError(t, NewOnMilestoneHandler(nil, nil, DefaultMilestoneConfig()).Register(subs))
	assert.Len(t, subs, len(MilestoneEvents))
	assert.Equal(t, 1, subs[shared.EventLevelUp])
	assert.Zero(t, subs[shared.EventExperienceGained])
}
