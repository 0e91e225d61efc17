package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each one is published after the state change it
// describes has been committed.
const (
	// Progression events
	EventExperienceGained    EventType = "progression.experience_gained"
	EventLevelUp             EventType = "progression.level_up"
	EventAchievementUnlocked EventType = "progression.achievement_unlocked"
	EventStreakMilestone     EventType = "progression.streak_milestone"

	// Habit and goal events
	EventHabitCompleted EventType = "habit.completed"
	EventGoalCompleted  EventType = "goal.completed"

	// Integrity events
	EventIntegrityRepaired EventType = "integrity.repaired"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]any
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	UserID      string    `json:"user_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID, userID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		UserID:      userID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// ExperienceGainedEvent is emitted for every committed grant.
type ExperienceGainedEvent struct {
	BaseEvent
	Amount    int    `json:"amount"`
	NewTotal  int    `json:"new_total"`
	Source    string `json:"source"`
	RequestID string `json:"request_id,omitempty"`
}

// Payload implements Event interface.
func (e ExperienceGainedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":    e.UserID,
		"amount":     e.Amount,
		"new_total":  e.NewTotal,
		"source":     e.Source,
		"request_id": e.RequestID,
	}
}

// NewExperienceGainedEvent creates a new ExperienceGainedEvent.
func NewExperienceGainedEvent(characterID, userID string, amount, newTotal int, source, requestID string, at time.Time) ExperienceGainedEvent {
	return ExperienceGainedEvent{
		BaseEvent: NewBaseEvent(EventExperienceGained, characterID, userID, at),
		Amount:    amount,
		NewTotal:  newTotal,
		Source:    source,
		RequestID: requestID,
	}
}

// LevelUpEvent is emitted when a grant changes the character's level.
type LevelUpEvent struct {
	BaseEvent
	OldLevel       int      `json:"old_level"`
	NewLevel       int      `json:"new_level"`
	NewAccessories []string `json:"new_accessories,omitempty"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":         e.UserID,
		"old_level":       e.OldLevel,
		"new_level":       e.NewLevel,
		"new_accessories": e.NewAccessories,
	}
}

// LevelsGained returns how many levels the grant added.
func (e LevelUpEvent) LevelsGained() int {
	return e.NewLevel - e.OldLevel
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(characterID, userID string, oldLevel, newLevel int, accessories []string, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:      NewBaseEvent(EventLevelUp, characterID, userID, at),
		OldLevel:       oldLevel,
		NewLevel:       newLevel,
		NewAccessories: accessories,
	}
}

// AchievementUnlockedEvent is emitted once per newly earned achievement.
type AchievementUnlockedEvent struct {
	BaseEvent
	Achievement string `json:"achievement"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":     e.UserID,
		"achievement": e.Achievement,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(characterID, userID, achievement string, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:   NewBaseEvent(EventAchievementUnlocked, characterID, userID, at),
		Achievement: achievement,
	}
}

// StreakMilestoneEvent is emitted when a grant hits a streak milestone.
type StreakMilestoneEvent struct {
	BaseEvent
	HabitID string `json:"habit_id"`
	Streak  int    `json:"streak"`
}

// Payload implements Event interface.
func (e StreakMilestoneEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":  e.UserID,
		"habit_id": e.HabitID,
		"streak":   e.Streak,
	}
}

// NewStreakMilestoneEvent creates a new StreakMilestoneEvent.
func NewStreakMilestoneEvent(characterID, userID, habitID string, streak int, at time.Time) StreakMilestoneEvent {
	return StreakMilestoneEvent{
		BaseEvent: NewBaseEvent(EventStreakMilestone, characterID, userID, at),
		HabitID:   habitID,
		Streak:    streak,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Habit and Goal Events
// ═══════════════════════════════════════════════════════════════════════════

// HabitCompletedEvent is emitted when a new completion day is recorded.
type HabitCompletedEvent struct {
	BaseEvent
	CharacterID   string    `json:"character_id"`
	CompletedAt   time.Time `json:"completed_at"`
	CurrentStreak int       `json:"current_streak"`
	LongestStreak int       `json:"longest_streak"`
}

// Payload implements Event interface.
func (e HabitCompletedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":        e.UserID,
		"character_id":   e.CharacterID,
		"completed_at":   e.CompletedAt,
		"current_streak": e.CurrentStreak,
		"longest_streak": e.LongestStreak,
	}
}

// NewHabitCompletedEvent creates a new HabitCompletedEvent.
func NewHabitCompletedEvent(habitID, characterID, userID string, completedAt time.Time, current, longest int, at time.Time) HabitCompletedEvent {
	return HabitCompletedEvent{
		BaseEvent:     NewBaseEvent(EventHabitCompleted, habitID, userID, at),
		CharacterID:   characterID,
		CompletedAt:   completedAt,
		CurrentStreak: current,
		LongestStreak: longest,
	}
}

// GoalCompletedEvent is emitted when goal progress first reaches 100.
type GoalCompletedEvent struct {
	BaseEvent
	CharacterID string `json:"character_id"`
	BonusXP     int    `json:"bonus_xp"`
}

// Payload implements Event interface.
func (e GoalCompletedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id":      e.UserID,
		"character_id": e.CharacterID,
		"bonus_xp":     e.BonusXP,
	}
}

// NewGoalCompletedEvent creates a new GoalCompletedEvent.
func NewGoalCompletedEvent(goalID, characterID, userID string, bonusXP int, at time.Time) GoalCompletedEvent {
	return GoalCompletedEvent{
		BaseEvent:   NewBaseEvent(EventGoalCompleted, goalID, userID, at),
		CharacterID: characterID,
		BonusXP:     bonusXP,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Integrity Events
// ═══════════════════════════════════════════════════════════════════════════

// IntegrityRepairedEvent is emitted when a repair run wrote at least one fix.
type IntegrityRepairedEvent struct {
	BaseEvent
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Payload implements Event interface.
func (e IntegrityRepairedEvent) Payload() map[string]any {
	return map[string]any{
		"user_id": e.UserID,
		"applied": e.Applied,
		"skipped": e.Skipped,
		"failed":  e.Failed,
	}
}

// NewIntegrityRepairedEvent creates a new IntegrityRepairedEvent. The
// aggregate is the user.
func NewIntegrityRepairedEvent(userID string, applied, skipped, failed int, at time.Time) IntegrityRepairedEvent {
	return IntegrityRepairedEvent{
		BaseEvent: NewBaseEvent(EventIntegrityRepaired, userID, userID, at),
		Applied:   applied,
		Skipped:   skipped,
		Failed:    failed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
