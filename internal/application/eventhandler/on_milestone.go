// Package eventhandler contains the subscribers of domain events. Handlers
// run after the state change is committed, so a failing handler never undoes
// progression.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON MILESTONE HANDLER
// Turns progression milestones into activity feed entries: level-ups,
// achievements, streak milestones, completed goals and integrity repairs.
// ═══════════════════════════════════════════════════════════════════════════

// FeedEntry is one line of a user's activity feed.
type FeedEntry struct {
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	EntityID   string    `json:"entity_id"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FeedWriter stores feed entries.
type FeedWriter interface {
	Append(ctx context.Context, entry FeedEntry) error
}

// MilestoneConfig contains the handler configuration.
type MilestoneConfig struct {
	// WriteTimeout bounds one feed write.
	WriteTimeout time.Duration
}

// DefaultMilestoneConfig returns the default configuration.
func DefaultMilestoneConfig() MilestoneConfig {
	return MilestoneConfig{WriteTimeout: 2 * time.Second}
}

// OnMilestoneHandler logs milestone events and appends them to the feed.
// Events received from other instances carry no concrete type and are
// ignored; the instance that produced them writes the feed.
type OnMilestoneHandler struct {
	feed   FeedWriter
	logger *logger.Logger
	config MilestoneConfig
}

// NewOnMilestoneHandler creates the handler. feed may be nil, in which case
// milestones are only logged.
func NewOnMilestoneHandler(feed FeedWriter, log *logger.Logger, config MilestoneConfig) *OnMilestoneHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultMilestoneConfig().WriteTimeout
	}
	return &OnMilestoneHandler{
		feed:   feed,
		logger: log.With(logger.Component("on_milestone")),
		config: config,
	}
}

// MilestoneEvents lists the event types the handler subscribes to.
var MilestoneEvents = []shared.EventType{
	shared.EventLevelUp,
	shared.EventAchievementUnlocked,
	shared.EventStreakMilestone,
	shared.EventGoalCompleted,
	shared.EventIntegrityRepaired,
}

// Register subscribes the handler to every milestone event.
func (h *OnMilestoneHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range MilestoneEvents {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (h *OnMilestoneHandler) Handle(event shared.Event) error {
	entry, ok := feedEntry(event)
	if !ok {
		h.logger.Debug("ignoring event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	h.logger.Info(entry.Message,
		logger.UserID(entry.UserID),
		logger.String("kind", entry.Kind),
		logger.String("entity_id", entry.EntityID),
	)

	if h.feed == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.config.WriteTimeout)
	defer cancel()
	if err := h.feed.Append(ctx, entry); err != nil {
		return fmt.Errorf("append feed entry for %s: %w", entry.UserID, err)
	}
	return nil
}

func feedEntry(event shared.Event) (FeedEntry, bool) {
	entry := FeedEntry{
		Kind:       string(event.EventType()),
		EntityID:   event.AggregateID(),
		OccurredAt: event.OccurredAt(),
	}

	switch e := event.(type) {
	case shared.LevelUpEvent:
		entry.UserID = e.UserID
		entry.Message = fmt.Sprintf("Reached level %d", e.NewLevel)
		if n := len(e.NewAccessories); n > 0 {
			entry.Message += fmt.Sprintf(" and unlocked %d accessories", n)
		}
	case shared.AchievementUnlockedEvent:
		entry.UserID = e.UserID
		entry.Message = "Unlocked achievement " + e.Achievement
	case shared.StreakMilestoneEvent:
		entry.UserID = e.UserID
		entry.Message = fmt.Sprintf("Kept a habit going for %d days", e.Streak)
	case shared.GoalCompletedEvent:
		entry.UserID = e.UserID
		entry.Message = fmt.Sprintf("Completed a goal for %d bonus XP", e.BonusXP)
	case shared.IntegrityRepairedEvent:
		entry.UserID = e.UserID
		entry.Message = fmt.Sprintf("Progression data repaired (%d fixes)", e.Applied)
	default:
		return FeedEntry{}, false
	}
	return entry, true
}
