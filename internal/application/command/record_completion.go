package command

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/habit"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/pkg/logger"
	"github.com/habitquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION COMMAND
// Records a habit completion, refreshes its streaks and grants the habit's
// experience reward with the new streak evaluated for milestones. The grant is
// keyed by habit and day, so repeating a completion whose grant failed grants
// it then, and repeating one that succeeded grants nothing.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionCommand contains the data to record a habit completion.
type RecordCompletionCommand struct {
	HabitID     string
	CharacterID string

	// At is when the habit was completed (defaults to now if zero).
	At time.Time
}

// Validate validates the command.
func (c RecordCompletionCommand) Validate() error {
	if strings.TrimSpace(c.HabitID) == "" {
		return errors.New("record_completion: habit_id is required")
	}
	if strings.TrimSpace(c.CharacterID) == "" {
		return errors.New("record_completion: character_id is required")
	}
	return nil
}

// RecordCompletionResult contains the result of recording a completion.
type RecordCompletionResult struct {
	HabitID       string `json:"habit_id"`
	Recorded      bool   `json:"recorded"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`

	// Progression is nil when the day's reward was already granted or the
	// habit carries no reward.
	Progression *ProgressionResult `json:"progression,omitempty"`
}

// RecordCompletionHandler handles the RecordCompletionCommand.
type RecordCompletionHandler struct {
	deps       Deps
	experience *ApplyExperienceHandler
	logger     *logger.Logger
}

// NewRecordCompletionHandler creates a new RecordCompletionHandler.
func NewRecordCompletionHandler(deps Deps, experience *ApplyExperienceHandler) *RecordCompletionHandler {
	deps = deps.withDefaults()
	return &RecordCompletionHandler{
		deps:       deps,
		experience: experience,
		logger:     deps.Logger.With(logger.Component("record_completion")),
	}
}

// Handle executes the record completion command.
func (h *RecordCompletionHandler) Handle(ctx context.Context, cmd RecordCompletionCommand) (*RecordCompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("habit", "RecordCompletion", shared.ErrInvalidInput, "validation failed", err)
	}

	now := h.deps.Clock.Now()
	at := cmd.At
	if at.IsZero() {
		at = now
	}
	if at.After(now) {
		return nil, shared.NewDomainError("habit", "RecordCompletion", shared.ErrInvalidInput, "completion is in the future")
	}

	hb, recorded, err := h.record(ctx, cmd, at, now)
	if err != nil {
		return nil, err
	}

	result := &RecordCompletionResult{
		HabitID:       hb.ID,
		Recorded:      recorded,
		CurrentStreak: hb.CurrentStreak,
		LongestStreak: hb.LongestStreak,
	}
	if recorded {
		h.logger.Info("habit completion recorded",
			logger.HabitID(hb.ID),
			logger.CharacterID(cmd.CharacterID),
			logger.Int("current_streak", hb.CurrentStreak),
		)
	}

	var grantErr error
	if hb.ExperienceReward > 0 {
		progression, err := h.experience.Handle(ctx, ApplyExperienceCommand{
			CharacterID:       cmd.CharacterID,
			Amount:            hb.ExperienceReward,
			Attribute:         hb.Attribute,
			IsCustomAttribute: hb.Attribute != "" && !character.IsCoreAttribute(hb.Attribute),
			Source:            character.SourceHabit,
			HabitID:           hb.ID,
			RequestID:         CompletionRequestID(hb.ID, at),
		})
		switch {
		case err == nil:
			result.Progression = progression
		case !errors.Is(err, shared.ErrAlreadyProcessed):
			grantErr = err
		}
	}

	if recorded {
		owner := h.deps.ownerOf(ctx, cmd.CharacterID, result.Progression)
		h.deps.invalidateReport(ctx, owner)
		h.deps.publish(shared.NewHabitCompletedEvent(hb.ID, cmd.CharacterID, owner,
			at, hb.CurrentStreak, hb.LongestStreak, hb.UpdatedAt))
	}
	if grantErr != nil {
		return result, grantErr
	}
	return result, nil
}

// record loads the habit and persists the completion, reloading when another
// writer bumped the habit first. recorded is false for a same-day repeat.
func (h *RecordCompletionHandler) record(ctx context.Context, cmd RecordCompletionCommand, at, now time.Time) (*habit.Habit, bool, error) {
	attempts := h.experience.config.MaxConflictRetries
	for attempt := 1; ; attempt++ {
		hb, err := h.deps.Store.GetHabit(ctx, cmd.HabitID)
		if err != nil {
			return nil, false, storeError("LoadHabit", err)
		}
		if hb.CharacterID != cmd.CharacterID {
			return nil, false, shared.NewDomainError("habit", "RecordCompletion", shared.ErrInvalidInput,
				"habit "+hb.ID+" does not belong to character "+cmd.CharacterID)
		}

		if !hb.RecordCompletion(at, now) {
			return hb, false, nil
		}

		err = h.deps.Store.UpdateHabit(ctx, hb)
		if err == nil {
			return hb, true, nil
		}
		if !errors.Is(err, shared.ErrConcurrentModification) || attempt >= attempts {
			return nil, false, storeError("UpdateHabit", err)
		}
		h.deps.Metrics.RecordVersionConflict()
	}
}

// CompletionRequestID is the idempotency key of the reward for completing
// habitID on the UTC day of at.
func CompletionRequestID(habitID string, at time.Time) string {
	return "habit:" + habitID + ":" + timeutil.StartOfDay(at).Format(time.DateOnly)
}
