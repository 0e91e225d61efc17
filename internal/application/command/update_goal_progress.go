package command

import (
	"context"
	"errors"
	"strings"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE GOAL PROGRESS COMMAND
// Moves a goal's progress, keeps its completion timestamp in step and grants
// the completion bonus once per goal. The bonus is keyed by goal id, so an
// update that finds the goal complete retries a bonus that failed earlier.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultGoalCompletionXP is the bonus granted when a goal completes.
const DefaultGoalCompletionXP = 50

// UpdateGoalProgressCommand contains the data to update a goal.
type UpdateGoalProgressCommand struct {
	GoalID      string
	CharacterID string

	// Progress is clamped into 0..100.
	Progress int
}

// Validate validates the command.
func (c UpdateGoalProgressCommand) Validate() error {
	if strings.TrimSpace(c.GoalID) == "" {
		return errors.New("update_goal_progress: goal_id is required")
	}
	if strings.TrimSpace(c.CharacterID) == "" {
		return errors.New("update_goal_progress: character_id is required")
	}
	return nil
}

// UpdateGoalProgressResult contains the result of a goal update.
type UpdateGoalProgressResult struct {
	GoalID    string `json:"goal_id"`
	Progress  int    `json:"progress"`
	Completed bool   `json:"completed"`

	// Progression is set when this update granted the completion bonus.
	Progression *ProgressionResult `json:"progression,omitempty"`
}

// UpdateGoalProgressHandler handles the UpdateGoalProgressCommand.
type UpdateGoalProgressHandler struct {
	deps         Deps
	experience   *ApplyExperienceHandler
	completionXP int
	logger       *logger.Logger
}

// NewUpdateGoalProgressHandler creates a new UpdateGoalProgressHandler.
// A non-positive completionXP uses DefaultGoalCompletionXP.
func NewUpdateGoalProgressHandler(deps Deps, experience *ApplyExperienceHandler, completionXP int) *UpdateGoalProgressHandler {
	deps = deps.withDefaults()
	if completionXP <= 0 {
		completionXP = DefaultGoalCompletionXP
	}
	return &UpdateGoalProgressHandler{
		deps:         deps,
		experience:   experience,
		completionXP: completionXP,
		logger:       deps.Logger.With(logger.Component("update_goal_progress")),
	}
}

// Handle executes the update goal progress command.
func (h *UpdateGoalProgressHandler) Handle(ctx context.Context, cmd UpdateGoalProgressCommand) (*UpdateGoalProgressResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("goal", "UpdateProgress", shared.ErrInvalidInput, "validation failed", err)
	}

	g, completedNow, err := h.update(ctx, cmd)
	if err != nil {
		return nil, err
	}

	result := &UpdateGoalProgressResult{
		GoalID:    g.ID,
		Progress:  g.Progress,
		Completed: g.IsComplete(),
	}
	if completedNow {
		h.logger.Info("goal completed", logger.GoalID(g.ID), logger.CharacterID(cmd.CharacterID))
	}

	if g.IsComplete() {
		progression, err := h.experience.Handle(ctx, ApplyExperienceCommand{
			CharacterID: cmd.CharacterID,
			Amount:      h.completionXP,
			Source:      character.SourceGoal,
			RequestID:   GoalBonusRequestID(g.ID),
		})
		switch {
		case err == nil:
			result.Progression = progression
			h.deps.publish(shared.NewGoalCompletedEvent(g.ID, cmd.CharacterID, progression.UserID, h.completionXP, g.UpdatedAt))
			return result, nil
		case !errors.Is(err, shared.ErrAlreadyProcessed):
			h.deps.invalidateReport(ctx, h.deps.ownerOf(ctx, cmd.CharacterID, nil))
			return result, err
		}
	}

	h.deps.invalidateReport(ctx, h.deps.ownerOf(ctx, cmd.CharacterID, nil))
	return result, nil
}

// update loads the goal and writes the new progress, reloading when another
// writer bumped the goal first.
func (h *UpdateGoalProgressHandler) update(ctx context.Context, cmd UpdateGoalProgressCommand) (*goal.Goal, bool, error) {
	attempts := h.experience.config.MaxConflictRetries
	for attempt := 1; ; attempt++ {
		g, err := h.deps.Store.GetGoal(ctx, cmd.GoalID)
		if err != nil {
			return nil, false, storeError("LoadGoal", err)
		}
		if g.CharacterID != cmd.CharacterID {
			return nil, false, shared.NewDomainError("goal", "UpdateProgress", shared.ErrInvalidInput,
				"goal "+g.ID+" does not belong to character "+cmd.CharacterID)
		}

		completedNow := g.SetProgress(cmd.Progress, h.deps.Clock.Now())
		err = h.deps.Store.UpdateGoal(ctx, g)
		if err == nil {
			return g, completedNow, nil
		}
		if !errors.Is(err, shared.ErrConcurrentModification) || attempt >= attempts {
			return nil, false, storeError("UpdateGoal", err)
		}
		h.deps.Metrics.RecordVersionConflict()
	}
}

// GoalBonusRequestID is the idempotency key of the completion bonus of goalID.
func GoalBonusRequestID(goalID string) string {
	return "goal:" + goalID + ":completed"
}
