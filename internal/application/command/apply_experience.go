// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/internal/domain/store"
	"github.com/habitquest/progression-engine/internal/infrastructure/telemetry"
	"github.com/habitquest/progression-engine/pkg/logger"
	"github.com/habitquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY EXPERIENCE COMMAND
// Grants experience to a character and applies every consequence: level,
// attribute bump, accessories and achievements. The character and its audit
// log entry are committed together; a replayed request id commits nothing.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyExperienceCommand contains the data for one experience grant.
type ApplyExperienceCommand struct {
	// CharacterID is the character receiving the experience.
	CharacterID string

	// Amount is the experience granted. Must be positive.
	Amount int

	// Attribute is the attribute tied to the action. Empty means none.
	Attribute string

	// IsCustomAttribute marks Attribute as a user-defined attribute.
	IsCustomAttribute bool

	// Source defaults to manual.
	Source character.Source

	// HabitID names the habit whose current streak is evaluated for
	// milestones. Optional.
	HabitID string

	// RequestID is the caller's idempotency key. Optional; a grant without one
	// is never deduplicated.
	RequestID string
}

// Validate validates the command.
func (c ApplyExperienceCommand) Validate() error {
	if strings.TrimSpace(c.CharacterID) == "" {
		return errors.New("apply_experience: character_id is required")
	}
	if c.Amount <= 0 {
		return fmt.Errorf("apply_experience: amount must be positive, got %d", c.Amount)
	}
	if c.Source != "" && !c.Source.IsValid() {
		return fmt.Errorf("apply_experience: unknown source: %s", c.Source)
	}
	if c.Attribute != "" && !c.IsCustomAttribute && !character.IsCoreAttribute(c.Attribute) {
		return fmt.Errorf("apply_experience: unknown core attribute: %s", c.Attribute)
	}
	return nil
}

// ProgressionResult contains the result of a grant.
type ProgressionResult struct {
	CharacterID string `json:"character_id"`
	UserID      string `json:"user_id"`
	Experience  int    `json:"experience"`
	Level       int    `json:"level"`

	// LevelUp is nil when the level did not change.
	LevelUp *character.LevelUpDetails `json:"level_up"`

	NewAchievements    []string       `json:"new_achievements"`
	NewAccessories     []string       `json:"new_accessories"`
	AttributeIncreases map[string]int `json:"attribute_increases"`

	// StreakMilestone is the milestone streak length hit by this grant.
	StreakMilestone *int `json:"streak_milestone"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ApplyExperienceHandlerConfig contains configuration for the handler.
type ApplyExperienceHandlerConfig struct {
	// Policy decides the attribute bump on level-up.
	Policy character.LevelUpPolicy

	// MaxConflictRetries bounds reload-and-recompute rounds after a version
	// conflict.
	MaxConflictRetries int
}

// DefaultApplyExperienceHandlerConfig returns default configuration.
func DefaultApplyExperienceHandlerConfig() ApplyExperienceHandlerConfig {
	return ApplyExperienceHandlerConfig{
		Policy:             character.DefaultLevelUpPolicy(),
		MaxConflictRetries: 3,
	}
}

// Deps are the collaborators shared by the command handlers. Store is
// required; the rest may be nil.
type Deps struct {
	Store       store.Store
	Guard       store.IdempotencyGuard
	ReportCache store.ReportCache
	Metrics     *telemetry.Metrics
	Reporter    *telemetry.ErrorReporter
	Events      shared.EventPublisher
	Logger      *logger.Logger
	Clock       timeutil.Clock
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock
	}
	return d
}

// invalidateReport drops the cached integrity report for userID. Failures are
// logged only; a stale report expires with its TTL.
func (d Deps) invalidateReport(ctx context.Context, userID string) {
	if d.ReportCache == nil || userID == "" {
		return
	}
	if err := d.ReportCache.Invalidate(ctx, userID); err != nil {
		d.Logger.Warn("failed to invalidate integrity report", logger.UserID(userID), logger.Err(err))
	}
}

// publish hands committed events to the bus. Failures are logged only.
func (d Deps) publish(events ...shared.Event) {
	if d.Events == nil {
		return
	}
	for _, e := range events {
		if err := d.Events.Publish(e); err != nil {
			d.Logger.Warn("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.Err(err),
			)
		}
	}
}

// ownerOf returns the user owning characterID, or "" when it cannot be
// loaded. Only events and the report cache need it, so nothing is loaded
// without either.
func (d Deps) ownerOf(ctx context.Context, characterID string, progression *ProgressionResult) string {
	if progression != nil {
		return progression.UserID
	}
	if d.Events == nil && d.ReportCache == nil {
		return ""
	}
	c, err := d.Store.GetCharacterByID(ctx, characterID)
	if err != nil {
		return ""
	}
	return c.UserID
}

// ApplyExperienceHandler handles the ApplyExperienceCommand.
type ApplyExperienceHandler struct {
	deps   Deps
	config ApplyExperienceHandlerConfig
	logger *logger.Logger
}

// NewApplyExperienceHandler creates a new ApplyExperienceHandler.
func NewApplyExperienceHandler(deps Deps, config ApplyExperienceHandlerConfig) *ApplyExperienceHandler {
	deps = deps.withDefaults()
	if config.MaxConflictRetries <= 0 {
		config.MaxConflictRetries = DefaultApplyExperienceHandlerConfig().MaxConflictRetries
	}

	return &ApplyExperienceHandler{
		deps:   deps,
		config: config,
		logger: deps.Logger.With(logger.Component("apply_experience")),
	}
}

// Handle executes the apply experience command.
func (h *ApplyExperienceHandler) Handle(ctx context.Context, cmd ApplyExperienceCommand) (*ProgressionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("progression", "ApplyExperience", shared.ErrInvalidInput, "validation failed", err)
	}
	if cmd.Source == "" {
		cmd.Source = character.SourceManual
	}

	log := h.logger.With(
		logger.CharacterID(cmd.CharacterID),
		logger.XPAmount(cmd.Amount),
		logger.String("source", string(cmd.Source)),
	)

	// The guard short-circuits most replays before any load. The store
	// rejects the rest when the grant commits.
	claimed := false
	if cmd.RequestID != "" && h.deps.Guard != nil {
		ok, err := h.deps.Guard.Claim(ctx, cmd.RequestID)
		if err != nil {
			return nil, shared.Storage("progression", "ClaimRequest", err)
		}
		if !ok {
			log.Info("duplicate progression request", logger.String("request_id", cmd.RequestID))
			return nil, alreadyApplied(cmd.RequestID)
		}
		claimed = true
	}

	c, outcome, err := h.apply(ctx, cmd)
	if errors.Is(err, shared.ErrAlreadyProcessed) {
		log.Info("progression request already committed", logger.String("request_id", cmd.RequestID))
		return nil, err
	}
	if err != nil {
		if claimed {
			if relErr := h.deps.Guard.Release(context.WithoutCancel(ctx), cmd.RequestID); relErr != nil {
				log.Warn("failed to release request claim", logger.Err(relErr))
			}
		}
		if shared.IsStorage(err) {
			h.deps.Reporter.ReportError("apply_experience", "CommitGrant", "", err, true)
		}
		log.Error("experience grant failed", logger.Err(err))
		return nil, err
	}

	h.deps.invalidateReport(ctx, c.UserID)

	levels := 0
	if outcome.LevelUp != nil {
		levels = outcome.LevelUp.LevelsGained
	}
	h.deps.Metrics.RecordProgression(string(cmd.Source), cmd.Amount, levels,
		len(outcome.NewAchievements), len(outcome.NewAccessories))

	if outcome.LevelUp != nil {
		log.Info("character leveled up",
			logger.Int("old_level", outcome.LevelUp.OldLevel),
			logger.Int("new_level", outcome.LevelUp.NewLevel),
		)
	}

	h.deps.publish(progressionEvents(c, cmd, outcome)...)

	return &ProgressionResult{
		CharacterID:        c.ID,
		UserID:             c.UserID,
		Experience:         c.Experience,
		Level:              c.Level,
		LevelUp:            outcome.LevelUp,
		NewAchievements:    outcome.NewAchievements,
		NewAccessories:     outcome.NewAccessories,
		AttributeIncreases: outcome.AttributeIncreases,
		StreakMilestone:    outcome.StreakMilestone,
	}, nil
}

func progressionEvents(c *character.Character, cmd ApplyExperienceCommand, outcome *character.Outcome) []shared.Event {
	at := c.UpdatedAt
	events := []shared.Event{
		shared.NewExperienceGainedEvent(c.ID, c.UserID, cmd.Amount, c.Experience, string(cmd.Source), cmd.RequestID, at),
	}
	if outcome.LevelUp != nil {
		events = append(events, shared.NewLevelUpEvent(c.ID, c.UserID,
			outcome.LevelUp.OldLevel, outcome.LevelUp.NewLevel, outcome.NewAccessories, at))
	}
	for _, a := range outcome.NewAchievements {
		events = append(events, shared.NewAchievementUnlockedEvent(c.ID, c.UserID, a, at))
	}
	if outcome.StreakMilestone != nil {
		events = append(events, shared.NewStreakMilestoneEvent(c.ID, c.UserID, cmd.HabitID, *outcome.StreakMilestone, at))
	}
	return events
}

// apply runs load, progress and versioned write, reloading on conflict.
func (h *ApplyExperienceHandler) apply(ctx context.Context, cmd ApplyExperienceCommand) (*character.Character, *character.Outcome, error) {
	streak, err := h.currentStreak(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}

	input := character.ProgressInput{
		Amount:            cmd.Amount,
		Attribute:         cmd.Attribute,
		IsCustomAttribute: cmd.IsCustomAttribute,
		Streak:            streak,
	}

	var lastErr error
	for attempt := 1; attempt <= h.config.MaxConflictRetries; attempt++ {
		c, err := h.deps.Store.GetCharacterByID(ctx, cmd.CharacterID)
		if err != nil {
			return nil, nil, storeError("LoadCharacter", err)
		}

		outcome, err := character.Progress(c, input, h.config.Policy, h.deps.Clock.Now())
		if err != nil {
			return nil, nil, err
		}

		entry := character.ExperienceLogEntry{
			CharacterID: c.ID,
			Amount:      cmd.Amount,
			Source:      cmd.Source,
			LeveledUp:   outcome.LevelUp != nil,
			RequestID:   cmd.RequestID,
			CreatedAt:   c.UpdatedAt,
		}
		err = h.deps.Store.CommitGrant(ctx, c, entry)
		switch {
		case err == nil:
			return c, outcome, nil
		case errors.Is(err, shared.ErrAlreadyProcessed):
			return nil, nil, alreadyApplied(cmd.RequestID)
		case !errors.Is(err, shared.ErrConcurrentModification):
			return nil, nil, storeError("CommitGrant", err)
		}

		lastErr = err
		h.deps.Metrics.RecordVersionConflict()
		h.logger.Debug("version conflict, reloading character",
			logger.CharacterID(cmd.CharacterID),
			logger.Int("attempt", attempt),
		)
	}

	return nil, nil, fmt.Errorf("apply_experience: %d attempts: %w", h.config.MaxConflictRetries, lastErr)
}

// currentStreak returns the streak of cmd.HabitID, or nil when no habit is
// named.
func (h *ApplyExperienceHandler) currentStreak(ctx context.Context, cmd ApplyExperienceCommand) (*int, error) {
	if cmd.HabitID == "" {
		return nil, nil
	}
	hb, err := h.deps.Store.GetHabit(ctx, cmd.HabitID)
	if err != nil {
		return nil, storeError("LoadHabit", err)
	}
	if hb.CharacterID != cmd.CharacterID {
		return nil, shared.NewDomainError("progression", "ApplyExperience", shared.ErrInvalidInput,
			"habit "+hb.ID+" does not belong to character "+cmd.CharacterID)
	}
	streak := hb.CurrentStreak
	return &streak, nil
}

func alreadyApplied(requestID string) error {
	return shared.NewDomainError("progression", "ApplyExperience", shared.ErrAlreadyProcessed,
		"request "+requestID+" was already applied")
}

// storeError keeps classified store errors and wraps anything else as a
// retryable storage failure.
func storeError(op string, err error) error {
	switch {
	case shared.IsNotFound(err),
		shared.IsStorage(err),
		shared.IsValidation(err),
		errors.Is(err, shared.ErrConcurrentModification),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return shared.Storage("progression", op, err)
	}
}
