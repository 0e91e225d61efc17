// Package store defines the storage contract the progression and integrity
// engines depend on. Implementations live in infrastructure/persistence.
package store

import (
	"context"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/habit"
	"github.com/habitquest/progression-engine/internal/domain/integrity"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Store is the record store consumed by the engine.
//
// Errors returned by implementations carry one of the shared kinds:
// shared.ErrNotFound for missing records, shared.ErrStorage for I/O failures,
// shared.ErrConcurrentModification for version conflicts and
// shared.ErrAlreadyProcessed for a replayed grant.
type Store interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Characters
	// ─────────────────────────────────────────────────────────────────────────

	// GetCharacter returns the user's character.
	GetCharacter(ctx context.Context, userID string) (*character.Character, error)

	// GetCharacterByID returns a character by its own id.
	GetCharacterByID(ctx context.Context, id string) (*character.Character, error)

	// ListCharacters returns every character attached to the user. A healthy
	// user has exactly one.
	ListCharacters(ctx context.Context, userID string) ([]*character.Character, error)

	// UpdateCharacter writes the whole record if c.Version matches the stored
	// version, then increments c.Version.
	UpdateCharacter(ctx context.Context, c *character.Character) error

	// CommitGrant is UpdateCharacter plus one experience log entry, written
	// atomically. When entry.RequestID is set and already logged for the
	// character, nothing is written and shared.ErrAlreadyProcessed is
	// returned.
	CommitGrant(ctx context.Context, c *character.Character, entry character.ExperienceLogEntry) error

	// ─────────────────────────────────────────────────────────────────────────
	// Habits
	// ─────────────────────────────────────────────────────────────────────────

	ListHabits(ctx context.Context, userID string) ([]*habit.Habit, error)
	GetHabit(ctx context.Context, id string) (*habit.Habit, error)

	// UpdateHabit writes h if h.Version matches, then increments h.Version.
	UpdateHabit(ctx context.Context, h *habit.Habit) error

	// ─────────────────────────────────────────────────────────────────────────
	// Goals
	// ─────────────────────────────────────────────────────────────────────────

	ListGoals(ctx context.Context, userID string) ([]*goal.Goal, error)
	GetGoal(ctx context.Context, id string) (*goal.Goal, error)

	// UpdateGoal writes g if g.Version matches, then increments g.Version.
	UpdateGoal(ctx context.Context, g *goal.Goal) error

	// ─────────────────────────────────────────────────────────────────────────
	// Scanning
	// ─────────────────────────────────────────────────────────────────────────

	// ListUserIDs pages through users owning at least one character, habit or
	// goal, ordered by id, starting strictly after the given id.
	ListUserIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// Seeder creates records. Onboarding and the CLI use it; the engine itself
// never creates entities.
type Seeder interface {
	CreateCharacter(ctx context.Context, c *character.Character) error
	CreateHabit(ctx context.Context, userID string, h *habit.Habit) error
	CreateGoal(ctx context.Context, userID string, g *goal.Goal) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// IdempotencyGuard claims request ids so a grant is applied at most once.
type IdempotencyGuard interface {
	// Claim reserves key and reports whether this caller owns it.
	Claim(ctx context.Context, key string) (bool, error)

	// Release drops a claim after a failed write so the caller may retry.
	Release(ctx context.Context, key string) error
}

// ReportCache holds the latest integrity report per user.
type ReportCache interface {
	// Get returns the cached report, or ok=false on a miss.
	Get(ctx context.Context, userID string) (report *integrity.Report, ok bool, err error)
	Set(ctx context.Context, report *integrity.Report) error
	Invalidate(ctx context.Context, userID string) error
}
