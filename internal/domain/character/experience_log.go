package character

import "time"

// Source is what kind of action produced an experience grant.
type Source string

const (
	SourceHabit  Source = "habit"
	SourceGoal   Source = "goal"
	SourceManual Source = "manual"
	SourceBonus  Source = "bonus"
)

// IsValid reports whether s is a known source.
func (s Source) IsValid() bool {
	switch s {
	case SourceHabit, SourceGoal, SourceManual, SourceBonus:
		return true
	default:
		return false
	}
}

// ExperienceLogEntry is the append-only audit record of one grant. It is
// written once after the character update succeeds and never read back to
// derive state.
type ExperienceLogEntry struct {
	ID          string
	CharacterID string
	Amount      int
	Source      Source
	LeveledUp   bool

	// RequestID is the caller's idempotency key, empty when none was given.
	RequestID string

	CreatedAt time.Time
}
