// Package goal holds the Goal entity: a one-off objective tracked as a
// percentage, completed exactly when progress reaches 100.
package goal

import (
	"strings"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/shared"
)

const (
	// MinProgress and MaxProgress bound Goal.Progress.
	MinProgress = 0
	MaxProgress = 100
)

// Goal is a progress-tracked objective owned by a character.
type Goal struct {
	ID          string
	CharacterID string
	Title       string

	// Progress is a percentage in [0, 100].
	Progress int

	// CompletedAt is set iff Progress >= 100.
	CompletedAt *time.Time

	Version   int64
	UpdatedAt time.Time
}

// Validate checks the record against the goal schema. It does not enforce the
// progress/completion pairing; that drift is reported and repaired separately.
func (g *Goal) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return shared.Invalid("goal", "id", "must not be empty")
	}
	if strings.TrimSpace(g.CharacterID) == "" {
		return shared.Invalid("goal", "character_id", "must not be empty")
	}
	if g.Progress < MinProgress || g.Progress > MaxProgress {
		return shared.Invalid("goal", "progress", "must be within 0..100")
	}
	if g.CompletedAt != nil && g.CompletedAt.IsZero() {
		return shared.Invalid("goal", "completed_at", "zero timestamp")
	}
	return nil
}

// IsComplete reports whether progress has reached 100.
func (g *Goal) IsComplete() bool {
	return g.Progress >= MaxProgress
}

// IsConsistent reports whether the completion timestamp agrees with progress.
func (g *Goal) IsConsistent() bool {
	return (g.CompletedAt != nil) == g.IsComplete()
}

// SetProgress clamps p into range and keeps CompletedAt in step with it.
// It reports whether this call completed the goal.
func (g *Goal) SetProgress(p int, now time.Time) (completedNow bool) {
	if p < MinProgress {
		p = MinProgress
	}
	if p > MaxProgress {
		p = MaxProgress
	}
	wasComplete := g.CompletedAt != nil

	g.Progress = p
	g.Reconcile(now)
	g.UpdatedAt = now

	return !wasComplete && g.CompletedAt != nil
}

// Reconcile sets or clears CompletedAt so that IsConsistent holds. It reports
// whether anything changed.
func (g *Goal) Reconcile(now time.Time) bool {
	switch {
	case g.IsComplete() && g.CompletedAt == nil:
		t := now.UTC()
		g.CompletedAt = &t
		return true
	case !g.IsComplete() && g.CompletedAt != nil:
		g.CompletedAt = nil
		return true
	default:
		return false
	}
}

// Clone returns a deep copy.
func (g *Goal) Clone() *Goal {
	cp := *g
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
