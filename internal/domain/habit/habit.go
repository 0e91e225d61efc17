// Package habit holds the Habit entity and the streak calculator that derives
// a habit's current and longest streak from its raw completion history.
package habit

import (
	"fmt"
	"strings"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/shared"
	"github.com/habitquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FREQUENCY
// ══════════════════════════════════════════════════════════════════════════════

// Frequency is how often a habit is expected to be completed.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// IsValid reports whether f is a known frequency.
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// Tolerance is the largest gap in days between two completions that keeps a
// streak alive.
func (f Frequency) Tolerance() int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyMonthly:
		return 30
	default:
		return 1
	}
}

// ParseFrequency parses user input such as " Weekly ".
func ParseFrequency(input string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(input)))
	if !f.IsValid() {
		return "", fmt.Errorf("invalid habit frequency: %q", input)
	}
	return f, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Habit is a recurring activity owned by a character.
type Habit struct {
	ID          string
	CharacterID string
	Name        string
	Frequency   Frequency

	// Attribute is rewarded when the habit is completed. Names outside the
	// core set are treated as custom attributes.
	Attribute string

	// ExperienceReward is granted on every recorded completion.
	ExperienceReward int

	// Completions is the raw completion history, in insertion order.
	Completions []time.Time

	CurrentStreak int
	LongestStreak int

	// Version is the optimistic concurrency token checked by the store.
	Version int64

	UpdatedAt time.Time
}

// DefaultExperienceReward is used for habits created without an explicit reward.
const DefaultExperienceReward = 10

// Validate checks the record against the habit schema.
func (h *Habit) Validate() error {
	if strings.TrimSpace(h.ID) == "" {
		return shared.Invalid("habit", "id", "must not be empty")
	}
	if strings.TrimSpace(h.CharacterID) == "" {
		return shared.Invalid("habit", "character_id", "must not be empty")
	}
	if !h.Frequency.IsValid() {
		return shared.Invalid("habit", "frequency", fmt.Sprintf("unknown value %q", h.Frequency))
	}
	if h.CurrentStreak < 0 {
		return shared.Invalid("habit", "current_streak", "must not be negative")
	}
	if h.LongestStreak < 0 {
		return shared.Invalid("habit", "longest_streak", "must not be negative")
	}
	if h.ExperienceReward < 0 {
		return shared.Invalid("habit", "experience_reward", "must not be negative")
	}
	for i, c := range h.Completions {
		if c.IsZero() {
			return shared.Invalid("habit", fmt.Sprintf("completions[%d]", i), "zero timestamp")
		}
	}
	return nil
}

// HasCompletionOn reports whether the habit was already completed on the
// calendar day of t.
func (h *Habit) HasCompletionOn(t time.Time) bool {
	for _, c := range h.Completions {
		if timeutil.IsSameDay(c, t) {
			return true
		}
	}
	return false
}

// RecordCompletion appends a completion and recomputes both streaks.
// A second completion on the same day is ignored and reports false.
func (h *Habit) RecordCompletion(at, now time.Time) bool {
	if h.HasCompletionOn(at) {
		return false
	}
	h.Completions = append(h.Completions, at.UTC())
	h.Recalculate(now)
	return true
}

// Recalculate rewrites the streak fields from the completion history.
// LongestStreak never decreases below the stored value so that history pruned
// by the store does not erase a record.
func (h *Habit) Recalculate(now time.Time) {
	current, longest := CanonicalStreaks(h.Completions, h.Frequency, h.LongestStreak, now)
	h.CurrentStreak = current
	h.LongestStreak = longest
	h.UpdatedAt = now
}

// CanonicalStreaks returns the values a habit's streak fields must hold given
// its history and the stored longest streak.
func CanonicalStreaks(dates []time.Time, freq Frequency, storedLongest int, now time.Time) (current, longest int) {
	current = CalculateStreak(dates, freq, now)
	longest = CalculateLongestStreak(dates, freq)
	if storedLongest > longest {
		longest = storedLongest
	}
	if current > longest {
		longest = current
	}
	return current, longest
}

// Clone returns a deep copy.
func (h *Habit) Clone() *Habit {
	cp := *h
	cp.Completions = append([]time.Time(nil), h.Completions...)
	return &cp
}
