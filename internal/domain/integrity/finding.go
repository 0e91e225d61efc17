// Package integrity re-derives a user's progression state from raw records and
// compares it with what is stored. Diagnose produces a Report of findings;
// PlanRepairs turns the repairable findings into per-entity fixes.
//
// Both are pure: loading the snapshot and writing fixes belong to the
// application layer.
package integrity

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// FINDINGS
// ══════════════════════════════════════════════════════════════════════════════

// Severity classifies a finding.
type Severity string

const (
	// SeverityError marks structural corruption. It is never repaired
	// automatically.
	SeverityError Severity = "error"

	// SeverityWarning marks drift between a stored field and its canonical
	// value. Warnings are repairable.
	SeverityWarning Severity = "warning"
)

// Code identifies the check that produced a finding.
type Code string

const (
	CodeCharacterMissing   Code = "character_missing"
	CodeDuplicateCharacter Code = "duplicate_character"
	CodeInvalidCharacter   Code = "invalid_character"
	CodeInvalidHabit       Code = "invalid_habit"
	CodeInvalidGoal        Code = "invalid_goal"
	CodeHabitOwnerMismatch Code = "habit_owner_mismatch"
	CodeGoalOwnerMismatch  Code = "goal_owner_mismatch"

	CodeGoalCompletionMismatch Code = "goal_completion_mismatch"
	CodeStreakDrift            Code = "streak_drift"
	CodeLongestStreakDrift     Code = "longest_streak_drift"
	CodeStreakExceedsLongest   Code = "streak_exceeds_longest"
	CodeLevelDrift             Code = "level_drift"
)

// EntityKind names the record type a finding refers to.
type EntityKind string

const (
	EntityUser      EntityKind = "user"
	EntityCharacter EntityKind = "character"
	EntityHabit     EntityKind = "habit"
	EntityGoal      EntityKind = "goal"
)

// Finding is one consistency observation. Findings are values, never errors.
type Finding struct {
	Severity   Severity   `json:"severity"`
	Code       Code       `json:"code"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`

	// Field, Stored and Expected are set for drift findings.
	Field    string `json:"field,omitempty"`
	Stored   string `json:"stored,omitempty"`
	Expected string `json:"expected,omitempty"`

	Message string `json:"message"`
}

// Report is the result of one integrity check.
type Report struct {
	UserID    string    `json:"user_id"`
	CheckedAt time.Time `json:"checked_at"`

	// IsValid is true when no error-class finding was produced. Warnings do
	// not invalidate a report.
	IsValid bool `json:"is_valid"`

	Errors          []Finding `json:"errors"`
	Warnings        []Finding `json:"warnings"`
	Recommendations []string  `json:"recommendations"`
}

// HasDrift reports whether the report carries repairable findings.
func (r *Report) HasDrift() bool {
	return len(r.Warnings) > 0
}

// Codes returns the distinct codes present in the report.
func (r *Report) Codes() map[Code]bool {
	out := make(map[Code]bool, len(r.Errors)+len(r.Warnings))
	for _, f := range r.Errors {
		out[f.Code] = true
	}
	for _, f := range r.Warnings {
		out[f.Code] = true
	}
	return out
}

func (r *Report) add(f Finding) {
	if f.Severity == SeverityError {
		r.Errors = append(r.Errors, f)
		return
	}
	r.Warnings = append(r.Warnings, f)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOMMENDATIONS
// ══════════════════════════════════════════════════════════════════════════════

// recommendationRules is evaluated in order, so the output is stable for a
// given set of codes.
var recommendationRules = []struct {
	codes []Code
	text  string
}{
	{[]Code{CodeCharacterMissing}, "Create a character for the user before granting experience"},
	{[]Code{CodeDuplicateCharacter}, "Merge or remove duplicate characters; requires manual intervention"},
	{[]Code{CodeInvalidCharacter, CodeInvalidHabit, CodeInvalidGoal}, "Correct or remove records that fail schema validation; requires manual intervention"},
	{[]Code{CodeHabitOwnerMismatch, CodeGoalOwnerMismatch}, "Reassign orphaned habits and goals to the user's character"},
	{[]Code{CodeStreakDrift, CodeLongestStreakDrift, CodeStreakExceedsLongest}, "Recalculate habit streaks from completion history"},
	{[]Code{CodeLevelDrift}, "Recalculate character level from experience"},
	{[]Code{CodeGoalCompletionMismatch}, "Reconcile goal completion timestamps with progress"},
}

// Recommendations derives the advice list from the codes present in r.
func Recommendations(r *Report) []string {
	present := r.Codes()
	out := make([]string, 0, len(recommendationRules)+1)
	for _, rule := range recommendationRules {
		for _, c := range rule.codes {
			if present[c] {
				out = append(out, rule.text)
				break
			}
		}
	}
	if r.HasDrift() {
		out = append(out, "Run repair to overwrite drifted fields with canonical values")
	}
	return out
}
