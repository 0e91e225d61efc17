package integrity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/habit"
)

// Snapshot is everything stored for one user at the moment of the check.
type Snapshot struct {
	UserID     string
	Characters []*character.Character
	Habits     []*habit.Habit
	Goals      []*goal.Goal
}

// Character returns the user's character when exactly one exists.
func (s Snapshot) Character() (*character.Character, bool) {
	if len(s.Characters) != 1 {
		return nil, false
	}
	return s.Characters[0], true
}

// Diagnose runs every check against s and collects all findings. Nothing
// short-circuits: one report describes all drift in a single pass.
func Diagnose(s Snapshot, now time.Time) *Report {
	r := &Report{
		UserID:    s.UserID,
		CheckedAt: now,
		Errors:    []Finding{},
		Warnings:  []Finding{},
	}

	checkCharacters(r, s)
	checkHabits(r, s, now)
	checkGoals(r, s)

	r.IsValid = len(r.Errors) == 0
	r.Recommendations = Recommendations(r)
	return r
}

func checkCharacters(r *Report, s Snapshot) {
	switch n := len(s.Characters); {
	case n == 0:
		r.add(Finding{
			Severity:   SeverityError,
			Code:       CodeCharacterMissing,
			EntityKind: EntityUser,
			EntityID:   s.UserID,
			Message:    "user has no character",
		})
	case n > 1:
		ids := make([]string, 0, n)
		for _, c := range s.Characters {
			ids = append(ids, c.ID)
		}
		r.add(Finding{
			Severity:   SeverityError,
			Code:       CodeDuplicateCharacter,
			EntityKind: EntityUser,
			EntityID:   s.UserID,
			Stored:     strconv.Itoa(n),
			Expected:   "1",
			Message:    "user has multiple characters: " + strings.Join(ids, ", "),
		})
	}

	for _, c := range s.Characters {
		if err := c.Validate(); err != nil {
			r.add(Finding{
				Severity:   SeverityError,
				Code:       CodeInvalidCharacter,
				EntityKind: EntityCharacter,
				EntityID:   c.ID,
				Message:    err.Error(),
			})
			continue
		}
		if want := character.LevelFor(c.Experience); want != c.Level {
			r.add(driftFinding(CodeLevelDrift, EntityCharacter, c.ID, "level", c.Level, want,
				fmt.Sprintf("stored level %d does not match level %d for %d experience", c.Level, want, c.Experience)))
		}
	}
}

func checkHabits(r *Report, s Snapshot, now time.Time) {
	owner, hasOwner := s.Character()

	for _, h := range s.Habits {
		if err := h.Validate(); err != nil {
			r.add(Finding{
				Severity:   SeverityError,
				Code:       CodeInvalidHabit,
				EntityKind: EntityHabit,
				EntityID:   h.ID,
				Message:    err.Error(),
			})
			continue
		}

		if hasOwner && h.CharacterID != owner.ID {
			r.add(Finding{
				Severity:   SeverityError,
				Code:       CodeHabitOwnerMismatch,
				EntityKind: EntityHabit,
				EntityID:   h.ID,
				Field:      "character_id",
				Stored:     h.CharacterID,
				Expected:   owner.ID,
				Message:    "habit references a character the user does not own",
			})
		}

		current := habit.CalculateStreak(h.Completions, h.Frequency, now)
		if current != h.CurrentStreak {
			r.add(driftFinding(CodeStreakDrift, EntityHabit, h.ID, "current_streak", h.CurrentStreak, current,
				fmt.Sprintf("stored streak %d, recomputed %d", h.CurrentStreak, current)))
		}

		longest := habit.CalculateLongestStreak(h.Completions, h.Frequency)
		if h.LongestStreak < longest {
			r.add(driftFinding(CodeLongestStreakDrift, EntityHabit, h.ID, "longest_streak", h.LongestStreak, longest,
				fmt.Sprintf("stored longest streak %d is below the recomputed %d", h.LongestStreak, longest)))
		}

		if h.CurrentStreak > h.LongestStreak {
			r.add(driftFinding(CodeStreakExceedsLongest, EntityHabit, h.ID, "longest_streak", h.LongestStreak, h.CurrentStreak,
				fmt.Sprintf("current streak %d exceeds longest streak %d", h.CurrentStreak, h.LongestStreak)))
		}
	}
}

func checkGoals(r *Report, s Snapshot) {
	owner, hasOwner := s.Character()

	for _, g := range s.Goals {
		if err := g.Validate(); err != nil {
			r.add(Finding{
				Severity:   SeverityError,
				Code:       CodeInvalidGoal,
				EntityKind: EntityGoal,
				EntityID:   g.ID,
				Message:    err.Error(),
			})
			continue
		}

		if hasOwner && g.CharacterID != owner.ID {
			r.add(Finding{
				Severity:   SeverityError,
				Code:       CodeGoalOwnerMismatch,
				EntityKind: EntityGoal,
				EntityID:   g.ID,
				Field:      "character_id",
				Stored:     g.CharacterID,
				Expected:   owner.ID,
				Message:    "goal references a character the user does not own",
			})
		}

		if !g.IsConsistent() {
			stored, expected := "set", "unset"
			msg := fmt.Sprintf("goal at %d%% progress has a completion timestamp", g.Progress)
			if g.CompletedAt == nil {
				stored, expected = "unset", "set"
				msg = fmt.Sprintf("goal at %d%% progress has no completion timestamp", g.Progress)
			}
			r.add(Finding{
				Severity:   SeverityWarning,
				Code:       CodeGoalCompletionMismatch,
				EntityKind: EntityGoal,
				EntityID:   g.ID,
				Field:      "completed_at",
				Stored:     stored,
				Expected:   expected,
				Message:    msg,
			})
		}
	}
}

func driftFinding(code Code, kind EntityKind, id, field string, stored, expected int, msg string) Finding {
	return Finding{
		Severity:   SeverityWarning,
		Code:       code,
		EntityKind: kind,
		EntityID:   id,
		Field:      field,
		Stored:     strconv.Itoa(stored),
		Expected:   strconv.Itoa(expected),
		Message:    msg,
	}
}
