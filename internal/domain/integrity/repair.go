package integrity

import (
	"strconv"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/goal"
	"github.com/habitquest/progression-engine/internal/domain/habit"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPAIR PLAN
// ══════════════════════════════════════════════════════════════════════════════

// Change is one field overwritten by a fix.
type Change struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Fix is the repaired version of one entity. Exactly one of Character, Habit
// and Goal is set, matching EntityKind.
type Fix struct {
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	Codes      []Code     `json:"codes"`
	Changes    []Change   `json:"changes"`

	Character *character.Character `json:"-"`
	Habit     *habit.Habit         `json:"-"`
	Goal      *goal.Goal           `json:"-"`
}

// Plan lists the writes a repair would perform.
type Plan struct {
	Fixes []Fix

	// Skipped holds warnings on entities that also carry an error-class
	// finding, plus every error-class finding itself.
	Skipped []Finding
}

// IsEmpty reports whether the plan performs no writes.
func (p *Plan) IsEmpty() bool { return len(p.Fixes) == 0 }

type entityKey struct {
	kind EntityKind
	id   string
}

// PlanRepairs turns the warnings in r into fixes against the records in s.
// Entities with any error-class finding are left alone, and characters are
// only repaired when the user has exactly one. The fixes carry cloned records;
// s is never mutated.
func PlanRepairs(s Snapshot, r *Report, now time.Time) *Plan {
	plan := &Plan{Fixes: []Fix{}, Skipped: []Finding{}}

	blocked := make(map[entityKey]bool)
	for _, f := range r.Errors {
		blocked[entityKey{f.EntityKind, f.EntityID}] = true
		plan.Skipped = append(plan.Skipped, f)
	}
	_, singleCharacter := s.Character()

	pending := make(map[entityKey][]Code)
	for _, f := range r.Warnings {
		key := entityKey{f.EntityKind, f.EntityID}
		if blocked[key] || (f.EntityKind == EntityCharacter && !singleCharacter) {
			plan.Skipped = append(plan.Skipped, f)
			continue
		}
		pending[key] = appendCode(pending[key], f.Code)
	}

	for _, c := range s.Characters {
		codes, ok := pending[entityKey{EntityCharacter, c.ID}]
		if !ok {
			continue
		}
		if fix, changed := fixCharacter(c, codes, now); changed {
			plan.Fixes = append(plan.Fixes, fix)
		}
	}
	for _, h := range s.Habits {
		codes, ok := pending[entityKey{EntityHabit, h.ID}]
		if !ok {
			continue
		}
		if fix, changed := fixHabit(h, codes, now); changed {
			plan.Fixes = append(plan.Fixes, fix)
		}
	}
	for _, g := range s.Goals {
		codes, ok := pending[entityKey{EntityGoal, g.ID}]
		if !ok {
			continue
		}
		if fix, changed := fixGoal(g, codes, now); changed {
			plan.Fixes = append(plan.Fixes, fix)
		}
	}

	return plan
}

func fixCharacter(c *character.Character, codes []Code, now time.Time) (Fix, bool) {
	want := character.LevelFor(c.Experience)
	if want == c.Level {
		return Fix{}, false
	}
	cp := c.Clone()
	cp.Level = want
	cp.UpdatedAt = now
	return Fix{
		EntityKind: EntityCharacter,
		EntityID:   c.ID,
		Codes:      codes,
		Changes:    []Change{intChange("level", c.Level, want)},
		Character:  cp,
	}, true
}

func fixHabit(h *habit.Habit, codes []Code, now time.Time) (Fix, bool) {
	cp := h.Clone()
	cp.Recalculate(now)

	var changes []Change
	if cp.CurrentStreak != h.CurrentStreak {
		changes = append(changes, intChange("current_streak", h.CurrentStreak, cp.CurrentStreak))
	}
	if cp.LongestStreak != h.LongestStreak {
		changes = append(changes, intChange("longest_streak", h.LongestStreak, cp.LongestStreak))
	}
	if len(changes) == 0 {
		return Fix{}, false
	}
	return Fix{
		EntityKind: EntityHabit,
		EntityID:   h.ID,
		Codes:      codes,
		Changes:    changes,
		Habit:      cp,
	}, true
}

func fixGoal(g *goal.Goal, codes []Code, now time.Time) (Fix, bool) {
	cp := g.Clone()
	if !cp.Reconcile(now) {
		return Fix{}, false
	}
	cp.UpdatedAt = now

	from, to := "set", "unset"
	if cp.CompletedAt != nil {
		from, to = "unset", cp.CompletedAt.Format(time.RFC3339)
	}
	return Fix{
		EntityKind: EntityGoal,
		EntityID:   g.ID,
		Codes:      codes,
		Changes:    []Change{{Field: "completed_at", From: from, To: to}},
		Goal:       cp,
	}, true
}

func intChange(field string, from, to int) Change {
	return Change{Field: field, From: strconv.Itoa(from), To: strconv.Itoa(to)}
}

func appendCode(codes []Code, c Code) []Code {
	for _, existing := range codes {
		if existing == c {
			return codes
		}
	}
	return append(codes, c)
}
