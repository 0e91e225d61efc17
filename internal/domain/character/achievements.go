package character

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT RULES
// ══════════════════════════════════════════════════════════════════════════════

// Attribute thresholds.
const (
	AdeptThreshold  = 5
	MasterThreshold = 10
)

// Streak milestone achievements. A milestone fires only when a streak equals
// the threshold exactly; jumping past it does not award it.
var streakMilestones = []struct {
	Length int
	Name   string
}{
	{7, "Week Warrior"},
	{30, "Monthly Master"},
	{100, "Century Champion"},
}

// StreakMilestoneName returns the achievement for a streak of exactly length.
func StreakMilestoneName(length int) (string, bool) {
	for _, m := range streakMilestones {
		if m.Length == length {
			return m.Name, true
		}
	}
	return "", false
}

// Snapshot is the post-update state the rules are evaluated against.
type Snapshot struct {
	Attributes       map[string]int
	CustomAttributes map[string]int
	Streaks          []int
	Level            int
}

// SnapshotOf captures c together with the given current streaks.
func SnapshotOf(c *Character, streaks ...int) Snapshot {
	return Snapshot{
		Attributes:       c.Attributes,
		CustomAttributes: c.CustomAttributes,
		Streaks:          streaks,
		Level:            c.Level,
	}
}

// AttributeAchievements returns the attribute tier names earned at value.
func AttributeAchievements(attribute string, value int) []string {
	title := cases.Title(language.English).String(attribute)
	var out []string
	if value >= AdeptThreshold {
		out = append(out, title+" Adept")
	}
	if value >= MasterThreshold {
		out = append(out, title+" Master")
	}
	return out
}

// Candidates returns every achievement the snapshot qualifies for.
func Candidates(s Snapshot) StringSet {
	out := NewStringSet()
	for name, v := range s.Attributes {
		for _, a := range AttributeAchievements(name, v) {
			out.Add(a)
		}
	}
	for name, v := range s.CustomAttributes {
		for _, a := range AttributeAchievements(name, v) {
			out.Add(a)
		}
	}
	for _, streak := range s.Streaks {
		if name, ok := StreakMilestoneName(streak); ok {
			out.Add(name)
		}
	}
	if s.Level > 0 && s.Level%AchievementEveryLevels == 0 {
		out.Add(fmt.Sprintf("Reached Level %d!", s.Level))
	}
	return out
}

// EvaluateAchievements returns the achievements s qualifies for that are not
// already in existing, sorted. It never mutates existing.
func EvaluateAchievements(s Snapshot, existing StringSet) []string {
	return existing.Difference(Candidates(s))
}
