package character

import (
	"slices"
	"time"

	"github.com/habitquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressInput is one experience grant.
type ProgressInput struct {
	Amount            int
	Attribute         string
	IsCustomAttribute bool

	// Streak is the current streak of the habit that triggered the grant, if any.
	Streak *int
}

// LevelUpDetails describes a level change.
type LevelUpDetails struct {
	OldLevel       int
	NewLevel       int
	LevelsGained   int
	ExperienceNext int
}

// Outcome is everything a single grant changed on the character.
type Outcome struct {
	Gain               Gain
	LevelUp            *LevelUpDetails
	NewAchievements    []string
	NewAccessories     []string
	AttributeIncreases map[string]int
	StreakMilestone    *int
}

// Progress applies in to c: experience and level, the probabilistic attribute
// bump, milestone accessories and achievements, and the achievement rules
// evaluated against the post-update state. c is mutated in place; on error c
// is left untouched.
func Progress(c *Character, in ProgressInput, policy LevelUpPolicy, now time.Time) (*Outcome, error) {
	if in.Attribute != "" && !in.IsCustomAttribute && !IsCoreAttribute(in.Attribute) {
		return nil, shared.NewDomainError("character", "Progress", shared.ErrInvalidInput, "unknown core attribute "+in.Attribute)
	}

	gain, err := ApplyGain(c.Experience, in.Amount)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Gain:               gain,
		AttributeIncreases: make(map[string]int),
		NewAchievements:    []string{},
		NewAccessories:     []string{},
	}

	c.Experience = gain.NewExperience
	c.Level = gain.NewLevel

	if gain.LeveledUp {
		out.LevelUp = &LevelUpDetails{
			OldLevel:       gain.OldLevel,
			NewLevel:       gain.NewLevel,
			LevelsGained:   gain.NewLevel - gain.OldLevel,
			ExperienceNext: ExperienceForLevel(gain.NewLevel + 1),
		}

		if in.Attribute != "" && policy.RollAttributeBump() {
			// Attribute was validated above; the increment cannot fail.
			_, _ = c.IncrementAttribute(in.Attribute, in.IsCustomAttribute, 1)
			out.AttributeIncreases[in.Attribute] = 1
		}

		for _, lvl := range gain.LevelsReached() {
			if acc, ok := AccessoryForLevel(lvl); ok && c.Accessories.Add(acc) {
				out.NewAccessories = append(out.NewAccessories, acc)
			}
			if ach, ok := LevelAchievementForLevel(lvl); ok && c.Achievements.Add(ach) {
				out.NewAchievements = append(out.NewAchievements, ach)
			}
		}
	}

	var streaks []int
	if in.Streak != nil {
		streaks = append(streaks, *in.Streak)
	}

	for _, ach := range EvaluateAchievements(SnapshotOf(c, streaks...), c.Achievements) {
		c.Achievements.Add(ach)
		out.NewAchievements = append(out.NewAchievements, ach)
	}

	// A milestone is reported once, by the grant that unlocks its achievement.
	if in.Streak != nil {
		if name, ok := StreakMilestoneName(*in.Streak); ok && slices.Contains(out.NewAchievements, name) {
			m := *in.Streak
			out.StreakMilestone = &m
		}
	}

	c.UpdatedAt = now
	return out, nil
}
