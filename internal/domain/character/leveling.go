package character

import (
	"fmt"
	"math/rand/v2"

	"github.com/habitquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVELING POLICY
// ══════════════════════════════════════════════════════════════════════════════

// XPPerLevel is the experience needed for each level. The level curve is linear
// and is the only level function in the engine: progression and integrity
// checks both call LevelFor.
const XPPerLevel = 100

// Milestone spacing for level-up unlocks.
const (
	AccessoryEveryLevels   = 5
	AchievementEveryLevels = 10
)

// DefaultAttributeBumpProbability is the chance a level-up raises the attribute
// tied to the triggering action.
const DefaultAttributeBumpProbability = 0.7

// LevelFor maps lifetime experience to a level. Monotonic, never below 1.
func LevelFor(experience int) int {
	if experience < 0 {
		experience = 0
	}
	return experience/XPPerLevel + 1
}

// ExperienceForLevel returns the minimum experience for level.
func ExperienceForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	return (level - 1) * XPPerLevel
}

// Gain describes the outcome of adding experience.
type Gain struct {
	OldExperience int
	NewExperience int
	OldLevel      int
	NewLevel      int
	LeveledUp     bool
}

// ApplyGain adds gained to current. gained must be positive.
func ApplyGain(current, gained int) (Gain, error) {
	if current < 0 {
		return Gain{}, shared.Invalid("character", "experience", "must not be negative")
	}
	if gained <= 0 {
		return Gain{}, shared.NewDomainError("character", "ApplyGain", shared.ErrInvalidInput, "experience gain must be positive")
	}

	next := current + gained
	oldLevel, newLevel := LevelFor(current), LevelFor(next)
	return Gain{
		OldExperience: current,
		NewExperience: next,
		OldLevel:      oldLevel,
		NewLevel:      newLevel,
		LeveledUp:     newLevel > oldLevel,
	}, nil
}

// LevelsReached lists every level entered by this gain, lowest first.
func (g Gain) LevelsReached() []int {
	if !g.LeveledUp {
		return nil
	}
	out := make([]int, 0, g.NewLevel-g.OldLevel)
	for l := g.OldLevel + 1; l <= g.NewLevel; l++ {
		out = append(out, l)
	}
	return out
}

// AccessoryForLevel returns the accessory token unlocked on reaching level.
func AccessoryForLevel(level int) (string, bool) {
	if level <= 0 || level%AccessoryEveryLevels != 0 {
		return "", false
	}
	return fmt.Sprintf("level_%d_accessory", level), true
}

// LevelAchievementForLevel returns the milestone achievement for level.
func LevelAchievementForLevel(level int) (string, bool) {
	if level <= 0 || level%AchievementEveryLevels != 0 {
		return "", false
	}
	return fmt.Sprintf("Reached Level %d!", level), true
}

// Roller is a source of uniform floats in [0, 1). *rand.Rand satisfies it.
type Roller interface {
	Float64() float64
}

type globalRoller struct{}

func (globalRoller) Float64() float64 { return rand.Float64() }

// LevelUpPolicy decides the probabilistic attribute bump on level-up.
type LevelUpPolicy struct {
	// AttributeBumpProbability is clamped into [0, 1].
	AttributeBumpProbability float64

	// Roller defaults to the process-wide generator.
	Roller Roller
}

// DefaultLevelUpPolicy returns the policy with p = 0.7.
func DefaultLevelUpPolicy() LevelUpPolicy {
	return LevelUpPolicy{AttributeBumpProbability: DefaultAttributeBumpProbability}
}

// RollAttributeBump reports whether this level-up raises an attribute.
func (p LevelUpPolicy) RollAttributeBump() bool {
	prob := p.AttributeBumpProbability
	switch {
	case prob <= 0:
		return false
	case prob >= 1:
		return true
	}
	r := p.Roller
	if r == nil {
		r = globalRoller{}
	}
	return r.Float64() < prob
}
