package character

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestCharacter(t *testing.T) *Character {
	t.Helper()
	c, err := New("char-1", "user-1", now)
	require.NoError(t, err)
	return c
}

func alwaysBump() LevelUpPolicy { return LevelUpPolicy{AttributeBumpProbability: 1} }
func neverBump() LevelUpPolicy  { return LevelUpPolicy{AttributeBumpProbability: 0} }

func intPtr(v int) *int { return &v }

func TestEvaluateAchievements_AttributeTiers(t *testing.T) {
	s := Snapshot{
		Attributes:       map[string]int{"strength": 5, "wisdom": 10, "agility": 4},
		CustomAttributes: map[string]int{"deep work": 12},
		Level:            3,
	}

	got := EvaluateAchievements(s, NewStringSet("Wisdom Adept"))
	assert.Equal(t, []string{"Deep Work Adept", "Deep Work Master", "Strength Adept", "Wisdom Master"}, got)
}

func TestEvaluateAchievements_StreakExactEquality(t *testing.T) {
	existing := NewStringSet()

	assert.Equal(t, []string{"Week Warrior"}, EvaluateAchievements(Snapshot{Streaks: []int{7}}, existing))
	assert.Equal(t, []string{"Monthly Master"}, EvaluateAchievements(Snapshot{Streaks: []int{30}}, existing))
	assert.Equal(t, []string{"Century Champion"}, EvaluateAchievements(Snapshot{Streaks: []int{100}}, existing))

	// A streak that jumps from 6 straight to 10 never equals 7, so the
	// milestone is skipped. This pins the exact-equality semantics.
	assert.Empty(t, EvaluateAchievements(Snapshot{Streaks: []int{10}}, existing))
	assert.Empty(t, EvaluateAchievements(Snapshot{Streaks: []int{8}}, existing))
}

func TestEvaluateAchievements_LevelMultiple(t *testing.T) {
	assert.Equal(t, []string{"Reached Level 20!"}, EvaluateAchievements(Snapshot{Level: 20}, NewStringSet()))
	assert.Empty(t, EvaluateAchievements(Snapshot{Level: 21}, NewStringSet()))
	assert.Empty(t, EvaluateAchievements(Snapshot{Level: 20}, NewStringSet("Reached Level 20!")))
}

func TestProgress_ScenarioA(t *testing.T) {
	c := newTestCharacter(t)

	out, err := Progress(c, ProgressInput{Amount: 100, Attribute: AttributeStrength}, neverBump(), now)
	require.NoError(t, err)

	assert.Equal(t, 100, c.Experience)
	assert.Equal(t, 2, c.Level)
	require.NotNil(t, out.LevelUp)
	assert.Equal(t, 1, out.LevelUp.OldLevel)
	assert.Equal(t, 2, out.LevelUp.NewLevel)
	assert.Equal(t, 200, out.LevelUp.ExperienceNext)
	assert.Empty(t, out.AttributeIncreases)
}

func TestProgress_ScenarioD_AdeptUnlockedOnce(t *testing.T) {
	c := newTestCharacter(t)
	c.Attributes[AttributeWisdom] = 4

	out, err := Progress(c, ProgressInput{Amount: 100, Attribute: AttributeWisdom}, alwaysBump(), now)
	require.NoError(t, err)

	assert.Equal(t, 5, c.Attributes[AttributeWisdom])
	assert.Equal(t, map[string]int{AttributeWisdom: 1}, out.AttributeIncreases)
	assert.Equal(t, []string{"Wisdom Adept"}, out.NewAchievements)

	// Re-evaluating the same state does not re-add the achievement.
	assert.Empty(t, EvaluateAchievements(SnapshotOf(c), c.Achievements))

	out, err = Progress(c, ProgressInput{Amount: 10, Attribute: AttributeWisdom}, alwaysBump(), now)
	require.NoError(t, err)
	assert.Empty(t, out.NewAchievements)
	assert.Equal(t, 1, c.Achievements.Len())
}

func TestProgress_NoBumpWithoutLevelUp(t *testing.T) {
	c := newTestCharacter(t)

	out, err := Progress(c, ProgressInput{Amount: 50, Attribute: AttributeAgility}, alwaysBump(), now)
	require.NoError(t, err)
	assert.Nil(t, out.LevelUp)
	assert.Empty(t, out.AttributeIncreases)
	assert.Equal(t, 0, c.Attributes[AttributeAgility])
}

func TestProgress_CustomAttribute(t *testing.T) {
	c := newTestCharacter(t)

	_, err := Progress(c, ProgressInput{Amount: 100, Attribute: "cooking", IsCustomAttribute: true}, alwaysBump(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, c.CustomAttributes["cooking"])
}

func TestProgress_RejectsUnknownCoreAttribute(t *testing.T) {
	c := newTestCharacter(t)
	before := c.Clone()

	_, err := Progress(c, ProgressInput{Amount: 100, Attribute: "luck"}, alwaysBump(), now)
	require.Error(t, err)
	assert.Equal(t, before, c, "character untouched on error")
}

func TestProgress_MilestoneUnlocks(t *testing.T) {
	c := newTestCharacter(t)
	c.Experience = 380
	c.Level = LevelFor(380)

	out, err := Progress(c, ProgressInput{Amount: 620}, neverBump(), now)
	require.NoError(t, err)

	assert.Equal(t, 11, c.Level)
	assert.Equal(t, []string{"level_5_accessory", "level_10_accessory"}, out.NewAccessories)
	assert.Equal(t, []string{"Reached Level 10!"}, out.NewAchievements)
	assert.True(t, c.Accessories.Has("level_10_accessory"))
}

func TestProgress_StreakMilestone(t *testing.T) {
	c := newTestCharacter(t)

	out, err := Progress(c, ProgressInput{Amount: 10, Streak: intPtr(7)}, neverBump(), now)
	require.NoError(t, err)
	require.NotNil(t, out.StreakMilestone)
	assert.Equal(t, 7, *out.StreakMilestone)
	assert.Equal(t, []string{"Week Warrior"}, out.NewAchievements)

	out, err = Progress(c, ProgressInput{Amount: 10, Streak: intPtr(7)}, neverBump(), now)
	require.NoError(t, err)
	assert.Empty(t, out.NewAchievements, "re-hitting the milestone does not duplicate")
	assert.Nil(t, out.StreakMilestone, "an already held milestone is not reported again")

	out, err = Progress(c, ProgressInput{Amount: 10, Streak: intPtr(8)}, neverBump(), now)
	require.NoError(t, err)
	assert.Nil(t, out.StreakMilestone)
}

func TestProgress_SetsNeverContainDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := newTestCharacter(t)
	policy := LevelUpPolicy{AttributeBumpProbability: 0.7, Roller: rng}

	seenAchievements := map[string]int{}
	seenAccessories := map[string]int{}

	for i := 0; i < 500; i++ {
		in := ProgressInput{
			Amount:    1 + rng.Intn(250),
			Attribute: CoreAttributes[rng.Intn(len(CoreAttributes))],
		}
		if rng.Intn(3) == 0 {
			in.Streak = intPtr(rng.Intn(110))
		}

		out, err := Progress(c, in, policy, now)
		require.NoError(t, err)
		for _, a := range out.NewAchievements {
			seenAchievements[a]++
		}
		for _, a := range out.NewAccessories {
			seenAccessories[a]++
		}
	}

	for name, n := range seenAchievements {
		assert.Equal(t, 1, n, "achievement %q reported more than once", name)
	}
	for name, n := range seenAccessories {
		assert.Equal(t, 1, n, "accessory %q reported more than once", name)
	}
	assert.Equal(t, len(seenAchievements), c.Achievements.Len())
	assert.Equal(t, len(seenAccessories), c.Accessories.Len())
	assert.Equal(t, LevelFor(c.Experience), c.Level)
}

func TestStringSet(t *testing.T) {
	s := NewStringSet("b", "a", "a", "")
	assert.Equal(t, []string{"a", "b"}, s.Sorted())
	assert.False(t, s.Add("a"))
	assert.True(t, s.Add("c"))

	clone := s.Clone()
	clone.Add("d")
	assert.False(t, s.Has("d"))

	assert.Equal(t, []string{"d"}, s.Difference(clone))
}

func TestNew(t *testing.T) {
	c := newTestCharacter(t)
	assert.Equal(t, 1, c.Level)
	assert.Equal(t, 0, c.Experience)
	assert.Len(t, c.Attributes, len(CoreAttributes))
	require.NoError(t, c.Validate())

	_, err := New("", "u", now)
	assert.Error(t, err)
}
