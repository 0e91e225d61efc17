package habit

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitquest/progression-engine/pkg/timeutil"
)

var now = time.Date(2026, 10, 15, 18, 30, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return timeutil.DaysAgo(now, n).Add(9 * time.Hour)
}

func TestCalculateStreak(t *testing.T) {
	tests := []struct {
		name  string
		dates []time.Time
		freq  Frequency
		want  int
	}{
		{"empty history", nil, FrequencyDaily, 0},
		{"daily three in a row", []time.Time{daysAgo(0), daysAgo(1), daysAgo(2)}, FrequencyDaily, 3},
		{"daily gap of three breaks the walk", []time.Time{daysAgo(0), daysAgo(3)}, FrequencyDaily, 1},
		{"daily last completion yesterday", []time.Time{daysAgo(1), daysAgo(2)}, FrequencyDaily, 2},
		{"daily last completion two days ago is broken", []time.Time{daysAgo(2), daysAgo(3)}, FrequencyDaily, 0},
		{"weekly last completion ten days ago", []time.Time{daysAgo(10)}, FrequencyWeekly, 0},
		{"weekly within tolerance", []time.Time{daysAgo(3), daysAgo(10), daysAgo(17)}, FrequencyWeekly, 3},
		{"weekly eight day gap stops", []time.Time{daysAgo(3), daysAgo(11)}, FrequencyWeekly, 1},
		{"monthly", []time.Time{daysAgo(20), daysAgo(50), daysAgo(81)}, FrequencyMonthly, 2},
		{"unsorted input", []time.Time{daysAgo(2), daysAgo(0), daysAgo(1)}, FrequencyDaily, 3},
		{"same day repeats count once", []time.Time{daysAgo(0), daysAgo(0).Add(time.Hour), daysAgo(1)}, FrequencyDaily, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateStreak(tt.dates, tt.freq, now))
		})
	}
}

func TestCalculateStreak_IdempotentAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	freqs := []Frequency{FrequencyDaily, FrequencyWeekly, FrequencyMonthly}

	for i := 0; i < 200; i++ {
		n := rng.Intn(15)
		dates := make([]time.Time, n)
		for j := range dates {
			dates[j] = daysAgo(rng.Intn(60))
		}
		freq := freqs[rng.Intn(len(freqs))]

		first := CalculateStreak(dates, freq, now)
		second := CalculateStreak(dates, freq, now)
		require.Equal(t, first, second)
		require.LessOrEqual(t, first, len(dates))
		require.GreaterOrEqual(t, first, 0)
		require.LessOrEqual(t, first, CalculateLongestStreak(dates, freq))
	}
}

func TestCalculateStreak_DoesNotMutateInput(t *testing.T) {
	dates := []time.Time{daysAgo(2), daysAgo(0), daysAgo(1)}
	original := append([]time.Time(nil), dates...)

	CalculateStreak(dates, FrequencyDaily, now)
	assert.Equal(t, original, dates)
}

func TestCalculateLongestStreak(t *testing.T) {
	dates := []time.Time{
		daysAgo(40), daysAgo(39), daysAgo(38), daysAgo(37), // run of 4
		daysAgo(20), daysAgo(19), // run of 2
		daysAgo(1), // current run of 1
	}
	assert.Equal(t, 4, CalculateLongestStreak(dates, FrequencyDaily))
	assert.Equal(t, 1, CalculateStreak(dates, FrequencyDaily, now))
	assert.Equal(t, 0, CalculateLongestStreak(nil, FrequencyWeekly))
}

func TestCanonicalStreaks_KeepsStoredRecord(t *testing.T) {
	dates := []time.Time{daysAgo(0), daysAgo(1)}

	current, longest := CanonicalStreaks(dates, FrequencyDaily, 9, now)
	assert.Equal(t, 2, current)
	assert.Equal(t, 9, longest)

	current, longest = CanonicalStreaks(dates, FrequencyDaily, 0, now)
	assert.Equal(t, 2, current)
	assert.Equal(t, 2, longest)
}

func TestHabit_RecordCompletion(t *testing.T) {
	h := &Habit{ID: "h1", CharacterID: "c1", Frequency: FrequencyDaily}

	assert.True(t, h.RecordCompletion(daysAgo(1), now))
	assert.True(t, h.RecordCompletion(daysAgo(0), now))
	assert.False(t, h.RecordCompletion(daysAgo(0).Add(2*time.Hour), now), "same-day repeat")

	assert.Len(t, h.Completions, 2)
	assert.Equal(t, 2, h.CurrentStreak)
	assert.Equal(t, 2, h.LongestStreak)
	assert.Equal(t, now, h.UpdatedAt)
}

func TestHabit_Validate(t *testing.T) {
	valid := Habit{ID: "h1", CharacterID: "c1", Frequency: FrequencyWeekly}
	require.NoError(t, valid.Validate())

	cases := map[string]func(h *Habit){
		"missing id":        func(h *Habit) { h.ID = "" },
		"missing character": func(h *Habit) { h.CharacterID = " " },
		"bad frequency":     func(h *Habit) { h.Frequency = "hourly" },
		"negative current":  func(h *Habit) { h.CurrentStreak = -1 },
		"negative longest":  func(h *Habit) { h.LongestStreak = -2 },
		"zero completion":   func(h *Habit) { h.Completions = []time.Time{{}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := valid
			mutate(&h)
			assert.Error(t, h.Validate())
		})
	}
}

func TestParseFrequency(t *testing.T) {
	f, err := ParseFrequency(" Weekly ")
	require.NoError(t, err)
	assert.Equal(t, FrequencyWeekly, f)
	assert.Equal(t, 7, f.Tolerance())

	_, err = ParseFrequency("yearly")
	assert.Error(t, err)
}
