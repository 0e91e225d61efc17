package habit

import (
	"sort"
	"time"

	"github.com/habitquest/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// normalizeDays truncates dates to UTC calendar days, drops duplicates and zero
// values, and sorts the result most-recent first.
func normalizeDays(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if d.IsZero() {
			continue
		}
		day := timeutil.StartOfDay(d)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days
}

// CalculateStreak returns the current streak for a completion history.
//
// The streak is broken (0) when the most recent completion is further than the
// frequency tolerance from now. Otherwise completions are counted from the most
// recent backwards while each gap stays within tolerance. Input order and
// same-day repeats do not matter. The function is pure.
func CalculateStreak(dates []time.Time, freq Frequency, now time.Time) int {
	days := normalizeDays(dates)
	if len(days) == 0 {
		return 0
	}

	tolerance := freq.Tolerance()
	if timeutil.DaysBetween(days[0], now) > tolerance && days[0].Before(now) {
		return 0
	}

	streak := 1
	for i := 1; i < len(days); i++ {
		if timeutil.DaysBetween(days[i], days[i-1]) > tolerance {
			break
		}
		streak++
	}
	return streak
}

// CalculateLongestStreak returns the longest run of completions anywhere in
// the history under the same gap rule, regardless of how long ago it ended.
func CalculateLongestStreak(dates []time.Time, freq Frequency) int {
	days := normalizeDays(dates)
	if len(days) == 0 {
		return 0
	}

	tolerance := freq.Tolerance()
	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if timeutil.DaysBetween(days[i], days[i-1]) > tolerance {
			run = 1
			continue
		}
		run++
		if run > longest {
			longest = run
		}
	}
	return longest
}
