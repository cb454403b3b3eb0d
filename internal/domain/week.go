package domain

import (
	"fmt"
	"time"
)

// ISOWeek formats the ISO-8601 week of t, e.g. "2026-W42".
func ISOWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// PreviousISOWeek returns the identifier of the week before the one containing t.
func PreviousISOWeek(t time.Time) string {
	return ISOWeek(t.AddDate(0, 0, -7))
}

// NextStreak applies one qualifying activity in week (with prevWeek the week before it).
// The second return is false when the week was already counted.
func NextStreak(state AchievementState, week, prevWeek string) (AchievementState, bool) {
	if state.LastActiveWeek == week {
		return state, false
	}
	if state.LastActiveWeek != "" && state.LastActiveWeek == prevWeek {
		state.CurrentStreak++
	} else {
		state.CurrentStreak = 1
	}
	if state.CurrentStreak > state.LongestStreak {
		state.LongestStreak = state.CurrentStreak
	}
	state.LastActiveWeek = week
	return state, true
}
