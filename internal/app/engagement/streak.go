// Package engagement implements the streak and badge rules of the
// engagement engine, plus the handoff of qualifying events to the
// notification dispatcher.
package engagement

import (
	"github.com/tutu-network/streakd/internal/domain"
)

// StreakCalculator is the streak state-transition function.
// A day counts if the user completed at least one task.
// There is no decay: an inactive day never resets or decrements the streak;
// a break is only detected when a later active day follows a gap.
type StreakCalculator struct{}

// Advance evaluates "yesterday" relative to the run's reference day and
// returns the next state. Pure: no I/O, no clock.
func (StreakCalculator) Advance(prior domain.StreakState, reference domain.Date, yesterdayActive bool) domain.StreakState {
	if !yesterdayActive {
		return prior
	}

	yesterday := reference.AddDays(-1)
	next := prior

	switch {
	case prior.LastActiveDate != nil && *prior.LastActiveDate == yesterday:
		// Same day, already counted
		return prior

	case prior.LastActiveDate != nil && *prior.LastActiveDate == yesterday.AddDays(-1):
		// Consecutive day, extend streak
		next.CurrentStreak++

	default:
		// First activity ever, or a gap of more than one day
		next.CurrentStreak = 1
	}

	next.LastActiveDate = &yesterday
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	return next
}
