// Package domain holds the engagement engine's pure types, sentinel errors
// and the store interfaces the application layer depends on.
// Nothing in here touches a database or the network.
package domain

import (
	"fmt"
	"time"
)

// UserID identifies a user in the external User Directory.
type UserID string

// ─── Activity Types ─────────────────────────────────────────────────────────

// DailyActivitySummary is derived on demand from the Task Activity Store.
type DailyActivitySummary struct {
	UserID         UserID `json:"user_id"`
	Day            Date   `json:"day"`
	CompletedCount int    `json:"completed_count"`
	TotalMinutes   int    `json:"total_minutes"` // sum of estimated minutes
}

// Active reports whether at least one task was completed that day.
func (s DailyActivitySummary) Active() bool {
	return s.CompletedCount > 0
}

// LifetimeCounters are read-only totals fed to the badge rules.
type LifetimeCounters struct {
	CompletedTasks    int64 `json:"completed_tasks"`
	OnTimeCompletions int64 `json:"on_time_completions"`
}

// ─── Streak Types ───────────────────────────────────────────────────────────

// StreakState is the persisted per-user streak record.
// One row per user, created lazily, mutated at most once per logical day.
type StreakState struct {
	UserID         UserID `json:"user_id"`
	CurrentStreak  int    `json:"current_streak"`
	LongestStreak  int    `json:"longest_streak"`
	LastActiveDate *Date  `json:"last_active_date,omitempty"`

	// LastProcessedDay is the reference day of the last run that advanced
	// this record. Guards against double processing of the same day.
	LastProcessedDay *Date     `json:"last_processed_day,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewStreakState returns the zero record for a user.
func NewStreakState(user UserID) StreakState {
	return StreakState{UserID: user}
}

// Validate checks the record invariants.
func (s StreakState) Validate() error {
	switch {
	case s.CurrentStreak < 0 || s.LongestStreak < 0:
		return fmt.Errorf("%w: negative streak (current=%d longest=%d)",
			ErrInvalidStreakState, s.CurrentStreak, s.LongestStreak)
	case s.LongestStreak < s.CurrentStreak:
		return fmt.Errorf("%w: longest %d < current %d",
			ErrInvalidStreakState, s.LongestStreak, s.CurrentStreak)
	case s.CurrentStreak > 0 && s.LastActiveDate == nil:
		return fmt.Errorf("%w: current streak %d without last active date",
			ErrInvalidStreakState, s.CurrentStreak)
	}
	return nil
}

// ProcessedOn reports whether the record was already advanced for day (or later).
func (s StreakState) ProcessedOn(day Date) bool {
	return s.LastProcessedDay != nil && !s.LastProcessedDay.Before(day)
}

// ─── Badge Types ────────────────────────────────────────────────────────────

// BadgeCode names a one-time achievement.
type BadgeCode string

const (
	BadgeFirstTask          BadgeCode = "FIRST_TASK"
	BadgeThreeDayStreak     BadgeCode = "THREE_DAY_STREAK"
	BadgeSevenDayStreak     BadgeCode = "SEVEN_DAY_STREAK"
	BadgeFourteenDayStreak  BadgeCode = "FOURTEEN_DAY_STREAK"
	BadgeTwentyOneDayStreak BadgeCode = "TWENTY_ONE_DAY_STREAK"
	BadgeThirtyDayStreak    BadgeCode = "THIRTY_DAY_STREAK"
	BadgeDeepFocus120       BadgeCode = "DEEP_FOCUS_120"
	BadgeOnTimeSubmit       BadgeCode = "ON_TIME_SUBMIT"
)

// BadgeAward records that a user earned a badge. At most one per (user, code).
type BadgeAward struct {
	UserID    UserID    `json:"user_id"`
	Code      BadgeCode `json:"code"`
	AwardedAt time.Time `json:"awarded_at"`
}

// ─── Run Types ──────────────────────────────────────────────────────────────

// RunStatus summarizes how a batch run ended.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunPartial RunStatus = "partial" // finished, some users errored
	RunFailed  RunStatus = "failed"  // aborted by a fatal error
)

// RunRecord is the persisted summary of one batch invocation.
type RunRecord struct {
	ID           string    `json:"id"`
	ReferenceDay Date      `json:"reference_day"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Processed    int       `json:"processed"`
	Errored      int       `json:"errored"`
	Advanced     int       `json:"advanced"`
	Awarded      int       `json:"awarded"`
	Backfilled   int       `json:"backfilled"`
	Pruned       int64     `json:"pruned"`
	Status       RunStatus `json:"status"`
	Error        string    `json:"error,omitempty"`
}

// ─── Notification Types ─────────────────────────────────────────────────────

// NotificationType categorizes events handed to the dispatcher.
type NotificationType string

const (
	NotifyBadgeAwarded   NotificationType = "badge_awarded"
	NotifyStreakReminder NotificationType = "streak_reminder"
)

// Notification is an outbox row drained by the external dispatcher.
type Notification struct {
	ID        int64            `json:"id"`
	UserID    UserID           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Day       Date             `json:"day"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationPolicy governs how many events a user may receive per day.
type NotificationPolicy struct {
	Enabled   bool `json:"enabled" toml:"enabled"`
	MaxPerDay int  `json:"max_per_day" toml:"max_per_day"`
}

// DefaultNotificationPolicy allows one message per user per day.
func DefaultNotificationPolicy() NotificationPolicy {
	return NotificationPolicy{
		Enabled:   true,
		MaxPerDay: 1,
	}
}
