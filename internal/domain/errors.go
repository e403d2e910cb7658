package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

var (
	// Store errors
	ErrStoreUnavailable = errors.New("data store unreachable")
	ErrUserNotFound     = errors.New("user not found")

	// Run errors
	ErrRunInProgress = errors.New("another batch run holds the run lock")
	ErrLockNotHeld   = errors.New("run lock not held by this holder")

	// Engagement errors
	ErrInvalidStreakState = errors.New("invalid streak state")
	ErrUnknownBadge       = errors.New("unknown badge code")

	// Notification errors
	ErrNotificationSuppressed = errors.New("notification suppressed by policy")
)
