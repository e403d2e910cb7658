package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// Infrastructure implements these; the application layer depends on them.

// UserDirectory enumerates the users the engine processes.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]UserID, error)

	// UsersWithoutStreak returns users that have no StreakState record yet.
	UsersWithoutStreak(ctx context.Context) ([]UserID, error)
}

// ActivityReader reads derived activity from the Task Activity Store.
type ActivityReader interface {
	// DailyActivity summarizes completions on day, in the store's timezone.
	DailyActivity(ctx context.Context, user UserID, day Date) (DailyActivitySummary, error)

	// LifetimeCounters counts completions up to and including through.
	LifetimeCounters(ctx context.Context, user UserID, through Date) (LifetimeCounters, error)
}

// StreakStore persists StreakState records.
type StreakStore interface {
	// GetStreak returns the record and whether it exists.
	GetStreak(ctx context.Context, user UserID) (StreakState, bool, error)

	// AdvanceStreak applies fn to the prior record inside one transaction and
	// stamps LastProcessedDay = day. If the record was already processed for
	// day, fn is not called and the stored record is returned with false.
	AdvanceStreak(ctx context.Context, user UserID, day Date, fn func(StreakState) StreakState) (StreakState, bool, error)

	// EnsureStreak creates a zero record if none exists. Reports creation.
	EnsureStreak(ctx context.Context, user UserID) (bool, error)
}

// BadgeLedger is the set of (user, badge) facts.
type BadgeLedger interface {
	// Award inserts the award unless the pair already exists (or, when
	// uniqueness is preserved, was pruned before). Reports insertion.
	Award(ctx context.Context, user UserID, code BadgeCode, at time.Time) (bool, error)

	ListAwards(ctx context.Context, user UserID) ([]BadgeAward, error)

	// ExpiredAwards lists awards older than before.
	ExpiredAwards(ctx context.Context, before time.Time) ([]BadgeAward, error)

	// PruneAwards deletes awards older than before. With preserveUniqueness
	// the (user, code) facts are kept so pruned badges never re-fire.
	PruneAwards(ctx context.Context, before time.Time, preserveUniqueness bool) (int64, error)
}

// RunGuard provides a named lease so overlapping invocations cannot race.
type RunGuard interface {
	AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, name, holder string) error
}

// RunRecorder persists batch run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
	LatestRun(ctx context.Context) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// NotificationOutbox is the handoff point to the external dispatcher.
type NotificationOutbox interface {
	EnqueueNotification(ctx context.Context, n Notification) (int64, error)
	NotificationCount(ctx context.Context, user UserID, day Date) (int, error)
	PendingNotifications(ctx context.Context, limit int) ([]Notification, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	UserDirectory
	ActivityReader
	StreakStore
	BadgeLedger
	RunGuard
	RunRecorder
	NotificationOutbox

	Ping(ctx context.Context) error
	Close() error
}
