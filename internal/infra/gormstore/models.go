package gormstore

import "time"

// ─── Table Models ───────────────────────────────────────────────────────────
// Column layout mirrors the SQLite schema so data can move between backends.

// userRow and taskRow are created only for standalone databases.
type userRow struct {
	ID        string     `gorm:"primaryKey;size:128"`
	CreatedAt time.Time  `gorm:"not null"`
	DeletedAt *time.Time `gorm:"index"`
}

func (userRow) TableName() string { return "users" }

type taskRow struct {
	ID               string     `gorm:"primaryKey;size:128"`
	UserID           string     `gorm:"size:128;not null;index:idx_tasks_user_completed,priority:1"`
	Title            string     `gorm:"not null;default:''"`
	EstimatedMinutes int        `gorm:"not null;default:0"`
	DueAt            *time.Time `gorm:"default:null"`
	CompletedAt      *time.Time `gorm:"index:idx_tasks_user_completed,priority:2"`
}

func (taskRow) TableName() string { return "tasks" }

type streakRow struct {
	UserID           string    `gorm:"primaryKey;size:128"`
	CurrentStreak    int       `gorm:"not null;default:0"`
	LongestStreak    int       `gorm:"not null;default:0"`
	LastActiveDate   *string   `gorm:"size:10"`
	LastProcessedDay *string   `gorm:"size:10"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (streakRow) TableName() string { return "streak_states" }

type awardRow struct {
	UserID    string    `gorm:"primaryKey;size:128"`
	Code      string    `gorm:"primaryKey;size:64"`
	AwardedAt time.Time `gorm:"not null;index"`
}

func (awardRow) TableName() string { return "badge_awards" }

type tombstoneRow struct {
	UserID    string    `gorm:"primaryKey;size:128"`
	Code      string    `gorm:"primaryKey;size:64"`
	AwardedAt time.Time `gorm:"not null"`
	PrunedAt  time.Time `gorm:"not null"`
}

func (tombstoneRow) TableName() string { return "badge_tombstones" }

type lockRow struct {
	Name       string    `gorm:"primaryKey;size:64"`
	Holder     string    `gorm:"size:128;not null"`
	AcquiredAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null"`
}

func (lockRow) TableName() string { return "run_locks" }

type runRow struct {
	ID           string     `gorm:"primaryKey;size:64"`
	ReferenceDay string     `gorm:"size:10;not null;index"`
	StartedAt    time.Time  `gorm:"not null;index"`
	FinishedAt   *time.Time `gorm:""`
	Processed    int        `gorm:"not null;default:0"`
	Errored      int        `gorm:"not null;default:0"`
	Advanced     int        `gorm:"not null;default:0"`
	Awarded      int        `gorm:"not null;default:0"`
	Backfilled   int        `gorm:"not null;default:0"`
	Pruned       int64      `gorm:"not null;default:0"`
	Status       string     `gorm:"size:16;not null"`
	Error        string     `gorm:"type:text"`
}

func (runRow) TableName() string { return "batch_runs" }

type notificationRow struct {
	ID           int64      `gorm:"primaryKey;autoIncrement"`
	UserID       string     `gorm:"size:128;not null;index:idx_outbox_user_day,priority:1"`
	Type         string     `gorm:"size:32;not null"`
	Title        string     `gorm:"not null"`
	Body         string     `gorm:"type:text;not null"`
	Day          string     `gorm:"size:10;not null;index:idx_outbox_user_day,priority:2"`
	CreatedAt    time.Time  `gorm:"not null"`
	DispatchedAt *time.Time `gorm:"index"`
}

func (notificationRow) TableName() string { return "notification_outbox" }
