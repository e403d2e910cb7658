// Package sqlite provides SQLite-based persistent storage for streakd.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tutu-network/streakd/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
// It implements domain.Store.
type DB struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

var _ domain.Store = (*DB)(nil)

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, 5-second busy timeout and immediate
// transactions so read-modify-write sequences take the write lock up front.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", errors.Join(domain.ErrStoreUnavailable, err))
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db, loc: time.UTC, now: time.Now}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// SetLocation sets the timezone that defines calendar-day boundaries.
func (d *DB) SetLocation(loc *time.Location) {
	if loc != nil {
		d.loc = loc
	}
}

// SetClock overrides the wall clock (tests).
func (d *DB) SetClock(now func() time.Time) {
	d.now = now
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return errors.Join(domain.ErrStoreUnavailable, err)
	}
	return nil
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Task Activity Store and User Directory. Owned by the surrounding
		// application; created here so a standalone database is usable.
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			deleted_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			title             TEXT NOT NULL DEFAULT '',
			estimated_minutes INTEGER NOT NULL DEFAULT 0,
			due_at            INTEGER,
			completed_at      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_completed ON tasks(user_id, completed_at)`,

		// ─── Engagement state (owned by this engine) ───────────────────

		`CREATE TABLE IF NOT EXISTS streak_states (
			user_id            TEXT PRIMARY KEY,
			current_streak     INTEGER NOT NULL DEFAULT 0,
			longest_streak     INTEGER NOT NULL DEFAULT 0,
			last_active_date   TEXT,
			last_processed_day TEXT,
			updated_at         INTEGER NOT NULL,
			CHECK (current_streak >= 0 AND longest_streak >= current_streak)
		)`,

		// Badge ledger: a set keyed by (user, code)
		`CREATE TABLE IF NOT EXISTS badge_awards (
			user_id    TEXT NOT NULL,
			code       TEXT NOT NULL,
			awarded_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_badge_awarded ON badge_awards(awarded_at)`,

		// Uniqueness facts for pruned awards; never pruned
		`CREATE TABLE IF NOT EXISTS badge_tombstones (
			user_id    TEXT NOT NULL,
			code       TEXT NOT NULL,
			awarded_at INTEGER NOT NULL,
			pruned_at  INTEGER NOT NULL,
			PRIMARY KEY (user_id, code)
		)`,

		// Run-overlap protection
		`CREATE TABLE IF NOT EXISTS run_locks (
			name        TEXT PRIMARY KEY,
			holder      TEXT NOT NULL,
			acquired_at INTEGER NOT NULL,
			expires_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batch_runs (
			id            TEXT PRIMARY KEY,
			reference_day TEXT NOT NULL,
			started_at    INTEGER NOT NULL,
			finished_at   INTEGER,
			processed     INTEGER NOT NULL DEFAULT 0,
			errored       INTEGER NOT NULL DEFAULT 0,
			advanced      INTEGER NOT NULL DEFAULT 0,
			awarded       INTEGER NOT NULL DEFAULT 0,
			backfilled    INTEGER NOT NULL DEFAULT 0,
			pruned        INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL,
			error         TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON batch_runs(started_at)`,

		// Handoff to the notification dispatcher
		`CREATE TABLE IF NOT EXISTS notification_outbox (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id       TEXT NOT NULL,
			type          TEXT NOT NULL,
			title         TEXT NOT NULL,
			body          TEXT NOT NULL,
			day           TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			dispatched_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_user_day ON notification_outbox(user_id, day)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableDate(d *domain.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullableDate(s sql.NullString) (*domain.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
