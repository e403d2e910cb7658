package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tutu-network/streakd/internal/domain"
)

// ─── User Directory ─────────────────────────────────────────────────────────

// ListUsers returns every non-deleted user ordered by id.
func (d *DB) ListUsers(ctx context.Context) ([]domain.UserID, error) {
	return d.queryUserIDs(ctx,
		`SELECT id FROM users WHERE deleted_at IS NULL ORDER BY id`)
}

// UsersWithoutStreak returns non-deleted users lacking a streak_states row.
func (d *DB) UsersWithoutStreak(ctx context.Context) ([]domain.UserID, error) {
	return d.queryUserIDs(ctx,
		`SELECT u.id FROM users u
		 LEFT JOIN streak_states s ON s.user_id = u.id
		 WHERE s.user_id IS NULL AND u.deleted_at IS NULL
		 ORDER BY u.id`)
}

// UpsertUser registers a user. Used by fixtures and local tooling; the
// production User Directory is written by the surrounding application.
func (d *DB) UpsertUser(ctx context.Context, id domain.UserID, createdAt time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET deleted_at = NULL`,
		string(id), createdAt.Unix(),
	)
	return err
}

// DeleteUser soft-deletes a user.
func (d *DB) DeleteUser(ctx context.Context, id domain.UserID) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE users SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		d.now().Unix(), string(id),
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (d *DB) queryUserIDs(ctx context.Context, query string, args ...any) ([]domain.UserID, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []domain.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.UserID(id))
	}
	return ids, rows.Err()
}

// ─── Task Activity Store ────────────────────────────────────────────────────

// RecordCompletion stores a completed task. Fixture/tooling helper.
func (d *DB) RecordCompletion(ctx context.Context, t domain.TaskCompletion) error {
	var due sql.NullInt64
	if t.DueAt != nil {
		due = nullableUnix(*t.DueAt)
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, estimated_minutes, due_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			estimated_minutes=excluded.estimated_minutes,
			due_at=excluded.due_at,
			completed_at=excluded.completed_at`,
		t.ID, string(t.UserID), t.Title, t.EstimatedMinutes, due, nullableUnix(t.CompletedAt),
	)
	return err
}

// DailyActivity summarizes completions within day's bounds in the DB location.
func (d *DB) DailyActivity(ctx context.Context, user domain.UserID, day domain.Date) (domain.DailyActivitySummary, error) {
	start, end := day.Bounds(d.loc)
	summary := domain.DailyActivitySummary{UserID: user, Day: day}

	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(estimated_minutes), 0)
		 FROM tasks
		 WHERE user_id = ? AND completed_at >= ? AND completed_at < ?`,
		string(user), start.Unix(), end.Unix(),
	).Scan(&summary.CompletedCount, &summary.TotalMinutes)
	return summary, err
}

// LifetimeCounters counts completions up to the end of through.
// Bounding by day keeps re-runs for the same day deterministic even if the
// user keeps completing tasks today.
func (d *DB) LifetimeCounters(ctx context.Context, user domain.UserID, through domain.Date) (domain.LifetimeCounters, error) {
	_, end := through.Bounds(d.loc)
	var c domain.LifetimeCounters

	err := d.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN due_at IS NOT NULL AND completed_at <= due_at THEN 1 ELSE 0 END), 0)
		 FROM tasks
		 WHERE user_id = ? AND completed_at IS NOT NULL AND completed_at < ?`,
		string(user), end.Unix(),
	).Scan(&c.CompletedTasks, &c.OnTimeCompletions)
	return c, err
}
