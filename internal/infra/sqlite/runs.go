package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tutu-network/streakd/internal/domain"
)

// ─── Run Locks ──────────────────────────────────────────────────────────────

// AcquireLock takes the named lease if it is free, expired, or already ours.
// Returns domain.ErrRunInProgress when another live holder owns it.
func (d *DB) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) error {
	now := d.now()
	result, err := d.db.ExecContext(ctx,
		`INSERT INTO run_locks (name, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			holder=excluded.holder,
			acquired_at=excluded.acquired_at,
			expires_at=excluded.expires_at
		 WHERE run_locks.expires_at <= excluded.acquired_at OR run_locks.holder = excluded.holder`,
		name, holder, now.Unix(), now.Add(ttl).Unix(),
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrRunInProgress
	}
	return nil
}

// ReleaseLock drops the lease if holder still owns it.
func (d *DB) ReleaseLock(ctx context.Context, name, holder string) error {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrLockNotHeld
	}
	return nil
}

// ─── Run Records ────────────────────────────────────────────────────────────

const runColumns = `id, reference_day, started_at, finished_at, processed, errored,
	advanced, awarded, backfilled, pruned, status, error`

// RecordRun inserts or replaces a run summary.
func (d *DB) RecordRun(ctx context.Context, run domain.RunRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO batch_runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			finished_at=excluded.finished_at,
			processed=excluded.processed,
			errored=excluded.errored,
			advanced=excluded.advanced,
			awarded=excluded.awarded,
			backfilled=excluded.backfilled,
			pruned=excluded.pruned,
			status=excluded.status,
			error=excluded.error`,
		run.ID, run.ReferenceDay.String(), run.StartedAt.Unix(), nullableUnix(run.FinishedAt),
		run.Processed, run.Errored, run.Advanced, run.Awarded, run.Backfilled, run.Pruned,
		string(run.Status), run.Error,
	)
	return err
}

// LatestRun returns the most recently started run, or nil if none.
func (d *DB) LatestRun(ctx context.Context) (*domain.RunRecord, error) {
	runs, err := d.ListRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// ListRuns returns recent runs, newest first. A non-positive limit means 20.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM batch_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(s scanner) (domain.RunRecord, error) {
	var r domain.RunRecord
	var day, status string
	var startedAt int64
	var finishedAt sql.NullInt64

	err := s.Scan(&r.ID, &day, &startedAt, &finishedAt, &r.Processed, &r.Errored,
		&r.Advanced, &r.Awarded, &r.Backfilled, &r.Pruned, &status, &r.Error)
	if err != nil {
		return r, err
	}
	if r.ReferenceDay, err = domain.ParseDate(day); err != nil {
		return r, err
	}
	r.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		r.FinishedAt = time.Unix(finishedAt.Int64, 0)
	}
	r.Status = domain.RunStatus(status)
	return r, nil
}
