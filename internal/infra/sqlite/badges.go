package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/tutu-network/streakd/internal/domain"
)

// ─── Badge Ledger ───────────────────────────────────────────────────────────

// Award inserts the (user, code) fact unless present or tombstoned.
// Returns false if the badge was already awarded (idempotent).
func (d *DB) Award(ctx context.Context, user domain.UserID, code domain.BadgeCode, at time.Time) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		`INSERT INTO badge_awards (user_id, code, awarded_at)
		 SELECT ?, ?, ?
		 WHERE NOT EXISTS (
			SELECT 1 FROM badge_tombstones WHERE user_id = ? AND code = ?
		 )
		 ON CONFLICT(user_id, code) DO NOTHING`,
		string(user), string(code), at.Unix(), string(user), string(code),
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil // true = newly awarded
}

// ListAwards returns a user's awards, newest first.
func (d *DB) ListAwards(ctx context.Context, user domain.UserID) ([]domain.BadgeAward, error) {
	return d.queryAwards(ctx,
		`SELECT user_id, code, awarded_at FROM badge_awards
		 WHERE user_id = ? ORDER BY awarded_at DESC, code`, string(user))
}

// ExpiredAwards lists awards older than before, oldest first.
func (d *DB) ExpiredAwards(ctx context.Context, before time.Time) ([]domain.BadgeAward, error) {
	return d.queryAwards(ctx,
		`SELECT user_id, code, awarded_at FROM badge_awards
		 WHERE awarded_at < ? ORDER BY awarded_at, user_id, code`, before.Unix())
}

// PruneAwards deletes awards older than before inside one transaction.
func (d *DB) PruneAwards(ctx context.Context, before time.Time, preserveUniqueness bool) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if preserveUniqueness {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO badge_tombstones (user_id, code, awarded_at, pruned_at)
			 SELECT user_id, code, awarded_at, ? FROM badge_awards WHERE awarded_at < ?`,
			d.now().Unix(), before.Unix(),
		); err != nil {
			return 0, fmt.Errorf("tombstone awards: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM badge_awards WHERE awarded_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete awards: %w", err)
	}
	n, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// AwardCount returns the number of award rows for a (user, code) pair.
func (d *DB) AwardCount(ctx context.Context, user domain.UserID, code domain.BadgeCode) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM badge_awards WHERE user_id = ? AND code = ?`,
		string(user), string(code)).Scan(&n)
	return n, err
}

func (d *DB) queryAwards(ctx context.Context, query string, args ...any) ([]domain.BadgeAward, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var awards []domain.BadgeAward
	for rows.Next() {
		var a domain.BadgeAward
		var user, code string
		var awardedAt int64
		if err := rows.Scan(&user, &code, &awardedAt); err != nil {
			return nil, err
		}
		a.UserID = domain.UserID(user)
		a.Code = domain.BadgeCode(code)
		a.AwardedAt = time.Unix(awardedAt, 0)
		awards = append(awards, a)
	}
	return awards, rows.Err()
}
