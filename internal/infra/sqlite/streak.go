package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tutu-network/streakd/internal/domain"
)

const streakColumns = `user_id, current_streak, longest_streak, last_active_date, last_processed_day, updated_at`

// GetStreak loads a user's streak record.
func (d *DB) GetStreak(ctx context.Context, user domain.UserID) (domain.StreakState, bool, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+streakColumns+` FROM streak_states WHERE user_id = ?`, string(user))
	return scanStreak(row, user)
}

// AdvanceStreak runs a guarded read-modify-write in one immediate transaction.
// The day guard makes re-running the same logical day a no-op.
func (d *DB) AdvanceStreak(ctx context.Context, user domain.UserID, day domain.Date, fn func(domain.StreakState) domain.StreakState) (domain.StreakState, bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StreakState{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+streakColumns+` FROM streak_states WHERE user_id = ?`, string(user))
	prior, _, err := scanStreak(row, user)
	if err != nil {
		return domain.StreakState{}, false, fmt.Errorf("load streak: %w", err)
	}

	if prior.ProcessedOn(day) {
		return prior, false, nil
	}

	next := fn(prior)
	next.UserID = user
	next.LastProcessedDay = &day
	next.UpdatedAt = d.now()
	if err := next.Validate(); err != nil {
		return domain.StreakState{}, false, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO streak_states (`+streakColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			current_streak=excluded.current_streak,
			longest_streak=excluded.longest_streak,
			last_active_date=excluded.last_active_date,
			last_processed_day=excluded.last_processed_day,
			updated_at=excluded.updated_at`,
		string(user), next.CurrentStreak, next.LongestStreak,
		nullableDate(next.LastActiveDate), nullableDate(next.LastProcessedDay),
		next.UpdatedAt.Unix(),
	); err != nil {
		return domain.StreakState{}, false, fmt.Errorf("save streak: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.StreakState{}, false, fmt.Errorf("commit: %w", err)
	}
	return next, true, nil
}

// EnsureStreak inserts a zero record if the user has none.
func (d *DB) EnsureStreak(ctx context.Context, user domain.UserID) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO streak_states (user_id, current_streak, longest_streak, updated_at)
		 VALUES (?, 0, 0, ?)`,
		string(user), d.now().Unix(),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountStreaks returns how many streak records exist for a user (0 or 1).
func (d *DB) CountStreaks(ctx context.Context, user domain.UserID) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM streak_states WHERE user_id = ?`, string(user)).Scan(&n)
	return n, err
}

func scanStreak(s scanner, user domain.UserID) (domain.StreakState, bool, error) {
	st := domain.NewStreakState(user)
	var id string
	var lastActive, lastProcessed sql.NullString
	var updatedAt int64

	err := s.Scan(&id, &st.CurrentStreak, &st.LongestStreak, &lastActive, &lastProcessed, &updatedAt)
	if err == sql.ErrNoRows {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}

	if st.LastActiveDate, err = parseNullableDate(lastActive); err != nil {
		return st, false, fmt.Errorf("last_active_date: %w", err)
	}
	if st.LastProcessedDay, err = parseNullableDate(lastProcessed); err != nil {
		return st, false, fmt.Errorf("last_processed_day: %w", err)
	}
	st.UserID = domain.UserID(id)
	st.UpdatedAt = time.Unix(updatedAt, 0)
	return st, true, nil
}
