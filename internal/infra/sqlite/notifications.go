package sqlite

import (
	"context"
	"time"

	"github.com/tutu-network/streakd/internal/domain"
)

// ─── Notification Outbox ────────────────────────────────────────────────────

// EnqueueNotification appends an event for the dispatcher.
func (d *DB) EnqueueNotification(ctx context.Context, n domain.Notification) (int64, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}
	result, err := d.db.ExecContext(ctx,
		`INSERT INTO notification_outbox (user_id, type, title, body, day, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(n.UserID), string(n.Type), n.Title, n.Body, n.Day.String(), n.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// NotificationCount returns how many events were queued for user on day.
func (d *DB) NotificationCount(ctx context.Context, user domain.UserID, day domain.Date) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_outbox WHERE user_id = ? AND day = ?`,
		string(user), day.String(),
	).Scan(&count)
	return count, err
}

// PendingNotifications returns undispatched events, oldest first.
func (d *DB) PendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, type, title, body, day, created_at
		 FROM notification_outbox WHERE dispatched_at IS NULL ORDER BY id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifs []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var user, typ, day string
		var createdAt int64
		if err := rows.Scan(&n.ID, &user, &typ, &n.Title, &n.Body, &day, &createdAt); err != nil {
			return nil, err
		}
		if n.Day, err = domain.ParseDate(day); err != nil {
			return nil, err
		}
		n.UserID = domain.UserID(user)
		n.Type = domain.NotificationType(typ)
		n.CreatedAt = time.Unix(createdAt, 0)
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// MarkNotificationDispatched marks an event as handed off.
func (d *DB) MarkNotificationDispatched(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE notification_outbox SET dispatched_at = ? WHERE id = ?`, d.now().Unix(), id)
	return err
}
