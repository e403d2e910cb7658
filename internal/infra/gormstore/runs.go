package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tutu-network/streakd/internal/domain"
)

// ─── Run Locks ──────────────────────────────────────────────────────────────

// AcquireLock takes the named lease if it is free, expired, or already ours.
func (s *Store) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lock lockRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", name).First(&lock).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&lockRow{Name: name, Holder: holder, AcquiredAt: now, ExpiresAt: now.Add(ttl)})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return domain.ErrRunInProgress // lost the insert race
			}
			return nil
		}
		if err != nil {
			return err
		}

		if lock.Holder != holder && lock.ExpiresAt.After(now) {
			return domain.ErrRunInProgress
		}
		return tx.Model(&lockRow{}).Where("name = ?", name).Updates(map[string]any{
			"holder":      holder,
			"acquired_at": now,
			"expires_at":  now.Add(ttl),
		}).Error
	})
}

// ReleaseLock drops the lease if holder still owns it.
func (s *Store) ReleaseLock(ctx context.Context, name, holder string) error {
	res := s.db.WithContext(ctx).Where("name = ? AND holder = ?", name, holder).Delete(&lockRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrLockNotHeld
	}
	return nil
}

// ─── Run Records ────────────────────────────────────────────────────────────

// RecordRun inserts or replaces a run summary.
func (s *Store) RecordRun(ctx context.Context, run domain.RunRecord) error {
	row := runRow{
		ID:           run.ID,
		ReferenceDay: run.ReferenceDay.String(),
		StartedAt:    run.StartedAt,
		Processed:    run.Processed,
		Errored:      run.Errored,
		Advanced:     run.Advanced,
		Awarded:      run.Awarded,
		Backfilled:   run.Backfilled,
		Pruned:       run.Pruned,
		Status:       string(run.Status),
		Error:        run.Error,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		row.FinishedAt = &finished
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"finished_at", "processed", "errored", "advanced", "awarded", "backfilled", "pruned", "status", "error"}),
	}).Create(&row).Error
}

// LatestRun returns the most recently started run, or nil if none.
func (s *Store) LatestRun(ctx context.Context) (*domain.RunRecord, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// ListRuns returns recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	runs := make([]domain.RunRecord, 0, len(rows))
	for _, r := range rows {
		day, err := domain.ParseDate(r.ReferenceDay)
		if err != nil {
			return nil, err
		}
		run := domain.RunRecord{
			ID:           r.ID,
			ReferenceDay: day,
			StartedAt:    r.StartedAt,
			Processed:    r.Processed,
			Errored:      r.Errored,
			Advanced:     r.Advanced,
			Awarded:      r.Awarded,
			Backfilled:   r.Backfilled,
			Pruned:       r.Pruned,
			Status:       domain.RunStatus(r.Status),
			Error:        r.Error,
		}
		if r.FinishedAt != nil {
			run.FinishedAt = *r.FinishedAt
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ─── Notification Outbox ────────────────────────────────────────────────────

// EnqueueNotification appends an event for the dispatcher.
func (s *Store) EnqueueNotification(ctx context.Context, n domain.Notification) (int64, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	row := notificationRow{
		UserID:    string(n.UserID),
		Type:      string(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		Day:       n.Day.String(),
		CreatedAt: n.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// NotificationCount returns how many events were queued for user on day.
func (s *Store) NotificationCount(ctx context.Context, user domain.UserID, day domain.Date) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&notificationRow{}).
		Where("user_id = ? AND day = ?", string(user), day.String()).
		Count(&n).Error
	return int(n), err
}

// PendingNotifications returns undispatched events, oldest first.
func (s *Store) PendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []notificationRow
	if err := s.db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("id").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.Notification, 0, len(rows))
	for _, r := range rows {
		day, err := domain.ParseDate(r.Day)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Notification{
			ID:        r.ID,
			UserID:    domain.UserID(r.UserID),
			Type:      domain.NotificationType(r.Type),
			Title:     r.Title,
			Body:      r.Body,
			Day:       day,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// MarkNotificationDispatched records that the dispatcher took an event.
func (s *Store) MarkNotificationDispatched(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Model(&notificationRow{}).
		Where("id = ?", id).
		Update("dispatched_at", s.now()).Error
}
