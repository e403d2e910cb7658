package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tutu-network/streakd/internal/domain"
)

// ─── Badge Ledger ───────────────────────────────────────────────────────────

// Award inserts the (user, code) fact unless present or tombstoned.
func (s *Store) Award(ctx context.Context, user domain.UserID, code domain.BadgeCode, at time.Time) (bool, error) {
	awarded := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tombstones int64
		if err := tx.Model(&tombstoneRow{}).
			Where("user_id = ? AND code = ?", string(user), string(code)).
			Count(&tombstones).Error; err != nil {
			return err
		}
		if tombstones > 0 {
			return nil
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&awardRow{UserID: string(user), Code: string(code), AwardedAt: at})
		if res.Error != nil {
			return res.Error
		}
		awarded = res.RowsAffected > 0
		return nil
	})
	return awarded, err
}

// ListAwards returns a user's awards, newest first.
func (s *Store) ListAwards(ctx context.Context, user domain.UserID) ([]domain.BadgeAward, error) {
	var rows []awardRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", string(user)).
		Order("awarded_at DESC, code").
		Find(&rows).Error
	return toAwards(rows), err
}

// ExpiredAwards lists awards older than before, oldest first.
func (s *Store) ExpiredAwards(ctx context.Context, before time.Time) ([]domain.BadgeAward, error) {
	var rows []awardRow
	err := s.db.WithContext(ctx).
		Where("awarded_at < ?", before).
		Order("awarded_at, user_id, code").
		Find(&rows).Error
	return toAwards(rows), err
}

// PruneAwards deletes awards older than before inside one transaction.
func (s *Store) PruneAwards(ctx context.Context, before time.Time, preserveUniqueness bool) (int64, error) {
	var pruned int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if preserveUniqueness {
			var rows []awardRow
			if err := tx.Where("awarded_at < ?", before).Find(&rows).Error; err != nil {
				return err
			}
			if len(rows) > 0 {
				now := s.now()
				stones := make([]tombstoneRow, len(rows))
				for i, r := range rows {
					stones[i] = tombstoneRow{UserID: r.UserID, Code: r.Code, AwardedAt: r.AwardedAt, PrunedAt: now}
				}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
					CreateInBatches(stones, 500).Error; err != nil {
					return err
				}
			}
		}

		res := tx.Where("awarded_at < ?", before).Delete(&awardRow{})
		if res.Error != nil {
			return res.Error
		}
		pruned = res.RowsAffected
		return nil
	})
	return pruned, err
}

func toAwards(rows []awardRow) []domain.BadgeAward {
	out := make([]domain.BadgeAward, len(rows))
	for i, r := range rows {
		out[i] = domain.BadgeAward{
			UserID:    domain.UserID(r.UserID),
			Code:      domain.BadgeCode(r.Code),
			AwardedAt: r.AwardedAt,
		}
	}
	return out
}
