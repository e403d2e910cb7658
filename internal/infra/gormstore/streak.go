package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tutu-network/streakd/internal/domain"
)

// GetStreak loads a user's streak record.
func (s *Store) GetStreak(ctx context.Context, user domain.UserID) (domain.StreakState, bool, error) {
	return loadStreak(s.db.WithContext(ctx), user)
}

// AdvanceStreak locks the row, applies fn and saves, all in one transaction.
// The day guard makes re-running the same logical day a no-op.
func (s *Store) AdvanceStreak(ctx context.Context, user domain.UserID, day domain.Date, fn func(domain.StreakState) domain.StreakState) (domain.StreakState, bool, error) {
	var (
		result  domain.StreakState
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prior, _, err := loadStreak(tx.Clauses(clause.Locking{Strength: "UPDATE"}), user)
		if err != nil {
			return fmt.Errorf("load streak: %w", err)
		}
		if prior.ProcessedOn(day) {
			result = prior
			return nil
		}

		next := fn(prior)
		next.UserID = user
		next.LastProcessedDay = &day
		next.UpdatedAt = s.now()
		if err := next.Validate(); err != nil {
			return err
		}

		row := toStreakRow(next)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"current_streak", "longest_streak", "last_active_date", "last_processed_day", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("save streak: %w", err)
		}
		result, changed = next, true
		return nil
	})
	if err != nil {
		return domain.StreakState{}, false, err
	}
	return result, changed, nil
}

// EnsureStreak inserts a zero record if the user has none.
func (s *Store) EnsureStreak(ctx context.Context, user domain.UserID) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&streakRow{UserID: string(user), UpdatedAt: s.now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func loadStreak(db *gorm.DB, user domain.UserID) (domain.StreakState, bool, error) {
	var row streakRow
	err := db.Where("user_id = ?", string(user)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewStreakState(user), false, nil
	}
	if err != nil {
		return domain.StreakState{}, false, err
	}
	state, err := fromStreakRow(row)
	if err != nil {
		return domain.StreakState{}, false, err
	}
	return state, true, nil
}

func toStreakRow(st domain.StreakState) streakRow {
	return streakRow{
		UserID:           string(st.UserID),
		CurrentStreak:    st.CurrentStreak,
		LongestStreak:    st.LongestStreak,
		LastActiveDate:   dateString(st.LastActiveDate),
		LastProcessedDay: dateString(st.LastProcessedDay),
		UpdatedAt:        st.UpdatedAt,
	}
}

func fromStreakRow(row streakRow) (domain.StreakState, error) {
	st := domain.StreakState{
		UserID:        domain.UserID(row.UserID),
		CurrentStreak: row.CurrentStreak,
		LongestStreak: row.LongestStreak,
		UpdatedAt:     row.UpdatedAt,
	}
	var err error
	if st.LastActiveDate, err = parseDate(row.LastActiveDate); err != nil {
		return st, err
	}
	if st.LastProcessedDay, err = parseDate(row.LastProcessedDay); err != nil {
		return st, err
	}
	return st, nil
}

func dateString(d *domain.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDate(s *string) (*domain.Date, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
