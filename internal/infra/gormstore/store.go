// Package gormstore implements domain.Store on PostgreSQL or MySQL through
// GORM, for deployments where the engine shares a server database with the
// task application instead of keeping its own SQLite file.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tutu-network/streakd/internal/domain"
)

// Store is the GORM-backed engine store.
type Store struct {
	db          *gorm.DB
	loc         *time.Location
	now         func() time.Time
	users       string
	tasks       string
	userDeleted string
}

var _ domain.Store = (*Store)(nil)

// ErrUnknownDriver is returned for a driver other than postgres or mysql.
var ErrUnknownDriver = errors.New("unknown database driver")

// Options describes how the store reaches the task application's tables.
// The users and tasks tables belong to that application and are only read,
// unless CreateSourceTables is set for a standalone database.
type Options struct {
	CreateSourceTables bool
	UsersTable         string // default "users"
	TasksTable         string // default "tasks"

	// UserDeletedColumn names a nullable users column; rows where it is set
	// are skipped. Forced to deleted_at when CreateSourceTables is set.
	UserDeletedColumn string
}

func (o Options) withDefaults() Options {
	if o.UsersTable == "" {
		o.UsersTable = "users"
	}
	if o.TasksTable == "" {
		o.TasksTable = "tasks"
	}
	if o.CreateSourceTables {
		o.UserDeletedColumn = "deleted_at"
	}
	return o
}

// engineModels are the tables the engine owns and migrates on every start.
func engineModels() []any {
	return []any{
		&streakRow{},
		&awardRow{},
		&tombstoneRow{},
		&lockRow{},
		&runRow{},
		&notificationRow{},
	}
}

// Dialector picks the GORM dialector for driver.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Open connects with driver/dsn and migrates the engine tables.
func Open(driver, dsn string, opts Options) (*Store, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	return OpenDialector(dialector, opts)
}

// OpenDialector connects through an existing dialector and migrates.
func OpenDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", errors.Join(domain.ErrStoreUnavailable, err))
	}

	opts = opts.withDefaults()
	if err := db.AutoMigrate(engineModels()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if opts.CreateSourceTables {
		if err := db.Table(opts.UsersTable).AutoMigrate(&userRow{}); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", opts.UsersTable, err)
		}
		if err := db.Table(opts.TasksTable).AutoMigrate(&taskRow{}); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", opts.TasksTable, err)
		}
	}

	return &Store{
		db:          db,
		loc:         time.UTC,
		now:         time.Now,
		users:       opts.UsersTable,
		tasks:       opts.TasksTable,
		userDeleted: opts.UserDeletedColumn,
	}, nil
}

// SetLocation sets the timezone that defines calendar-day boundaries.
func (s *Store) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// SetClock overrides the time source for lock expiry and timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Join(domain.ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Join(domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ─── User Directory ─────────────────────────────────────────────────────────

// activeUsers scopes a query to the users table without deleted rows.
func (s *Store) activeUsers(ctx context.Context) *gorm.DB {
	q := s.db.WithContext(ctx).Table(s.users)
	if s.userDeleted != "" {
		q = q.Where("? IS NULL", clause.Column{Table: s.users, Name: s.userDeleted})
	}
	return q
}

// ListUsers returns every live user id in stable order.
func (s *Store) ListUsers(ctx context.Context) ([]domain.UserID, error) {
	var ids []string
	err := s.activeUsers(ctx).Order("id").Pluck("id", &ids).Error
	return toUserIDs(ids), err
}

// UsersWithoutStreak returns live users that have no streak record yet.
func (s *Store) UsersWithoutStreak(ctx context.Context) ([]domain.UserID, error) {
	var ids []string
	err := s.activeUsers(ctx).
		Where("NOT EXISTS (SELECT 1 FROM streak_states WHERE streak_states.user_id = ?)",
			clause.Column{Table: s.users, Name: "id"}).
		Order("id").
		Pluck("id", &ids).Error
	return toUserIDs(ids), err
}

// UpsertUser registers a user, restoring it if soft-deleted. Fixture/tooling
// helper for databases created with CreateSourceTables.
func (s *Store) UpsertUser(ctx context.Context, id domain.UserID, createdAt time.Time) error {
	conflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}
	if s.userDeleted != "" {
		conflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{s.userDeleted: nil}),
		}
	}
	return s.db.WithContext(ctx).Table(s.users).
		Clauses(conflict).
		Create(&userRow{ID: string(id), CreatedAt: createdAt}).Error
}

// DeleteUser soft-deletes a user. Requires a deleted column.
func (s *Store) DeleteUser(ctx context.Context, id domain.UserID) error {
	if s.userDeleted == "" {
		return errors.New("delete user: no deleted column configured")
	}
	return s.activeUsers(ctx).
		Where("id = ?", string(id)).
		Update(s.userDeleted, s.now().UTC()).Error
}

func toUserIDs(ids []string) []domain.UserID {
	out := make([]domain.UserID, len(ids))
	for i, id := range ids {
		out[i] = domain.UserID(id)
	}
	return out
}

// ─── Task Activity ──────────────────────────────────────────────────────────

// RecordCompletion stores a completed task. Fixture/tooling helper.
func (s *Store) RecordCompletion(ctx context.Context, t domain.TaskCompletion) error {
	completed := t.CompletedAt
	return s.db.WithContext(ctx).Table(s.tasks).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"estimated_minutes", "due_at", "completed_at"}),
		}).
		Create(&taskRow{
			ID:               t.ID,
			UserID:           string(t.UserID),
			Title:            t.Title,
			EstimatedMinutes: t.EstimatedMinutes,
			DueAt:            t.DueAt,
			CompletedAt:      &completed,
		}).Error
}

// DailyActivity summarizes completions within day's bounds.
func (s *Store) DailyActivity(ctx context.Context, user domain.UserID, day domain.Date) (domain.DailyActivitySummary, error) {
	start, end := day.Bounds(s.loc)
	var agg struct {
		CompletedCount int
		TotalMinutes   int
	}
	err := s.db.WithContext(ctx).Table(s.tasks).
		Select("COUNT(*) AS completed_count, COALESCE(SUM(estimated_minutes), 0) AS total_minutes").
		Where("user_id = ? AND completed_at >= ? AND completed_at < ?", string(user), start, end).
		Scan(&agg).Error
	return domain.DailyActivitySummary{
		UserID:         user,
		Day:            day,
		CompletedCount: agg.CompletedCount,
		TotalMinutes:   agg.TotalMinutes,
	}, err
}

// LifetimeCounters counts completions up to the end of through.
func (s *Store) LifetimeCounters(ctx context.Context, user domain.UserID, through domain.Date) (domain.LifetimeCounters, error) {
	_, end := through.Bounds(s.loc)
	var agg struct {
		CompletedTasks    int64
		OnTimeCompletions int64
	}
	err := s.db.WithContext(ctx).Table(s.tasks).
		Select(`COUNT(*) AS completed_tasks,
			COALESCE(SUM(CASE WHEN due_at IS NOT NULL AND completed_at <= due_at THEN 1 ELSE 0 END), 0) AS on_time_completions`).
		Where("user_id = ? AND completed_at IS NOT NULL AND completed_at < ?", string(user), end).
		Scan(&agg).Error
	return domain.LifetimeCounters{
		CompletedTasks:    agg.CompletedTasks,
		OnTimeCompletions: agg.OnTimeCompletions,
	}, err
}
