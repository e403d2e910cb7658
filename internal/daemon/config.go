// Package daemon manages the streakd process lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // engine.timezone on hosts without zoneinfo

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/tutu-network/streakd/internal/app/batch"
	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/infra/archive"
	"github.com/tutu-network/streakd/internal/infra/cache"
	"github.com/tutu-network/streakd/internal/infra/gormstore"
	"github.com/tutu-network/streakd/internal/infra/logging"
	"github.com/tutu-network/streakd/internal/infra/scheduler"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds all daemon configuration.
type Config struct {
	Database      DatabaseConfig            `toml:"database"`
	Engine        EngineConfig              `toml:"engine"`
	Schedule      ScheduleConfig            `toml:"schedule"`
	Retention     RetentionConfig           `toml:"retention"`
	Notifications domain.NotificationPolicy `toml:"notifications"`
	Cache         CacheConfig               `toml:"cache"`
	API           APIConfig                 `toml:"api"`
	Logging       logging.Config            `toml:"logging"`
}

// DatabaseConfig selects the store. Dir is used by the sqlite driver only;
// the table fields apply to postgres and mysql, where the users and tasks
// tables usually belong to the task application.
type DatabaseConfig struct {
	Driver             string `toml:"driver"` // sqlite, postgres, mysql
	DSN                string `toml:"dsn"`
	Dir                string `toml:"dir"`
	CreateSourceTables bool   `toml:"create_source_tables"`
	UsersTable         string `toml:"users_table"`
	TasksTable         string `toml:"tasks_table"`
	UserDeletedColumn  string `toml:"user_deleted_column"`
}

// EngineConfig tunes the daily batch.
type EngineConfig struct {
	Timezone         string  `toml:"timezone"`
	Workers          int     `toml:"workers"`
	StoreTimeout     string  `toml:"store_timeout"`
	StoreQPS         float64 `toml:"store_qps"`
	LockTTL          string  `toml:"lock_ttl"`
	FailOnUserErrors bool    `toml:"fail_on_user_errors"`
}

// ScheduleConfig controls the built-in daily trigger.
type ScheduleConfig struct {
	At            string `toml:"at"`
	MaxRetries    int    `toml:"max_retries"`
	RetryDelay    string `toml:"retry_delay"`
	RetryMaxDelay string `toml:"retry_max_delay"`
}

// RetentionConfig controls pruning of old badge awards.
type RetentionConfig struct {
	WindowDays         int    `toml:"window_days"`
	PreserveUniqueness bool   `toml:"preserve_uniqueness"`
	Archive            string `toml:"archive"` // "", file, s3
	ArchiveDir         string `toml:"archive_dir"`
	S3Bucket           string `toml:"s3_bucket"`
	S3Prefix           string `toml:"s3_prefix"`
	S3Region           string `toml:"s3_region"`
	S3Endpoint         string `toml:"s3_endpoint"`
}

// CacheConfig controls the read-through cache of the query API.
type CacheConfig struct {
	Backend       string `toml:"backend"` // memory, redis
	TTL           string `toml:"ttl"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// APIConfig controls the HTTP read API.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// DefaultConfig returns a working single-node configuration.
func DefaultConfig() Config {
	homeDir := streakdHome()
	def := batch.DefaultConfig()
	sched := scheduler.DefaultConfig()

	logCfg := logging.DefaultConfig()
	logCfg.File = filepath.Join(homeDir, "streakd.log")

	return Config{
		Database: DatabaseConfig{
			Driver:     "sqlite",
			Dir:        homeDir,
			UsersTable: "users",
			TasksTable: "tasks",
		},
		Engine: EngineConfig{
			Timezone:     "UTC",
			Workers:      def.Workers,
			StoreTimeout: def.StoreTimeout.String(),
			LockTTL:      def.LockTTL.String(),
		},
		Schedule: ScheduleConfig{
			At:            sched.At,
			MaxRetries:    sched.MaxRetries,
			RetryDelay:    sched.BaseDelay.String(),
			RetryMaxDelay: sched.MaxDelay.String(),
		},
		Retention: RetentionConfig{
			WindowDays:         def.RetentionDays,
			PreserveUniqueness: def.PreserveUniqueness,
			ArchiveDir:         filepath.Join(homeDir, "archive"),
		},
		Notifications: domain.DefaultNotificationPolicy(),
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     "1m",
		},
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8087,
			Metrics: true,
		},
		Logging: logCfg,
	}
}

// LoadConfig reads the config file at path, or $STREAKD_HOME/config.toml
// when path is empty, falling back to defaults. .env files are loaded
// first and STREAKD_* variables override the file.
func LoadConfig(path string) (Config, error) {
	loadDotEnv()

	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, or $STREAKD_HOME/config.toml when empty.
func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ConfigPath is the default config file location.
func ConfigPath() string {
	return filepath.Join(streakdHome(), "config.toml")
}

// loadDotEnv loads ./.env then $STREAKD_HOME/.env. Variables already set
// in the environment win, and missing files are fine.
func loadDotEnv() {
	for _, p := range []string{".env", filepath.Join(streakdHome(), ".env")} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STREAKD_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("STREAKD_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("STREAKD_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
		c.Cache.Backend = "redis"
	}
	if v := os.Getenv("STREAKD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ─── Validation ─────────────────────────────────────────────────────────────

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres", "postgresql", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for %s", ErrInvalidConfig, c.Database.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown database.driver %q", ErrInvalidConfig, c.Database.Driver)
	}
	for name, v := range map[string]string{
		"database.users_table":         c.Database.UsersTable,
		"database.tasks_table":         c.Database.TasksTable,
		"database.user_deleted_column": c.Database.UserDeletedColumn,
	} {
		if v != "" && !identifier.MatchString(v) {
			return fmt.Errorf("%w: %s: %q is not a plain identifier", ErrInvalidConfig, name, v)
		}
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := scheduler.ParseAt(c.Schedule.At); err != nil {
		return fmt.Errorf("%w: schedule.at: %v", ErrInvalidConfig, err)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("%w: engine.workers must not be negative", ErrInvalidConfig)
	}
	if c.Retention.WindowDays < 0 {
		return fmt.Errorf("%w: retention.window_days must not be negative", ErrInvalidConfig)
	}

	for name, v := range map[string]string{
		"engine.store_timeout":     c.Engine.StoreTimeout,
		"engine.lock_ttl":          c.Engine.LockTTL,
		"schedule.retry_delay":     c.Schedule.RetryDelay,
		"schedule.retry_max_delay": c.Schedule.RetryMaxDelay,
		"cache.ttl":                c.Cache.TTL,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}

	switch c.Retention.Archive {
	case "", "none", "file":
	case "s3":
		if c.Retention.S3Bucket == "" {
			return fmt.Errorf("%w: retention.s3_bucket is required for s3 archive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown retention.archive %q", ErrInvalidConfig, c.Retention.Archive)
	}

	switch c.Cache.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown cache.backend %q", ErrInvalidConfig, c.Cache.Backend)
	}
	return nil
}

// Location resolves engine.timezone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Engine.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: engine.timezone: %v", ErrInvalidConfig, err)
	}
	return loc, nil
}

// ─── Component Configs ──────────────────────────────────────────────────────

// StoreOptions converts the database section for the gorm store.
func (c Config) StoreOptions() gormstore.Options {
	return gormstore.Options{
		CreateSourceTables: c.Database.CreateSourceTables,
		UsersTable:         c.Database.UsersTable,
		TasksTable:         c.Database.TasksTable,
		UserDeletedColumn:  c.Database.UserDeletedColumn,
	}
}

// BatchConfig converts the engine, retention and notification sections.
func (c Config) BatchConfig() (batch.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return batch.Config{}, err
	}
	def := batch.DefaultConfig()
	return batch.Config{
		Location:           loc,
		Workers:            c.Engine.Workers,
		StoreTimeout:       parseDuration(c.Engine.StoreTimeout, def.StoreTimeout),
		StoreQPS:           c.Engine.StoreQPS,
		LockName:           def.LockName,
		LockTTL:            parseDuration(c.Engine.LockTTL, def.LockTTL),
		RetentionDays:      c.Retention.WindowDays,
		PreserveUniqueness: c.Retention.PreserveUniqueness,
		FailOnUserErrors:   c.Engine.FailOnUserErrors,
		Notifications:      c.Notifications,
	}, nil
}

// SchedulerConfig converts the schedule section.
func (c Config) SchedulerConfig() scheduler.Config {
	def := scheduler.DefaultRetryConfig()
	return scheduler.Config{
		At: c.Schedule.At,
		RetryConfig: scheduler.RetryConfig{
			MaxRetries: c.Schedule.MaxRetries,
			BaseDelay:  parseDuration(c.Schedule.RetryDelay, def.BaseDelay),
			MaxDelay:   parseDuration(c.Schedule.RetryMaxDelay, def.MaxDelay),
		},
	}
}

// CacheConfig converts the cache section.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Backend:       c.Cache.Backend,
		TTL:           parseDuration(c.Cache.TTL, time.Minute),
		RedisAddr:     c.Cache.RedisAddr,
		RedisPassword: c.Cache.RedisPassword,
		RedisDB:       c.Cache.RedisDB,
	}
}

// ArchiveConfig converts the archive fields of the retention section.
func (c Config) ArchiveConfig() archive.Config {
	return archive.Config{
		Backend:    c.Retention.Archive,
		Dir:        c.Retention.ArchiveDir,
		S3Bucket:   c.Retention.S3Bucket,
		S3Prefix:   c.Retention.S3Prefix,
		S3Region:   c.Retention.S3Region,
		S3Endpoint: c.Retention.S3Endpoint,
	}
}

// streakdHome returns the streakd data directory.
func streakdHome() string {
	if env := os.Getenv("STREAKD_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".streakd")
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
