package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/streakd/internal/api"
	"github.com/tutu-network/streakd/internal/app/batch"
	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/health"
	"github.com/tutu-network/streakd/internal/infra/archive"
	"github.com/tutu-network/streakd/internal/infra/cache"
	"github.com/tutu-network/streakd/internal/infra/gormstore"
	"github.com/tutu-network/streakd/internal/infra/logging"
	"github.com/tutu-network/streakd/internal/infra/scheduler"
	"github.com/tutu-network/streakd/internal/infra/sqlite"
)

// Daemon is the streakd runtime. It wires together all services.
type Daemon struct {
	Config       Config
	Log          *zap.Logger
	Store        domain.Store
	Cache        cache.Cache
	Orchestrator *batch.Orchestrator
	Health       *health.Checker
	Server       *api.Server
	cancel       context.CancelFunc
}

// New loads configuration from configPath (empty means the default
// location) and creates a Daemon with all services wired.
func New(configPath string) (*Daemon, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	d, err := NewWithConfig(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return d, nil
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config, log *zap.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	batchCfg, err := cfg.BatchConfig()
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	cacheCfg := cfg.CacheConfig()
	c, err := cache.New(cacheCfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}

	sink, err := archive.New(context.Background(), cfg.ArchiveConfig())
	if err != nil {
		_ = c.Close()
		_ = store.Close()
		return nil, fmt.Errorf("init archive: %w", err)
	}

	d := &Daemon{
		Config: cfg,
		Log:    log,
		Store:  store,
		Cache:  c,
	}

	d.Orchestrator = batch.New(store, batchCfg, log.Named("batch"),
		batch.WithArchive(sink),
		batch.WithCache(c),
	)

	archiveDir := ""
	if cfg.Retention.Archive == "file" {
		archiveDir = cfg.Retention.ArchiveDir
	}
	d.Health = health.NewStoreChecker(store, archiveDir)

	d.Server = api.NewServer(store, c, cacheCfg.TTL)
	d.Server.SetHealth(d.Health)
	d.Server.SetLogger(log.Named("api"))
	if cfg.API.Metrics {
		d.Server.EnableMetrics()
	}

	return d, nil
}

// OpenStore opens the store named by the database section and sets its
// calendar timezone.
func OpenStore(cfg Config) (domain.Store, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	switch cfg.Database.Driver {
	case "sqlite":
		dir := cfg.Database.Dir
		if dir == "" {
			dir = streakdHome()
		}
		db, err := sqlite.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetLocation(loc)
		return db, nil
	default:
		st, err := gormstore.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.StoreOptions())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		st.SetLocation(loc)
		return st, nil
	}
}

// ─── Run Modes ──────────────────────────────────────────────────────────────

// RunOnce runs the daily batch for reference.
func (d *Daemon) RunOnce(ctx context.Context, reference domain.Date) (batch.RunSummary, error) {
	return d.Orchestrator.RunDaily(ctx, reference)
}

// Schedule runs the built-in daily scheduler, the health loop and, when
// withAPI is set, the HTTP API. Blocks until ctx is done or a signal
// arrives.
func (d *Daemon) Schedule(ctx context.Context, withAPI bool) error {
	ctx, cancel := d.signalContext(ctx)
	defer cancel()

	loc, err := d.Config.Location()
	if err != nil {
		return err
	}

	daily, err := scheduler.NewDaily(d.Config.SchedulerConfig(), loc, func(ctx context.Context, reference domain.Date) error {
		_, err := d.RunOnce(ctx, reference)
		return err
	}, d.Log.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer func() {
		if err := daily.Shutdown(); err != nil {
			d.Log.Warn("scheduler shutdown", zap.Error(err))
		}
	}()

	go d.Health.Run(ctx)
	daily.Start(ctx)

	if next, err := daily.NextRun(); err == nil {
		d.Log.Info("scheduler started",
			zap.String("at", d.Config.Schedule.At),
			zap.String("timezone", loc.String()),
			zap.Time("next_run", next))
	}

	if withAPI {
		return d.listen(ctx)
	}
	<-ctx.Done()
	return nil
}

// Serve starts the HTTP API and the health loop, and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := d.signalContext(ctx)
	defer cancel()

	go d.Health.Run(ctx)
	return d.listen(ctx)
}

func (d *Daemon) listen(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.Log.Info("api listening", zap.String("addr", addr), zap.Bool("metrics", d.Config.API.Metrics))

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// signalContext cancels on SIGINT/SIGTERM as well as on parent cancellation.
func (d *Daemon) signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	inner, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	return inner, func() {
		cancel()
		stop()
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Cache != nil {
		_ = d.Cache.Close()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
	if d.Log != nil {
		_ = d.Log.Sync()
	}
}
