// Package scheduler triggers the daily batch at a fixed local time.
//
// Core concepts:
//   - one gocron daily job in singleton mode, so a slow run is never doubled
//   - reference day = the calendar day in the engine timezone at trigger time
//   - fatal run errors are retried with backoff; a run already in progress
//     elsewhere is not an error
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/tutu-network/streakd/internal/domain"
)

// RunFunc executes one daily run for reference.
type RunFunc func(ctx context.Context, reference domain.Date) error

// Config configures the daily trigger.
type Config struct {
	At string // "HH:MM" in the engine timezone
	RetryConfig
}

// DefaultConfig fires shortly after local midnight.
func DefaultConfig() Config {
	return Config{At: "00:05", RetryConfig: DefaultRetryConfig()}
}

// ParseAt parses "HH:MM".
func ParseAt(s string) (hour, minute uint, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return uint(h), uint(m), nil
}

// Daily owns the gocron scheduler and the single daily job.
type Daily struct {
	sched gocron.Scheduler
	job   gocron.Job
	run   RunFunc
	loc   *time.Location
	retry RetryConfig
	log   *zap.Logger

	mu  sync.Mutex
	ctx context.Context

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDaily registers the daily job. Call Start to begin firing.
func NewDaily(cfg Config, loc *time.Location, run RunFunc, log *zap.Logger) (*Daily, error) {
	hour, minute, err := ParseAt(cfg.At)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	d := &Daily{
		sched: sched,
		run:   run,
		loc:   loc,
		retry: cfg.RetryConfig,
		log:   log,
		ctx:   context.Background(),
		now:   time.Now,
		sleep: sleepCtx,
	}

	d.job, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(func() {
			if err := d.Tick(d.context()); err != nil {
				d.log.Error("daily run failed", zap.Error(err))
			}
		}),
		gocron.WithName("daily-run"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("register daily job: %w", err)
	}
	return d, nil
}

// Start begins firing. Runs triggered later inherit ctx.
func (d *Daily) Start(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()
	d.sched.Start()
}

// NextRun returns the next trigger time.
func (d *Daily) NextRun() (time.Time, error) {
	return d.job.NextRun()
}

// Shutdown stops the scheduler and waits for a running job.
func (d *Daily) Shutdown() error {
	return d.sched.Shutdown()
}

func (d *Daily) context() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

// Tick runs the batch for today's reference day, retrying fatal errors.
func (d *Daily) Tick(ctx context.Context) error {
	reference := domain.DateOf(d.now(), d.loc)

	for attempt := 0; ; attempt++ {
		err := d.run(ctx, reference)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrRunInProgress):
			d.log.Info("run already in progress elsewhere, skipping",
				zap.Stringer("reference_day", reference))
			return nil
		case ctx.Err() != nil:
			return err
		case attempt >= d.retry.MaxRetries:
			return fmt.Errorf("daily run for %s failed after %d attempt(s): %w", reference, attempt+1, err)
		}

		delay := d.retry.Delay(attempt + 1)
		d.log.Warn("daily run failed, retrying",
			zap.Stringer("reference_day", reference),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := d.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
