// Package batch runs the daily engagement pass: advance every user's streak
// for yesterday, award badges, backfill missing records and prune old awards.
//
// Safety against overlapping invocations comes from two layers:
//   - a named lease in the store, so a second run is rejected up front
//   - the store's per-user day guard, so re-running a day is a no-op
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tutu-network/streakd/internal/app/engagement"
	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/infra/archive"
	"github.com/tutu-network/streakd/internal/infra/cache"
	"github.com/tutu-network/streakd/internal/infra/metrics"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config tunes one orchestrator.
type Config struct {
	Location           *time.Location // calendar-day boundaries
	Workers            int            // users processed in parallel
	StoreTimeout       time.Duration  // bound on every store call
	StoreQPS           float64        // 0 means unlimited
	LockName           string
	LockTTL            time.Duration
	RetentionDays      int  // 0 disables the retention pass
	PreserveUniqueness bool // tombstone pruned awards so they never re-fire
	FailOnUserErrors   bool
	Notifications      domain.NotificationPolicy
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Location:           time.UTC,
		Workers:            4,
		StoreTimeout:       10 * time.Second,
		LockName:           "daily-run",
		LockTTL:            30 * time.Minute,
		RetentionDays:      365,
		PreserveUniqueness: true,
		Notifications:      domain.DefaultNotificationPolicy(),
	}
}

// ─── Orchestrator ───────────────────────────────────────────────────────────

// Orchestrator drives RunDaily against a Store.
type Orchestrator struct {
	store    domain.Store
	cfg      Config
	log      *zap.Logger
	calc     engagement.StreakCalculator
	badges   *engagement.BadgeEvaluator
	notifier *engagement.NotificationService
	archive  archive.Sink
	cache    cache.Cache
	limiter  *rate.Limiter
	users    *userLocks
	now      func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithArchive exports awards to sink before they are pruned.
func WithArchive(sink archive.Sink) Option {
	return func(o *Orchestrator) { o.archive = sink }
}

// WithCache invalidates a user's cached reads after the run changes them.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator.
func New(store domain.Store, cfg Config, log *zap.Logger, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.LockName == "" {
		cfg.LockName = def.LockName
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if log == nil {
		log = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.StoreQPS > 0 {
		limit = rate.Limit(cfg.StoreQPS)
	}
	burst := cfg.Workers
	if burst < 1 {
		burst = 1
	}

	o := &Orchestrator{
		store:   store,
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(limit, burst),
		users:   newUserLocks(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.badges = engagement.NewBadgeEvaluator(throttledLedger{BadgeLedger: store, o: o}).WithClock(o.now)
	o.notifier = engagement.NewNotificationServiceWithPolicy(store, cfg.Notifications)
	return o
}

// SetFailOnUserErrors makes RunDaily return ErrUserFailures when any user
// errored. Call before the first run.
func (o *Orchestrator) SetFailOnUserErrors(strict bool) { o.cfg.FailOnUserErrors = strict }

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Today returns the reference day for a run triggered now.
func (o *Orchestrator) Today() domain.Date {
	return domain.DateOf(o.now(), o.cfg.Location)
}

// ─── RunDaily ───────────────────────────────────────────────────────────────

// RunDaily evaluates reference-1 for every user, then backfills and prunes.
// Per-user and per-badge failures are counted in the summary; only a
// FatalError (or ErrUserFailures in strict mode) is returned.
func (o *Orchestrator) RunDaily(ctx context.Context, reference domain.Date) (RunSummary, error) {
	summary := RunSummary{
		RunID:        uuid.NewString(),
		ReferenceDay: reference,
		StartedAt:    o.now(),
	}
	log := o.log.With(zap.String("run_id", summary.RunID), zap.Stringer("reference_day", reference))
	start := time.Now()

	err := o.withLock(ctx, summary.RunID, func(ctx context.Context) error {
		metrics.RunInProgress.Set(1)
		defer metrics.RunInProgress.Set(0)

		log.Info("run started")
		started := summary.Record(nil)
		started.Status = domain.RunRunning
		if err := o.call(ctx, func(ctx context.Context) error { return o.store.RecordRun(ctx, started) }); err != nil {
			log.Warn("record run start", zap.Error(err))
		}
		return o.runLocked(ctx, log, reference, &summary)
	})

	summary.FinishedAt = o.now()
	metrics.RunDuration.Observe(time.Since(start).Seconds())

	if errors.Is(err, domain.ErrRunInProgress) {
		metrics.RunsTotal.WithLabelValues("skipped").Inc()
		log.Warn("run rejected: another run holds the lock")
		return summary, err
	}

	status := summary.Status(err)
	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	if status != domain.RunFailed {
		metrics.LastRunTimestamp.SetToCurrentTime()
	}
	if recErr := o.recordRun(context.WithoutCancel(ctx), summary, err); recErr != nil {
		log.Warn("record run", zap.Error(recErr))
	}

	fields := []zap.Field{
		zap.Int("processed", summary.Processed),
		zap.Int("errored", summary.Errored),
		zap.Int("advanced", summary.Advanced),
		zap.Int("awarded", summary.Awarded),
		zap.Int("badge_errors", summary.BadgeErrors),
		zap.Int("backfilled", summary.Backfilled),
		zap.Int64("pruned", summary.Pruned),
		zap.String("status", string(status)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		log.Error("run aborted", append(fields, zap.Error(err))...)
		return summary, err
	}
	log.Info("run finished", fields...)

	if o.cfg.FailOnUserErrors && summary.Errored > 0 {
		return summary, fmt.Errorf("%w: %d of %d", ErrUserFailures, summary.Errored, summary.Processed)
	}
	return summary, nil
}

func (o *Orchestrator) runLocked(ctx context.Context, log *zap.Logger, reference domain.Date, summary *RunSummary) error {
	users, err := callValue(ctx, o, func(ctx context.Context) ([]domain.UserID, error) {
		return o.store.ListUsers(ctx)
	})
	if err != nil {
		return &FatalError{Stage: "users", Err: err}
	}

	results := make([]UserResult, len(users))
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)
	for i, user := range users {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = UserResult{UserID: user, Err: ctx.Err()}
				return nil
			}
			results[i] = o.ProcessUser(ctx, reference, user)
			o.logUser(log, reference, results[i])
			return nil
		})
	}
	_ = g.Wait()

	summary.Users = results
	for _, r := range results {
		summary.add(r)
	}
	if err := contextCause(ctx); err != nil {
		return &FatalError{Stage: "process", Err: err}
	}

	n, err := o.backfill(ctx, log)
	summary.Backfilled = n
	if err != nil {
		return &FatalError{Stage: "backfill", Err: err}
	}

	if o.cfg.RetentionDays > 0 {
		pruned, where, err := o.prune(ctx, log, reference)
		summary.Pruned, summary.Archive = pruned, where
		if err != nil {
			return &FatalError{Stage: "retention", Err: err}
		}
	}
	return contextCause(ctx)
}

func (o *Orchestrator) logUser(log *zap.Logger, day domain.Date, r UserResult) {
	if r.Err != nil {
		log.Warn("user failed", zap.String("user_id", string(r.UserID)), zap.Error(r.Err))
		return
	}
	codes := make([]string, len(r.Awarded))
	for i, c := range r.Awarded {
		codes[i] = string(c)
	}
	log.Info("user processed",
		zap.String("user_id", string(r.UserID)),
		zap.Stringer("day", day.AddDays(-1)),
		zap.Bool("active", r.Active),
		zap.Bool("advanced", r.Advanced),
		zap.Int("current_streak", r.State.CurrentStreak),
		zap.Int("longest_streak", r.State.LongestStreak),
		zap.Strings("awarded", codes),
		zap.Int("badge_errors", len(r.BadgeErrors)),
	)
}

func (o *Orchestrator) recordRun(ctx context.Context, s RunSummary, err error) error {
	return o.call(ctx, func(ctx context.Context) error {
		return o.store.RecordRun(ctx, s.Record(err))
	})
}

// ─── Per-User Processing ────────────────────────────────────────────────────

// ProcessUser runs read activity → advance streak → evaluate badges for one
// user. Errors are returned in the result, never panicked or propagated.
func (o *Orchestrator) ProcessUser(ctx context.Context, reference domain.Date, user domain.UserID) (res UserResult) {
	res.UserID = user
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic processing user: %v", r)
		}
		metrics.UserLatency.Observe(time.Since(started).Seconds())
		metrics.UsersProcessed.WithLabelValues(res.Outcome()).Inc()
	}()

	unlock := o.users.Lock(user)
	defer unlock()

	yesterday := reference.AddDays(-1)

	activity, err := callValue(ctx, o, func(ctx context.Context) (domain.DailyActivitySummary, error) {
		return o.store.DailyActivity(ctx, user, yesterday)
	})
	if err != nil {
		res.Err = fmt.Errorf("read activity: %w", err)
		return res
	}
	res.Active = activity.Active()

	err = o.call(ctx, func(ctx context.Context) error {
		state, advanced, err := o.store.AdvanceStreak(ctx, user, reference, func(prior domain.StreakState) domain.StreakState {
			return o.calc.Advance(prior, reference, res.Active)
		})
		res.State, res.Advanced = state, advanced
		return err
	})
	if err != nil {
		res.Err = fmt.Errorf("advance streak: %w", err)
		return res
	}

	// Badges are re-evaluated even when the day was already processed, so a
	// run that died after saving the streak is completed by the rerun.
	if res.Active {
		lifetime, err := callValue(ctx, o, func(ctx context.Context) (domain.LifetimeCounters, error) {
			return o.store.LifetimeCounters(ctx, user, yesterday)
		})
		if err != nil {
			res.Err = fmt.Errorf("read lifetime counters: %w", err)
			return res
		}

		eval := o.badges.Evaluate(ctx, engagement.BadgeInput{
			UserID:    user,
			Streak:    res.State,
			Yesterday: activity,
			Lifetime:  lifetime,
		})
		res.Awarded, res.BadgeErrors = eval.Awarded, eval.Errors
		for _, code := range eval.Awarded {
			metrics.BadgesAwarded.WithLabelValues(string(code)).Inc()
		}
		for _, be := range eval.Errors {
			metrics.BadgeErrors.WithLabelValues(string(be.Code)).Inc()
		}
	}

	o.notify(ctx, reference, &res)

	if o.cache != nil && (res.Advanced || len(res.Awarded) > 0) {
		if err := cache.Invalidate(ctx, o.cache, user); err != nil {
			o.log.Debug("cache invalidate", zap.String("user_id", string(user)), zap.Error(err))
		}
	}
	return res
}

// notify hands qualifying events to the outbox. Handoff failures are logged
// and never fail the user.
func (o *Orchestrator) notify(ctx context.Context, reference domain.Date, res *UserResult) {
	var (
		kind domain.NotificationType
		id   int64
	)
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		switch {
		case len(res.Awarded) > 0:
			kind = domain.NotifyBadgeAwarded
			id, err = o.notifier.BadgesAwarded(ctx, res.UserID, reference, res.Awarded)
		case res.Advanced:
			kind = domain.NotifyStreakReminder
			id, err = o.notifier.StreakReminder(ctx, res.State, reference, res.Active)
		}
		return err
	})

	switch {
	case errors.Is(err, domain.ErrNotificationSuppressed):
		metrics.NotificationsQueued.WithLabelValues(string(kind), "suppressed").Inc()
	case err != nil:
		metrics.NotificationsQueued.WithLabelValues(string(kind), "error").Inc()
		o.log.Warn("notification handoff failed", zap.String("user_id", string(res.UserID)), zap.Error(err))
	case id > 0:
		metrics.NotificationsQueued.WithLabelValues(string(kind), "queued").Inc()
		res.Notified = id
	}
}

// ─── Store Call Helpers ─────────────────────────────────────────────────────

// call waits for the rate limiter and bounds fn with the store timeout.
func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

func callValue[T any](ctx context.Context, o *Orchestrator, fn func(context.Context) (T, error)) (T, error) {
	var v T
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

// throttledLedger routes badge awards through the orchestrator's limiter.
type throttledLedger struct {
	domain.BadgeLedger
	o *Orchestrator
}

func (t throttledLedger) Award(ctx context.Context, user domain.UserID, code domain.BadgeCode, at time.Time) (bool, error) {
	return callValue(ctx, t.o, func(ctx context.Context) (bool, error) {
		return t.BadgeLedger.Award(ctx, user, code, at)
	})
}

func contextCause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}
