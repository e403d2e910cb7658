package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/infra/metrics"
)

// ─── Backfill ───────────────────────────────────────────────────────────────

// Backfill creates a zero StreakState for every user without one, under the
// run lock. Safe to repeat.
func (o *Orchestrator) Backfill(ctx context.Context) (int, error) {
	var n int
	err := o.withLock(ctx, "", func(ctx context.Context) error {
		var err error
		n, err = o.backfill(ctx, o.log)
		return err
	})
	return n, err
}

func (o *Orchestrator) backfill(ctx context.Context, log *zap.Logger) (int, error) {
	missing, err := callValue(ctx, o, func(ctx context.Context) ([]domain.UserID, error) {
		return o.store.UsersWithoutStreak(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("list users without streak: %w", err)
	}

	created := 0
	for _, user := range missing {
		ok, err := callValue(ctx, o, func(ctx context.Context) (bool, error) {
			return o.store.EnsureStreak(ctx, user)
		})
		if err != nil {
			log.Warn("backfill failed", zap.String("user_id", string(user)), zap.Error(err))
			continue
		}
		if ok {
			created++
		}
	}

	metrics.StreaksBackfilled.Add(float64(created))
	if created > 0 {
		log.Info("backfilled streak records", zap.Int("created", created))
	}
	return created, nil
}

// ─── Retention ──────────────────────────────────────────────────────────────

// Prune applies the retention window relative to reference, under the run
// lock. Returns the number of awards removed and where they were archived.
func (o *Orchestrator) Prune(ctx context.Context, reference domain.Date) (int64, string, error) {
	var (
		n     int64
		where string
	)
	err := o.withLock(ctx, "", func(ctx context.Context) error {
		var err error
		n, where, err = o.prune(ctx, o.log, reference)
		return err
	})
	return n, where, err
}

// RetentionCutoff is the instant before which awards are pruned: the start
// of reference minus the retention window, in the engine timezone.
func (o *Orchestrator) RetentionCutoff(reference domain.Date) time.Time {
	start, _ := reference.AddDays(-o.cfg.RetentionDays).Bounds(o.cfg.Location)
	return start
}

func (o *Orchestrator) prune(ctx context.Context, log *zap.Logger, reference domain.Date) (int64, string, error) {
	if o.cfg.RetentionDays <= 0 {
		return 0, "", nil
	}
	cutoff := o.RetentionCutoff(reference)

	var where string
	if o.archive != nil {
		expired, err := callValue(ctx, o, func(ctx context.Context) ([]domain.BadgeAward, error) {
			return o.store.ExpiredAwards(ctx, cutoff)
		})
		if err != nil {
			return 0, "", fmt.Errorf("list expired awards: %w", err)
		}
		if len(expired) > 0 {
			where, err = o.archive.Archive(ctx, reference, expired)
			if err != nil {
				return 0, "", fmt.Errorf("archive awards: %w", err)
			}
			log.Info("archived expired awards", zap.Int("count", len(expired)), zap.String("archive", where))
		}
	}

	n, err := callValue(ctx, o, func(ctx context.Context) (int64, error) {
		return o.store.PruneAwards(ctx, cutoff, o.cfg.PreserveUniqueness)
	})
	if err != nil {
		return 0, where, fmt.Errorf("prune awards: %w", err)
	}

	metrics.AwardsPruned.Add(float64(n))
	if n > 0 {
		log.Info("pruned expired awards",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff),
			zap.Bool("preserve_uniqueness", o.cfg.PreserveUniqueness))
	}
	return n, where, nil
}
