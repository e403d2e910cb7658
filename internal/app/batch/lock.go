package batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutu-network/streakd/internal/domain"
)

// ErrLockLost cancels a run whose lease was taken over or could not be renewed.
var ErrLockLost = errors.New("run lock lost")

// withLock runs fn while holding the named lease. The lease is renewed every
// TTL/3; if renewal fails the context handed to fn is cancelled with
// ErrLockLost so in-flight work stops.
func (o *Orchestrator) withLock(ctx context.Context, holder string, fn func(context.Context) error) error {
	if holder == "" {
		holder = uuid.NewString()
	}
	name, ttl := o.cfg.LockName, o.cfg.LockTTL

	if err := o.call(ctx, func(ctx context.Context) error {
		return o.store.AcquireLock(ctx, name, holder, ttl)
	}); err != nil {
		return &FatalError{Stage: "lock", Err: err}
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go o.renewLock(runCtx, cancel, done, name, holder, ttl)

	err := fn(runCtx)

	close(done)
	cancel(nil)

	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StoreTimeout)
	defer releaseCancel()
	if relErr := o.store.ReleaseLock(releaseCtx, name, holder); relErr != nil && !errors.Is(relErr, domain.ErrLockNotHeld) {
		o.log.Warn("release run lock", zap.String("lock", name), zap.Error(relErr))
	}
	return err
}

func (o *Orchestrator) renewLock(ctx context.Context, cancel context.CancelCauseFunc, done <-chan struct{}, name, holder string, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := o.call(ctx, func(ctx context.Context) error {
				return o.store.AcquireLock(ctx, name, holder, ttl)
			})
			if err != nil {
				o.log.Error("renew run lock", zap.String("lock", name), zap.Error(err))
				cancel(errors.Join(ErrLockLost, err))
				return
			}
		}
	}
}
