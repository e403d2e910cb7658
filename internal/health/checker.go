// Package health runs periodic checks against the store and the last batch
// run. Results back the /health endpoint and the health_check_status gauge.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/infra/metrics"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewChecker creates a checker for the given checks. A zero interval means
// one minute.
func NewChecker(interval time.Duration, checks ...Check) *Checker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Checker{
		checks:   checks,
		interval: interval,
		timeout:  5 * time.Second,
		now:      time.Now,
	}
}

// NewStoreChecker is the daemon's standard set: store reachability, the
// latest run not failed, and the archive directory (when set) usable.
func NewStoreChecker(store domain.Store, archiveDir string) *Checker {
	checks := []Check{
		PingCheck("store", store),
		LastRunCheck("last_run", store),
	}
	if archiveDir != "" {
		checks = append(checks, DirCheck("archive_dir", archiveDir))
	}
	return NewChecker(time.Minute, checks...)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check once and stores the results.
func (c *Checker) RunOnce(ctx context.Context) []Status {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: c.now(),
		}

		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check.CheckFn(cctx)
		if err != nil && check.RecoverFn != nil {
			if check.RecoverFn(cctx) == nil {
				err = check.CheckFn(cctx)
			}
		}
		cancel()

		if err != nil {
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()

	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// PingCheck fails when p cannot be reached.
func PingCheck(name string, p Pinger) Check {
	return Check{
		Name:    name,
		CheckFn: p.Ping,
	}
}

// LastRunCheck fails when the most recent batch run ended in failure.
// No run yet is healthy.
func LastRunCheck(name string, runs domain.RunRecorder) Check {
	return Check{
		Name: name,
		CheckFn: func(ctx context.Context) error {
			run, err := runs.LatestRun(ctx)
			if err != nil {
				return fmt.Errorf("latest run: %w", err)
			}
			if run != nil && run.Status == domain.RunFailed {
				return fmt.Errorf("run %s for %s failed: %s", run.ID, run.ReferenceDay, run.Error)
			}
			return nil
		},
	}
}

// DirCheck fails when dir exists but is not a directory. A missing
// directory is created on recovery.
func DirCheck(name, dir string) Check {
	return Check{
		Name: name,
		CheckFn: func(ctx context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("%s does not exist", dir)
				}
				return fmt.Errorf("check dir: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			return nil
		},
		RecoverFn: func(ctx context.Context) error {
			return os.MkdirAll(dir, 0755)
		},
	}
}
