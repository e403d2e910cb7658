package scheduler

import "time"

// ─── Retry Backoff ──────────────────────────────────────────────────────────
// A daily run that aborts on a fatal error (store down, lock lost) is retried
// with exponential backoff. Per-user failures never trigger a retry; the next
// day's run picks those users up again.

// RetryConfig configures retry of a failed daily run.
type RetryConfig struct {
	MaxRetries int           // 0 disables retry
	BaseDelay  time.Duration // doubles each attempt
	MaxDelay   time.Duration
}

// DefaultRetryConfig leaves retry off: the next day's run is the normal
// retry path. Operators opt in with max_retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 0,
		BaseDelay:  30 * time.Second,
		MaxDelay:   10 * time.Minute,
	}
}

// Delay returns the wait before retry attempt n (1-based):
// BaseDelay * 2^(n-1), capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay > c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}
