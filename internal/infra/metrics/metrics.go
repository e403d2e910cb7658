// Package metrics provides Prometheus metrics for streakd.
// Counters and histograms for batch runs, per-user processing, badge awards,
// retention, notifications and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Batch Runs ─────────────────────────────────────────────────────────────

// RunDuration tracks wall-clock time of a full daily run.
var RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "streakd",
	Name:      "run_duration_seconds",
	Help:      "Daily batch run duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
})

// RunsTotal counts finished runs by status (ok, partial, failed, skipped).
var RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streakd",
	Name:      "runs_total",
	Help:      "Total batch runs by outcome.",
}, []string{"status"})

// LastRunTimestamp is the unix time the last run finished.
var LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "streakd",
	Name:      "last_run_timestamp_seconds",
	Help:      "Unix time the last batch run finished.",
})

// RunInProgress is 1 while this process holds the run lock.
var RunInProgress = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "streakd",
	Name:      "run_in_progress",
	Help:      "1 while a batch run is executing in this process.",
})

// ─── Users ──────────────────────────────────────────────────────────────────

// UsersProcessed counts users by per-user outcome (advanced, unchanged, skipped, error).
var UsersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streakd",
	Name:      "users_processed_total",
	Help:      "Users handled by the batch, by outcome.",
}, []string{"outcome"})

// UserLatency tracks time spent on one user's streak and badges.
var UserLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "streakd",
	Name:      "user_latency_seconds",
	Help:      "Per-user processing time in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
})

// StreaksBackfilled counts zero records created for users without one.
var StreaksBackfilled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "streakd",
	Name:      "streaks_backfilled_total",
	Help:      "StreakState records created by backfill.",
})

// ─── Badges ─────────────────────────────────────────────────────────────────

// BadgesAwarded counts new awards by badge code.
var BadgesAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streakd",
	Name:      "badges_awarded_total",
	Help:      "New badge awards by code.",
}, []string{"code"})

// BadgeErrors counts per-badge evaluation or commit failures.
var BadgeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streakd",
	Name:      "badge_errors_total",
	Help:      "Badge evaluation failures by code.",
}, []string{"code"})

// AwardsPruned counts awards removed by retention.
var AwardsPruned = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "streakd",
	Name:      "awards_pruned_total",
	Help:      "Badge awards removed by retention.",
})

// ─── Notifications ──────────────────────────────────────────────────────────

// NotificationsQueued counts outbox events by type and result (queued, suppressed, error).
var NotificationsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streakd",
	Name:      "notifications_total",
	Help:      "Notification handoffs by type and result.",
}, []string{"type", "result"})

// ─── Cache ──────────────────────────────────────────────────────────────────

// CacheLookups counts read-through cache lookups by kind and result (hit, miss).
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "streakd",
	Name:      "cache_lookups_total",
	Help:      "Read-through cache lookups.",
}, []string{"kind", "result"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "streakd",
	Name:      "health_check_status",
	Help:      "Health check status (1=healthy, 0=unhealthy).",
}, []string{"check"})
