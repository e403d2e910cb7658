package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestRunMetrics_Registered(t *testing.T) {
	RunDuration.Observe(2.5)
	RunsTotal.WithLabelValues("ok").Inc()
	LastRunTimestamp.SetToCurrentTime()
	RunInProgress.Set(0)

	names := gatheredNames(t)
	expected := []string{
		"streakd_run_duration_seconds",
		"streakd_runs_total",
		"streakd_last_run_timestamp_seconds",
		"streakd_run_in_progress",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestUserAndBadgeCounters(t *testing.T) {
	before := value(t, BadgesAwarded.WithLabelValues("THREE_DAY_STREAK"))
	BadgesAwarded.WithLabelValues("THREE_DAY_STREAK").Inc()
	if got := value(t, BadgesAwarded.WithLabelValues("THREE_DAY_STREAK")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}

	UsersProcessed.WithLabelValues("advanced").Add(3)
	UserLatency.Observe(0.01)
	StreaksBackfilled.Inc()
	BadgeErrors.WithLabelValues("DEEP_FOCUS_120").Inc()
	AwardsPruned.Add(2)

	names := gatheredNames(t)
	for _, name := range []string{
		"streakd_users_processed_total",
		"streakd_user_latency_seconds",
		"streakd_streaks_backfilled_total",
		"streakd_badges_awarded_total",
		"streakd_badge_errors_total",
		"streakd_awards_pruned_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestHealthAndNotificationMetrics(t *testing.T) {
	HealthCheckStatus.WithLabelValues("database").Set(1)
	NotificationsQueued.WithLabelValues("badge_awarded", "queued").Inc()
	CacheLookups.WithLabelValues("streak", "hit").Inc()

	if got := value(t, HealthCheckStatus.WithLabelValues("database")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	names := gatheredNames(t)
	for _, name := range []string{
		"streakd_health_check_status",
		"streakd_notifications_total",
		"streakd_cache_lookups_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}
