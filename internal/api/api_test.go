package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/health"
	"github.com/tutu-network/streakd/internal/infra/cache"
	"github.com/tutu-network/streakd/internal/infra/sqlite"
)

var day = domain.MustDate(2024, 1, 10)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedStreak(t *testing.T, db *sqlite.DB, user domain.UserID, processed domain.Date, current, longest int) {
	t.Helper()
	active := processed.AddDays(-1)
	_, _, err := db.AdvanceStreak(context.Background(), user, processed, func(s domain.StreakState) domain.StreakState {
		s.CurrentStreak = current
		s.LongestStreak = longest
		s.LastActiveDate = &active
		return s
	})
	require.NoError(t, err)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// ─── Health & Metrics ───────────────────────────────────────────────────────

func TestAPI_Health(t *testing.T) {
	srv := NewServer(newTestDB(t), nil, 0)

	w := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode[map[string]any](t, w)["status"])
}

func TestAPI_HealthWithChecker(t *testing.T) {
	db := newTestDB(t)
	srv := NewServer(db, nil, 0)
	checker := health.NewChecker(0, health.PingCheck("store", db))
	checker.RunOnce(context.Background())
	srv.SetHealth(checker)

	w := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, body["checks"], 1)
}

func TestAPI_HealthDegraded(t *testing.T) {
	srv := NewServer(newTestDB(t), nil, 0)
	checker := health.NewChecker(0, health.Check{
		Name:    "store",
		CheckFn: func(context.Context) error { return domain.ErrStoreUnavailable },
	})
	checker.RunOnce(context.Background())
	srv.SetHealth(checker)

	w := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, w)["status"])
}

func TestAPI_Metrics(t *testing.T) {
	srv := NewServer(newTestDB(t), nil, 0)

	w := get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code, "metrics disabled by default")

	srv.EnableMetrics()
	w = get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAPI_Version(t *testing.T) {
	srv := NewServer(newTestDB(t), nil, 0)

	w := get(t, srv.Handler(), "/v1/version")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Version, decode[map[string]string](t, w)["version"])
}

// ─── Users ──────────────────────────────────────────────────────────────────

func TestAPI_Streak(t *testing.T) {
	db := newTestDB(t)
	seedStreak(t, db, "alice", day, 3, 5)
	srv := NewServer(db, nil, 0)

	w := get(t, srv.Handler(), "/v1/users/alice/streak")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[StreakResponse](t, w)
	assert.Equal(t, domain.UserID("alice"), got.UserID)
	assert.Equal(t, 3, got.CurrentStreak)
	assert.Equal(t, 5, got.LongestStreak)
	require.NotNil(t, got.LastActiveDate)
	assert.Equal(t, day.AddDays(-1), *got.LastActiveDate)
	require.NotNil(t, got.LastProcessedDay)
	assert.Equal(t, day, *got.LastProcessedDay)
}

func TestAPI_StreakNotFound(t *testing.T) {
	srv := NewServer(newTestDB(t), cache.NewMemory(), time.Minute)

	w := get(t, srv.Handler(), "/v1/users/nobody/streak")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrUserNotFound.Error())
}

func TestAPI_StreakReadThroughCache(t *testing.T) {
	db := newTestDB(t)
	seedStreak(t, db, "alice", day, 3, 5)
	c := cache.NewMemory()
	srv := NewServer(db, c, time.Minute)
	h := srv.Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/v1/users/alice/streak").Code)
	assert.Equal(t, 1, c.Len())

	// The store moves on; the cached value is served until invalidated.
	seedStreak(t, db, "alice", day.AddDays(1), 4, 5)
	assert.Equal(t, 3, decode[StreakResponse](t, get(t, h, "/v1/users/alice/streak")).CurrentStreak)

	require.NoError(t, cache.Invalidate(context.Background(), c, "alice"))
	assert.Equal(t, 4, decode[StreakResponse](t, get(t, h, "/v1/users/alice/streak")).CurrentStreak)
}

func TestAPI_Badges(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	awardedAt := time.Date(2024, 1, 11, 0, 5, 0, 0, time.UTC)
	_, err := db.Award(ctx, "alice", domain.BadgeFirstTask, awardedAt)
	require.NoError(t, err)
	_, err = db.Award(ctx, "alice", domain.BadgeThreeDayStreak, awardedAt)
	require.NoError(t, err)

	srv := NewServer(db, cache.NewMemory(), time.Minute)
	w := get(t, srv.Handler(), "/v1/users/alice/badges")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		UserID string          `json:"user_id"`
		Badges []BadgeResponse `json:"badges"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.UserID)
	require.Len(t, body.Badges, 2)

	codes := map[domain.BadgeCode]string{}
	for _, b := range body.Badges {
		codes[b.Code] = b.Name
		assert.True(t, b.AwardedAt.Equal(awardedAt))
	}
	assert.Contains(t, codes, domain.BadgeFirstTask)
	assert.Contains(t, codes, domain.BadgeThreeDayStreak)
	assert.NotEqual(t, string(domain.BadgeFirstTask), codes[domain.BadgeFirstTask], "display name from catalog")
}

func TestAPI_BadgesEmpty(t *testing.T) {
	srv := NewServer(newTestDB(t), nil, 0)

	w := get(t, srv.Handler(), "/v1/users/bob/badges")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"badges":[]`)
}

func TestAPI_Catalog(t *testing.T) {
	srv := NewServer(newTestDB(t), nil, 0)

	w := get(t, srv.Handler(), "/v1/badges")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Badges []map[string]any `json:"badges"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Badges, 8)
}

// ─── Runs ───────────────────────────────────────────────────────────────────

func TestAPI_LatestRun(t *testing.T) {
	db := newTestDB(t)
	srv := NewServer(db, nil, 0)
	h := srv.Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/runs/latest").Code)

	start := time.Date(2024, 1, 11, 0, 5, 0, 0, time.UTC)
	for i, status := range []domain.RunStatus{domain.RunOK, domain.RunPartial} {
		require.NoError(t, db.RecordRun(context.Background(), domain.RunRecord{
			ID:           "run-" + string(rune('a'+i)),
			ReferenceDay: day.AddDays(1 + i),
			StartedAt:    start.AddDate(0, 0, i),
			FinishedAt:   start.AddDate(0, 0, i).Add(time.Minute),
			Processed:    10,
			Errored:      i,
			Status:       status,
		}))
	}

	w := get(t, h, "/v1/runs/latest")
	require.Equal(t, http.StatusOK, w.Code)
	run := decode[domain.RunRecord](t, w)
	assert.Equal(t, "run-b", run.ID)
	assert.Equal(t, domain.RunPartial, run.Status)
	assert.Equal(t, day.AddDays(2), run.ReferenceDay)

	w = get(t, h, "/v1/runs?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[map[string][]domain.RunRecord](t, w)["runs"]
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)
}

func TestAPI_RunsBadLimit(t *testing.T) {
	srv := NewServer(newTestDB(t), nil, 0)

	for _, q := range []string{"0", "-1", "abc", "501"} {
		w := get(t, srv.Handler(), "/v1/runs?limit="+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestAPI_RunsEmpty(t *testing.T) {
	srv := NewServer(newTestDB(t), nil, 0)

	w := get(t, srv.Handler(), "/v1/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"runs":[]`))
}

// ─── Errors ─────────────────────────────────────────────────────────────────

type downStore struct {
	domain.Store
}

func (downStore) GetStreak(context.Context, domain.UserID) (domain.StreakState, bool, error) {
	return domain.StreakState{}, false, errors.Join(domain.ErrStoreUnavailable, errors.New("connection refused"))
}

func (downStore) LatestRun(context.Context) (*domain.RunRecord, error) {
	return nil, errors.New("boom")
}

func TestAPI_StoreErrors(t *testing.T) {
	srv := NewServer(downStore{}, cache.NewMemory(), time.Minute)
	h := srv.Handler()

	w := get(t, h, "/v1/users/alice/streak")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(t, h, "/v1/runs/latest")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}
