package batch

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tutu-network/streakd/internal/app/engagement"
	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/infra/archive"
	"github.com/tutu-network/streakd/internal/infra/cache"
	"github.com/tutu-network/streakd/internal/infra/sqlite"
)

var ctx = context.Background()

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StoreTimeout = 5 * time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, store domain.Store, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	return New(store, cfg, zaptest.NewLogger(t), opts...)
}

func addUser(t *testing.T, db *sqlite.DB, id domain.UserID) {
	t.Helper()
	require.NoError(t, db.UpsertUser(ctx, id, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)))
}

func complete(t *testing.T, db *sqlite.DB, user domain.UserID, day domain.Date, minutes int) {
	t.Helper()
	require.NoError(t, db.RecordCompletion(ctx, domain.TaskCompletion{
		ID:               uuid.NewString(),
		UserID:           user,
		Title:            "task",
		EstimatedMinutes: minutes,
		CompletedAt:      time.Date(day.Year, day.Month, day.Day, 10, 0, 0, 0, time.UTC),
	}))
}

func seedStreak(t *testing.T, db *sqlite.DB, user domain.UserID, processed domain.Date, current, longest int, last domain.Date) {
	t.Helper()
	_, _, err := db.AdvanceStreak(ctx, user, processed, func(p domain.StreakState) domain.StreakState {
		p.CurrentStreak, p.LongestStreak, p.LastActiveDate = current, longest, &last
		return p
	})
	require.NoError(t, err)
}

// faultyStore injects failures into selected operations.
type faultyStore struct {
	domain.Store
	failActivityFor domain.UserID
	failListUsers   bool
}

func (f *faultyStore) DailyActivity(ctx context.Context, user domain.UserID, day domain.Date) (domain.DailyActivitySummary, error) {
	if user == f.failActivityFor {
		return domain.DailyActivitySummary{}, domain.ErrStoreUnavailable
	}
	return f.Store.DailyActivity(ctx, user, day)
}

func (f *faultyStore) ListUsers(ctx context.Context) ([]domain.UserID, error) {
	if f.failListUsers {
		return nil, domain.ErrStoreUnavailable
	}
	return f.Store.ListUsers(ctx)
}

// ─── RunDaily ───────────────────────────────────────────────────────────────

func TestRunDaily_EndToEnd(t *testing.T) {
	db := newTestDB(t)
	user := domain.UserID("u")
	addUser(t, db, user)

	jan10 := domain.MustDate(2024, time.January, 10)
	jan11 := domain.MustDate(2024, time.January, 11)
	ref := domain.MustDate(2024, time.January, 12)

	seedStreak(t, db, user, jan11, 2, 5, jan10)
	complete(t, db, user, jan10, 20)
	complete(t, db, user, jan11, 130)

	o := newTestOrchestrator(t, db, testConfig())
	summary, err := o.RunDaily(ctx, ref)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Errored)
	assert.Equal(t, 1, summary.Advanced)
	assert.Equal(t, domain.RunOK, summary.Status(nil))

	st, ok, err := db.GetStreak(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, st.CurrentStreak)
	assert.Equal(t, 5, st.LongestStreak)
	assert.Equal(t, jan11, *st.LastActiveDate)

	awards, err := db.ListAwards(ctx, user)
	require.NoError(t, err)
	codes := map[domain.BadgeCode]bool{}
	for _, a := range awards {
		codes[a.Code] = true
	}
	assert.Len(t, awards, 2)
	assert.True(t, codes[domain.BadgeDeepFocus120])
	assert.True(t, codes[domain.BadgeThreeDayStreak])

	latest, err := db.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, summary.RunID, latest.ID)
	assert.Equal(t, domain.RunOK, latest.Status)
	assert.Equal(t, 2, latest.Awarded)
}

func TestRunDaily_NewUserWithoutActivity(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "fresh")

	o := newTestOrchestrator(t, db, testConfig())
	_, err := o.RunDaily(ctx, domain.MustDate(2024, time.March, 1))
	require.NoError(t, err)

	st, ok, err := db.GetStreak(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, st.CurrentStreak)
	assert.Equal(t, 0, st.LongestStreak)
	assert.Nil(t, st.LastActiveDate)
}

func TestRunDaily_RerunSameDayIsNoop(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	ref := domain.MustDate(2024, time.January, 12)
	complete(t, db, "u", ref.AddDays(-1), 30)

	o := newTestOrchestrator(t, db, testConfig())
	first, err := o.RunDaily(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Advanced)
	assert.Equal(t, 1, first.Awarded) // FIRST_TASK

	second, err := o.RunDaily(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Advanced)
	assert.Equal(t, 0, second.Awarded)
	assert.False(t, second.Users[0].Advanced)

	st, _, err := db.GetStreak(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentStreak, "rerun must not double-increment")

	n, err := db.AwardCount(ctx, "u", domain.BadgeFirstTask)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunDaily_RerunRepairsMissingBadges(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	ref := domain.MustDate(2024, time.January, 12)
	complete(t, db, "u", ref.AddDays(-1), 150)

	// Simulate a run that saved the streak and died before badges.
	_, _, err := db.AdvanceStreak(ctx, "u", ref, func(p domain.StreakState) domain.StreakState {
		return engagement.StreakCalculator{}.Advance(p, ref, true)
	})
	require.NoError(t, err)

	summary, err := newTestOrchestrator(t, db, testConfig()).RunDaily(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Advanced)
	assert.Equal(t, 2, summary.Awarded) // FIRST_TASK + DEEP_FOCUS_120
}

func TestRunDaily_OverlappingRunRejected(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	require.NoError(t, db.AcquireLock(ctx, "daily-run", "someone-else", time.Hour))

	o := newTestOrchestrator(t, db, testConfig())
	summary, err := o.RunDaily(ctx, domain.MustDate(2024, time.January, 12))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 0, summary.Processed)

	_, ok, err := db.GetStreak(ctx, "u")
	require.NoError(t, err)
	assert.False(t, ok, "rejected run must not touch user state")
}

func TestRunDaily_ReleasesLock(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")

	o := newTestOrchestrator(t, db, testConfig())
	_, err := o.RunDaily(ctx, domain.MustDate(2024, time.January, 12))
	require.NoError(t, err)

	require.NoError(t, db.AcquireLock(ctx, "daily-run", "next", time.Minute))
}

func TestRunDaily_PerUserFailureIsolated(t *testing.T) {
	db := newTestDB(t)
	ref := domain.MustDate(2024, time.January, 12)
	for _, u := range []domain.UserID{"a", "b", "c"} {
		addUser(t, db, u)
		complete(t, db, u, ref.AddDays(-1), 30)
	}
	store := &faultyStore{Store: db, failActivityFor: "b"}

	o := newTestOrchestrator(t, store, testConfig())
	summary, err := o.RunDaily(ctx, ref)
	require.NoError(t, err, "per-user failures must not fail the run")

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 2, summary.Advanced)
	assert.Equal(t, domain.RunPartial, summary.Status(nil))

	failed := summary.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, domain.UserID("b"), failed[0].UserID)
	assert.ErrorIs(t, failed[0].Err, domain.ErrStoreUnavailable)

	for _, u := range []domain.UserID{"a", "c"} {
		st, _, err := db.GetStreak(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, 1, st.CurrentStreak, "user %s", u)
	}

	// Backfill still gives the failed user a zero record.
	st, ok, err := db.GetStreak(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, st.CurrentStreak)
	assert.Equal(t, 1, summary.Backfilled)
}

func TestRunDaily_StrictModeReportsUserFailures(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "a")
	addUser(t, db, "b")
	store := &faultyStore{Store: db, failActivityFor: "b"}

	cfg := testConfig()
	cfg.FailOnUserErrors = true
	_, err := newTestOrchestrator(t, store, cfg).RunDaily(ctx, domain.MustDate(2024, time.January, 12))
	assert.ErrorIs(t, err, ErrUserFailures)
	assert.False(t, IsFatal(err))
}

func TestRunDaily_FatalWhenUsersUnavailable(t *testing.T) {
	db := newTestDB(t)
	store := &faultyStore{Store: db, failListUsers: true}

	_, err := newTestOrchestrator(t, store, testConfig()).RunDaily(ctx, domain.MustDate(2024, time.January, 12))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "users", fe.Stage)

	latest, err := db.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, domain.RunFailed, latest.Status)
}

func TestRunDaily_BackfillExactlyOnceAcrossRuns(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "newbie")
	store := &faultyStore{Store: db, failActivityFor: "newbie"}
	o := newTestOrchestrator(t, store, testConfig())

	ref := domain.MustDate(2024, time.January, 12)
	first, err := o.RunDaily(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Backfilled)

	second, err := o.RunDaily(ctx, ref.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Backfilled)

	n, err := db.CountStreaks(ctx, "newbie")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunDaily_LongestNeverDecreases(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	o := newTestOrchestrator(t, db, testConfig())

	rng := rand.New(rand.NewPCG(7, 11))
	ref := domain.MustDate(2024, time.February, 1)
	longest := 0
	for i := 0; i < 40; i++ {
		day := ref.AddDays(i)
		if rng.IntN(3) > 0 {
			complete(t, db, "u", day.AddDays(-1), 15)
		}
		_, err := o.RunDaily(ctx, day)
		require.NoError(t, err)

		st, _, err := db.GetStreak(ctx, "u")
		require.NoError(t, err)
		require.GreaterOrEqual(t, st.LongestStreak, longest, "day %s", day)
		require.GreaterOrEqual(t, st.LongestStreak, st.CurrentStreak)
		longest = st.LongestStreak
	}
}

// ─── Retention ──────────────────────────────────────────────────────────────

func TestRunDaily_RetentionArchivesAndPreservesUniqueness(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	old := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := db.Award(ctx, "u", domain.BadgeFirstTask, old)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "archive")
	o := newTestOrchestrator(t, db, testConfig(), WithArchive(archive.NewFileSink(dir)))

	ref := domain.MustDate(2024, time.January, 12)
	summary, err := o.RunDaily(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Pruned)
	assert.Equal(t, filepath.Join(dir, "awards-2024-01-12.jsonl"), summary.Archive)

	data, err := os.ReadFile(summary.Archive)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FIRST_TASK")

	again, err := db.Award(ctx, "u", domain.BadgeFirstTask, time.Now())
	require.NoError(t, err)
	assert.False(t, again, "pruned badge must not re-fire")
}

func TestRunDaily_RetentionWithoutUniqueness(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	_, err := db.Award(ctx, "u", domain.BadgeFirstTask, time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.PreserveUniqueness = false
	_, err = newTestOrchestrator(t, db, cfg).RunDaily(ctx, domain.MustDate(2024, time.January, 12))
	require.NoError(t, err)

	again, err := db.Award(ctx, "u", domain.BadgeFirstTask, time.Now())
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRetentionCutoff(t *testing.T) {
	o := newTestOrchestrator(t, newTestDB(t), testConfig())
	got := o.RetentionCutoff(domain.MustDate(2024, time.January, 12))
	assert.Equal(t, time.Date(2023, 1, 12, 0, 0, 0, 0, time.UTC), got)
}

func TestPrune_Standalone(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	_, err := db.Award(ctx, "u", domain.BadgeOnTimeSubmit, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	n, where, err := newTestOrchestrator(t, db, testConfig()).Prune(ctx, domain.MustDate(2024, time.January, 12))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Empty(t, where)
}

// ─── Backfill ───────────────────────────────────────────────────────────────

func TestBackfill_Standalone(t *testing.T) {
	db := newTestDB(t)
	for _, u := range []domain.UserID{"a", "b"} {
		addUser(t, db, u)
	}
	o := newTestOrchestrator(t, db, testConfig())

	n, err := o.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = o.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// ─── Side Effects ───────────────────────────────────────────────────────────

func TestRunDaily_QueuesBadgeNotification(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	ref := domain.MustDate(2024, time.January, 12)
	complete(t, db, "u", ref.AddDays(-1), 10)

	summary, err := newTestOrchestrator(t, db, testConfig()).RunDaily(ctx, ref)
	require.NoError(t, err)
	assert.NotZero(t, summary.Users[0].Notified)

	pending, err := db.PendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.NotifyBadgeAwarded, pending[0].Type)
	assert.Equal(t, ref, pending[0].Day)
}

func TestRunDaily_QueuesStreakReminder(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	ref := domain.MustDate(2024, time.January, 12)
	seedStreak(t, db, "u", ref.AddDays(-1), 4, 4, ref.AddDays(-2))

	_, err := newTestOrchestrator(t, db, testConfig()).RunDaily(ctx, ref)
	require.NoError(t, err)

	pending, err := db.PendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.NotifyStreakReminder, pending[0].Type)
}

func TestRunDaily_InvalidatesCache(t *testing.T) {
	db := newTestDB(t)
	addUser(t, db, "u")
	c := cache.NewMemory()
	require.NoError(t, c.Set(ctx, cache.Key(cache.KindStreak, "u"), []byte(`{}`), time.Hour))

	_, err := newTestOrchestrator(t, db, testConfig(), WithCache(c)).RunDaily(ctx, domain.MustDate(2024, time.January, 12))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestRunDaily_ParallelWorkers(t *testing.T) {
	db := newTestDB(t)
	ref := domain.MustDate(2024, time.January, 12)
	for i := 0; i < 25; i++ {
		u := domain.UserID("user-" + string(rune('a'+i)))
		addUser(t, db, u)
		complete(t, db, u, ref.AddDays(-1), 60)
	}

	cfg := testConfig()
	cfg.Workers = 8
	cfg.StoreQPS = 1000
	summary, err := newTestOrchestrator(t, db, cfg).RunDaily(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 25, summary.Processed)
	assert.Equal(t, 25, summary.Advanced)
	assert.Equal(t, 0, summary.Errored)
}

// ─── User Locks ─────────────────────────────────────────────────────────────

func TestUserLocks_SerializesSameUser(t *testing.T) {
	locks := newUserLocks()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("u")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.size())
}

func TestUserResult_Outcome(t *testing.T) {
	assert.Equal(t, "error", UserResult{Err: errors.New("x")}.Outcome())
	assert.Equal(t, "skipped", UserResult{}.Outcome())
	assert.Equal(t, "advanced", UserResult{Advanced: true, Active: true}.Outcome())
	assert.Equal(t, "unchanged", UserResult{Advanced: true}.Outcome())
}
