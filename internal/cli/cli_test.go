package cli

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/streakd/internal/daemon"
	"github.com/tutu-network/streakd/internal/domain"
	"github.com/tutu-network/streakd/internal/infra/sqlite"
)

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("STREAKD_HOME", home)
	for _, k := range []string{"STREAKD_DB_DRIVER", "STREAKD_DB_DSN", "STREAKD_REDIS_ADDR"} {
		t.Setenv(k, "")
	}
	t.Setenv("STREAKD_LOG_LEVEL", "error")
	t.Chdir(t.TempDir())
	return home
}

// seed records one completion for alice on 2024-01-10.
func seed(t *testing.T, home string) {
	t.Helper()
	db, err := sqlite.Open(home)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.UpsertUser(ctx, "alice", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, db.UpsertUser(ctx, "bob", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, db.RecordCompletion(ctx, domain.TaskCompletion{
		ID:               "t1",
		UserID:           "alice",
		Title:            "write report",
		EstimatedMinutes: 30,
		CompletedAt:      time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
	}))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	configPath, runDate, runStrict, runVerbose = "", "", false, false
	pruneDate, runsLimit, outboxLimit, configForce = "", 10, 50, false
	serveHost, servePort, scheduleAPI = "", 0, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestCLI_ConfigInit(t *testing.T) {
	home := setupHome(t)

	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, "config.toml"))
	assert.FileExists(t, filepath.Join(home, "config.toml"))

	_, err = execute(t, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config", "init", "--force")
	assert.NoError(t, err)

	out, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[engine]")
	assert.Contains(t, out, `driver = "sqlite"`)
}

func TestCLI_RunShowRuns(t *testing.T) {
	home := setupHome(t)
	seed(t, home)

	out, err := execute(t, "run", "--date", "2024-01-11")
	require.NoError(t, err)
	assert.Contains(t, out, "for 2024-01-11")
	assert.Contains(t, out, "2 processed, 0 errored")
	assert.Contains(t, out, "1 awarded")

	out, err = execute(t, "show", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Current streak: 1")
	assert.Contains(t, out, "Last active:    2024-01-10")
	assert.Contains(t, out, string(domain.BadgeFirstTask))

	out, err = execute(t, "show", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "Current streak: 0")
	assert.Contains(t, out, "No badges yet.")

	_, err = execute(t, "show", "carol")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	out, err = execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-01-11")
	assert.Contains(t, out, string(domain.RunOK))

	// Re-running the same day changes nothing.
	out, err = execute(t, "run", "--date", "2024-01-11")
	require.NoError(t, err)
	assert.Contains(t, out, "0 advanced")
	assert.Contains(t, out, "0 awarded")
}

func TestCLI_RunBadDate(t *testing.T) {
	setupHome(t)

	_, err := execute(t, "run", "--date", "01/11/2024")
	assert.ErrorContains(t, err, "--date")
}

func TestCLI_Outbox(t *testing.T) {
	home := setupHome(t)
	seed(t, home)

	out, err := execute(t, "outbox")
	require.NoError(t, err)
	assert.Contains(t, out, "Outbox is empty.")

	_, err = execute(t, "run", "--date", "2024-01-11")
	require.NoError(t, err)

	out, err = execute(t, "outbox")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, string(domain.NotifyBadgeAwarded))

	db, err := sqlite.Open(home)
	require.NoError(t, err)
	pending, err := db.PendingNotifications(context.Background(), 10)
	require.NoError(t, err)
	db.Close()
	require.Len(t, pending, 1)

	_, err = execute(t, "outbox", "ack", "x")
	assert.ErrorContains(t, err, "invalid id")

	out, err = execute(t, "outbox", "ack", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Acknowledged 1")

	out, err = execute(t, "outbox")
	require.NoError(t, err)
	assert.Contains(t, out, "Outbox is empty.")
}

func TestCLI_BackfillAndPrune(t *testing.T) {
	home := setupHome(t)
	seed(t, home)

	out, err := execute(t, "backfill")
	require.NoError(t, err)
	assert.Contains(t, out, "Backfilled 2")

	out, err = execute(t, "backfill")
	require.NoError(t, err)
	assert.Contains(t, out, "Backfilled 0")

	out, err = execute(t, "prune", "--date", "2024-01-11")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 0 award(s) older than 2023-01-11")
}

func TestApplyListenFlags(t *testing.T) {
	t.Cleanup(func() { serveHost, servePort = "", 0 })

	api := daemon.APIConfig{Host: "127.0.0.1", Port: 8087}
	serveHost, servePort = "", 0
	require.NoError(t, applyListenFlags(&api))
	assert.Equal(t, daemon.APIConfig{Host: "127.0.0.1", Port: 8087}, api)

	serveHost, servePort = "0.0.0.0", 9090
	require.NoError(t, applyListenFlags(&api))
	assert.Equal(t, "0.0.0.0", api.Host)
	assert.Equal(t, 9090, api.Port)

	servePort = 70000
	assert.ErrorContains(t, applyListenFlags(&api), "--port")
	assert.Equal(t, 9090, api.Port)
}

func TestCLI_ServeHonorsHostAndPort(t *testing.T) {
	setupHome(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := executeContext(t, ctx, "serve", "--host", "127.0.0.1", "--port", strconv.Itoa(port))
		done <- result{out, err}
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Contains(t, r.out, fmt.Sprintf("Serving API on http://127.0.0.1:%d", port))
	case <-time.After(35 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestCLI_ServeRejectsBadPort(t *testing.T) {
	setupHome(t)

	_, err := execute(t, "serve", "--port", "-5")
	assert.ErrorContains(t, err, "--port")
}
