package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/streakd/internal/app/batch"
	"github.com/tutu-network/streakd/internal/domain"
)

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "Reference day YYYY-MM-DD (default today in engine timezone)")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Exit non-zero when any user failed")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "List failed users")
	rootCmd.AddCommand(runCmd)
}

var (
	runDate    string
	runStrict  bool
	runVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily batch once",
	Long: `Run the daily batch for one reference day: advance every user's streak
with yesterday's activity, evaluate badges, backfill missing streak records
and apply the retention window.

Intended for an external scheduler (cron, Kubernetes CronJob). Re-running
the same day is safe. Exits non-zero only on fatal errors, or when any user
failed with --strict.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	if runStrict {
		d.Orchestrator.SetFailOnUserErrors(true)
	}

	reference, err := referenceDay(d, runDate)
	if err != nil {
		return err
	}

	summary, err := d.RunOnce(context.Background(), reference)
	if errors.Is(err, domain.ErrRunInProgress) {
		fmt.Fprintf(cmd.OutOrStdout(), "Another run holds the lock; skipped %s.\n", reference)
		return err
	}
	printSummary(cmd.OutOrStdout(), summary, runVerbose)
	if err != nil && !errors.Is(err, batch.ErrUserFailures) {
		return fmt.Errorf("run %s: %w", reference, err)
	}
	return err
}

func printSummary(w io.Writer, s batch.RunSummary, verbose bool) {
	fmt.Fprintf(w, "Run %s for %s\n", s.RunID, s.ReferenceDay)
	fmt.Fprintf(w, "  Users:      %d processed, %d errored\n", s.Processed, s.Errored)
	fmt.Fprintf(w, "  Streaks:    %d advanced\n", s.Advanced)
	fmt.Fprintf(w, "  Badges:     %d awarded, %d failed\n", s.Awarded, s.BadgeErrors)
	fmt.Fprintf(w, "  Backfilled: %d\n", s.Backfilled)
	fmt.Fprintf(w, "  Pruned:     %d\n", s.Pruned)
	if s.Archive != "" {
		fmt.Fprintf(w, "  Archive:    %s\n", s.Archive)
	}
	if !s.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Duration:   %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}

	if !verbose {
		return
	}
	for _, u := range s.Failed() {
		fmt.Fprintf(w, "  FAILED %s: %v\n", u.UserID, u.Err)
	}
}
