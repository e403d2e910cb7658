package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	pruneCmd.Flags().StringVar(&pruneDate, "date", "", "Reference day YYYY-MM-DD (default today in engine timezone)")
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(pruneCmd)
}

var pruneDate string

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Create zero streak records for users that have none",
	RunE:  runBackfill,
}

func runBackfill(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	n, err := d.Orchestrator.Backfill(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backfilled %d streak record(s).\n", n)
	return nil
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the badge award retention window",
	Long: `Delete badge awards older than retention.window_days before the
reference day. With retention.archive set they are exported first; with
retention.preserve_uniqueness they can never be awarded again.`,
	RunE: runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	if d.Config.Retention.WindowDays <= 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Retention is disabled (retention.window_days = 0).")
		return nil
	}

	reference, err := referenceDay(d, pruneDate)
	if err != nil {
		return err
	}

	n, where, err := d.Orchestrator.Prune(context.Background(), reference)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pruned %d award(s) older than %s.\n",
		n, d.Orchestrator.RetentionCutoff(reference).Format("2006-01-02"))
	if where != "" {
		fmt.Fprintf(out, "Archived to %s\n", where)
	}
	return nil
}
