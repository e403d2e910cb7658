package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "Number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent batch runs",
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	runs, err := d.Store.ListRuns(context.Background(), runsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No batch runs recorded yet. Run 'streakd run' to start.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DAY\tSTATUS\tUSERS\tERRORS\tADVANCED\tAWARDED\tPRUNED\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.ReferenceDay, r.Status, r.Processed, r.Errored, r.Advanced, r.Awarded, r.Pruned,
			r.StartedAt.Local().Format("2006-01-02 15:04"), duration)
	}
	return w.Flush()
}
