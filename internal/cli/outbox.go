package cli

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	outboxCmd.Flags().IntVarP(&outboxLimit, "limit", "n", 50, "Number of events to show")
	outboxCmd.AddCommand(outboxAckCmd)
	rootCmd.AddCommand(outboxCmd)
}

var outboxLimit int

// dispatchMarker is implemented by stores that track outbox handoff.
type dispatchMarker interface {
	MarkNotificationDispatched(ctx context.Context, id int64) error
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "List notification events waiting for the dispatcher",
	RunE:  runOutbox,
}

func runOutbox(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	pending, err := d.Store.PendingNotifications(context.Background(), outboxLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(pending) == 0 {
		fmt.Fprintln(out, "Outbox is empty.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tTYPE\tDAY\tTITLE")
	for _, n := range pending {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", n.ID, n.UserID, n.Type, n.Day, n.Title)
	}
	return w.Flush()
}

var outboxAckCmd = &cobra.Command{
	Use:   "ack ID...",
	Short: "Mark events as handed to the dispatcher",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		marker, ok := d.Store.(dispatchMarker)
		if !ok {
			return fmt.Errorf("store %T cannot acknowledge notifications", d.Store)
		}
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", arg)
			}
			if err := marker.MarkNotificationDispatched(context.Background(), id); err != nil {
				return fmt.Errorf("ack %d: %w", id, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged %d event(s).\n", len(args))
		return nil
	},
}
