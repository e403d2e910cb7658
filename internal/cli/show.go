package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/streakd/internal/app/engagement"
	"github.com/tutu-network/streakd/internal/domain"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show USER",
	Short: "Show a user's streak and badges",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	user := domain.UserID(args[0])

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()
	state, ok, err := d.Store.GetStreak(ctx, user)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s has no streak record", domain.ErrUserNotFound, user)
	}
	awards, err := d.Store.ListAwards(ctx, user)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:           %s\n", user)
	fmt.Fprintf(out, "Current streak: %d\n", state.CurrentStreak)
	fmt.Fprintf(out, "Longest streak: %d\n", state.LongestStreak)
	fmt.Fprintf(out, "Last active:    %s\n", dateOrDash(state.LastActiveDate))
	fmt.Fprintf(out, "Last processed: %s\n", dateOrDash(state.LastProcessedDay))

	if len(awards) == 0 {
		fmt.Fprintln(out, "\nNo badges yet.")
		return nil
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BADGE\tNAME\tAWARDED")
	for _, a := range awards {
		name := ""
		if def, err := engagement.Definition(a.Code); err == nil {
			name = def.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Code, name, a.AwardedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func dateOrDash(d *domain.Date) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
