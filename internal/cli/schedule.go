package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleAPI, "api", false, "Also serve the HTTP read API")
	rootCmd.AddCommand(scheduleCmd)
}

var scheduleAPI bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily batch on the built-in scheduler",
	Long: `Run the daily batch every day at schedule.at in engine.timezone until
interrupted. A run still in progress when the next one is due is not
overlapped.`,
	RunE: runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Schedule(cmd.Context(), scheduleAPI)
}
