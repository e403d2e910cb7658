// Package cli implements the streakd command-line interface using Cobra.
// Each subcommand maps to one batch capability (run, schedule, prune, etc.).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/streakd/internal/daemon"
	"github.com/tutu-network/streakd/internal/domain"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "streakd",
	Short: "streakd: daily streak and badge batch engine",
	Long: `streakd advances per-user activity streaks and awards badges once per
calendar day, from task completions in the activity store.

Run it once per day from an external scheduler with 'streakd run', or let it
schedule itself with 'streakd schedule'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default $STREAKD_HOME/config.toml)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openDaemon loads configuration and wires the daemon.
func openDaemon() (*daemon.Daemon, error) {
	return daemon.New(configPath)
}

// referenceDay parses --date, defaulting to today in the engine timezone.
func referenceDay(d *daemon.Daemon, date string) (domain.Date, error) {
	if date == "" {
		return d.Orchestrator.Today(), nil
	}
	day, err := domain.ParseDate(date)
	if err != nil {
		return domain.Date{}, fmt.Errorf("--date: %w", err)
	}
	return day, nil
}
