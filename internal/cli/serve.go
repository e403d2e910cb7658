package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/streakd/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP read API",
	Long:  `Serve streaks, badges, run records, /health and /metrics over HTTP.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := applyListenFlags(&d.Config.API); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving API on http://%s:%d\n", d.Config.API.Host, d.Config.API.Port)

	return d.Serve(cmd.Context())
}

// applyListenFlags overrides the configured address with --host/--port.
func applyListenFlags(api *daemon.APIConfig) error {
	if servePort < 0 || servePort > 65535 {
		return fmt.Errorf("--port: %d out of range", servePort)
	}
	if serveHost != "" {
		api.Host = serveHost
	}
	if servePort > 0 {
		api.Port = servePort
	}
	return nil
}
