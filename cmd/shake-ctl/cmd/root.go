package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/service/ctl"
	"github.com/oshokin/shake-guard/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// serverAddress overrides the daemon address from config.
	serverAddress string
	// wait retries until the daemon is reachable.
	wait bool
	// timeout bounds each call to the daemon.
	timeout time.Duration

	// rootCmd represents the base command for controlling the daemon.
	rootCmd = &cobra.Command{
		Use:   "shake-ctl {play|pause|stop|status|watch}",
		Short: "Control the shake-guard daemon.",
		Long: `Sends a command to a running shake-guard daemon and prints the resulting state.

  play    resume shake detection
  pause   suspend shake detection, keeping the baseline
  stop    stop the daemon for good; it exits, and commands sent to a daemon
          that is still shutting down fail with FailedPrecondition
  status  print the current state
  watch   stream state changes, detections and alert outcomes as JSON lines`,
		Args:         cobra.ExactArgs(1),
		ValidArgs:    []string{"play", "pause", "stop", ctl.ActionStatus, ctl.ActionWatch},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &ctl.Options{
				ConfigPath:    configPath,
				ServerAddress: serverAddress,
				Action:        args[0],
				Wait:          wait,
				Out:           cmd.OutOrStdout(),
				Timeout:       timeout,
			}

			return ctl.Run(ctx, options)
		},
	}
)

// Execute runs the shake-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := fang.Execute(context.Background(), rootCmd, fang.WithVersion(version.Short())); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&serverAddress, "server", "s", "", "daemon address, overrides listen_addr from config")
	rootCmd.Flags().BoolVarP(&wait, "wait", "w", false, "retry until the daemon is reachable")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", config.DefaultTimeout, "timeout for each call to the daemon")
}
