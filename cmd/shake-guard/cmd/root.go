package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/oshokin/shake-guard/internal/config"
	"github.com/oshokin/shake-guard/internal/service/daemon"
	"github.com/oshokin/shake-guard/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// listenAddress overrides the control surface address.
	listenAddress string
	// logLevel overrides the configured log level.
	logLevel string
	// allowMultiple disables the single-instance guard.
	allowMultiple bool

	// rootCmd represents the base command for running the daemon.
	rootCmd = &cobra.Command{
		Use:   "shake-guard",
		Short: "Send an emergency message with your location when the phone is shaken.",
		Long: `Starts the shake detection daemon.

The daemon reads the accelerometer through Termux:API, and when the change in
acceleration magnitude exceeds the configured threshold it sends an emergency
message with a map link to the configured contact, optionally followed by a call.

Detection starts immediately. Use shake-ctl to pause, resume or stop it.
SIGINT or SIGTERM tears the daemon down, letting an alert in flight finish.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &daemon.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				LogLevel:      logLevel,
				AllowMultiple: allowMultiple,
			}

			return daemon.Run(ctx, options)
		},
	}
)

// Execute runs the shake-guard CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(updateCmd, publishCmd)

	if err := fang.Execute(context.Background(), rootCmd, fang.WithVersion(version.Short())); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&listenAddress, "listen", "l", "", "control surface address, overrides listen_addr")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides log_level")
	rootCmd.Flags().BoolVar(&allowMultiple, "allow-multiple", false, "skip the single-instance check")
}
