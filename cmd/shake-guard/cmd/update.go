package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/shake-guard/internal/logger"
	"github.com/oshokin/shake-guard/internal/service/common"
	"github.com/oshokin/shake-guard/internal/service/updater"
	"github.com/oshokin/shake-guard/internal/version"
)

var (
	// updateFolder is the base URL of the release.
	updateFolder string
	// forceUpdate applies the release even when it is current.
	forceUpdate bool

	// publishExecutable is the binary to describe.
	publishExecutable string
	// publishOutput is the manifest directory.
	publishOutput string
	// publishVersion is recorded in the manifest.
	publishVersion string

	// updateCmd replaces the running binary with the published release.
	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Update shake-guard from an update folder.",
		Long: `Downloads the release manifest from the update folder, compares its version
and checksum with this binary, then downloads the new executable and replaces
this binary atomically after verifying its SHA-512 checksum.

A running daemon keeps the old version until it is restarted.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			result, err := updater.Run(ctx, &updater.Options{
				UpdateFolder: updateFolder,
				Force:        forceUpdate,
			})
			if err != nil {
				return err
			}

			if !result.Updated {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "shake-guard %s is up to date\n", result.LocalVersion)

				return nil
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated shake-guard %s -> %s\n", result.LocalVersion, result.RemoteVersion)

			warnRunningDaemons(ctx)

			return nil
		},
	}

	// publishCmd writes the release manifest for an executable.
	publishCmd = &cobra.Command{
		Use:   "publish",
		Short: "Write the release manifest for an update folder.",
		Long: `Computes the SHA-512 checksum of the executable and writes
shake-guard-version.yaml next to it (or into --output). Upload both files to
the update folder used by "shake-guard update".`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := updater.Publish(&updater.PublishOptions{
				ExecutablePath: publishExecutable,
				OutputDir:      publishOutput,
				Version:        publishVersion,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)

			return nil
		},
	}
)

// warnRunningDaemons reminds to restart daemons still running the old binary.
func warnRunningDaemons(ctx context.Context) {
	executable, err := os.Executable()
	if err != nil {
		return
	}

	pids, err := common.OtherInstances(filepath.Base(executable))
	if err != nil || len(pids) == 0 {
		return
	}

	logger.WarnKV(ctx, "Restart the running daemon to use the new version", "pids", pids)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	updateCmd.Flags().StringVarP(&updateFolder, "folder", "f", "", "update folder URL holding the release manifest")
	updateCmd.Flags().BoolVar(&forceUpdate, "force", false, "apply the release even when it is current")
	_ = updateCmd.MarkFlagRequired("folder")

	publishCmd.Flags().StringVarP(&publishExecutable, "executable", "e", "", "path to the executable to publish")
	publishCmd.Flags().StringVarP(&publishOutput, "output", "o", "", "manifest directory, defaults to the executable's")
	publishCmd.Flags().StringVar(&publishVersion, "version", version.Short(), "version recorded in the manifest")
	_ = publishCmd.MarkFlagRequired("executable")
}
