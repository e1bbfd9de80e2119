package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagehaul/pagehaul/internal/service/updater"
)

// selfupdateCmd replaces the running binary with the newest release.
var selfupdateCmd = &cobra.Command{
	Use:   "selfupdate",
	Short: "Update the pagehaul binary to the newest release.",
	RunE: func(_ *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signalContext()
		defer stop()

		options := &updater.Options{
			ConfigPath: configPath,
		}

		return updater.Run(ctx, options)
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(selfupdateCmd)
}
