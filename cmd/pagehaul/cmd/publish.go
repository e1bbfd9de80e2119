package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagehaul/pagehaul/internal/service/publisher"
)

// publishCmd mirrors the asset tree to the static publishing target.
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Mirror the asset tree to the static publishing target.",
	Long: `Copies the unmodified asset tree wholesale to the configured publishing
backend (a git pages branch or an S3 bucket), replacing its prior content.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signalContext()
		defer stop()

		return publisher.Run(ctx, &publisher.Options{ConfigPath: configPath})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(publishCmd)
}
