package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagehaul/pagehaul/internal/service/status"
)

var (
	// statusURL overrides the probe target derived from the deploy host.
	statusURL string
	// statusLimit caps the number of reported history records.
	statusLimit int

	// statusCmd probes the deployed site and reports recent runs.
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Probe the deployed site and report recent runs.",
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			options := &status.Options{
				ConfigPath: configPath,
				URL:        statusURL,
				Limit:      statusLimit,
			}

			return status.Run(ctx, options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusURL, "url", "", "probe URL (derived from the deploy host when omitted)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 0, "number of recent runs to report")
}
