package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagehaul/pagehaul/internal/service/pipeline"
)

var (
	// releaseRevision overrides revision detection for the build step.
	releaseRevision string

	// releaseCmd runs the full pipeline: build, deploy, publish.
	releaseCmd = &cobra.Command{
		Use:   "release",
		Short: "Run the full pipeline: build, deploy and publish.",
		Long: `Builds and publishes the image, then updates the remote host. The static
publisher runs on the same trigger with no ordering dependency; its failure
is recorded but never changes the run outcome. Every run is appended to the
local history file.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			options := &pipeline.Options{
				ConfigPath: configPath,
				Revision:   releaseRevision,
			}

			return pipeline.Run(ctx, options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(releaseCmd)
	releaseCmd.Flags().StringVar(&releaseRevision, "revision", "",
		"commit hash for the immutable tag (detected from git when omitted)")
}
