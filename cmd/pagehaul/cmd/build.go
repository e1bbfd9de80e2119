package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagehaul/pagehaul/internal/service/builder"
)

var (
	// buildRevision overrides revision detection for the immutable tag.
	buildRevision string

	// buildCmd packages the asset tree and publishes the image.
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Package the asset tree into an image and push it.",
		Long: `Packages the configured asset tree into a container image and publishes it
under two references: the mutable alias reassigned on every build and an
immutable alias fixed to the commit hash of the triggering change.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			options := &builder.Options{
				ConfigPath: configPath,
				Revision:   buildRevision,
			}

			_, err := builder.Run(ctx, options)

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVar(&buildRevision, "revision", "",
		"commit hash for the immutable tag (detected from git when omitted)")
}
