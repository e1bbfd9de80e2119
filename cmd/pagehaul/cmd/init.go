package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagehaul/pagehaul/internal/service/scaffold"
)

var (
	// initForce overwrites files that already exist in the target directory.
	initForce bool

	// initCmd scaffolds a starter site and configuration file.
	initCmd = &cobra.Command{
		Use:   "init [directory]",
		Short: "Scaffold a starter site and configuration file.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			options := &scaffold.Options{
				Force: initForce,
			}

			if len(args) == 1 {
				options.Dir = args[0]
			}

			return scaffold.Run(ctx, options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
}
