package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagehaul/pagehaul/internal/service/deployer"
)

// deployCmd updates the remote host with the latest published image.
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Update the remote host over SSH.",
	Long: `Uploads the deployment descriptor to the remote host and instructs it to
fetch the artifact referenced by the mutable alias and restart the running
service from it, removing orphaned instances.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signalContext()
		defer stop()

		return deployer.Run(ctx, &deployer.Options{ConfigPath: configPath})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(deployCmd)
}
