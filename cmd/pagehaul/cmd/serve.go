package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pagehaul/pagehaul/internal/service/server"
)

// serveCmd serves the asset tree over plain HTTP.
var serveCmd = &cobra.Command{
	Use:   "serve [listen-address]",
	Short: "Serve the asset tree over plain HTTP.",
	Long: `Serves the configured asset tree as static files. Directory paths resolve
to their index.html and unmatched paths answer 404. The listen address can
be provided as an argument (default :80).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signalContext()
		defer stop()

		var listenAddress string
		if len(args) > 0 {
			listenAddress = args[0]
		}

		options := &server.Options{
			ConfigPath:    configPath,
			ListenAddress: listenAddress,
		}

		return server.Run(ctx, options)
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(serveCmd)
}
