package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/logger"
	"github.com/pagehaul/pagehaul/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel selects the minimum level for emitted log lines.
	logLevel string

	// rootCmd is the base command of the pagehaul CLI.
	rootCmd = &cobra.Command{
		Use:   "pagehaul",
		Short: "Build, ship and serve static sites as container images.",
		Long: `pagehaul packages a static asset tree into a container image, publishes it
to a registry under a mutable and an immutable tag, updates a remote host
over SSH, optionally mirrors the tree to a static hosting surface, and can
serve the tree locally over plain HTTP.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if level, recognized := logger.ParseLevel(logLevel); recognized {
				logger.SetLevel(level)
			}
		},
	}
)

// Execute runs the pagehaul CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup persistent flags shared by every subcommand.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level",
		"info", "log level (debug, info, warn, error, fatal)")
}

// signalContext returns a context canceled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}
