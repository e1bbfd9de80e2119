package deployer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/logger"
	"github.com/pagehaul/pagehaul/internal/sshexec"
)

// Options are inputs accepted by the deployer entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
}

// Run loads the configuration and updates the remote host. It is the CLI
// entry point.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "deployer")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	return Deploy(ctx, cfg)
}

// Deploy updates the remote host in three ordered steps: establish the
// SSH channel, upload the descriptor, run the fetch-and-restart command.
// The pipeline calls it directly after a successful build.
func Deploy(ctx context.Context, cfg *config.Config) error {
	if err := config.ValidateDeploy(&cfg.Deploy); err != nil {
		return err
	}

	if cfg.Deploy.KnownHostsFile == "" {
		logger.Warn(ctx, "No known_hosts configured, accepting any host key")
	}

	client, err := sshexec.Dial(ctx, &sshexec.Config{
		Host:           cfg.Deploy.Host,
		Port:           cfg.Deploy.Port,
		User:           cfg.Deploy.User,
		KeyPEM:         cfg.Deploy.KeyPEM,
		KeyFile:        cfg.Deploy.KeyFile,
		KnownHostsFile: cfg.Deploy.KnownHostsFile,
	})
	if err != nil {
		return fmt.Errorf("establish SSH channel: %w", err)
	}

	defer func() {
		_ = client.Close()
	}()

	logger.InfoKV(ctx, "Connected to remote host",
		"host", cfg.Deploy.Host, "user", cfg.Deploy.User)

	descriptor, err := RenderDescriptor(cfg)
	if err != nil {
		return err
	}

	descriptorPath := path.Join(cfg.Deploy.TargetDir, DescriptorFilename)

	if err = client.Upload(ctx, descriptor, descriptorPath); err != nil {
		return fmt.Errorf("upload descriptor: %w", err)
	}

	logger.InfoKV(ctx, "Uploaded deployment descriptor", "path", descriptorPath)

	command := restartCommand(cfg.Deploy.TargetDir)

	result, err := client.Run(ctx, command)
	if err != nil {
		return fmt.Errorf("run restart command: %w", err)
	}

	if result.ExitCode != 0 {
		// The host may now hold the new artifact with the old service
		// still running; recovery is manual.
		return fmt.Errorf("restart command failed with exit code %d: %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	logger.Info(ctx, "Remote service restarted from the freshly fetched artifact")

	return nil
}

// restartCommand fetches the artifact referenced by the descriptor and
// recreates the running service from it, dropping orphaned instances.
func restartCommand(targetDir string) string {
	return fmt.Sprintf("cd %s && docker compose pull && docker compose up -d --remove-orphans",
		sshexec.Quote(targetDir))
}
