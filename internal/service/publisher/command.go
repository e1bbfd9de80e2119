package publisher

import (
	"context"
	"fmt"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/logger"
	"github.com/pagehaul/pagehaul/internal/site"
)

// Options are inputs accepted by the publisher entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
}

// Run loads the configuration and publishes the asset tree. It is the CLI
// entry point.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	return Publish(ctx, cfg)
}

// Publish copies the asset tree to the configured backend. The pipeline
// calls it directly, isolated from the build and deploy outcome.
func Publish(ctx context.Context, cfg *config.Config) error {
	ctx = logger.WithName(ctx, "publisher")

	if err := config.ValidatePublish(&cfg.Publish); err != nil {
		return err
	}

	tree, err := site.Open(cfg.Site.Path, cfg.Site.Entry)
	if err != nil {
		return err
	}

	switch cfg.Publish.Backend {
	case config.BackendPages:
		err = publishPages(ctx, tree, &cfg.Publish.Pages)
	case config.BackendBucket:
		var client s3API

		client, err = newBucketClient(ctx, &cfg.Publish.Bucket)
		if err != nil {
			return err
		}

		err = publishBucket(ctx, tree, &cfg.Publish.Bucket, client)
	}

	if err != nil {
		return fmt.Errorf("publish via %s backend: %w", cfg.Publish.Backend, err)
	}

	logger.InfoKV(ctx, "Published asset tree", "backend", cfg.Publish.Backend)

	return nil
}
