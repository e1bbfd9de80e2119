package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nrednav/cuid2"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/history"
	"github.com/pagehaul/pagehaul/internal/logger"
	"github.com/pagehaul/pagehaul/internal/service/builder"
	"github.com/pagehaul/pagehaul/internal/service/deployer"
	"github.com/pagehaul/pagehaul/internal/service/publisher"
)

// Options are inputs accepted by the pipeline entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Revision overrides revision detection for the build step.
	Revision string
}

// Run executes a release: build, deploy on build success, publisher in
// parallel. It is the CLI entry point.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "pipeline")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	lock, err := acquireLock(ctx, filepath.Dir(cfg.HistoryFile))
	if err != nil {
		return err
	}

	defer lock.release()

	record := history.Record{
		ID:        cuid2.Generate(),
		StartedAt: time.Now().UTC(),
		Build:     history.Step{Status: history.StatusSkipped},
		Deploy:    history.Step{Status: history.StatusSkipped},
		Publish:   history.Step{Status: history.StatusSkipped},
	}

	// Every line of this run carries its identifier.
	ctx = logger.WithKV(ctx, "run_id", record.ID)

	logger.Info(ctx, "Starting release")

	// The publisher runs on the same trigger with no ordering dependency
	// on build or deploy.
	var publishCh chan error

	if cfg.Publish.Backend != "" {
		publishCh = make(chan error, 1)

		go func() {
			publishCh <- publisher.Publish(ctx, cfg)
		}()
	}

	runErr := runBuildAndDeploy(ctx, cfg, opts.Revision, &record)

	if publishCh != nil {
		if publishErr := <-publishCh; publishErr != nil {
			// Isolated: recorded and logged, never part of the outcome.
			record.Publish = history.Step{Status: history.StatusFailed, Error: publishErr.Error()}

			logger.ErrorKV(ctx, "Publish step failed, build and deploy outcome unaffected",
				"error", publishErr)
		} else {
			record.Publish = history.Step{Status: history.StatusOK}
		}
	}

	record.FinishedAt = time.Now().UTC()

	repo := history.NewFileRepository(cfg.HistoryFile)
	if err = repo.Append(ctx, record); err != nil {
		logger.ErrorKV(ctx, "Unable to record run history", "error", err)
	}

	if runErr != nil {
		return runErr
	}

	logger.InfoKV(ctx, "Release completed", "digest", record.Digest)

	return nil
}

// runBuildAndDeploy executes the ordered build and deploy steps, filling
// the run record. The deployer receives the configuration the build just
// used, so the descriptor always names the artifact produced in this run.
func runBuildAndDeploy(
	ctx context.Context,
	cfg *config.Config,
	revision string,
	record *history.Record,
) error {
	buildResult, err := builder.Build(ctx, cfg, revision)
	if err != nil {
		record.Build = history.Step{Status: history.StatusFailed, Error: err.Error()}

		return fmt.Errorf("build step: %w", err)
	}

	record.Build = history.Step{Status: history.StatusOK}
	record.Revision = buildResult.Revision
	record.Digest = buildResult.Digest
	record.Tags = buildResult.Tags()

	// Cancellation between step boundaries; an already-dispatched remote
	// command would still finish on the host.
	if err = ctx.Err(); err != nil {
		return err
	}

	if err = deployer.Deploy(ctx, cfg); err != nil {
		record.Deploy = history.Step{Status: history.StatusFailed, Error: err.Error()}

		return fmt.Errorf("deploy step: %w", err)
	}

	record.Deploy = history.Step{Status: history.StatusOK}

	return nil
}
