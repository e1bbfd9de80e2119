package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/logger"
	"github.com/pagehaul/pagehaul/internal/oci"
	"github.com/pagehaul/pagehaul/internal/site"
	"github.com/pagehaul/pagehaul/internal/vcs"
)

// errNoRevision is returned when no immutable tag source is available.
var errNoRevision = errors.New("no revision available; run inside a git repository or pass --revision")

// Options are inputs accepted by the builder entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Revision overrides revision detection; CI passes the triggering
	// change id here.
	Revision string
}

// Result describes the published artifact.
type Result struct {
	// Repository is the registry repository the image was pushed to.
	Repository string
	// Digest is the manifest digest both tags resolve to.
	Digest string
	// Revision is the commit hash used for the immutable tag.
	Revision string
	// MutableRef and ImmutableRef are the two published references.
	MutableRef   string
	ImmutableRef string
}

// Tags returns both published references.
func (r *Result) Tags() []string {
	return []string{r.MutableRef, r.ImmutableRef}
}

// Run loads the configuration and executes a build. It is the CLI entry
// point.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "builder")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return Build(ctx, cfg, opts.Revision)
}

// Build packages the asset tree and publishes the image. The pipeline
// calls it directly with an already-loaded configuration so the deploy
// step runs against exactly this build's output.
func Build(ctx context.Context, cfg *config.Config, revision string) (*Result, error) {
	tree, err := site.Open(cfg.Site.Path, cfg.Site.Entry)
	if err != nil {
		return nil, err
	}

	// The entry check runs before anything touches the registry.
	if err = tree.VerifyEntry(); err != nil {
		return nil, err
	}

	if revision == "" {
		revision, err = vcs.HeadRevision(cfg.Site.Path)
		if err != nil {
			if errors.Is(err, vcs.ErrNoRepository) {
				return nil, errNoRevision
			}

			return nil, err
		}
	}

	logger.InfoKV(ctx, "Packaging asset tree",
		"path", cfg.Site.Path, "revision", revision)

	archive, err := tree.TarArchive(cfg.Image.WebRoot)
	if err != nil {
		return nil, err
	}

	img, err := oci.Assemble(ctx, &oci.BuildInput{
		Base:     cfg.Image.Base,
		Archive:  archive,
		Revision: revision,
		Title:    path.Base(cfg.Image.Repository),
		Insecure: cfg.Image.Insecure,
	})
	if err != nil {
		return nil, err
	}

	pushResult, err := push(ctx, img, cfg, revision)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Repository:   cfg.Image.Repository,
		Digest:       pushResult.Digest,
		Revision:     revision,
		MutableRef:   pushResult.MutableRef,
		ImmutableRef: pushResult.ImmutableRef,
	}

	logger.InfoKV(ctx, "Published image",
		"digest", result.Digest,
		"mutable", result.MutableRef,
		"immutable", result.ImmutableRef)

	return result, nil
}

// push uploads the image, rendering a spinner when attached to a terminal.
func push(ctx context.Context, img v1.Image, cfg *config.Config, revision string) (*oci.PushResult, error) {
	var spinner *pterm.SpinnerPrinter

	if term.IsTerminal(int(os.Stderr.Fd())) {
		spinner, _ = pterm.DefaultSpinner.
			WithWriter(os.Stderr).
			Start("Pushing " + cfg.Image.Repository)
	}

	pushResult, err := oci.Push(ctx, img, &oci.PushInput{
		Repository:   cfg.Image.Repository,
		MutableTag:   cfg.Image.MutableTag,
		ImmutableTag: revision,
		Insecure:     cfg.Image.Insecure,
	})

	if spinner != nil {
		if err != nil {
			spinner.Fail("Push failed")
		} else {
			spinner.Success("Pushed " + cfg.Image.Repository)
		}
	}

	if err != nil {
		return nil, err
	}

	return pushResult, nil
}
