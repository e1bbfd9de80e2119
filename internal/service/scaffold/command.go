// Package scaffold writes a starter site and a commented configuration
// file into a fresh working directory.
package scaffold

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/logger"
)

//go:embed starter
var starterFS embed.FS

const (
	// siteDirName is where the starter asset tree lands.
	siteDirName = "public"

	// scaffoldDirMode is the mode for created directories.
	scaffoldDirMode = 0o755

	// scaffoldFileMode is the mode for created files.
	scaffoldFileMode = 0o644
)

// errFileExists refuses to clobber existing work without --force.
var errFileExists = errors.New("file already exists, pass --force to overwrite")

// starterFiles maps embedded names to their target paths.
var starterFiles = map[string]string{
	"starter/index.html":    siteDirName + "/index.html",
	"starter/style.css":     siteDirName + "/style.css",
	"starter/pagehaul.yaml": config.DefaultConfigFilename,
}

// Options are inputs accepted by the scaffold entry point.
type Options struct {
	// Dir is the directory to scaffold into, default the working
	// directory.
	Dir string
	// Force overwrites existing files.
	Force bool
}

// Run writes the starter site and configuration.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "scaffold")

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}

	// Refuse before writing anything so a failed init leaves no partial
	// scaffold behind.
	if !opts.Force {
		for _, target := range starterFiles {
			if _, err := os.Stat(filepath.Join(dir, target)); err == nil {
				return fmt.Errorf("%s: %w", target, errFileExists)
			}
		}
	}

	for source, target := range starterFiles {
		contents, err := starterFS.ReadFile(source)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", source, err)
		}

		targetPath := filepath.Join(dir, target)

		if err = os.MkdirAll(filepath.Dir(targetPath), scaffoldDirMode); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(targetPath), err)
		}

		if err = os.WriteFile(targetPath, contents, scaffoldFileMode); err != nil {
			return fmt.Errorf("write %s: %w", targetPath, err)
		}

		logger.InfoKV(ctx, "Wrote starter file", "path", targetPath)
	}

	logger.Infof(ctx, "Scaffold ready: edit %s, then run pagehaul build", config.DefaultConfigFilename)

	return nil
}
