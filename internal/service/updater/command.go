package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"

	"github.com/Masterminds/semver/v3"
	goupdate "github.com/doitdistributed/go-update"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/logger"
	"github.com/pagehaul/pagehaul/internal/version"
)

var (
	// errUpdateAlreadyRunning blocks a second concurrent update.
	errUpdateAlreadyRunning = errors.New("an update is already running")

	// errNoManifestURL is returned when self-update is not configured.
	errNoManifestURL = errors.New("no update manifest URL configured")

	// errBadHTTPStatus is returned for non-OK update server responses.
	errBadHTTPStatus = errors.New("unexpected http status")
)

// markerFileMode keeps the update marker private to the user.
const markerFileMode = 0o600

// Options are inputs accepted by the self-update entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
}

// Run executes the self-update lifecycle and is the CLI entry point.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "updater")

	if IsUpdateRunningNow() {
		return errUpdateAlreadyRunning
	}

	if err := writeMarker(); err != nil {
		return err
	}

	defer func() {
		_ = os.Remove(MarkerFilename)
	}()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if cfg.Update.ManifestURL == "" {
		return errNoManifestURL
	}

	if err = update(ctx, cfg.Update.ManifestURL); err != nil {
		logger.ErrorKV(ctx, "Self-update failed", "error", err)
		return err
	}

	return nil
}

// update fetches the manifest, decides whether the running binary is
// outdated and applies the replacement when it is.
func update(ctx context.Context, manifestURL string) error {
	contents, err := fetch(ctx, manifestURL, ManifestFilename)
	if err != nil {
		return fmt.Errorf("download release manifest: %w", err)
	}

	manifest, err := ParseManifest(contents)
	if err != nil {
		return err
	}

	remote, err := semver.NewVersion(manifest.Version)
	if err != nil {
		return fmt.Errorf("parse manifest version %q: %w", manifest.Version, err)
	}

	local, err := semver.NewVersion(version.Short())
	if err != nil {
		return fmt.Errorf("parse local version %q: %w", version.Short(), err)
	}

	if !remote.GreaterThan(local) {
		logger.InfoKV(ctx, "Already up to date",
			"local", local.String(), "remote", remote.String())

		return nil
	}

	logger.InfoKV(ctx, "Updating",
		"local", local.String(), "remote", remote.String())

	asset, checksum, err := manifest.PlatformAsset()
	if err != nil {
		return err
	}

	binary, err := fetch(ctx, manifestURL, asset.File)
	if err != nil {
		return fmt.Errorf("download %s: %w", asset.File, err)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate running binary: %w", err)
	}

	err = goupdate.Apply(bytes.NewReader(binary), goupdate.Options{
		TargetPath: executable,
		Checksum:   checksum,
		Hash:       ChecksumFunction,
	})
	if err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	// go-update leaves the previous binary beside the new one.
	if _, err = os.Stat(executable + ".old"); err == nil {
		_ = os.Remove(executable + ".old")
	}

	logger.InfoKV(ctx, "Updated", "version", remote.String(), "binary", executable)

	return nil
}

// fetch downloads one file from the update folder URL.
func fetch(ctx context.Context, baseURL, fileName string) ([]byte, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse update URL: %w", err)
	}

	// path.Join normalizes duplicate slashes when composing the URL path.
	parsed.Path = path.Join(parsed.Path, fileName)
	finalURL := parsed.String()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", finalURL, response.Status, errBadHTTPStatus)
	}

	return io.ReadAll(response.Body)
}

// writeMarker records this process as the running update.
func writeMarker() error {
	err := os.WriteFile(MarkerFilename, []byte(strconv.Itoa(os.Getpid())), markerFileMode)
	if err != nil {
		return fmt.Errorf("write update marker: %w", err)
	}

	return nil
}
