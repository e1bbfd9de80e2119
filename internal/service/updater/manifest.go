package updater

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"
	"gopkg.in/yaml.v3"

	// Ensure SHA512 is available for checksum verification.
	_ "crypto/sha512"
)

const (
	// ManifestFilename is the release manifest name under the update URL.
	ManifestFilename = "pagehaul-version.yaml"

	// MarkerFilename marks that an update is running right now to avoid
	// parallel execution.
	MarkerFilename = "pagehaul-update-marker.bin"

	// ChecksumFunction hashes release assets.
	ChecksumFunction crypto.Hash = crypto.SHA512

	// markerLifetime is the period after which a stale update marker is
	// ignored.
	markerLifetime = 30 * time.Second
)

var (
	// errNoPlatformAsset is returned when the manifest has no asset for
	// the running platform.
	errNoPlatformAsset = errors.New("no release asset for this platform")

	// errNoChecksum is returned when an asset lacks checksum material.
	errNoChecksum = errors.New("checksum missing for release asset")
)

// Manifest describes a published pagehaul release.
type Manifest struct {
	// Version is the semantic version of the release.
	Version string `yaml:"version"`
	// Assets maps a platform key (GOOS-GOARCH) to its release asset.
	Assets map[string]Asset `yaml:"assets"`
}

// Asset is one downloadable binary of a release.
type Asset struct {
	// File is the asset filename under the update URL.
	File string `yaml:"file"`
	// Checksum is the base64-encoded SHA-512 of the asset.
	Checksum string `yaml:"checksum"`
}

// ParseManifest decodes a release manifest.
func ParseManifest(contents []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(contents, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal release manifest: %w", err)
	}

	return &manifest, nil
}

// PlatformKey identifies the running platform in manifest assets.
func PlatformKey() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// PlatformAsset returns the asset for the running platform with its
// decoded checksum.
func (m *Manifest) PlatformAsset() (*Asset, []byte, error) {
	asset, found := m.Assets[PlatformKey()]
	if !found {
		return nil, nil, fmt.Errorf("%s: %w", PlatformKey(), errNoPlatformAsset)
	}

	if asset.Checksum == "" {
		return nil, nil, fmt.Errorf("%s: %w", asset.File, errNoChecksum)
	}

	checksum, err := base64.StdEncoding.DecodeString(asset.Checksum)
	if err != nil {
		return nil, nil, fmt.Errorf("decode checksum for %s: %w", asset.File, err)
	}

	return &asset, checksum, nil
}

// IsUpdateRunningNow checks presence of an update marker owned by a live
// process. A marker whose owner is gone or that aged out is reclaimed.
func IsUpdateRunningNow() bool {
	fileInfo, err := os.Stat(MarkerFilename)
	if err != nil {
		return false
	}

	if time.Since(fileInfo.ModTime()) <= markerLifetime && markerOwnerAlive() {
		return true
	}

	return os.Remove(MarkerFilename) != nil
}

// markerOwnerAlive reports whether the process recorded in the marker
// still exists.
func markerOwnerAlive() bool {
	contents, err := os.ReadFile(MarkerFilename)
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		// Unable to inspect processes, assume the owner is alive.
		return true
	}

	return process != nil
}
