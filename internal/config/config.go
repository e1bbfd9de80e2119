package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/distribution/reference"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds project settings shared by the pagehaul commands.
type Config struct {
	// Site describes the static asset tree to package and publish.
	Site SiteConfig `yaml:"site"`
	// Image describes the container image to build and push.
	Image ImageConfig `yaml:"image"`
	// Deploy describes the remote host that runs the published image.
	Deploy DeployConfig `yaml:"deploy"`
	// Publish describes the optional static publishing target.
	Publish PublishConfig `yaml:"publish"`
	// Update holds self-update settings for the pagehaul binary itself.
	Update UpdateConfig `yaml:"update"`
	// HistoryFile is the path to the JSON file recording pipeline runs.
	HistoryFile string `yaml:"history_file"`
}

// SiteConfig locates the asset tree and its required entry file.
type SiteConfig struct {
	// Path is the root directory of the static asset tree.
	Path string `yaml:"path"`
	// Entry is the file that must exist at the tree root for a build
	// to proceed (index.html by default).
	Entry string `yaml:"entry"`
}

// ImageConfig describes how the asset tree is packaged into an image.
type ImageConfig struct {
	// Repository is the registry repository the image is pushed to,
	// e.g. "registry.example.com/acme/storefront".
	Repository string `yaml:"repository"`
	// Base is the image the site layer is stacked onto. The special
	// value "scratch" builds from an empty image.
	Base string `yaml:"base"`
	// WebRoot is the path inside the image where the asset tree lands.
	WebRoot string `yaml:"web_root"`
	// MutableTag is the alias reassigned on every successful build.
	MutableTag string `yaml:"mutable_tag"`
	// Insecure allows plain-HTTP registries (local or test registries).
	Insecure bool `yaml:"insecure"`
}

// DeployConfig describes the SSH-reachable host running the site.
type DeployConfig struct {
	// Host is the address of the remote host (name or IP).
	Host string `yaml:"host"`
	// Port is the SSH port on the remote host.
	Port int `yaml:"port"`
	// User is the login identity used for the SSH channel.
	User string `yaml:"user"`
	// KeyFile is the path to the private key. The raw PEM may instead
	// be supplied via the PAGEHAUL_SSH_KEY environment variable.
	KeyFile string `yaml:"key_file"`
	// KeyPEM holds raw private key material. Never persisted to YAML;
	// populated from the environment only.
	KeyPEM string `yaml:"-"`
	// KnownHostsFile optionally pins the host key. When empty, any host
	// key is accepted and a warning is logged.
	KnownHostsFile string `yaml:"known_hosts"`
	// TargetDir is the directory on the host that receives the
	// deployment descriptor.
	TargetDir string `yaml:"target_dir"`
	// ServiceName is the name of the single service in the descriptor.
	ServiceName string `yaml:"service_name"`
}

// PublishConfig selects and configures the static publishing backend.
type PublishConfig struct {
	// Backend is "pages", "bucket", or empty to disable publishing.
	Backend string `yaml:"backend"`
	// Pages configures the git-branch publishing backend.
	Pages PagesConfig `yaml:"pages"`
	// Bucket configures the S3-compatible publishing backend.
	Bucket BucketConfig `yaml:"bucket"`
}

// PagesConfig describes a git branch that mirrors the asset tree.
type PagesConfig struct {
	// Remote is the URL of the repository holding the pages branch.
	Remote string `yaml:"remote"`
	// Branch is the branch whose content is replaced on publish.
	Branch string `yaml:"branch"`
	// Token authenticates HTTPS pushes. Never persisted to YAML;
	// populated from the environment only.
	Token string `yaml:"-"`
}

// BucketConfig describes an S3 bucket that mirrors the asset tree.
type BucketConfig struct {
	// Name is the bucket name.
	Name string `yaml:"name"`
	// Prefix is an optional key prefix the tree is synchronized under.
	Prefix string `yaml:"prefix"`
	// Region is the bucket region.
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `yaml:"endpoint"`
}

// UpdateConfig holds settings for self-updating the pagehaul binary.
type UpdateConfig struct {
	// ManifestURL is the folder URL where release manifests and
	// platform assets are hosted.
	ManifestURL string `yaml:"manifest_url"`
}

const (
	// DefaultConfigFilename is the default filename for project settings.
	DefaultConfigFilename = "pagehaul.yaml"

	// DefaultEntryFilename is the file every asset tree must contain.
	DefaultEntryFilename = "index.html"

	// DefaultBaseImage serves the asset tree when no base is configured.
	DefaultBaseImage = "docker.io/library/nginx:alpine"

	// DefaultWebRoot is where the default base image serves files from.
	DefaultWebRoot = "/usr/share/nginx/html"

	// DefaultMutableTag is the alias reassigned on every build.
	DefaultMutableTag = "latest"

	// DefaultSSHPort is used when the deploy section omits a port.
	DefaultSSHPort = 22

	// DefaultServiceName names the single service in the descriptor.
	DefaultServiceName = "web"

	// DefaultPagesBranch receives published content when none is set.
	DefaultPagesBranch = "gh-pages"

	// DefaultHistoryFilename is the default path of the run history file.
	DefaultHistoryFilename = "pagehaul-history.json"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// Backend names accepted in the publish section.
	BackendPages  = "pages"
	BackendBucket = "bucket"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errSitePathRequired is returned when the asset tree path is missing.
	errSitePathRequired = errors.New("site path must be provided")
	// errRepositoryRequired is returned when the image repository is missing.
	errRepositoryRequired = errors.New("image repository must be provided")
	// errUnknownBackend is returned for an unrecognized publish backend.
	errUnknownBackend = errors.New("unknown publish backend")

	// ErrDeployHostRequired is returned when a deployment is requested
	// without a remote host.
	ErrDeployHostRequired = errors.New("deploy host must be provided")
	// ErrDeployUserRequired is returned when a deployment is requested
	// without a login identity.
	ErrDeployUserRequired = errors.New("deploy user must be provided")
	// ErrDeployKeyRequired is returned when neither a key file nor raw
	// key material is available.
	ErrDeployKeyRequired = errors.New("deploy key must be provided")
	// ErrPagesRemoteRequired is returned when the pages backend has no
	// repository URL.
	ErrPagesRemoteRequired = errors.New("pages remote must be provided")
	// ErrBucketNameRequired is returned when the bucket backend has no
	// bucket name.
	ErrBucketNameRequired = errors.New("bucket name must be provided")
)

// Load reads configuration from the provided path, applies environment
// overrides and validates essential fields. A .env file in the working
// directory is honored before the environment is read.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	applyEnvironment(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting,
// filling defaults for everything optional. Deploy and publish sections are
// validated lazily by ValidateDeploy and ValidatePublish because secrets are
// only required by the commands that use them.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Site.Path == "" {
		return errSitePathRequired
	}

	if cfg.Image.Repository == "" {
		return errRepositoryRequired
	}

	// Normalizing catches malformed repository names before any push.
	if _, err := reference.ParseNormalizedNamed(cfg.Image.Repository); err != nil {
		return fmt.Errorf("invalid image repository %q: %w", cfg.Image.Repository, err)
	}

	switch cfg.Publish.Backend {
	case "", BackendPages, BackendBucket:
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, cfg.Publish.Backend)
	}

	applyDefaults(cfg)

	return nil
}

// ValidateDeploy checks that the deploy section names a reachable target.
// Key material is checked for presence only; parsing happens at dial time.
func ValidateDeploy(cfg *DeployConfig) error {
	if cfg.Host == "" {
		return ErrDeployHostRequired
	}

	if cfg.User == "" {
		return ErrDeployUserRequired
	}

	if cfg.KeyFile == "" && cfg.KeyPEM == "" {
		return ErrDeployKeyRequired
	}

	return nil
}

// ValidatePublish checks the section matching the selected backend.
func ValidatePublish(cfg *PublishConfig) error {
	switch cfg.Backend {
	case BackendPages:
		if cfg.Pages.Remote == "" {
			return ErrPagesRemoteRequired
		}
	case BackendBucket:
		if cfg.Bucket.Name == "" {
			return ErrBucketNameRequired
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, cfg.Backend)
	}

	return nil
}

// applyDefaults fills optional fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Site.Entry == "" {
		cfg.Site.Entry = DefaultEntryFilename
	}

	if cfg.Image.Base == "" {
		cfg.Image.Base = DefaultBaseImage
	}

	if cfg.Image.WebRoot == "" {
		cfg.Image.WebRoot = DefaultWebRoot
	}

	if cfg.Image.MutableTag == "" {
		cfg.Image.MutableTag = DefaultMutableTag
	}

	if cfg.Deploy.Port <= 0 {
		cfg.Deploy.Port = DefaultSSHPort
	}

	if cfg.Deploy.ServiceName == "" {
		cfg.Deploy.ServiceName = DefaultServiceName
	}

	if cfg.Publish.Backend == BackendPages && cfg.Publish.Pages.Branch == "" {
		cfg.Publish.Pages.Branch = DefaultPagesBranch
	}

	if cfg.HistoryFile == "" {
		cfg.HistoryFile = DefaultHistoryFilename
	}
}

// applyEnvironment overlays secrets and host parameters from the process
// environment. A .env file is loaded first and loses to real variables.
func applyEnvironment(cfg *Config) {
	// Missing .env files are the normal case.
	_ = godotenv.Load()

	cfg.Deploy.Host = getEnv("PAGEHAUL_SSH_HOST", cfg.Deploy.Host)
	cfg.Deploy.User = getEnv("PAGEHAUL_SSH_USER", cfg.Deploy.User)
	cfg.Deploy.KeyFile = getEnv("PAGEHAUL_SSH_KEY_FILE", cfg.Deploy.KeyFile)
	cfg.Deploy.KeyPEM = getEnv("PAGEHAUL_SSH_KEY", cfg.Deploy.KeyPEM)
	cfg.Deploy.TargetDir = getEnv("PAGEHAUL_TARGET_DIR", cfg.Deploy.TargetDir)
	cfg.Publish.Pages.Token = getEnv("PAGEHAUL_PAGES_TOKEN", cfg.Publish.Pages.Token)

	if port := os.Getenv("PAGEHAUL_SSH_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && parsed > 0 {
			cfg.Deploy.Port = parsed
		}
	}
}

// getEnv returns the environment value for key, or fallback when unset.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}
