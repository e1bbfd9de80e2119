package oci

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/authn"
	"gopkg.in/yaml.v3"
)

const (
	// credentialsFileEnv overrides the credentials file location.
	credentialsFileEnv = "PAGEHAUL_CREDENTIALS_FILE"

	// registryUserEnv and registryPasswordEnv supply credentials directly,
	// taking precedence over the credentials file. This is the CI path.
	registryUserEnv     = "PAGEHAUL_REGISTRY_USER"
	registryPasswordEnv = "PAGEHAUL_REGISTRY_PASSWORD"

	// credentialsFileMode keeps stored secrets private to the user.
	credentialsFileMode = 0o600

	// credentialsDirMode keeps the enclosing directory private as well.
	credentialsDirMode = 0o700
)

// errNoHomeDirectory is returned when no credentials file location can be
// derived for the current user.
var errNoHomeDirectory = errors.New("unable to determine home directory for credentials file")

// Credential is a username/password pair for one registry.
type Credential struct {
	// Username is the registry login name.
	Username string `yaml:"username"`
	// Password is the registry password or access token.
	Password string `yaml:"password"`
}

// credentialsFile is the on-disk shape of the stored credentials.
type credentialsFile struct {
	// Registries maps a registry host to its credential.
	Registries map[string]Credential `yaml:"registries"`
}

// credentialsPath returns the location of the credentials file.
func credentialsPath() (string, error) {
	if override := os.Getenv(credentialsFileEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %w", errNoHomeDirectory, err)
	}

	return filepath.Join(home, ".config", "pagehaul", "credentials.yaml"), nil
}

// loadCredentialsFile reads the stored credentials. A missing file yields
// an empty set.
func loadCredentialsFile() (*credentialsFile, error) {
	stored := &credentialsFile{
		Registries: make(map[string]Credential),
	}

	path, err := credentialsPath()
	if err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stored, nil
		}

		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	if err = yaml.Unmarshal(contents, stored); err != nil {
		return nil, fmt.Errorf("unmarshal credentials file: %w", err)
	}

	if stored.Registries == nil {
		stored.Registries = make(map[string]Credential)
	}

	return stored, nil
}

// SaveCredential stores the credential for a registry host in the
// user-scoped credentials file, creating it with restricted permissions.
func SaveCredential(registry string, credential Credential) error {
	stored, err := loadCredentialsFile()
	if err != nil {
		return err
	}

	stored.Registries[registry] = credential

	data, err := yaml.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	path, err := credentialsPath()
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(path), credentialsDirMode); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	if err = os.WriteFile(path, data, credentialsFileMode); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}

	return nil
}

// ResolveAuthenticator returns the authenticator for a registry host.
// Environment variables win over the credentials file; with neither
// present, access is anonymous.
func ResolveAuthenticator(registry string) authn.Authenticator {
	if user := os.Getenv(registryUserEnv); user != "" {
		return &authn.Basic{
			Username: user,
			Password: os.Getenv(registryPasswordEnv),
		}
	}

	stored, err := loadCredentialsFile()
	if err == nil {
		if credential, found := stored.Registries[registry]; found {
			return &authn.Basic{
				Username: credential.Username,
				Password: credential.Password,
			}
		}
	}

	return authn.Anonymous
}
