package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/distribution/reference"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/oci"
)

// loginCmd stores registry credentials for later pushes.
var loginCmd = &cobra.Command{
	Use:   "login [registry]",
	Short: "Store credentials for the image registry.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		registry, err := resolveRegistry(args)
		if err != nil {
			return err
		}

		credential, err := promptCredential(registry)
		if err != nil {
			return err
		}

		if err = oci.SaveCredential(registry, credential); err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Stored credentials for %s.\n", registry)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(loginCmd)
}

// resolveRegistry picks the registry host from the argument or the
// configured image repository.
func resolveRegistry(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}

	named, err := reference.ParseNormalizedNamed(cfg.Image.Repository)
	if err != nil {
		return "", fmt.Errorf("invalid image repository %q: %w", cfg.Image.Repository, err)
	}

	return reference.Domain(named), nil
}

// promptCredential reads the username and password from the terminal.
// The password is read without echo.
func promptCredential(registry string) (oci.Credential, error) {
	fmt.Fprintf(os.Stdout, "Username for %s: ", registry)

	username, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return oci.Credential{}, fmt.Errorf("read username: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Password for %s: ", registry)

	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return oci.Credential{}, fmt.Errorf("read password: %w", err)
	}

	// ReadPassword suppresses the user's newline.
	fmt.Fprintln(os.Stdout)

	return oci.Credential{
		Username: strings.TrimSpace(username),
		Password: string(password),
	}, nil
}
