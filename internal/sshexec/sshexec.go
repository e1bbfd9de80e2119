// Package sshexec provides the SSH channel used to update the remote host:
// dialing with private-key authentication, running commands and uploading
// small files.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// dialTimeout bounds the TCP connect to the remote host.
const dialTimeout = 30 * time.Second

var (
	// ErrEncryptedKey is returned for passphrase-protected private keys,
	// which the automated deployment path does not support.
	ErrEncryptedKey = errors.New("encrypted private keys are not supported")

	// ErrNoKeyMaterial is returned when neither a key file nor raw key
	// material is provided.
	ErrNoKeyMaterial = errors.New("no private key material provided")
)

// Config describes how to reach and authenticate against the remote host.
type Config struct {
	// Host is the address of the remote host (name or IP).
	Host string
	// Port is the SSH port.
	Port int
	// User is the login identity.
	User string
	// KeyPEM holds raw private key material. Wins over KeyFile when set.
	KeyPEM string
	// KeyFile is the path to the private key file.
	KeyFile string
	// KnownHostsFile optionally pins the host key. When empty, any host
	// key is accepted.
	KnownHostsFile string
}

// Result captures the outcome of one remote command.
type Result struct {
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// ExitCode is the remote exit status.
	ExitCode int
}

// Client is an established SSH connection to the remote host.
type Client struct {
	// conn is the underlying SSH connection.
	conn *ssh.Client
}

// Dial establishes an authenticated SSH connection to the configured host.
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	signer, err := loadSigner(cfg)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := resolveHostKeyCallback(cfg.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := net.Dialer{Timeout: dialTimeout}

	tcpConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}

	sshConn, channels, requests, err := ssh.NewClientConn(tcpConn, address, clientConfig)
	if err != nil {
		_ = tcpConn.Close()

		return nil, fmt.Errorf("authenticate to %s: %w", address, err)
	}

	return &Client{
		conn: ssh.NewClient(sshConn, channels, requests),
	}, nil
}

// Run executes a command on the remote host and returns its output and
// exit status. A non-zero exit is reported through Result, not through
// the error value.
func (c *Client) Run(ctx context.Context, command string) (*Result, error) {
	return c.run(ctx, command, nil)
}

// Upload writes contents to remotePath on the host, creating the parent
// directory and overwriting any existing file.
func (c *Client) Upload(ctx context.Context, contents []byte, remotePath string) error {
	command := fmt.Sprintf("mkdir -p %s && cat > %s",
		Quote(path.Dir(remotePath)), Quote(remotePath))

	result, err := c.run(ctx, command, bytes.NewReader(contents))
	if err != nil {
		return err
	}

	if result.ExitCode != 0 {
		return fmt.Errorf("upload to %s failed with exit code %d: %s",
			remotePath, result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return nil
}

// Close terminates the SSH connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// run executes a command with an optional stdin stream. Context
// cancellation closes the session; the remote command itself keeps
// running on the host.
func (c *Client) run(ctx context.Context, command string, stdin *bytes.Reader) (*Result, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	defer func() {
		_ = session.Close()
	}()

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)

	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()

		return nil, ctx.Err()
	case err = <-done:
	}

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()

			return result, nil
		}

		return nil, fmt.Errorf("run remote command: %w", err)
	}

	return result, nil
}

// Quote wraps s in single quotes for safe use in a remote shell command.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// loadSigner parses the configured private key material.
func loadSigner(cfg *Config) (ssh.Signer, error) {
	material := []byte(cfg.KeyPEM)

	if len(material) == 0 {
		if cfg.KeyFile == "" {
			return nil, ErrNoKeyMaterial
		}

		contents, err := os.ReadFile(filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}

		material = contents
	}

	signer, err := ssh.ParsePrivateKey(material)
	if err != nil {
		var passphraseErr *ssh.PassphraseMissingError
		if errors.As(err, &passphraseErr) {
			return nil, ErrEncryptedKey
		}

		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return signer, nil
}

// resolveHostKeyCallback pins the host key through a known_hosts file when
// one is configured; otherwise any host key is accepted.
func resolveHostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		//nolint:gosec // Accept-any is the documented fallback; the caller logs a warning.
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	return callback, nil
}
