package sshexec

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/pagehaul/pagehaul/internal/sshexec/sshexectest"
)

// dialTestServer connects a Client to a freshly started test server.
func dialTestServer(t *testing.T) (*Client, *sshexectest.Server) {
	t.Helper()

	server := sshexectest.Start(t)

	client, err := Dial(context.Background(), &Config{
		Host:   server.Host,
		Port:   server.Port,
		User:   sshexectest.User,
		KeyPEM: server.ClientKeyPEM,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, server
}

// TestRun_Success executes a command and reads its output.
func TestRun_Success(t *testing.T) {
	client, server := dialTestServer(t)

	server.Handle = func(_ sshexectest.Call) (int, string, string) {
		return 0, "pulled\n", ""
	}

	result, err := client.Run(context.Background(), "docker compose pull")
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, "pulled\n", result.Stdout)

	calls := server.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "docker compose pull", calls[0].Command)
}

// TestRun_NonZeroExit reports the remote exit status through the result.
func TestRun_NonZeroExit(t *testing.T) {
	client, server := dialTestServer(t)

	server.Handle = func(_ sshexectest.Call) (int, string, string) {
		return 17, "", "no such service\n"
	}

	result, err := client.Run(context.Background(), "docker compose up -d")
	require.NoError(t, err)
	require.Equal(t, 17, result.ExitCode)
	require.Contains(t, result.Stderr, "no such service")
}

// TestUpload_StreamsContentAndQuotesPath checks the descriptor upload
// command shape and the streamed bytes.
func TestUpload_StreamsContentAndQuotesPath(t *testing.T) {
	client, server := dialTestServer(t)

	content := []byte("services:\n  web:\n    image: registry.example.com/acme/storefront:latest\n")
	require.NoError(t, client.Upload(context.Background(), content, "/srv/site/docker-compose.yaml"))

	calls := server.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "mkdir -p '/srv/site' && cat > '/srv/site/docker-compose.yaml'", calls[0].Command)
	require.Equal(t, content, calls[0].Stdin)
}

// TestUpload_RemoteFailure surfaces the remote exit code as an error.
func TestUpload_RemoteFailure(t *testing.T) {
	client, server := dialTestServer(t)

	server.Handle = func(_ sshexectest.Call) (int, string, string) {
		return 1, "", "read-only file system\n"
	}

	err := client.Upload(context.Background(), []byte("x"), "/srv/site/docker-compose.yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "read-only file system")
}

// TestDial_RejectedKey fails the handshake for a key the server does not know.
func TestDial_RejectedKey(t *testing.T) {
	server := sshexectest.Start(t)

	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(otherKey, "")
	require.NoError(t, err)

	_, err = Dial(context.Background(), &Config{
		Host:   server.Host,
		Port:   server.Port,
		User:   sshexectest.User,
		KeyPEM: string(pem.EncodeToMemory(block)),
	})
	require.Error(t, err)
}

// TestDial_NoKeyMaterial surfaces the sentinel before any network use.
func TestDial_NoKeyMaterial(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), &Config{
		Host: "host.invalid",
		Port: 22,
		User: "deploy",
	})
	require.ErrorIs(t, err, ErrNoKeyMaterial)
}

// TestQuote escapes embedded single quotes.
func TestQuote(t *testing.T) {
	t.Parallel()

	require.Equal(t, `'/srv/o'\''brien'`, Quote("/srv/o'brien"))
}
