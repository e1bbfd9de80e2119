package deployer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/sshexec/sshexectest"
)

// newTestConfig returns a validated config pointing at the test SSH server.
func newTestConfig(t *testing.T, server *sshexectest.Server) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Site.Path = t.TempDir()
	cfg.Image.Repository = "registry.example.com/acme/storefront"
	cfg.Deploy.Host = server.Host
	cfg.Deploy.Port = server.Port
	cfg.Deploy.User = sshexectest.User
	cfg.Deploy.KeyPEM = server.ClientKeyPEM
	cfg.Deploy.TargetDir = "/srv/site"
	require.NoError(t, config.Validate(cfg))

	return cfg
}

// TestRenderDescriptor checks the descriptor declares one service by
// mutable tag with port 80 and the restart policy.
func TestRenderDescriptor(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Site.Path = "public"
	cfg.Image.Repository = "registry.example.com/acme/storefront"
	require.NoError(t, config.Validate(cfg))

	data, err := RenderDescriptor(cfg)
	require.NoError(t, err)

	var document composeDocument
	require.NoError(t, yaml.Unmarshal(data, &document))
	require.Len(t, document.Services, 1)

	service := document.Services["web"]
	require.Equal(t, "registry.example.com/acme/storefront:latest", service.Image)
	require.Equal(t, []string{"80:80"}, service.Ports)
	require.Equal(t, "on-failure", service.Restart)
}

// TestRenderDescriptor_Stable checks re-rendering an unchanged
// configuration produces identical bytes, so a re-deploy only restarts.
func TestRenderDescriptor_Stable(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Site.Path = "public"
	cfg.Image.Repository = "registry.example.com/acme/storefront"
	require.NoError(t, config.Validate(cfg))

	first, err := RenderDescriptor(cfg)
	require.NoError(t, err)

	second, err := RenderDescriptor(cfg)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

// TestDeploy_CommandOrder verifies upload precedes the restart command and
// the compound command has the documented shape.
func TestDeploy_CommandOrder(t *testing.T) {
	server := sshexectest.Start(t)
	cfg := newTestConfig(t, server)

	require.NoError(t, Deploy(context.Background(), cfg))

	calls := server.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "mkdir -p '/srv/site' && cat > '/srv/site/docker-compose.yaml'", calls[0].Command)
	require.Equal(t,
		"cd '/srv/site' && docker compose pull && docker compose up -d --remove-orphans",
		calls[1].Command)

	descriptor, err := RenderDescriptor(cfg)
	require.NoError(t, err)
	require.Equal(t, descriptor, calls[0].Stdin)
}

// TestDeploy_RestartFailureIsFatal surfaces a non-zero remote exit.
func TestDeploy_RestartFailureIsFatal(t *testing.T) {
	server := sshexectest.Start(t)
	server.Handle = func(call sshexectest.Call) (int, string, string) {
		if call.Command == "cd '/srv/site' && docker compose pull && docker compose up -d --remove-orphans" {
			return 1, "", "pull access denied\n"
		}

		return 0, "", ""
	}

	cfg := newTestConfig(t, server)

	err := Deploy(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pull access denied")
}

// TestDeploy_UnreachableHost halts at the first step.
func TestDeploy_UnreachableHost(t *testing.T) {
	server := sshexectest.Start(t)
	cfg := newTestConfig(t, server)
	cfg.Deploy.Port = 1

	err := Deploy(context.Background(), cfg)
	require.Error(t, err)
	require.Empty(t, server.Calls())
}

// TestDeploy_MissingHostConfig fails validation before dialing.
func TestDeploy_MissingHostConfig(t *testing.T) {
	server := sshexectest.Start(t)
	cfg := newTestConfig(t, server)
	cfg.Deploy.Host = ""

	require.ErrorIs(t, Deploy(context.Background(), cfg), config.ErrDeployHostRequired)
}
