package integration

import (
	"context"
	"net"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/stretchr/testify/require"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/history"
	"github.com/pagehaul/pagehaul/internal/oci"
	"github.com/pagehaul/pagehaul/internal/service/pipeline"
	"github.com/pagehaul/pagehaul/internal/sshexec/sshexectest"
)

// testRevision stands in for a commit hash so the runs do not need a
// git repository around the test directory.
const testRevision = "0123456789012345678901234567890123456789"

// testEnvironment wires a site directory, an in-memory registry and a
// test SSH server into one saved configuration file.
type testEnvironment struct {
	ConfigPath string
	Config     *config.Config
	SSH        *sshexectest.Server
}

// newTestEnvironment prepares everything a full release run needs.
func newTestEnvironment(t *testing.T, files map[string]string) *testEnvironment {
	t.Helper()

	dir := t.TempDir()

	siteDir := filepath.Join(dir, "public")
	for name, content := range files {
		target := filepath.Join(siteDir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(t, os.WriteFile(target, []byte(content), 0o644))
	}

	registryServer := httptest.NewServer(registry.New())
	t.Cleanup(registryServer.Close)

	registryURL, err := url.Parse(registryServer.URL)
	require.NoError(t, err)

	sshServer := sshexectest.Start(t)

	cfg := &config.Config{}
	cfg.Site.Path = siteDir
	cfg.Image.Repository = registryURL.Host + "/acme/storefront"
	cfg.Image.Base = oci.BaseScratch
	cfg.Image.Insecure = true
	cfg.Deploy.Host = sshServer.Host
	cfg.Deploy.Port = sshServer.Port
	cfg.Deploy.User = sshexectest.User
	cfg.Deploy.TargetDir = "/srv/site"
	cfg.HistoryFile = filepath.Join(dir, "history.json")

	configPath := filepath.Join(dir, config.DefaultConfigFilename)

	// The key never lands in the YAML file; the loader reads it from the
	// environment the same way a CI job would provide it.
	t.Setenv("PAGEHAUL_SSH_KEY", sshServer.ClientKeyPEM)
	require.NoError(t, config.Save(configPath, cfg))

	return &testEnvironment{
		ConfigPath: configPath,
		Config:     cfg,
		SSH:        sshServer,
	}
}

// latestRecord returns the newest history record of the environment.
func latestRecord(t *testing.T, env *testEnvironment) history.Record {
	t.Helper()

	records, err := history.NewFileRepository(env.Config.HistoryFile).Latest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	return records[0]
}

// reservePort returns a loopback port nothing is listening on.
func reservePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	return port
}

// TestRelease_FullRun covers the ordered happy path: both tags land on
// one digest, the descriptor is uploaded before the restart runs, and
// the run is recorded.
func TestRelease_FullRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvironment(t, map[string]string{
		"index.html":    "<html><body>store</body></html>",
		"css/style.css": "body {}",
	})

	require.NoError(t, pipeline.Run(ctx, &pipeline.Options{
		ConfigPath: env.ConfigPath,
		Revision:   testRevision,
	}))

	mutableDigest, err := oci.ResolveDigest(ctx, env.Config.Image.Repository+":latest", true)
	require.NoError(t, err)

	immutableDigest, err := oci.ResolveDigest(ctx, env.Config.Image.Repository+":"+testRevision, true)
	require.NoError(t, err)
	require.Equal(t, mutableDigest, immutableDigest)

	calls := env.SSH.Calls()
	require.Len(t, calls, 2)
	require.Contains(t, calls[0].Command, "cat > '/srv/site/docker-compose.yaml'")
	require.Contains(t, string(calls[0].Stdin), env.Config.Image.Repository+":latest")
	require.Equal(t,
		"cd '/srv/site' && docker compose pull && docker compose up -d --remove-orphans",
		calls[1].Command)

	record := latestRecord(t, env)
	require.Equal(t, history.StatusOK, record.Build.Status)
	require.Equal(t, history.StatusOK, record.Deploy.Status)
	require.Equal(t, history.StatusSkipped, record.Publish.Status)
	require.Equal(t, mutableDigest, record.Digest)
	require.Equal(t, testRevision, record.Revision)
}

// TestRelease_MissingEntryHaltsEverything checks a tree without the
// entry file publishes nothing and never reaches the remote host.
func TestRelease_MissingEntryHaltsEverything(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvironment(t, map[string]string{
		"css/style.css": "body {}",
	})

	err := pipeline.Run(ctx, &pipeline.Options{
		ConfigPath: env.ConfigPath,
		Revision:   testRevision,
	})
	require.Error(t, err)

	_, err = oci.ResolveDigest(ctx, env.Config.Image.Repository+":latest", true)
	require.Error(t, err)

	_, err = oci.ResolveDigest(ctx, env.Config.Image.Repository+":"+testRevision, true)
	require.Error(t, err)

	require.Empty(t, env.SSH.Calls())

	record := latestRecord(t, env)
	require.Equal(t, history.StatusFailed, record.Build.Status)
	require.Equal(t, history.StatusSkipped, record.Deploy.Status)
}

// TestRelease_DeployFailureKeepsTags checks a run that builds fine but
// cannot reach the host leaves the published tags behind.
func TestRelease_DeployFailureKeepsTags(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvironment(t, map[string]string{
		"index.html": "<html><body>store</body></html>",
	})

	// Point the deploy section at a port nothing listens on.
	env.Config.Deploy.Port = reservePort(t)
	require.NoError(t, config.Save(env.ConfigPath, env.Config))

	err := pipeline.Run(ctx, &pipeline.Options{
		ConfigPath: env.ConfigPath,
		Revision:   testRevision,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "deploy step")

	// The build outcome survives the failed deployment.
	mutableDigest, err := oci.ResolveDigest(ctx, env.Config.Image.Repository+":latest", true)
	require.NoError(t, err)

	immutableDigest, err := oci.ResolveDigest(ctx, env.Config.Image.Repository+":"+testRevision, true)
	require.NoError(t, err)
	require.Equal(t, mutableDigest, immutableDigest)

	record := latestRecord(t, env)
	require.Equal(t, history.StatusOK, record.Build.Status)
	require.Equal(t, history.StatusFailed, record.Deploy.Status)
}

// TestRelease_PublisherFailureIsIsolated checks a broken publishing
// target never fails the release.
func TestRelease_PublisherFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvironment(t, map[string]string{
		"index.html": "<html><body>store</body></html>",
	})

	env.Config.Publish.Backend = config.BackendPages
	env.Config.Publish.Pages.Remote = "http://127.0.0.1:" + strconv.Itoa(reservePort(t)) + "/site.git"
	require.NoError(t, config.Save(env.ConfigPath, env.Config))

	require.NoError(t, pipeline.Run(ctx, &pipeline.Options{
		ConfigPath: env.ConfigPath,
		Revision:   testRevision,
	}))

	record := latestRecord(t, env)
	require.Equal(t, history.StatusOK, record.Build.Status)
	require.Equal(t, history.StatusOK, record.Deploy.Status)
	require.Equal(t, history.StatusFailed, record.Publish.Status)
	require.NotEmpty(t, record.Publish.Error)
}

// TestRelease_RepeatRunIsIdempotent checks a second run with unchanged
// content uploads a byte-identical descriptor and restarts again.
func TestRelease_RepeatRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvironment(t, map[string]string{
		"index.html": "<html><body>store</body></html>",
	})

	options := &pipeline.Options{
		ConfigPath: env.ConfigPath,
		Revision:   testRevision,
	}

	require.NoError(t, pipeline.Run(ctx, options))
	require.NoError(t, pipeline.Run(ctx, options))

	calls := env.SSH.Calls()
	require.Len(t, calls, 4)
	require.Equal(t, calls[0].Command, calls[2].Command)
	require.Equal(t, calls[0].Stdin, calls[2].Stdin)
	require.Equal(t, calls[1].Command, calls[3].Command)

	records, err := history.NewFileRepository(env.Config.HistoryFile).Latest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, records[0].Digest, records[1].Digest)
}
