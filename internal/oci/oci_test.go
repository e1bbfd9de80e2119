package oci

import (
	"context"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/stretchr/testify/require"

	"github.com/pagehaul/pagehaul/internal/site"
)

// newTestRegistry starts an in-memory registry and returns its host.
func newTestRegistry(t *testing.T) string {
	t.Helper()

	server := httptest.NewServer(registry.New())
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)

	return parsed.Host
}

// siteArchive builds a tar archive from a small in-memory asset tree.
func siteArchive(t *testing.T) []byte {
	t.Helper()

	tree := newMemTree(t, map[string]string{
		"index.html":    "<html><body>store</body></html>",
		"css/style.css": "body { margin: 0; }",
	})

	archive, err := tree.TarArchive("/usr/share/nginx/html")
	require.NoError(t, err)

	return archive
}

// TestPush_BothTagsShareDigest assembles and publishes an image, then
// checks the mutable and immutable tags resolve to the same digest.
func TestPush_BothTagsShareDigest(t *testing.T) {
	ctx := context.Background()
	host := newTestRegistry(t)
	repository := host + "/acme/storefront"

	img, err := Assemble(ctx, &BuildInput{
		Base:     BaseScratch,
		Archive:  siteArchive(t),
		Revision: "0123456789012345678901234567890123456789",
		Title:    "storefront",
		Insecure: true,
	})
	require.NoError(t, err)

	result, err := Push(ctx, img, &PushInput{
		Repository:   repository,
		MutableTag:   "latest",
		ImmutableTag: "0123456789012345678901234567890123456789",
		Insecure:     true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Digest)

	mutableDigest, err := ResolveDigest(ctx, result.MutableRef, true)
	require.NoError(t, err)

	immutableDigest, err := ResolveDigest(ctx, result.ImmutableRef, true)
	require.NoError(t, err)

	require.Equal(t, result.Digest, mutableDigest)
	require.Equal(t, mutableDigest, immutableDigest)
}

// TestPush_MutableTagReassigned publishes twice and checks the mutable tag
// follows the newest build while the immutable tags stay distinct.
func TestPush_MutableTagReassigned(t *testing.T) {
	ctx := context.Background()
	host := newTestRegistry(t)
	repository := host + "/acme/storefront"

	publish := func(revision string) *PushResult {
		img, err := Assemble(ctx, &BuildInput{
			Base:     BaseScratch,
			Archive:  siteArchive(t),
			Revision: revision,
			Insecure: true,
		})
		require.NoError(t, err)

		result, err := Push(ctx, img, &PushInput{
			Repository:   repository,
			MutableTag:   "latest",
			ImmutableTag: revision,
			Insecure:     true,
		})
		require.NoError(t, err)

		return result
	}

	first := publish("1111111111111111111111111111111111111111")
	second := publish("2222222222222222222222222222222222222222")

	latestDigest, err := ResolveDigest(ctx, repository+":latest", true)
	require.NoError(t, err)
	require.Equal(t, second.Digest, latestDigest)

	firstDigest, err := ResolveDigest(ctx, first.ImmutableRef, true)
	require.NoError(t, err)
	require.Equal(t, first.Digest, firstDigest)
}

// TestResolveAuthenticator_Order checks environment variables beat the
// credentials file, and absent both the result is anonymous.
func TestResolveAuthenticator_Order(t *testing.T) {
	credentialsFilePath := filepath.Join(t.TempDir(), "credentials.yaml")
	t.Setenv(credentialsFileEnv, credentialsFilePath)

	require.NoError(t, SaveCredential("registry.example.com", Credential{
		Username: "stored-user",
		Password: "stored-pass",
	}))

	auth := ResolveAuthenticator("registry.example.com")
	cfg, err := auth.Authorization()
	require.NoError(t, err)
	require.Equal(t, "stored-user", cfg.Username)

	t.Setenv(registryUserEnv, "env-user")
	t.Setenv(registryPasswordEnv, "env-pass")

	auth = ResolveAuthenticator("registry.example.com")
	cfg, err = auth.Authorization()
	require.NoError(t, err)
	require.Equal(t, "env-user", cfg.Username)
	require.Equal(t, "env-pass", cfg.Password)
}

// TestResolveAuthenticator_Anonymous covers the fallback with no
// credentials configured anywhere.
func TestResolveAuthenticator_Anonymous(t *testing.T) {
	t.Setenv(credentialsFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv(registryUserEnv, "")
	t.Setenv(registryPasswordEnv, "")

	require.Equal(t, authn.Anonymous, ResolveAuthenticator("registry.example.com"))
}

// TestPush_SingleUploadForSecondTag confirms the immutable tag is written
// without re-pushing blobs: deleting is impossible on the test registry,
// but the manifest fetched via the immutable tag must be byte-identical.
func TestPush_SingleUploadForSecondTag(t *testing.T) {
	ctx := context.Background()
	host := newTestRegistry(t)
	repository := host + "/acme/storefront"

	img, err := Assemble(ctx, &BuildInput{
		Base:     BaseScratch,
		Archive:  siteArchive(t),
		Insecure: true,
	})
	require.NoError(t, err)

	result, err := Push(ctx, img, &PushInput{
		Repository:   repository,
		MutableTag:   "latest",
		ImmutableTag: "3333333333333333333333333333333333333333",
		Insecure:     true,
	})
	require.NoError(t, err)

	mutableRef, err := name.ParseReference(result.MutableRef, name.Insecure)
	require.NoError(t, err)

	immutableRef, err := name.ParseReference(result.ImmutableRef, name.Insecure)
	require.NoError(t, err)

	mutableManifest, err := remote.Get(mutableRef, remote.WithContext(ctx))
	require.NoError(t, err)

	immutableManifest, err := remote.Get(immutableRef, remote.WithContext(ctx))
	require.NoError(t, err)

	require.Equal(t, mutableManifest.Manifest, immutableManifest.Manifest)
}

// newMemTree builds an in-memory asset tree.
func newMemTree(t *testing.T, files map[string]string) *site.Tree {
	t.Helper()

	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}

	return site.NewFromFS(fs, "index.html")
}
