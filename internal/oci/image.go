package oci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// BaseScratch selects an empty base image instead of pulling one.
const BaseScratch = "scratch"

// errUnexpectedManifestType is returned when annotating yields something
// other than an image manifest.
var errUnexpectedManifestType = errors.New("unexpected manifest type after annotation")

// BuildInput describes the image to assemble.
type BuildInput struct {
	// Base is the reference of the base image, or BaseScratch for an
	// empty base.
	Base string
	// Archive is the tar archive forming the single site layer.
	Archive []byte
	// Revision is the commit hash recorded as the revision annotation.
	Revision string
	// Title is recorded as the title annotation.
	Title string
	// Insecure allows plain-HTTP registries.
	Insecure bool
}

// PushInput describes where the assembled image is published.
type PushInput struct {
	// Repository is the registry repository, e.g. "registry.example.com/acme/storefront".
	Repository string
	// MutableTag is the alias reassigned on every build.
	MutableTag string
	// ImmutableTag is the per-change alias, empty to skip.
	ImmutableTag string
	// Insecure allows plain-HTTP registries.
	Insecure bool
}

// PushResult reports the published references and their shared digest.
type PushResult struct {
	// Digest is the manifest digest both tags resolve to.
	Digest string
	// MutableRef is the full mutable reference that was pushed.
	MutableRef string
	// ImmutableRef is the full immutable reference, empty when skipped.
	ImmutableRef string
}

// Assemble builds the site image: the base image plus one layer holding
// the asset tree archive, annotated with revision and build metadata.
func Assemble(ctx context.Context, in *BuildInput) (v1.Image, error) {
	base, err := resolveBase(ctx, in)
	if err != nil {
		return nil, err
	}

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(in.Archive)), nil
	})
	if err != nil {
		return nil, fmt.Errorf("create site layer: %w", err)
	}

	img, err := mutate.AppendLayers(base, layer)
	if err != nil {
		return nil, fmt.Errorf("append site layer: %w", err)
	}

	annotations := map[string]string{
		ocispec.AnnotationCreated: time.Now().UTC().Format(time.RFC3339),
	}

	if in.Revision != "" {
		annotations[ocispec.AnnotationRevision] = in.Revision
	}

	if in.Title != "" {
		annotations[ocispec.AnnotationTitle] = in.Title
	}

	annotated, ok := mutate.Annotations(img, annotations).(v1.Image)
	if !ok {
		return nil, errUnexpectedManifestType
	}

	return annotated, nil
}

// Push publishes the image under the mutable tag, then adds the immutable
// tag against the uploaded manifest. The blobs travel once; the second tag
// is a manifest-only operation, so both tags always share one digest.
func Push(ctx context.Context, img v1.Image, in *PushInput) (*PushResult, error) {
	mutableRef, err := name.NewTag(in.Repository+":"+in.MutableTag, nameOptions(in.Insecure)...)
	if err != nil {
		return nil, fmt.Errorf("parse mutable reference: %w", err)
	}

	remoteOpts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuth(ResolveAuthenticator(mutableRef.Context().RegistryStr())),
	}

	if err = remote.Write(mutableRef, img, remoteOpts...); err != nil {
		return nil, fmt.Errorf("push %s: %w", mutableRef.Name(), err)
	}

	result := &PushResult{
		MutableRef: mutableRef.Name(),
	}

	if in.ImmutableTag != "" {
		var immutableRef name.Tag

		immutableRef, err = name.NewTag(in.Repository+":"+in.ImmutableTag, nameOptions(in.Insecure)...)
		if err != nil {
			return nil, fmt.Errorf("parse immutable reference: %w", err)
		}

		if err = remote.Tag(immutableRef, img, remoteOpts...); err != nil {
			return nil, fmt.Errorf("tag %s: %w", immutableRef.Name(), err)
		}

		result.ImmutableRef = immutableRef.Name()
	}

	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("resolve image digest: %w", err)
	}

	result.Digest = digest.String()

	return result, nil
}

// ResolveDigest fetches the manifest digest a reference currently points at.
func ResolveDigest(ctx context.Context, reference string, insecure bool) (string, error) {
	ref, err := name.ParseReference(reference, nameOptions(insecure)...)
	if err != nil {
		return "", fmt.Errorf("parse reference: %w", err)
	}

	descriptor, err := remote.Get(ref,
		remote.WithContext(ctx),
		remote.WithAuth(ResolveAuthenticator(ref.Context().RegistryStr())))
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref.Name(), err)
	}

	return descriptor.Digest.String(), nil
}

// resolveBase returns the base image for assembly, pulling it from its
// registry unless the scratch base is selected.
func resolveBase(ctx context.Context, in *BuildInput) (v1.Image, error) {
	if in.Base == "" || in.Base == BaseScratch {
		return empty.Image, nil
	}

	ref, err := name.ParseReference(in.Base, nameOptions(in.Insecure)...)
	if err != nil {
		return nil, fmt.Errorf("parse base reference: %w", err)
	}

	base, err := remote.Image(ref,
		remote.WithContext(ctx),
		remote.WithAuth(ResolveAuthenticator(ref.Context().RegistryStr())))
	if err != nil {
		return nil, fmt.Errorf("pull base image %s: %w", ref.Name(), err)
	}

	return base, nil
}

// nameOptions returns reference parsing options for the registry mode.
func nameOptions(insecure bool) []name.Option {
	if insecure {
		return []name.Option{name.Insecure}
	}

	return nil
}
