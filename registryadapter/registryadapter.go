// Package registryadapter defines the interface the core depends on to
// talk to any OCI registry. Concrete implementations (ociregistry) live
// outside the core and are swapped in at the process boundary.
package registryadapter

import (
	"context"
	"io"

	"github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/modelops/bundle/bundle"
)

// LayerDescriptor pairs an OCI content descriptor with the
// project-relative path its "org.opencontainers.image.title" annotation
// preserves in full, never truncated to a basename.
type LayerDescriptor struct {
	Descriptor v1.Descriptor
	Path       bundle.Path
}

// Adapter is the interface PlanBuilder and Applier depend on. The
// contract that matters most: resolveTag must return the registry's own
// declared digest, never one recomputed by re-serializing the manifest.
type Adapter interface {
	// ResolveTag returns the tag's current digest and the raw manifest
	// bytes as received. Returns a *bundleerr.NotFoundError if the tag
	// does not exist.
	ResolveTag(ctx context.Context, tag string) (bundle.Digest, []byte, error)

	// GetManifest returns the raw manifest bytes, the config blob's
	// descriptor, and the per-file layer descriptors for digest.
	GetManifest(ctx context.Context, digest bundle.Digest) (manifestBytes []byte, config v1.Descriptor, layers []LayerDescriptor, err error)

	// GetBlob streams the blob identified by digest to w.
	GetBlob(ctx context.Context, digest bundle.Digest, w io.Writer) error

	// PutBlob uploads content, identified by digest and size. Idempotent:
	// returns successfully if the blob already exists.
	PutBlob(ctx context.Context, digest bundle.Digest, size int64, content io.Reader) error

	// PutManifest writes manifestBytes and, if tag is non-empty, moves
	// the tag to point at it. Returns the manifest's digest as declared
	// by the registry's response.
	PutManifest(ctx context.Context, manifestBytes []byte, mediaType string, tag string) (bundle.Digest, error)

	// ListTags lists all tags in the bundle's repository.
	ListTags(ctx context.Context) ([]string, error)

	// GetTag resolves tag to its current digest without fetching the
	// manifest body.
	GetTag(ctx context.Context, tag string) (bundle.Digest, error)
}
