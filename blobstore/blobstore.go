// Package blobstore defines the interface to external blob storage and
// the shared content-addressed URI scheme every provider adapter uses.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/modelops/bundle/bundle"
)

// Adapter is the interface StoragePolicy-classified BLOB files are
// pushed to and pulled from. Destination placement is derived from
// BuildURI, never chosen by the adapter itself.
type Adapter interface {
	PutByDigest(ctx context.Context, digest bundle.Digest, size int64, r io.Reader) error
	GetByDigest(ctx context.Context, digest bundle.Digest, w io.Writer) error
	ExistsByDigest(ctx context.Context, digest bundle.Digest) (bool, error)
	BuildURI(digest bundle.Digest) string
}

// URI builds the content-addressed blob URI
// "<provider>://<container>/[<prefix>/]<d0d1>/<d2d3>/<hex>" shared by
// every adapter, so re-uploading the same digest always yields the same
// location regardless of which provider backs it.
func URI(provider, container, prefix string, digest bundle.Digest) string {
	parts := []string{digest.ShardPath()}
	if prefix != "" {
		parts = append([]string{strings.Trim(prefix, "/")}, parts...)
	}
	return fmt.Sprintf("%s://%s/%s", provider, container, strings.Join(parts, "/"))
}
