// Package gcs is a blobstore.Adapter backed by Google Cloud Storage,
// grounded on registry/storage/driver/gcs's use of the
// cloud.google.com/go/storage client, adapted to this package's simpler
// put/get/exists surface.
package gcs

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	"github.com/modelops/bundle/blobstore"
	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/retry"
)

const providerName = "gcs"

// Driver stores blobs as objects keyed by their shard path within a
// single bucket.
type Driver struct {
	Client      *storage.Client
	Bucket      string
	Prefix      string
	RetryPolicy retry.Policy // zero value falls back to retry.DefaultPolicy
}

// New returns a Driver over an already-authenticated storage client.
func New(client *storage.Client, bucket, prefix string) *Driver {
	return &Driver{Client: client, Bucket: bucket, Prefix: prefix, RetryPolicy: retry.DefaultPolicy}
}

var _ blobstore.Adapter = (*Driver)(nil)

func (d *Driver) object(digest bundle.Digest) *storage.ObjectHandle {
	key := digest.ShardPath()
	if d.Prefix != "" {
		key = d.Prefix + "/" + key
	}
	return d.Client.Bucket(d.Bucket).Object(key)
}

// PutByDigest uploads r as a GCS object, idempotently.
func (d *Driver) PutByDigest(ctx context.Context, digest bundle.Digest, size int64, r io.Reader) error {
	exists, err := d.ExistsByDigest(ctx, digest)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	w := d.object(digest).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return &bundleerr.NetworkError{Op: "gcs put " + digest.String(), Err: err, Retryable: true}
	}
	if err := w.Close(); err != nil {
		return &bundleerr.NetworkError{Op: "gcs put " + digest.String(), Err: err, Retryable: true}
	}
	return nil
}

// GetByDigest downloads the object for digest and writes it to w, retrying
// transient transport failures (never a missing-object response).
func (d *Driver) GetByDigest(ctx context.Context, digest bundle.Digest, w io.Writer) error {
	op := "gcs get " + digest.String()
	return retry.Do(ctx, d.RetryPolicy, op, func() error {
		r, err := d.object(digest).NewReader(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return &bundleerr.NotFoundError{Kind: "blob", Ref: digest.String()}
			}
			return &bundleerr.NetworkError{Op: op, Err: err, Retryable: true}
		}
		defer r.Close()
		if _, err := io.Copy(w, r); err != nil {
			return &bundleerr.NetworkError{Op: op, Err: err, Retryable: true}
		}
		return nil
	})
}

// ExistsByDigest reports whether digest's object is present.
func (d *Driver) ExistsByDigest(ctx context.Context, digest bundle.Digest) (bool, error) {
	var present bool
	op := "gcs stat " + digest.String()
	err := retry.Do(ctx, d.RetryPolicy, op, func() error {
		_, err := d.object(digest).Attrs(ctx)
		if err == nil {
			present = true
			return nil
		}
		if errors.Is(err, storage.ErrObjectNotExist) {
			present = false
			return nil
		}
		return &bundleerr.NetworkError{Op: op, Err: err, Retryable: true}
	})
	return present, err
}

// BuildURI returns this digest's canonical blob URI.
func (d *Driver) BuildURI(digest bundle.Digest) string {
	return blobstore.URI(providerName, d.Bucket, d.Prefix, digest)
}
