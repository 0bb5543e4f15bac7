// Package azure is a blobstore.Adapter backed by Azure Blob Storage,
// grounded on registry/storage/driver/azure's use of a container.Client
// and block-blob upload/download streaming.
package azure

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/modelops/bundle/blobstore"
	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/retry"
)

const providerName = "azure"

// Driver stores blobs as block blobs named by their shard path within a
// single Azure container.
type Driver struct {
	Client      *container.Client
	Container   string
	Prefix      string
	RetryPolicy retry.Policy // zero value falls back to retry.DefaultPolicy
}

// New returns a Driver over an already-authenticated container client.
// Credential and endpoint setup is the caller's responsibility (out of
// scope for the core, per the project's external-collaborator boundary).
func New(client *container.Client, containerName, prefix string) *Driver {
	return &Driver{Client: client, Container: containerName, Prefix: prefix, RetryPolicy: retry.DefaultPolicy}
}

var _ blobstore.Adapter = (*Driver)(nil)

func (d *Driver) blobName(digest bundle.Digest) string {
	if d.Prefix != "" {
		return d.Prefix + "/" + digest.ShardPath()
	}
	return digest.ShardPath()
}

// PutByDigest uploads r as a block blob, idempotently: an existing blob
// at this content address is assumed correct and left untouched.
func (d *Driver) PutByDigest(ctx context.Context, digest bundle.Digest, size int64, r io.Reader) error {
	exists, err := d.ExistsByDigest(ctx, digest)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	blobClient := d.Client.NewBlockBlobClient(d.blobName(digest))
	if _, err := blobClient.UploadStream(ctx, r, nil); err != nil {
		return &bundleerr.NetworkError{Op: "azure upload " + digest.String(), Err: err, Retryable: true}
	}
	return nil
}

// GetByDigest downloads the blob for digest and writes it to w, retrying
// transient transport failures (never a 404) with bounded backoff.
func (d *Driver) GetByDigest(ctx context.Context, digest bundle.Digest, w io.Writer) error {
	op := "azure download " + digest.String()
	return retry.Do(ctx, d.RetryPolicy, op, func() error {
		blobClient := d.Client.NewBlobClient(d.blobName(digest))
		resp, err := blobClient.DownloadStream(ctx, nil)
		if err != nil {
			if bloberror.HasCode(err, bloberror.BlobNotFound) {
				return &bundleerr.NotFoundError{Kind: "blob", Ref: digest.String()}
			}
			return &bundleerr.NetworkError{Op: op, Err: err, Retryable: true}
		}
		defer resp.Body.Close()
		if _, err := io.Copy(w, resp.Body); err != nil {
			return &bundleerr.NetworkError{Op: op, Err: err, Retryable: true}
		}
		return nil
	})
}

// ExistsByDigest reports whether digest's blob is present in the
// container.
func (d *Driver) ExistsByDigest(ctx context.Context, digest bundle.Digest) (bool, error) {
	var present bool
	op := "azure stat " + digest.String()
	err := retry.Do(ctx, d.RetryPolicy, op, func() error {
		blobClient := d.Client.NewBlobClient(d.blobName(digest))
		_, err := blobClient.GetProperties(ctx, nil)
		if err == nil {
			present = true
			return nil
		}
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			present = false
			return nil
		}
		return &bundleerr.NetworkError{Op: op, Err: err, Retryable: true}
	})
	return present, err
}

// BuildURI returns this digest's canonical blob URI.
func (d *Driver) BuildURI(digest bundle.Digest) string {
	return blobstore.URI(providerName, d.Container, d.Prefix, digest)
}
