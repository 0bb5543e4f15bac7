// Package s3 is a blobstore.Adapter backed by Amazon S3 (or an
// S3-compatible store), grounded on registry/storage/driver/s3-aws's
// Put/Get/Head object shape, adapted to the aws-sdk-go-v2 client.
package s3

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/modelops/bundle/blobstore"
	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/retry"
)

const providerName = "s3"

// Driver stores blobs as S3 objects keyed by their shard path within a
// single bucket.
type Driver struct {
	Client      *s3.Client
	Bucket      string
	Prefix      string
	RetryPolicy retry.Policy // zero value falls back to retry.DefaultPolicy
}

// New returns a Driver over an already-configured S3 client.
func New(client *s3.Client, bucket, prefix string) *Driver {
	return &Driver{Client: client, Bucket: bucket, Prefix: prefix, RetryPolicy: retry.DefaultPolicy}
}

var _ blobstore.Adapter = (*Driver)(nil)

func (d *Driver) key(digest bundle.Digest) string {
	if d.Prefix != "" {
		return d.Prefix + "/" + digest.ShardPath()
	}
	return digest.ShardPath()
}

// PutByDigest uploads r as an S3 object, idempotently.
func (d *Driver) PutByDigest(ctx context.Context, digest bundle.Digest, size int64, r io.Reader) error {
	exists, err := d.ExistsByDigest(ctx, digest)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = d.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.Bucket),
		Key:           aws.String(d.key(digest)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return &bundleerr.NetworkError{Op: "s3 put " + digest.String(), Err: err, Retryable: true}
	}
	return nil
}

// GetByDigest downloads the S3 object for digest and writes it to w,
// retrying transient transport failures (never a missing-key response).
func (d *Driver) GetByDigest(ctx context.Context, digest bundle.Digest, w io.Writer) error {
	op := "s3 get " + digest.String()
	return retry.Do(ctx, d.RetryPolicy, op, func() error {
		resp, err := d.Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(d.Bucket),
			Key:    aws.String(d.key(digest)),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) {
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

// ExistsByDigest reports whether digest's object is present.
func (d *Driver) ExistsByDigest(ctx context.Context, digest bundle.Digest) (bool, error) {
	var present bool
	op := "s3 head " + digest.String()
	err := retry.Do(ctx, d.RetryPolicy, op, func() error {
		_, err := d.Client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(d.Bucket),
			Key:    aws.String(d.key(digest)),
		})
		if err == nil {
			present = true
			return nil
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
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
