// Package fs is a blobstore.Adapter backed by a local directory tree,
// grounded on registry/storage/driver/filesystem's root-relative path
// handling and atomic temp-file-then-rename writes.
package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/modelops/bundle/blobstore"
	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
)

const providerName = "fs"

// Driver stores blobs under RootDirectory/<container>/[<prefix>/]<shard path>, mirroring
// the teacher filesystem driver's "all provided paths are subpaths of
// RootDirectory" invariant.
type Driver struct {
	RootDirectory string
	Container     string
	Prefix        string
}

// New returns a Driver rooted at rootDirectory.
func New(rootDirectory, container, prefix string) *Driver {
	return &Driver{RootDirectory: rootDirectory, Container: container, Prefix: prefix}
}

var _ blobstore.Adapter = (*Driver)(nil)

func (d *Driver) localPath(digest bundle.Digest) string {
	parts := []string{d.RootDirectory, d.Container}
	if d.Prefix != "" {
		parts = append(parts, d.Prefix)
	}
	parts = append(parts, filepath.FromSlash(digest.ShardPath()))
	return filepath.Join(parts...)
}

// PutByDigest writes r to the content-addressed path for digest,
// idempotently: if the destination already exists, the write is skipped
// since content-addressing guarantees it already holds the same bytes.
func (d *Driver) PutByDigest(ctx context.Context, digest bundle.Digest, size int64, r io.Reader) error {
	dest := d.localPath(digest)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &bundleerr.IoError{Path: dir, Err: err}
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &bundleerr.IoError{Path: tmp, Err: err}
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return &bundleerr.IoError{Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &bundleerr.IoError{Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &bundleerr.IoError{Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return &bundleerr.IoError{Path: dest, Err: err}
	}
	return nil
}

// GetByDigest streams the stored blob for digest to w.
func (d *Driver) GetByDigest(ctx context.Context, digest bundle.Digest, w io.Writer) error {
	src := d.localPath(digest)
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return &bundleerr.NotFoundError{Kind: "blob", Ref: digest.String()}
		}
		return &bundleerr.IoError{Path: src, Err: err}
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return &bundleerr.IoError{Path: src, Err: err}
	}
	return nil
}

// ExistsByDigest reports whether digest's blob is present.
func (d *Driver) ExistsByDigest(ctx context.Context, digest bundle.Digest) (bool, error) {
	_, err := os.Stat(d.localPath(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &bundleerr.IoError{Path: d.localPath(digest), Err: err}
}

// BuildURI returns this digest's canonical blob URI.
func (d *Driver) BuildURI(digest bundle.Digest) string {
	return blobstore.URI(providerName, d.Container, d.Prefix, digest)
}
