// Package localcas implements the disk-backed content-addressable store:
// per-digest advisory locking (the way umoci's oci/cas/dir engine locks
// its temp directories), atomic promotion with digest verification (the
// way registry/storage/blobwriter.go validates and moves a blob into
// place), and link-or-copy materialization.
package localcas

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/dcontext"
)

// LinkMode selects how materialize places cached content at a
// destination path.
type LinkMode string

const (
	LinkAuto     LinkMode = "auto"
	LinkReflink  LinkMode = "reflink"
	LinkHardlink LinkMode = "hardlink"
	LinkCopy     LinkMode = "copy"
)

// Store is a disk-backed CAS rooted at Root, laid out as
// <root>/objects/sha256/<d0d1>/<d2d3>/<hex>.
type Store struct {
	Root string
}

// New returns a Store rooted at root. The caller is responsible for
// ensuring root exists or is creatable.
func New(root string) *Store {
	return &Store{Root: root}
}

// PathFor returns the final on-disk path for digest, after validating it
// strictly enough to rule out path traversal.
func (s *Store) PathFor(digest bundle.Digest) (string, error) {
	if !digest.Valid() {
		return "", &bundleerr.InvalidInputError{Reason: fmt.Sprintf("malformed digest %q", digest)}
	}
	return filepath.Join(s.Root, "objects", "sha256", digest.ShardPath()), nil
}

// Has reports whether digest is present in the cache. It performs no
// content verification; verification happens only at promotion time.
func (s *Store) Has(digest bundle.Digest) (bool, error) {
	finalPath, err := s.PathFor(digest)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(finalPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &bundleerr.IoError{Path: finalPath, Err: err}
}

// FetchFunc writes the content identified by its caller-known digest to
// tempPath. It is the only code in ensurePresent that talks to the
// network or external blob storage.
type FetchFunc func(ctx context.Context, tempPath string) error

// EnsurePresent guarantees that, on success, an object hashing to digest
// is present in the cache. Concurrent callers for the same digest
// serialize on an OS-backed advisory file lock so exactly one of them
// runs fetch to completion; the rest observe the promoted object.
func (s *Store) EnsurePresent(ctx context.Context, digest bundle.Digest, fetch FetchFunc) (string, error) {
	finalPath, err := s.PathFor(digest)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(finalPath); err == nil {
		return finalPath, nil
	}

	shardDir := filepath.Dir(finalPath)
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return "", &bundleerr.IoError{Path: shardDir, Err: err}
	}

	lockPath := finalPath + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", &bundleerr.IoError{Path: lockPath, Err: err}
	}
	defer lockFile.Close()

	if err := lockBlocking(ctx, lockFile); err != nil {
		return "", err
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	// Re-check existence now that we hold the lock: another process may
	// have promoted the object while we waited.
	if _, err := os.Lstat(finalPath); err == nil {
		return finalPath, nil
	}

	tempPath := filepath.Join(shardDir, "."+digest.Hex()+"."+uuid.NewString()+".tmp")
	if err := s.runFetch(ctx, digest, tempPath, fetch); err != nil {
		return "", err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", &bundleerr.IoError{Path: finalPath, Err: err}
	}
	if err := syncDir(shardDir); err != nil {
		return "", err
	}

	dcontext.GetLogger(ctx).Debugf("promoted object %s", digest)
	return finalPath, nil
}

func (s *Store) runFetch(ctx context.Context, digest bundle.Digest, tempPath string, fetch FetchFunc) (retErr error) {
	defer func() {
		if retErr != nil {
			os.Remove(tempPath)
		}
	}()

	if err := fetch(ctx, tempPath); err != nil {
		return err
	}

	actual, err := hashFile(tempPath)
	if err != nil {
		return err
	}
	if actual != digest {
		return &bundleerr.DigestMismatchError{Expected: digest.String(), Actual: actual.String()}
	}

	f, err := os.OpenFile(tempPath, os.O_RDWR, 0o644)
	if err != nil {
		return &bundleerr.IoError{Path: tempPath, Err: err}
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return &bundleerr.IoError{Path: tempPath, Err: err}
	}
	return nil
}

func hashFile(path string) (bundle.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &bundleerr.IoError{Path: path, Err: err}
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &bundleerr.IoError{Path: path, Err: err}
	}
	return bundle.Digest(fmt.Sprintf("sha256:%x", h.Sum(nil))), nil
}

// lockBlocking acquires an exclusive advisory lock on f, polling so it
// can honor ctx cancellation while waiting (unix.Flock itself has no
// cancellation hook).
func lockBlocking(ctx context.Context, f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK {
			return &bundleerr.IoError{Path: f.Name(), Err: err}
		}
		select {
		case <-ctx.Done():
			return &bundleerr.CanceledError{Op: "acquire lock on " + f.Name()}
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return &bundleerr.IoError{Path: dir, Err: err}
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return &bundleerr.IoError{Path: dir, Err: err}
	}
	return nil
}
