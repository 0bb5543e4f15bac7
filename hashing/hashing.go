// Package hashing computes the canonical content digest of files on disk,
// streaming so memory use is bounded regardless of file size.
package hashing

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/dcontext"
)

const streamBufSize = 1 << 20 // 1 MiB

// Service hashes files under a fixed project root, refusing to follow
// symlinks that resolve outside of it.
type Service struct {
	Root string
}

// New returns a Service rooted at root, an absolute or relative path to
// the project directory.
func New(root string) *Service {
	return &Service{Root: root}
}

// HashFile streams relPath (project-relative) through SHA-256 and returns
// its canonical digest. A file that disappears mid-read surfaces as a
// bundleerr.IoError so callers can distinguish it from a logic error.
func (s *Service) HashFile(ctx context.Context, relPath bundle.Path) (bundle.Digest, error) {
	fullPath, err := s.resolve(relPath)
	if err != nil {
		return "", err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &bundleerr.IoError{Path: string(relPath), Err: fmt.Errorf("disappeared before hashing: %w", err)}
		}
		return "", &bundleerr.IoError{Path: string(relPath), Err: err}
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, streamBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", &bundleerr.CanceledError{Op: "hash " + string(relPath)}
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", &bundleerr.IoError{Path: string(relPath), Err: readErr}
		}
	}

	digest := bundle.Digest(fmt.Sprintf("sha256:%x", h.Sum(nil)))
	return digest, nil
}

// resolve joins relPath onto the project root, rejecting symlinks that
// escape it. A symlink whose target resolves inside the root is followed
// transparently; one that escapes is reported as an invalid path rather
// than silently hashed.
func (s *Service) resolve(relPath bundle.Path) (string, error) {
	full := filepath.Join(s.Root, filepath.FromSlash(string(relPath)))

	resolvedRoot, err := filepath.EvalSymlinks(s.Root)
	if err != nil {
		// Root itself may not exist yet in tests that hash a bare temp
		// dir; fall back to the lexical root.
		resolvedRoot = s.Root
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return full, nil
		}
		return "", &bundleerr.IoError{Path: string(relPath), Err: err}
	}

	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &bundleerr.InvalidInputError{Reason: fmt.Sprintf("%q resolves outside the project root", relPath)}
	}
	return full, nil
}

// GetLogger is a small convenience wrapper so callers can log hashing
// activity without importing dcontext directly in simple call sites.
func GetLogger(ctx context.Context) dcontext.Logger {
	return dcontext.GetLogger(ctx)
}
