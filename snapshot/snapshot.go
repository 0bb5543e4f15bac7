// Package snapshot hashes every tracked file into a {path -> digest,
// size} mapping, bounding concurrency the way registry/handlers/manifests.go
// fans out independent work over an errgroup.
package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/hashing"
	"github.com/modelops/bundle/tracked"
)

// FileDigest is one tracked file's computed content digest and size.
type FileDigest struct {
	Digest bundle.Digest
	Size   int64
}

// Snapshot is the result of hashing a TrackedSet against the working
// tree: digests for files that exist, and separately, paths that are
// tracked but missing from disk.
type Snapshot struct {
	Files   map[bundle.Path]FileDigest
	Missing []bundle.Path
}

// Concurrency bounds parallel hashing; defaults to logical CPU count.
var Concurrency = runtime.NumCPU

// Build hashes every path in set against root, in parallel bounded by
// Concurrency(). It fails fast if a tracked file is unreadable for a
// reason other than not being present.
func Build(ctx context.Context, root string, set *tracked.Set) (*Snapshot, error) {
	svc := hashing.New(root)
	paths := set.Sorted()

	snap := &Snapshot{Files: make(map[bundle.Path]FileDigest, len(paths))}
	var mu sync.Mutex

	limit := Concurrency()
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, p := range paths {
		p := p
		g.Go(func() error {
			info, err := os.Lstat(pathJoin(root, p))
			if err != nil {
				if os.IsNotExist(err) {
					mu.Lock()
					snap.Missing = append(snap.Missing, p)
					mu.Unlock()
					return nil
				}
				return &bundleerr.IoError{Path: string(p), Err: err}
			}
			if info.IsDir() {
				return &bundleerr.InvalidInputError{Reason: "tracked path is a directory: " + string(p)}
			}

			digest, err := svc.HashFile(gctx, p)
			if err != nil {
				return err
			}

			mu.Lock()
			snap.Files[p] = FileDigest{Digest: digest, Size: info.Size()}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func pathJoin(root string, p bundle.Path) string {
	return filepath.Join(root, filepath.FromSlash(string(p)))
}
