// Package inventory scans a project's working tree for files that pass
// the ignore matcher, without opening any of them.
package inventory

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/ignore"
	"github.com/modelops/bundle/internal/dcontext"
)

// Entry is an ephemeral working-tree observation: no digest yet.
type Entry struct {
	Path  bundle.Path
	Size  int64
	Mtime int64 // unix nanoseconds
}

// Scan walks root depth-first, applying matcher, and returns entries
// keyed by path; SortedPaths gives them in stable lexicographic path
// order. A file or directory that disappears
// between readdir and stat is skipped with a warning rather than failing
// the whole scan.
func Scan(ctx context.Context, root string, matcher *ignore.Matcher) (map[bundle.Path]Entry, error) {
	entries := make(map[bundle.Path]Entry)
	logger := dcontext.GetLogger(ctx)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warnf("path disappeared during scan: %s", path)
				return nil
			}
			return &bundleerr.IoError{Path: path, Err: err}
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return &bundleerr.IoError{Path: path, Err: err}
		}
		relPath, err := bundle.NewPath(filepath.ToSlash(rel))
		if err != nil {
			return nil // unrepresentable path, skip rather than fail the scan
		}

		if d.IsDir() {
			if matcher.Ignored(relPath + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&os.ModeSymlink == 0 {
			return nil // sockets, devices, etc. are never tracked content
		}
		if matcher.Ignored(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warnf("file disappeared during scan: %s", relPath)
				return nil
			}
			return &bundleerr.IoError{Path: string(relPath), Err: err}
		}

		entries[relPath] = Entry{
			Path:  relPath,
			Size:  info.Size(),
			Mtime: info.ModTime().UnixNano(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SortedPaths returns m's keys in lexicographic order.
func SortedPaths(m map[bundle.Path]Entry) []bundle.Path {
	paths := make([]bundle.Path, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}
