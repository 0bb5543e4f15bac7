// Package atomicfile writes files via temp-file-then-rename, the pattern
// used throughout the cache and project metadata layers so that a crash
// never leaves a half-written file where a reader expects one.
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/modelops/bundle/bundleerr"
)

// Write atomically replaces the file at path with data: write to a temp
// file in the same directory, fsync it, rename over path, then fsync the
// parent directory so the rename itself survives a crash.
func Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &bundleerr.IoError{Path: dir, Err: err}
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &bundleerr.IoError{Path: tmpPath, Err: err}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &bundleerr.IoError{Path: tmpPath, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &bundleerr.IoError{Path: tmpPath, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return &bundleerr.IoError{Path: tmpPath, Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &bundleerr.IoError{Path: path, Err: err}
	}

	return syncDir(dir)
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
