package localcas

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/google/uuid"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
)

// Materialize copies or links the cached object for digest to destPath,
// trying reflink then hardlink then plain copy when mode is LinkAuto.
// It always writes through a "<dest>.partial" temp file first, so a
// crash mid-materialize never leaves a partially written file at
// destPath.
func (s *Store) Materialize(digest bundle.Digest, destPath string, mode LinkMode) (retErr error) {
	srcPath, err := s.PathFor(digest)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(srcPath); err != nil {
		return &bundleerr.NotFoundError{Kind: "object", Ref: digest.String()}
	}

	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &bundleerr.IoError{Path: destDir, Err: err}
	}

	partialPath := destPath + ".partial." + uuid.NewString()
	defer func() {
		if retErr != nil {
			os.Remove(partialPath)
		}
	}()

	switch mode {
	case LinkReflink:
		if err := reflink(srcPath, partialPath); err != nil {
			return &bundleerr.IoError{Path: destPath, Err: err}
		}
	case LinkHardlink:
		if err := os.Link(srcPath, partialPath); err != nil {
			return &bundleerr.IoError{Path: destPath, Err: err}
		}
	case LinkCopy:
		if err := copyFile(srcPath, partialPath); err != nil {
			return err
		}
	case LinkAuto, "":
		if err := reflink(srcPath, partialPath); err != nil {
			os.Remove(partialPath) // a failed clone leaves an empty file behind
			if err := os.Link(srcPath, partialPath); err != nil {
				os.Remove(partialPath)
				if err := copyFile(srcPath, partialPath); err != nil {
					return err
				}
			}
		}
	default:
		return &bundleerr.InvalidInputError{Reason: "unknown cache link mode: " + string(mode)}
	}

	if mode == LinkCopy || (mode == LinkAuto && wasCopied(partialPath)) {
		if err := fsyncPath(partialPath); err != nil {
			return err
		}
	}

	if err := os.Rename(partialPath, destPath); err != nil {
		return &bundleerr.IoError{Path: destPath, Err: err}
	}
	return syncDir(destDir)
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return &bundleerr.IoError{Path: srcPath, Err: err}
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &bundleerr.IoError{Path: dstPath, Err: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &bundleerr.IoError{Path: dstPath, Err: err}
	}
	return nil
}

// reflink attempts a copy-on-write clone via the FICLONE ioctl, which
// fails on filesystems that don't support it (e.g. most non-btrfs/xfs
// setups). It does no fallback of its own; in LinkAuto mode its errors
// are expected and handled by the caller's fallback chain.
func reflink(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	return unix.IoctlFileClone(int(dst.Fd()), int(src.Fd()))
}

func wasCopied(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func fsyncPath(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return &bundleerr.IoError{Path: path, Err: err}
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return &bundleerr.IoError{Path: path, Err: err}
	}
	return nil
}
