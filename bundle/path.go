// Package bundle defines the core data model shared across the bundle
// engine: project-relative paths, content digests, the file manifest
// (BundleIndex), and the bundle reference grammar.
package bundle

import (
	"strings"

	"github.com/modelops/bundle/bundleerr"
)

// Path is a project-relative, POSIX-form path: forward slashes only, no
// leading slash, no ".." components, no embedded NUL. All persisted and
// wire-serialized paths use this form; conversion to the native
// filesystem form happens only at disk I/O time.
type Path string

// NewPath validates raw and returns it as a Path, or an *bundleerr.InvalidInputError
// if it violates the path invariants.
func NewPath(raw string) (Path, error) {
	if raw == "" {
		return "", &bundleerr.InvalidInputError{Reason: "path is empty"}
	}
	if strings.ContainsRune(raw, 0) {
		return "", &bundleerr.InvalidInputError{Reason: "path contains a NUL byte: " + raw}
	}
	if strings.HasPrefix(raw, "/") {
		return "", &bundleerr.InvalidInputError{Reason: "path must be project-relative, not absolute: " + raw}
	}
	if strings.Contains(raw, "\\") {
		return "", &bundleerr.InvalidInputError{Reason: "path must use forward slashes: " + raw}
	}
	for _, part := range strings.Split(raw, "/") {
		switch part {
		case "":
			return "", &bundleerr.InvalidInputError{Reason: "path contains an empty segment: " + raw}
		case ".", "..":
			return "", &bundleerr.InvalidInputError{Reason: "path contains a relative component: " + raw}
		}
	}
	return Path(raw), nil
}

// String returns the path in its canonical POSIX form.
func (p Path) String() string { return string(p) }

// Less reports whether p sorts before q under plain byte-wise ordering,
// the ordering BundleIndex and TrackedSet persistence use.
func (p Path) Less(q Path) bool { return p < q }
