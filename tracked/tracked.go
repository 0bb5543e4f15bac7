// Package tracked implements the persistent, ordered set of
// project-relative paths a user has declared as belonging to the bundle.
package tracked

import (
	"bufio"
	"bytes"
	"os"
	"sort"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/atomicfile"
)

// Set is an ordered, de-duplicated collection of tracked paths.
type Set struct {
	paths map[bundle.Path]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{paths: make(map[bundle.Path]struct{})}
}

// Load reads a Set from its persisted text form: one POSIX path per
// line, sorted. A missing file is treated as an empty set.
func Load(path string) (*Set, error) {
	s := New()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, &bundleerr.IoError{Path: path, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p, err := bundle.NewPath(line)
		if err != nil {
			return nil, err
		}
		s.paths[p] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, &bundleerr.IoError{Path: path, Err: err}
	}
	return s, nil
}

// Save persists s atomically: temp file in the same directory, fsync,
// rename, parent-directory fsync.
func (s *Set) Save(path string) error {
	var buf bytes.Buffer
	for _, p := range s.Sorted() {
		buf.WriteString(string(p))
		buf.WriteByte('\n')
	}
	return atomicfile.Write(path, buf.Bytes())
}

// Add inserts path, returning true if it was not already present.
func (s *Set) Add(path bundle.Path) bool {
	if _, ok := s.paths[path]; ok {
		return false
	}
	s.paths[path] = struct{}{}
	return true
}

// Remove deletes path, returning true if it was present.
func (s *Set) Remove(path bundle.Path) bool {
	if _, ok := s.paths[path]; !ok {
		return false
	}
	delete(s.paths, path)
	return true
}

// Contains reports whether path is tracked.
func (s *Set) Contains(path bundle.Path) bool {
	_, ok := s.paths[path]
	return ok
}

// Len returns the number of tracked paths.
func (s *Set) Len() int { return len(s.paths) }

// Sorted returns the tracked paths in lexicographic order.
func (s *Set) Sorted() []bundle.Path {
	out := make([]bundle.Path, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Replace discards the current contents and replaces them with paths.
func (s *Set) Replace(paths []bundle.Path) {
	s.paths = make(map[bundle.Path]struct{}, len(paths))
	for _, p := range paths {
		s.paths[p] = struct{}{}
	}
}
