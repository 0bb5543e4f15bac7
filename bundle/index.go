package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/modelops/bundle/bundleerr"
)

// StorageKind classifies where a FileEntry's bytes live.
type StorageKind string

const (
	StorageOCI  StorageKind = "oci"
	StorageBLOB StorageKind = "blob"
)

// SchemaVersion is the current BundleIndex schema version.
const SchemaVersion = "1.0"

// ToolName identifies this tool in BundleIndex.Tool.Name and as the
// default value baked into new indexes.
const ToolName = "modelops-bundle"

// ToolInfo records which tool produced a BundleIndex.
type ToolInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// BlobRef locates a FileEntry's content in external blob storage. Present
// iff the entry's Storage is StorageBLOB.
type BlobRef struct {
	URI string `json:"uri"`
}

// FileEntry is one record in a BundleIndex.
type FileEntry struct {
	Path    Path        `json:"path"`
	Digest  Digest      `json:"digest"`
	Size    int64       `json:"size"`
	Storage StorageKind `json:"storage"`
	BlobRef *BlobRef    `json:"blobRef,omitempty"`
}

// Validate checks the universal FileEntry invariants: well-formed digest,
// non-negative size, and blobRef present iff storage is BLOB.
func (e FileEntry) Validate() error {
	if !e.Digest.Valid() {
		return &bundleerr.InvalidInputError{Reason: fmt.Sprintf("entry %q has malformed digest %q", e.Path, e.Digest)}
	}
	if e.Size < 0 {
		return &bundleerr.InvalidInputError{Reason: fmt.Sprintf("entry %q has negative size %d", e.Path, e.Size)}
	}
	switch e.Storage {
	case StorageOCI:
		if e.BlobRef != nil {
			return &bundleerr.InvalidInputError{Reason: fmt.Sprintf("entry %q is OCI-stored but carries a blobRef", e.Path)}
		}
	case StorageBLOB:
		if e.BlobRef == nil {
			return &bundleerr.InvalidInputError{Reason: fmt.Sprintf("entry %q is BLOB-stored but has no blobRef", e.Path)}
		}
	default:
		return &bundleerr.InvalidInputError{Reason: fmt.Sprintf("entry %q has unknown storage kind %q", e.Path, e.Storage)}
	}
	return nil
}

// BundleIndex is the immutable content manifest of one bundle version,
// serialized as the OCI config blob. Construct it only through NewIndex;
// treat values as immutable once built.
type BundleIndex struct {
	Version string               `json:"version"`
	Created string               `json:"created"` // ISO-8601 UTC
	Tool    ToolInfo             `json:"tool"`
	Files   map[Path]FileEntry   `json:"files"`
}

// NewIndex builds a BundleIndex from entries, keyed by their own Path,
// which keeps the map-key-equals-field invariant by construction.
// Returns an error if any entry is invalid or two entries share a Path.
func NewIndex(created string, tool ToolInfo, entries []FileEntry) (*BundleIndex, error) {
	files := make(map[Path]FileEntry, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := files[e.Path]; dup {
			return nil, &bundleerr.InvalidInputError{Reason: fmt.Sprintf("duplicate path %q in index", e.Path)}
		}
		files[e.Path] = e
	}
	return &BundleIndex{
		Version: SchemaVersion,
		Created: created,
		Tool:    tool,
		Files:   files,
	}, nil
}

// rawIndex mirrors BundleIndex's wire shape with plain string map keys,
// used for canonical encoding and for parsing.
type rawIndex struct {
	Version string                 `json:"version"`
	Created string                 `json:"created"`
	Tool    ToolInfo               `json:"tool"`
	Files   map[string]FileEntry   `json:"files"`
}

// CanonicalBytes serializes idx deterministically: object keys sorted,
// no extraneous whitespace beyond what encoding/json emits for maps
// (Go's encoding/json already sorts map keys on marshal, which combined
// with a dedicated key type by path gives us the required canonical
// form). The returned bytes are what the config blob digest is computed
// over; serializing the same logical index twice yields identical bytes.
func (idx *BundleIndex) CanonicalBytes() ([]byte, error) {
	raw := rawIndex{
		Version: idx.Version,
		Created: idx.Created,
		Tool:    idx.Tool,
		Files:   make(map[string]FileEntry, len(idx.Files)),
	}
	for p, e := range idx.Files {
		raw.Files[string(p)] = e
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(raw); err != nil {
		return nil, err
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	return out, nil
}

// Digest returns the content digest of idx's canonical bytes — the
// value the OCI manifest's config descriptor references.
func (idx *BundleIndex) Digest() (Digest, error) {
	b, err := idx.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return FromBytes(b), nil
}

// SortedPaths returns idx's paths in lexicographic order, the order the
// files map is conceptually serialized in (encoding/json already sorts
// map[string]... keys, but callers iterating for layer-descriptor order
// need this explicitly).
func (idx *BundleIndex) SortedPaths() []Path {
	paths := make([]Path, 0, len(idx.Files))
	for p := range idx.Files {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// ParseIndex decodes canonical BundleIndex JSON, rejecting any unknown
// field at the top level or within a file entry. New optional fields
// should be added to FileEntry and ToolInfo as pointers so omission
// still round-trips; this parser intentionally does not tolerate fields
// it has never heard of.
func ParseIndex(b []byte) (*BundleIndex, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var raw rawIndex
	if err := dec.Decode(&raw); err != nil {
		return nil, &bundleerr.InvalidInputError{Reason: "malformed BundleIndex: " + err.Error()}
	}
	idx := &BundleIndex{
		Version: raw.Version,
		Created: raw.Created,
		Tool:    raw.Tool,
		Files:   make(map[Path]FileEntry, len(raw.Files)),
	}
	for k, e := range raw.Files {
		p, err := NewPath(k)
		if err != nil {
			return nil, err
		}
		if e.Path != p {
			return nil, &bundleerr.InvalidInputError{Reason: fmt.Sprintf("entry key %q does not match entry path %q", k, e.Path)}
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		idx.Files[p] = e
	}
	return idx, nil
}
