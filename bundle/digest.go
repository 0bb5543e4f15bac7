package bundle

import (
	"fmt"
	"regexp"

	godigest "github.com/opencontainers/go-digest"

	"github.com/modelops/bundle/bundleerr"
)

// Digest is a content digest of the form "sha256:" followed by 64
// lowercase hex characters. It wraps github.com/opencontainers/go-digest
// but enforces the stricter sha256-only grammar this system requires,
// since digests here double as cache path components and must be
// validated before any path is constructed from them.
type Digest string

var digestPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// NewDigest validates raw against the strict sha256 grammar.
func NewDigest(raw string) (Digest, error) {
	if !digestPattern.MatchString(raw) {
		return "", &bundleerr.InvalidInputError{Reason: fmt.Sprintf("malformed digest: %q", raw)}
	}
	return Digest(raw), nil
}

// FromBytes computes the canonical digest of b.
func FromBytes(b []byte) Digest {
	return Digest(godigest.FromBytes(b).String())
}

// String returns the digest in "sha256:<hex>" form.
func (d Digest) String() string { return string(d) }

// Hex returns the 64-character hex portion of the digest, with no
// algorithm prefix.
func (d Digest) Hex() string {
	const prefixLen = len("sha256:")
	if len(d) <= prefixLen {
		return ""
	}
	return string(d)[prefixLen:]
}

// ShardPath returns the "<d0d1>/<d2d3>/<hex>" path fragment LocalCAS and
// the blob URI scheme both use to bucket objects by digest prefix.
func (d Digest) ShardPath() string {
	hex := d.Hex()
	if len(hex) < 4 {
		return hex
	}
	return hex[0:2] + "/" + hex[2:4] + "/" + hex
}

// Valid reports whether d matches the strict sha256 grammar.
func (d Digest) Valid() bool { return digestPattern.MatchString(string(d)) }

// ToGoDigest converts d to the upstream digest.Digest, e.g. to hand to a
// go-digest-based API such as image-spec descriptors.
func (d Digest) ToGoDigest() godigest.Digest { return godigest.Digest(d) }
