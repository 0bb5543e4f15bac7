package bundle

import (
	"strings"

	"github.com/distribution/reference"

	"github.com/modelops/bundle/bundleerr"
)

// DefaultTag is used when a BundleRef names a repository with no tag or
// digest, matching config.yaml's default_tag.
const DefaultTag = "latest"

// BundleRef identifies a bundle's home repository and, within it, either
// a mutable tag or an immutable digest. After resolution (RegistryAdapter
// .resolveTag), every downstream operation addresses content by digest
// only; BundleRef is purely the user-facing naming surface.
type BundleRef struct {
	Named  reference.Named
	Tag    string // empty if Digest is set
	Digest Digest // empty if Tag is set
}

// ParseBundleRef parses raw ("host/repo", "host/repo:tag", or
// "host/repo@sha256:...") using the distribution reference grammar. A
// bare repository with no tag or digest defaults to DefaultTag.
func ParseBundleRef(raw string) (*BundleRef, error) {
	named, err := reference.ParseNormalizedNamed(raw)
	if err != nil {
		return nil, &bundleerr.InvalidInputError{Reason: "malformed bundle reference " + strings.TrimSpace(raw) + ": " + err.Error()}
	}

	if canonical, ok := named.(reference.Canonical); ok {
		d, err := NewDigest(canonical.Digest().String())
		if err != nil {
			return nil, err
		}
		return &BundleRef{Named: reference.TrimNamed(named), Digest: d}, nil
	}

	if tagged, ok := named.(reference.Tagged); ok {
		return &BundleRef{Named: reference.TrimNamed(named), Tag: tagged.Tag()}, nil
	}

	return &BundleRef{Named: named, Tag: DefaultTag}, nil
}

// WithTag returns a reference.Named carrying ref's tag, for adapters that
// need a fully qualified reference to call out to the registry with.
func (r *BundleRef) WithTag() (reference.Named, error) {
	if r.Tag == "" {
		return nil, &bundleerr.InvalidInputError{Reason: "bundle reference has no tag to qualify"}
	}
	return reference.WithTag(r.Named, r.Tag)
}

// WithDigest returns a reference.Canonical carrying ref's digest.
func (r *BundleRef) WithDigest() (reference.Canonical, error) {
	if r.Digest == "" {
		return nil, &bundleerr.InvalidInputError{Reason: "bundle reference has no digest to qualify"}
	}
	return reference.WithDigest(r.Named, r.Digest.ToGoDigest())
}

// String renders the ref back to its user-facing form.
func (r *BundleRef) String() string {
	if r.Digest != "" {
		return r.Named.Name() + "@" + r.Digest.String()
	}
	return r.Named.Name() + ":" + r.Tag
}
