// Package storagepolicy classifies each candidate file as OCI-stored or
// BLOB-stored, per the bundle's configured mode, size threshold, and
// forced path patterns.
package storagepolicy

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
)

// Mode selects the global default classification for paths that match
// neither force pattern.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeOCI      Mode = "oci-inline"
	ModeBlobOnly Mode = "blob-only"
)

// DefaultThresholdBytes is the auto-mode size cutoff absent a configured
// override: 50 MiB.
const DefaultThresholdBytes int64 = 52_428_800

// Policy is the immutable, validated classification ruleset for one
// bundle.
type Policy struct {
	Mode             Mode
	ThresholdBytes   int64
	BlobConfigured   bool
	ForceOCI         []string
	ForceBLOB        []string
}

// New validates and returns a Policy. ThresholdBytes of zero is replaced
// with DefaultThresholdBytes.
func New(mode Mode, thresholdBytes int64, blobConfigured bool, forceOCI, forceBLOB []string) (*Policy, error) {
	switch mode {
	case ModeAuto, ModeOCI, ModeBlobOnly:
	default:
		return nil, &bundleerr.ConfigurationError{Reason: "unknown storage.mode: " + string(mode)}
	}
	if thresholdBytes <= 0 {
		thresholdBytes = DefaultThresholdBytes
	}
	return &Policy{
		Mode:           mode,
		ThresholdBytes: thresholdBytes,
		BlobConfigured: blobConfigured,
		ForceOCI:       forceOCI,
		ForceBLOB:      forceBLOB,
	}, nil
}

// Classify decides storage for one file. A decision of BLOB without a
// configured blob provider is a configuration error surfaced at plan
// time, never discovered later at apply time.
func (p *Policy) Classify(path bundle.Path, size int64) (bundle.StorageKind, error) {
	pathStr := string(path)

	for _, pat := range p.ForceOCI {
		if match(pat, pathStr) {
			return bundle.StorageOCI, nil
		}
	}
	for _, pat := range p.ForceBLOB {
		if match(pat, pathStr) {
			return p.requireBlob()
		}
	}

	switch p.Mode {
	case ModeOCI:
		return bundle.StorageOCI, nil
	case ModeBlobOnly:
		return p.requireBlob()
	default: // ModeAuto
		if size >= p.ThresholdBytes {
			if p.BlobConfigured {
				return bundle.StorageBLOB, nil
			}
			return bundle.StorageOCI, nil
		}
		return bundle.StorageOCI, nil
	}
}

func (p *Policy) requireBlob() (bundle.StorageKind, error) {
	if !p.BlobConfigured {
		return "", &bundleerr.ConfigurationError{Reason: "BLOB storage required but no blob provider is configured"}
	}
	return bundle.StorageBLOB, nil
}

func match(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}
