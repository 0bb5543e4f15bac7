// Package planner implements PlanBuilder: the push and pull plan
// construction from spec.md §4.11, the "decide" half of the two-phase
// plan/apply protocol.
package planner

import (
	"context"
	"time"

	"github.com/modelops/bundle/blobstore"
	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/diffengine"
	"github.com/modelops/bundle/localcas"
	"github.com/modelops/bundle/registryadapter"
	"github.com/modelops/bundle/snapshot"
	"github.com/modelops/bundle/storagepolicy"
	"github.com/modelops/bundle/syncstate"
)

// UploadOCI is one file to be uploaded as an OCI layer blob.
type UploadOCI struct {
	Path   bundle.Path
	Digest bundle.Digest
	Size   int64
}

// UploadBLOB is one file to be uploaded to external blob storage.
type UploadBLOB struct {
	Path   bundle.Path
	Digest bundle.Digest
	Size   int64
	URI    string
}

// PushPlan is the complete, immutable decision for one push operation,
// computed entirely over digests captured at plan time.
type PushPlan struct {
	PreviousDigest bundle.Digest // empty if the tag did not exist
	UploadsOCI     []UploadOCI
	UploadsBLOB    []UploadBLOB
	NewIndex       *bundle.BundleIndex
	Diff           map[bundle.Path]bundle.DiffEntry
}

// FetchItem is one file planned for download during pull apply.
type FetchItem struct {
	Path    bundle.Path
	Digest  bundle.Digest
	Storage bundle.StorageKind
	BlobURI string
}

// PullPlan is the complete decision for one pull operation.
type PullPlan struct {
	RemoteDigest bundle.Digest
	RemoteIndex  *bundle.BundleIndex
	ToFetch      []FetchItem
	ToDelete     []bundle.Path
	Diff         map[bundle.Path]bundle.DiffEntry
}

// PlanPush builds a PushPlan. previousDigest/previousFiles describe the
// tag's current state as resolved just now by the caller (RegistryAdapter
// .resolveTag); an empty previousDigest means the tag does not exist
// yet. Mirror semantics: the new remote will equal the local tracked
// set exactly.
func PlanPush(
	ctx context.Context,
	localSnap *snapshot.Snapshot,
	previousDigest bundle.Digest,
	previousFiles map[bundle.Path]bundle.Digest,
	state *syncstate.State,
	policy *storagepolicy.Policy,
	cas *localcas.Store,
	blobs blobstore.Adapter,
	force bool,
	toolVersion string,
	now func() time.Time,
) (*PushPlan, error) {
	if previousDigest != "" && previousDigest != state.LastPushDigest && !force {
		return nil, &bundleerr.TagMovedError{
			Tag:      "",
			Expected: string(state.LastPushDigest),
			Actual:   string(previousDigest),
		}
	}

	local := make(map[bundle.Path]bundle.Digest, len(localSnap.Files))
	for p, fd := range localSnap.Files {
		local[p] = fd.Digest
	}

	diff := diffengine.Diff(local, previousFiles, state.LastSyncedFiles)

	entries := make([]bundle.FileEntry, 0, len(localSnap.Files))
	var uploadsOCI []UploadOCI
	var uploadsBLOB []UploadBLOB

	for p, fd := range localSnap.Files {
		kind, err := policy.Classify(p, fd.Size)
		if err != nil {
			return nil, err
		}

		entry := bundle.FileEntry{Path: p, Digest: fd.Digest, Size: fd.Size, Storage: kind}

		switch kind {
		case bundle.StorageOCI:
			present := false
			if cas != nil {
				present, _ = cas.Has(fd.Digest)
			}
			if !present {
				uploadsOCI = append(uploadsOCI, UploadOCI{Path: p, Digest: fd.Digest, Size: fd.Size})
			}
		case bundle.StorageBLOB:
			if blobs == nil {
				return nil, &bundleerr.ConfigurationError{Reason: "path " + string(p) + " classified as BLOB but no blob adapter is configured"}
			}
			uri := blobs.BuildURI(fd.Digest)
			entry.BlobRef = &bundle.BlobRef{URI: uri}
			uploadsBLOB = append(uploadsBLOB, UploadBLOB{Path: p, Digest: fd.Digest, Size: fd.Size, URI: uri})
		}
		entries = append(entries, entry)
	}

	idx, err := bundle.NewIndex(now().UTC().Format(time.RFC3339), bundle.ToolInfo{Name: bundle.ToolName, Version: toolVersion}, entries)
	if err != nil {
		return nil, err
	}

	return &PushPlan{
		PreviousDigest: previousDigest,
		UploadsOCI:     uploadsOCI,
		UploadsBLOB:    uploadsBLOB,
		NewIndex:       idx,
		Diff:           diff,
	}, nil
}

// PlanPull builds a PullPlan and runs the safety verdict: unless
// overwrite is set, any MODIFIED_LOCAL, DELETED_REMOTE, or CONFLICT
// entry fails the whole plan before any content is touched.
func PlanPull(
	localSnap *snapshot.Snapshot,
	remoteDigest bundle.Digest,
	remoteIndex *bundle.BundleIndex,
	remoteLayers map[bundle.Path]registryadapter.LayerDescriptor,
	state *syncstate.State,
	overwrite bool,
	mirror bool,
) (*PullPlan, error) {
	local := make(map[bundle.Path]bundle.Digest, len(localSnap.Files))
	for p, fd := range localSnap.Files {
		local[p] = fd.Digest
	}
	remote := make(map[bundle.Path]bundle.Digest, len(remoteIndex.Files))
	for p, e := range remoteIndex.Files {
		remote[p] = e.Digest
	}

	diff := diffengine.Diff(local, remote, state.LastSyncedFiles)

	if !overwrite {
		var unsafe []bundle.Path
		for p, entry := range diff {
			switch entry.State {
			case bundle.ModifiedLocal, bundle.DeletedRemote, bundle.Conflict:
				unsafe = append(unsafe, p)
			}
		}
		if len(unsafe) > 0 {
			return nil, &bundleerr.SafetyGuardError{Reason: "pull would overwrite or delete local changes", Paths: unsafe}
		}
	}

	var toFetch []FetchItem
	var toDelete []bundle.Path

	for p, entry := range diff {
		switch entry.State {
		case bundle.AddedRemote, bundle.ModifiedRemote, bundle.DeletedLocal:
			remoteEntry := remoteIndex.Files[p]
			item := FetchItem{Path: p, Digest: remoteEntry.Digest, Storage: remoteEntry.Storage}
			if remoteEntry.BlobRef != nil {
				item.BlobURI = remoteEntry.BlobRef.URI
			}
			toFetch = append(toFetch, item)
		case bundle.DeletedRemote:
			toDelete = append(toDelete, p)
		case bundle.ModifiedLocal, bundle.Conflict:
			// only reachable here if overwrite was set; remote wins.
			remoteEntry, ok := remoteIndex.Files[p]
			if ok {
				item := FetchItem{Path: p, Digest: remoteEntry.Digest, Storage: remoteEntry.Storage}
				if remoteEntry.BlobRef != nil {
					item.BlobURI = remoteEntry.BlobRef.URI
				}
				toFetch = append(toFetch, item)
			} else {
				toDelete = append(toDelete, p)
			}
		case bundle.AddedLocal:
			// Preserved by default; only a mirror pull deletes local-only
			// additions so the working tree ends up exactly matching the
			// remote file set (spec.md §4.11 Pull Plan step 5).
			if mirror {
				toDelete = append(toDelete, p)
			}
		}
	}

	return &PullPlan{
		RemoteDigest: remoteDigest,
		RemoteIndex:  remoteIndex,
		ToFetch:      toFetch,
		ToDelete:     toDelete,
		Diff:         diff,
	}, nil
}
