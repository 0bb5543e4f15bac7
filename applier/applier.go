// Package applier implements Applier: the "do" half of the two-phase
// plan/apply protocol. It takes a planner.PushPlan or planner.PullPlan
// computed entirely over digests and executes the actual content I/O,
// updating SyncState only after every step succeeds.
package applier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"

	specs "github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	"github.com/modelops/bundle/blobstore"
	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/dcontext"
	"github.com/modelops/bundle/localcas"
	"github.com/modelops/bundle/ociregistry"
	"github.com/modelops/bundle/planner"
	"github.com/modelops/bundle/registryadapter"
	"github.com/modelops/bundle/syncstate"
	"github.com/modelops/bundle/tracked"
)

// NetworkConcurrency bounds simultaneous registry/blobstore I/O.
// Overridable in tests.
var NetworkConcurrency = 8

// Applier executes plans against a registry, optional blob storage, the
// local CAS, and the project's working tree.
type Applier struct {
	Registry  registryadapter.Adapter
	Blob      blobstore.Adapter // nil if no external blob storage configured
	CAS       *localcas.Store
	Root      string
	Tag       string
	LinkMode  localcas.LinkMode
}

// New returns an Applier.
func New(registry registryadapter.Adapter, blob blobstore.Adapter, cas *localcas.Store, root, tag string, linkMode localcas.LinkMode) *Applier {
	return &Applier{Registry: registry, Blob: blob, CAS: cas, Root: root, Tag: tag, LinkMode: linkMode}
}

// ApplyPush executes a push plan: upload every BLOB file to external
// storage, every OCI file as a layer blob, the index as the config
// blob, then compare-and-set the manifest onto the tag. SyncState is
// only updated after the manifest PUT succeeds.
func (a *Applier) ApplyPush(ctx context.Context, plan *planner.PushPlan, state *syncstate.State) error {
	log := dcontext.GetLogger(ctx)

	if len(plan.UploadsBLOB) > 0 && a.Blob == nil {
		return &bundleerr.ConfigurationError{Reason: "push plan requires blob storage but none is configured"}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(NetworkConcurrency)

	for _, item := range plan.UploadsBLOB {
		item := item
		g.Go(func() error {
			return a.uploadBlob(gctx, item)
		})
	}
	for _, item := range plan.UploadsOCI {
		item := item
		g.Go(func() error {
			return a.uploadOCILayer(gctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	indexBytes, err := plan.NewIndex.CanonicalBytes()
	if err != nil {
		return err
	}
	if err := a.Registry.PutBlob(ctx, bundle.FromBytes(indexBytes), int64(len(indexBytes)), bytes.NewReader(indexBytes)); err != nil {
		return err
	}
	manifestBytes, err := buildManifest(plan, indexBytes)
	if err != nil {
		return err
	}

	// Re-resolve the tag immediately before the write: blob uploads above
	// took real time, so another pusher may have moved it since PlanPush
	// made its own check. This is the apply-time half of the compare-
	// and-set the registry itself doesn't give us (spec.md §4.11 Push
	// Apply step 4, §9).
	currentDigest, err := a.currentTagDigest(ctx)
	if err != nil {
		return err
	}
	if currentDigest != plan.PreviousDigest {
		return &bundleerr.TagMovedError{Tag: a.Tag, Expected: string(plan.PreviousDigest), Actual: string(currentDigest)}
	}

	newDigest, err := a.Registry.PutManifest(ctx, manifestBytes, v1.MediaTypeImageManifest, a.Tag)
	if err != nil {
		return err
	}

	synced := make(map[bundle.Path]bundle.Digest, len(plan.NewIndex.Files))
	for p, e := range plan.NewIndex.Files {
		synced[p] = e.Digest
	}
	state.RecordPush(newDigest, synced)
	log.Infof("pushed %s -> %s", a.Tag, newDigest)
	return nil
}

// currentTagDigest resolves a.Tag's current digest, returning "" if the
// tag does not exist — the same sentinel PlanPush uses for "tag absent".
func (a *Applier) currentTagDigest(ctx context.Context) (bundle.Digest, error) {
	digest, err := a.Registry.GetTag(ctx, a.Tag)
	if err != nil {
		var notFound *bundleerr.NotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", err
	}
	return digest, nil
}

func (a *Applier) uploadBlob(ctx context.Context, item planner.UploadBLOB) error {
	localPath := filepath.Join(a.Root, filepath.FromSlash(string(item.Path)))
	f, err := os.Open(localPath)
	if err != nil {
		return &bundleerr.IoError{Path: localPath, Err: err}
	}
	defer f.Close()
	return a.Blob.PutByDigest(ctx, item.Digest, item.Size, f)
}

func (a *Applier) uploadOCILayer(ctx context.Context, item planner.UploadOCI) error {
	localPath := filepath.Join(a.Root, filepath.FromSlash(string(item.Path)))
	f, err := os.Open(localPath)
	if err != nil {
		return &bundleerr.IoError{Path: localPath, Err: err}
	}
	defer f.Close()
	return a.Registry.PutBlob(ctx, item.Digest, item.Size, f)
}

// buildManifest assembles an OCI manifest whose layers are the pushed
// plan's OCI files plus the config blob holding the canonical index.
func buildManifest(plan *planner.PushPlan, indexBytes []byte) ([]byte, error) {
	configDigest := bundle.FromBytes(indexBytes)

	var layers []v1.Descriptor
	for p, e := range plan.NewIndex.Files {
		if e.Storage != bundle.StorageOCI {
			continue
		}
		layers = append(layers, v1.Descriptor{
			MediaType: "application/octet-stream",
			Digest:    e.Digest.ToGoDigest(),
			Size:      e.Size,
			Annotations: map[string]string{
				"org.opencontainers.image.title": string(p),
			},
		})
	}

	m := v1.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageManifest,
		Config: v1.Descriptor{
			MediaType: ociregistry.ConfigMediaType,
			Digest:    configDigest.ToGoDigest(),
			Size:      int64(len(indexBytes)),
		},
		Layers: layers,
	}
	return marshalManifest(m)
}

// ApplyPull executes a pull plan: fetch every planned file into the
// local CAS then materialize it into the working tree, delete files the
// plan calls for, and update SyncState/TrackedSet only once every
// content operation has succeeded.
func (a *Applier) ApplyPull(ctx context.Context, plan *planner.PullPlan, state *syncstate.State, set *tracked.Set) error {
	log := dcontext.GetLogger(ctx)

	g, gctx := errgroup.WithContext(ctx)
	limit := NetworkConcurrency
	if limit > runtime.NumCPU()*2 {
		limit = runtime.NumCPU() * 2
	}
	g.SetLimit(limit)

	for _, item := range plan.ToFetch {
		item := item
		g.Go(func() error {
			return a.fetchOne(gctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range plan.ToDelete {
		localPath := filepath.Join(a.Root, filepath.FromSlash(string(p)))
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			return &bundleerr.IoError{Path: localPath, Err: err}
		}
		set.Remove(p)
	}

	synced := make(map[bundle.Path]bundle.Digest, len(plan.RemoteIndex.Files))
	for p, e := range plan.RemoteIndex.Files {
		if _, deleted := deletedSet(plan.ToDelete)[p]; deleted {
			continue
		}
		synced[p] = e.Digest
		set.Add(p)
	}
	state.RecordPull(plan.RemoteDigest, synced)
	log.Infof("pulled %s -> %s", a.Tag, plan.RemoteDigest)
	return nil
}

func deletedSet(paths []bundle.Path) map[bundle.Path]struct{} {
	out := make(map[bundle.Path]struct{}, len(paths))
	for _, p := range paths {
		out[p] = struct{}{}
	}
	return out
}

func (a *Applier) fetchOne(ctx context.Context, item planner.FetchItem) error {
	var fetch localcas.FetchFunc
	switch item.Storage {
	case bundle.StorageBLOB:
		if a.Blob == nil {
			return &bundleerr.ConfigurationError{Reason: "pull plan requires blob storage but none is configured"}
		}
		fetch = func(ctx context.Context, tempPath string) error {
			f, err := os.Create(tempPath)
			if err != nil {
				return &bundleerr.IoError{Path: tempPath, Err: err}
			}
			defer f.Close()
			return a.Blob.GetByDigest(ctx, item.Digest, f)
		}
	default:
		fetch = func(ctx context.Context, tempPath string) error {
			f, err := os.Create(tempPath)
			if err != nil {
				return &bundleerr.IoError{Path: tempPath, Err: err}
			}
			defer f.Close()
			return a.Registry.GetBlob(ctx, item.Digest, f)
		}
	}

	if _, err := a.CAS.EnsurePresent(ctx, item.Digest, fetch); err != nil {
		return err
	}

	destPath := filepath.Join(a.Root, filepath.FromSlash(string(item.Path)))
	return a.CAS.Materialize(item.Digest, destPath, a.LinkMode)
}

func marshalManifest(m v1.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, &bundleerr.IoError{Path: "<manifest>", Err: err}
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
