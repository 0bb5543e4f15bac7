package planner

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelops/bundle/blobstore"
	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/localcas"
	"github.com/modelops/bundle/snapshot"
	"github.com/modelops/bundle/storagepolicy"
	"github.com/modelops/bundle/syncstate"
)

type fakeBlobAdapter struct {
	builtURIs map[bundle.Digest]string
}

func newFakeBlobAdapter() *fakeBlobAdapter {
	return &fakeBlobAdapter{builtURIs: make(map[bundle.Digest]string)}
}

func (f *fakeBlobAdapter) PutByDigest(ctx context.Context, digest bundle.Digest, size int64, r io.Reader) error {
	return nil
}
func (f *fakeBlobAdapter) GetByDigest(ctx context.Context, digest bundle.Digest, w io.Writer) error {
	return nil
}
func (f *fakeBlobAdapter) ExistsByDigest(ctx context.Context, digest bundle.Digest) (bool, error) {
	return false, nil
}
func (f *fakeBlobAdapter) BuildURI(digest bundle.Digest) string {
	uri := "fake://bucket/" + digest.Hex()
	f.builtURIs[digest] = uri
	return uri
}

var _ blobstore.Adapter = (*fakeBlobAdapter)(nil)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func autoPolicy(t *testing.T, blobConfigured bool) *storagepolicy.Policy {
	t.Helper()
	p, err := storagepolicy.New(storagepolicy.ModeAuto, 10, blobConfigured, nil, nil)
	require.NoError(t, err)
	return p
}

func snapOf(files map[bundle.Path]int64) *snapshot.Snapshot {
	snap := &snapshot.Snapshot{Files: make(map[bundle.Path]snapshot.FileDigest, len(files))}
	for p, size := range files {
		digest := bundle.FromBytes([]byte(string(p)))
		snap.Files[p] = snapshot.FileDigest{Digest: digest, Size: size}
	}
	return snap
}

func TestPlanPushRoutesBLOBFilesThroughAdapter(t *testing.T) {
	snap := snapOf(map[bundle.Path]int64{
		"big.bin":   100, // over the 10-byte threshold -> BLOB
		"small.txt": 1,   // under threshold -> OCI
	})

	policy := autoPolicy(t, true)
	blobs := newFakeBlobAdapter()
	state := syncstate.New()

	plan, err := PlanPush(context.Background(), snap, "", nil, state, policy, nil, blobs, false, "test", fixedNow)
	require.NoError(t, err)
	require.Len(t, plan.UploadsBLOB, 1)
	require.Equal(t, bundle.Path("big.bin"), plan.UploadsBLOB[0].Path)

	entry := plan.NewIndex.Files["big.bin"]
	require.Equal(t, bundle.StorageBLOB, entry.Storage)
	require.NotNil(t, entry.BlobRef)
	require.Equal(t, blobs.builtURIs[entry.Digest], entry.BlobRef.URI)
	require.NotEmpty(t, entry.BlobRef.URI)

	smallEntry := plan.NewIndex.Files["small.txt"]
	require.Equal(t, bundle.StorageOCI, smallEntry.Storage)
	require.Nil(t, smallEntry.BlobRef)
}

func TestPlanPushBLOBWithoutAdapterIsConfigurationError(t *testing.T) {
	snap := snapOf(map[bundle.Path]int64{"big.bin": 100})
	policy := autoPolicy(t, true)
	state := syncstate.New()

	_, err := PlanPush(context.Background(), snap, "", nil, state, policy, nil, nil, false, "test", fixedNow)
	require.Error(t, err)
	var cfgErr *bundleerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestPlanPushDetectsTagMoved(t *testing.T) {
	snap := snapOf(map[bundle.Path]int64{"a.txt": 1})
	policy := autoPolicy(t, false)
	state := syncstate.New()
	state.LastPushDigest = "sha256:aaaa"

	_, err := PlanPush(context.Background(), snap, "sha256:bbbb", nil, state, policy, nil, nil, false, "test", fixedNow)
	require.Error(t, err)
	var tagMoved *bundleerr.TagMovedError
	require.ErrorAs(t, err, &tagMoved)
}

func TestPlanPushForceBypassesTagMovedCheck(t *testing.T) {
	snap := snapOf(map[bundle.Path]int64{"a.txt": 1})
	policy := autoPolicy(t, false)
	state := syncstate.New()
	state.LastPushDigest = "sha256:aaaa"

	plan, err := PlanPush(context.Background(), snap, "sha256:bbbb", nil, state, policy, nil, nil, true, "test", fixedNow)
	require.NoError(t, err)
	require.Equal(t, bundle.Digest("sha256:bbbb"), plan.PreviousDigest)
}

func TestPlanPushSkipsUploadWhenAlreadyCached(t *testing.T) {
	snap := snapOf(map[bundle.Path]int64{"a.txt": 1})
	policy := autoPolicy(t, false)
	state := syncstate.New()
	cas := localcas.New(t.TempDir())

	digest := bundle.FromBytes([]byte("a.txt"))
	_, err := cas.EnsurePresent(context.Background(), digest, func(ctx context.Context, tempPath string) error {
		return os.WriteFile(tempPath, []byte("a.txt"), 0o644)
	})
	require.NoError(t, err)

	plan, err := PlanPush(context.Background(), snap, "", nil, state, policy, cas, nil, false, "test", fixedNow)
	require.NoError(t, err)
	require.Empty(t, plan.UploadsOCI)
}

func TestPlanPullSafetyGuardTripsOnModifiedLocal(t *testing.T) {
	snap := snapOf(map[bundle.Path]int64{"a.txt": 1})

	remoteDigest := bundle.Digest("sha256:remote")
	// Remote is unchanged since the last sync; local has since diverged
	// from both, which is exactly what MODIFIED_LOCAL means.
	remoteUnchanged := bundle.FromBytes([]byte("remote unchanged"))
	remoteEntry := bundle.FileEntry{Path: "a.txt", Digest: remoteUnchanged, Size: 1, Storage: bundle.StorageOCI}
	idx, err := bundle.NewIndex("2026-01-01T00:00:00Z", bundle.ToolInfo{Name: bundle.ToolName, Version: "test"}, []bundle.FileEntry{remoteEntry})
	require.NoError(t, err)

	state := syncstate.New()
	state.LastSyncedFiles = map[bundle.Path]bundle.Digest{"a.txt": remoteUnchanged}

	_, err = PlanPull(snap, remoteDigest, idx, nil, state, false, false)
	require.Error(t, err)
	var guard *bundleerr.SafetyGuardError
	require.ErrorAs(t, err, &guard)
}

func TestPlanPullOverwriteBypassesSafetyGuard(t *testing.T) {
	snap := snapOf(map[bundle.Path]int64{"a.txt": 1})

	remoteDigest := bundle.Digest("sha256:remote")
	// Remote is unchanged since the last sync; local has since diverged
	// from both, which is exactly what MODIFIED_LOCAL means.
	remoteUnchanged := bundle.FromBytes([]byte("remote unchanged"))
	remoteEntry := bundle.FileEntry{Path: "a.txt", Digest: remoteUnchanged, Size: 1, Storage: bundle.StorageOCI}
	idx, err := bundle.NewIndex("2026-01-01T00:00:00Z", bundle.ToolInfo{Name: bundle.ToolName, Version: "test"}, []bundle.FileEntry{remoteEntry})
	require.NoError(t, err)

	state := syncstate.New()
	state.LastSyncedFiles = map[bundle.Path]bundle.Digest{"a.txt": remoteUnchanged}

	plan, err := PlanPull(snap, remoteDigest, idx, nil, state, true, false)
	require.NoError(t, err)
	require.Len(t, plan.ToFetch, 1)
}

func TestPlanPullMirrorDeletesLocalOnlyAdditions(t *testing.T) {
	snap := snapOf(map[bundle.Path]int64{"local-only.txt": 1})

	remoteDigest := bundle.Digest("sha256:remote")
	idx, err := bundle.NewIndex("2026-01-01T00:00:00Z", bundle.ToolInfo{Name: bundle.ToolName, Version: "test"}, nil)
	require.NoError(t, err)

	state := syncstate.New()

	plan, err := PlanPull(snap, remoteDigest, idx, nil, state, false, true)
	require.NoError(t, err)
	require.Equal(t, []bundle.Path{"local-only.txt"}, plan.ToDelete)
}

func TestPlanPullWithoutMirrorPreservesLocalOnlyAdditions(t *testing.T) {
	snap := snapOf(map[bundle.Path]int64{"local-only.txt": 1})

	remoteDigest := bundle.Digest("sha256:remote")
	idx, err := bundle.NewIndex("2026-01-01T00:00:00Z", bundle.ToolInfo{Name: bundle.ToolName, Version: "test"}, nil)
	require.NoError(t, err)

	state := syncstate.New()

	plan, err := PlanPull(snap, remoteDigest, idx, nil, state, false, false)
	require.NoError(t, err)
	require.Empty(t, plan.ToDelete)
}
