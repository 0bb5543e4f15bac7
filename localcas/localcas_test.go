package localcas

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
)

const testContent = "hello world"

var testDigest = bundle.FromBytes([]byte(testContent))

func TestEnsurePresentFetchesOnce(t *testing.T) {
	store := New(t.TempDir())
	var calls int32

	fetch := func(ctx context.Context, tempPath string) error {
		atomic.AddInt32(&calls, 1)
		return os.WriteFile(tempPath, []byte(testContent), 0o644)
	}

	path, err := store.EnsurePresent(context.Background(), testDigest, fetch)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, testContent, string(data))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Second call observes the promoted object; fetch is not invoked again.
	_, err = store.EnsurePresent(context.Background(), testDigest, fetch)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEnsurePresentDigestMismatch(t *testing.T) {
	store := New(t.TempDir())
	fetch := func(ctx context.Context, tempPath string) error {
		return os.WriteFile(tempPath, []byte("wrong content"), 0o644)
	}

	_, err := store.EnsurePresent(context.Background(), testDigest, fetch)
	require.Error(t, err)
	var mismatch *bundleerr.DigestMismatchError
	require.ErrorAs(t, err, &mismatch)

	present, err := store.Has(testDigest)
	require.NoError(t, err)
	require.False(t, present)
}

func TestHas(t *testing.T) {
	store := New(t.TempDir())
	present, err := store.Has(testDigest)
	require.NoError(t, err)
	require.False(t, present)

	_, err = store.EnsurePresent(context.Background(), testDigest, func(ctx context.Context, tempPath string) error {
		return os.WriteFile(tempPath, []byte(testContent), 0o644)
	})
	require.NoError(t, err)

	present, err = store.Has(testDigest)
	require.NoError(t, err)
	require.True(t, present)
}

func TestMaterializeCopy(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.EnsurePresent(context.Background(), testDigest, func(ctx context.Context, tempPath string) error {
		return os.WriteFile(tempPath, []byte(testContent), 0o644)
	})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, store.Materialize(testDigest, dest, LinkCopy))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, testContent, string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	require.Len(t, entries, 1) // no leftover .partial files
}

func TestMaterializeMissingObject(t *testing.T) {
	store := New(t.TempDir())
	dest := filepath.Join(t.TempDir(), "out.txt")
	err := store.Materialize(testDigest, dest, LinkCopy)
	require.Error(t, err)
}
