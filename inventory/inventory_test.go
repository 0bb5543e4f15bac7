package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/ignore"
)

func TestScanBasic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.py"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("x"), 0o644))

	entries, err := Scan(context.Background(), dir, ignore.New(nil))
	require.NoError(t, err)

	p, err := bundle.NewPath("src/a.py")
	require.NoError(t, err)
	require.Contains(t, entries, p)
	require.Equal(t, int64(1), entries[p].Size)

	gitHead, err := bundle.NewPath(".git/HEAD")
	require.NoError(t, err)
	require.NotContains(t, entries, gitHead)
}

func TestScanSortedPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	entries, err := Scan(context.Background(), dir, ignore.New(nil))
	require.NoError(t, err)

	paths := SortedPaths(entries)
	require.Len(t, paths, 3)
	require.Equal(t, "a.txt", string(paths[0]))
	require.Equal(t, "b.txt", string(paths[1]))
	require.Equal(t, "c.txt", string(paths[2]))
}
