package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/tracked"
)

func TestBuildHashesTrackedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	set := tracked.New()
	a, err := bundle.NewPath("a.txt")
	require.NoError(t, err)
	missing, err := bundle.NewPath("gone.txt")
	require.NoError(t, err)
	set.Add(a)
	set.Add(missing)

	snap, err := Build(context.Background(), dir, set)
	require.NoError(t, err)
	require.Contains(t, snap.Files, a)
	require.Equal(t, int64(5), snap.Files[a].Size)
	require.Equal(t, []bundle.Path{missing}, snap.Missing)
}
