package tracked

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelops/bundle/bundle"
)

func mustPath(t *testing.T, s string) bundle.Path {
	t.Helper()
	p, err := bundle.NewPath(s)
	require.NoError(t, err)
	return p
}

func TestAddRemoveContains(t *testing.T) {
	s := New()
	p := mustPath(t, "src/a.py")
	require.True(t, s.Add(p))
	require.False(t, s.Add(p))
	require.True(t, s.Contains(p))
	require.True(t, s.Remove(p))
	require.False(t, s.Contains(p))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracked")

	s := New()
	s.Add(mustPath(t, "b.txt"))
	s.Add(mustPath(t, "a.txt"))
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())
	require.True(t, loaded.Contains(mustPath(t, "a.txt")))
	require.True(t, loaded.Contains(mustPath(t, "b.txt")))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "tracked"))
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())
}

func TestSortedOrder(t *testing.T) {
	s := New()
	s.Add(mustPath(t, "z.txt"))
	s.Add(mustPath(t, "a.txt"))
	s.Add(mustPath(t, "m.txt"))
	sorted := s.Sorted()
	require.Equal(t, []bundle.Path{"a.txt", "m.txt", "z.txt"}, sorted)
}
