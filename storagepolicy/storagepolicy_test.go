package storagepolicy

import (
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

func TestAutoModeThresholdBoundary(t *testing.T) {
	p, err := New(ModeAuto, 100, true, nil, nil)
	require.NoError(t, err)

	kind, err := p.Classify(mustPath(t, "data/x.bin"), 100)
	require.NoError(t, err)
	require.Equal(t, bundle.StorageBLOB, kind)

	kind, err = p.Classify(mustPath(t, "data/x.bin"), 99)
	require.NoError(t, err)
	require.Equal(t, bundle.StorageOCI, kind)
}

func TestAutoModeNoProviderFallsBackToOCI(t *testing.T) {
	p, err := New(ModeAuto, 100, false, nil, nil)
	require.NoError(t, err)

	kind, err := p.Classify(mustPath(t, "data/x.bin"), 1000)
	require.NoError(t, err)
	require.Equal(t, bundle.StorageOCI, kind)
}

func TestForcePatternsOverrideMode(t *testing.T) {
	p, err := New(ModeBlobOnly, 100, true, []string{"**/*.py"}, nil)
	require.NoError(t, err)

	kind, err := p.Classify(mustPath(t, "src/model.py"), 10)
	require.NoError(t, err)
	require.Equal(t, bundle.StorageOCI, kind)

	kind, err = p.Classify(mustPath(t, "data/x.csv"), 10)
	require.NoError(t, err)
	require.Equal(t, bundle.StorageBLOB, kind)
}

func TestForceBlobWithoutProviderIsConfigError(t *testing.T) {
	p, err := New(ModeAuto, 100, false, nil, []string{"**/*.bin"})
	require.NoError(t, err)

	_, err = p.Classify(mustPath(t, "data/w.bin"), 1)
	require.Error(t, err)
}
