package bundleconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "registry:\n  base_url: https://registry.example.com\n  repository: models/demo\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "latest", cfg.Registry.DefaultTag)
	require.Equal(t, "auto", cfg.StoragePolicy.Mode)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, "registry:\n  base_url: https://registry.example.com\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvOverlay(t *testing.T) {
	path := writeConfig(t, "registry:\n  base_url: https://registry.example.com\n  repository: models/demo\n")
	t.Setenv("MODELOPSBUNDLE_LOG_LEVEL", "debug")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestToStoragePolicyWithoutProviderHasNoBlob(t *testing.T) {
	path := writeConfig(t, "registry:\n  base_url: https://registry.example.com\n  repository: models/demo\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	policy, err := cfg.ToStoragePolicy()
	require.NoError(t, err)
	require.False(t, policy.BlobConfigured)
}
