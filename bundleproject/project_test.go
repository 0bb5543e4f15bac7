package bundleproject

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleconfig"
	"github.com/modelops/bundle/bundleerr"
)

const fakeHex = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85"

func testConfig() *bundleconfig.Config {
	cfg := bundleconfig.Default()
	cfg.Registry.BaseURL = "https://registry.example.com"
	cfg.Registry.Repository = "models/demo"
	return cfg
}

func TestInitThenOpen(t *testing.T) {
	root := t.TempDir()

	p, err := Init(root, testConfig())
	require.NoError(t, err)
	require.Equal(t, 0, p.Tracked.Len())
	require.Equal(t, "https://registry.example.com", p.Config.Registry.BaseURL)
	require.NoError(t, p.Close())

	p2, err := Open(root)
	require.NoError(t, err)
	defer p2.Close()
	require.Equal(t, "models/demo", p2.Config.Registry.Repository)
}

func TestInitRefusesExisting(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, testConfig())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = Init(root, testConfig())
	require.Error(t, err)
	var cfgErr *bundleerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestOpenMissingProject(t *testing.T) {
	root := t.TempDir()
	_, err := Open(root)
	require.Error(t, err)
	var cfgErr *bundleerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestOpenConcurrentIsBusy(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, testConfig())
	require.NoError(t, err)
	defer p.Close()

	_, err = Open(root)
	require.Error(t, err)
	var busy *bundleerr.ProjectBusyError
	require.ErrorAs(t, err, &busy)
}

func TestCloseThenReopenSucceeds(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, testConfig())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	p2, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, p2.Close())
}

func TestNewRegistryClientWiresRetryPolicyFromConfig(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 9
	cfg.Retry.InitialBackoffMs = 750

	p, err := Init(root, cfg)
	require.NoError(t, err)
	defer p.Close()

	client := p.NewRegistryClient(nil)
	require.Equal(t, "https://registry.example.com", client.BaseURL)
	require.Equal(t, "models/demo", client.Repository)
	require.Equal(t, uint64(9), client.RetryPolicy.MaxAttempts)
	require.Equal(t, 750*time.Millisecond, client.RetryPolicy.InitialInterval)
}

func TestSaveTrackedAndState(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, testConfig())
	require.NoError(t, err)
	defer p.Close()

	p.Tracked.Add(bundle.Path("models/weights.bin"))
	require.NoError(t, p.SaveTracked())

	p.State.RecordPush(bundle.Digest("sha256:"+fakeHex), map[bundle.Path]bundle.Digest{
		bundle.Path("models/weights.bin"): bundle.Digest("sha256:" + fakeHex),
	})
	require.NoError(t, p.SaveState())

	reopened, err := Open(root)
	require.Error(t, err) // still locked by p
	require.Nil(t, reopened)
	var busy *bundleerr.ProjectBusyError
	require.ErrorAs(t, err, &busy)
}
