package fs

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelops/bundle/bundle"
)

func TestPutGetExistsRoundTrip(t *testing.T) {
	driver := New(t.TempDir(), "bundles", "models")
	digest := bundle.FromBytes([]byte("weights"))

	exists, err := driver.ExistsByDigest(context.Background(), digest)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, driver.PutByDigest(context.Background(), digest, 7, bytes.NewReader([]byte("weights"))))

	exists, err = driver.ExistsByDigest(context.Background(), digest)
	require.NoError(t, err)
	require.True(t, exists)

	var buf bytes.Buffer
	require.NoError(t, driver.GetByDigest(context.Background(), digest, &buf))
	require.Equal(t, "weights", buf.String())
}

func TestBuildURI(t *testing.T) {
	driver := New(t.TempDir(), "bundles", "models")
	digest := bundle.FromBytes([]byte("weights"))
	uri := driver.BuildURI(digest)
	require.Contains(t, uri, "fs://bundles/models/")
	require.Contains(t, uri, digest.Hex())
}
