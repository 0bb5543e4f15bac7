package ociregistry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelops/bundle/bundle"
)

func TestResolveTagUsesContentDigestHeader(t *testing.T) {
	manifestBytes := []byte(`{"schemaVersion":2}`)
	declared := bundle.FromBytes([]byte("not the manifest bytes"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/library/model/manifests/latest", r.URL.Path)
		w.Header().Set("Docker-Content-Digest", declared.String())
		w.WriteHeader(http.StatusOK)
		w.Write(manifestBytes)
	}))
	defer srv.Close()

	client := New(srv.URL, "library/model", nil)
	digest, body, err := client.ResolveTag(context.Background(), "latest")
	require.NoError(t, err)
	require.Equal(t, declared, digest)
	require.Equal(t, manifestBytes, body)
}

func TestResolveTagNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(srv.URL, "library/model", nil)
	_, _, err := client.ResolveTag(context.Background(), "missing")
	require.Error(t, err)
}

func TestPutBlobSkipsExistingBlob(t *testing.T) {
	digest := bundle.FromBytes([]byte("payload"))
	var putCalled bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			putCalled = true
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	client := New(srv.URL, "library/model", nil)
	err := client.PutBlob(context.Background(), digest, 7, nil)
	require.NoError(t, err)
	require.False(t, putCalled)
}
