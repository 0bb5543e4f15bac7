// Package ociregistry is a thin, concrete registryadapter.Adapter backed
// by plain net/http calls against the OCI distribution HTTP API, built
// the way internal/client/repository.go talks to a registry: resolve
// content identity from the Docker-Content-Digest response header, never
// by re-hashing a round-tripped manifest.
package ociregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	godigest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/modelops/bundle/bundle"
	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/dcontext"
	"github.com/modelops/bundle/internal/retry"
	"github.com/modelops/bundle/registryadapter"
)

// ConfigMediaType identifies a BundleIndex stored as an OCI config blob.
const ConfigMediaType = "application/vnd.modelops.bundle.index.v1+json"

const titleAnnotation = "org.opencontainers.image.title"

// Client is a registryadapter.Adapter talking to baseURL/v2/<repository>.
type Client struct {
	BaseURL     string // e.g. "https://registry.example.com"
	Repository  string // e.g. "library/my-model"
	HTTP        *http.Client
	RetryPolicy retry.Policy // zero value falls back to retry.DefaultPolicy
}

// New returns a Client. httpClient may be nil, in which case
// http.DefaultClient is used. The retry policy defaults to
// retry.DefaultPolicy; set c.RetryPolicy afterwards to use the project's
// configured retry.* settings.
func New(baseURL, repository string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Repository: repository, HTTP: httpClient, RetryPolicy: retry.DefaultPolicy}
}

var _ registryadapter.Adapter = (*Client)(nil)

func (c *Client) manifestURL(ref string) string {
	return fmt.Sprintf("%s/v2/%s/manifests/%s", c.BaseURL, c.Repository, url.PathEscape(ref))
}

func (c *Client) blobURL(digest bundle.Digest) string {
	return fmt.Sprintf("%s/v2/%s/blobs/%s", c.BaseURL, c.Repository, url.PathEscape(digest.String()))
}

func (c *Client) tagsURL() string {
	return fmt.Sprintf("%s/v2/%s/tags/list", c.BaseURL, c.Repository)
}

// ResolveTag returns the registry's own declared digest for tag — read
// from the Docker-Content-Digest response header, never recomputed by
// re-serializing the manifest bytes, since whitespace differences would
// make that digest diverge from the registry's.
func (c *Client) ResolveTag(ctx context.Context, tag string) (bundle.Digest, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.manifestURL(tag), nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Accept", ispec.MediaTypeImageManifest)

	resp, err := c.do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil, &bundleerr.NotFoundError{Kind: "tag", Ref: tag}
	}
	if err := checkStatus(resp); err != nil {
		return "", nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, &bundleerr.NetworkError{Op: "read manifest body", Err: err, Retryable: true}
	}

	digest, err := declaredDigest(resp, body)
	if err != nil {
		return "", nil, err
	}
	return digest, body, nil
}

// GetManifest fetches the manifest at digest and returns its config
// descriptor plus per-file layer descriptors, carrying the full
// project-relative path from each layer's title annotation.
func (c *Client) GetManifest(ctx context.Context, digest bundle.Digest) ([]byte, ispec.Descriptor, []registryadapter.LayerDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.manifestURL(digest.String()), nil)
	if err != nil {
		return nil, ispec.Descriptor{}, nil, err
	}
	req.Header.Set("Accept", ispec.MediaTypeImageManifest)

	resp, err := c.do(req)
	if err != nil {
		return nil, ispec.Descriptor{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ispec.Descriptor{}, nil, &bundleerr.NotFoundError{Kind: "manifest", Ref: digest.String()}
	}
	if err := checkStatus(resp); err != nil {
		return nil, ispec.Descriptor{}, nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ispec.Descriptor{}, nil, &bundleerr.NetworkError{Op: "read manifest body", Err: err, Retryable: true}
	}

	var manifest ispec.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, ispec.Descriptor{}, nil, &bundleerr.InvalidInputError{Reason: "malformed manifest: " + err.Error()}
	}

	layers := make([]registryadapter.LayerDescriptor, 0, len(manifest.Layers))
	for _, l := range manifest.Layers {
		title := l.Annotations[titleAnnotation]
		p, err := bundle.NewPath(title)
		if err != nil {
			return nil, ispec.Descriptor{}, nil, &bundleerr.InvalidInputError{Reason: "manifest layer missing valid title annotation: " + err.Error()}
		}
		layers = append(layers, registryadapter.LayerDescriptor{Descriptor: l, Path: p})
	}

	return body, manifest.Config, layers, nil
}

// GetBlob streams the blob at digest to w.
func (c *Client) GetBlob(ctx context.Context, digest bundle.Digest, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.blobURL(digest), nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &bundleerr.NotFoundError{Kind: "blob", Ref: digest.String()}
	}
	if err := checkStatus(resp); err != nil {
		return err
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return &bundleerr.NetworkError{Op: "download blob " + digest.String(), Err: err, Retryable: true}
	}
	return nil
}

// PutBlob uploads content under digest. Idempotent: a HEAD check first
// avoids re-uploading a blob the registry already has.
func (c *Client) PutBlob(ctx context.Context, digest bundle.Digest, size int64, content io.Reader) error {
	exists, err := c.blobExists(ctx, digest)
	if err != nil {
		return err
	}
	if exists {
		dcontext.GetLogger(ctx).Debugf("blob %s already present, skipping upload", digest)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.blobURL(digest), content)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) blobExists(ctx context.Context, digest bundle.Digest) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.blobURL(digest), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := checkStatus(resp); err != nil {
		return false, err
	}
	return true, nil
}

// PutManifest writes manifestBytes and, if tag is non-empty, moves the
// tag to reference it. Returns the digest the registry assigns, read
// from the response's Docker-Content-Digest header.
func (c *Client) PutManifest(ctx context.Context, manifestBytes []byte, mediaType, tag string) (bundle.Digest, error) {
	ref := tag
	if ref == "" {
		ref = godigest.FromBytes(manifestBytes).String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.manifestURL(ref), bytes.NewReader(manifestBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mediaType)
	req.ContentLength = int64(len(manifestBytes))

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	return declaredDigest(resp, manifestBytes)
}

// ListTags lists every tag in the repository.
func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tagsURL(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &bundleerr.InvalidInputError{Reason: "malformed tags list response: " + err.Error()}
	}
	return body.Tags, nil
}

// GetTag resolves tag to its current digest via a HEAD request, avoiding
// a full manifest body download.
func (c *Client) GetTag(ctx context.Context, tag string) (bundle.Digest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.manifestURL(tag), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", ispec.MediaTypeImageManifest)

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", &bundleerr.NotFoundError{Kind: "tag", Ref: tag}
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	return declaredDigest(resp, nil)
}

// do issues req, retrying transient failures and 5xx responses with
// bounded exponential backoff. Requests carrying a body are only retried
// when the body can be safely replayed (req.GetBody set, e.g. for
// bytes.Reader payloads); a body that cannot be rewound is sent once.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	op := req.Method + " " + req.URL.String()
	canRetry := req.Body == nil || req.GetBody != nil

	var resp *http.Response
	attempt := func() error {
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			req.Body = body
		}
		r, err := c.HTTP.Do(req)
		if err != nil {
			return &bundleerr.NetworkError{Op: op, Err: err, Retryable: true}
		}
		if r.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return &bundleerr.NetworkError{Op: op, Err: fmt.Errorf("unexpected status %d: %s", r.StatusCode, string(body)), Retryable: true}
		}
		resp = r
		return nil
	}

	if !canRetry {
		if err := attempt(); err != nil {
			return nil, err
		}
		return resp, nil
	}
	if err := retry.Do(req.Context(), c.RetryPolicy, op, attempt); err != nil {
		return nil, err
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &bundleerr.NetworkError{
		Op:        fmt.Sprintf("%s %s", resp.Request.Method, resp.Request.URL),
		Err:       fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)),
		Retryable: resp.StatusCode >= 500,
	}
}

// declaredDigest extracts the registry's own content digest from the
// Docker-Content-Digest response header. If absent, it falls back to
// hashing the exact bytes as received — it never re-serializes them.
func declaredDigest(resp *http.Response, body []byte) (bundle.Digest, error) {
	if header := resp.Header.Get("Docker-Content-Digest"); header != "" {
		return bundle.NewDigest(header)
	}
	if body == nil {
		return "", &bundleerr.InvalidInputError{Reason: "registry response missing Docker-Content-Digest header"}
	}
	return bundle.FromBytes(body), nil
}
