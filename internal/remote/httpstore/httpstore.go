// Package httpstore binds the remote.Store interface to a cloud object
// store speaking plain HTTP.
//
// Layout under the application folder:
//
//	todos.json      the document (PUT overwrites atomically)
//	photos/<name>   opaque media blobs
//	photos/         GET lists blob names as a JSON array
//
// The object's Last-Modified header is the consistency token the gateway
// caches by. Every request carries a bearer token obtained on demand from
// the auth provider, so an expired session surfaces as a KindAuth error
// from whichever call hits it first.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/taskvault/taskvault/internal/remote"
)

const (
	documentName = "todos.json"
	photosPrefix = "photos/"

	// maxBodySize caps response bodies read into memory.
	maxBodySize = 32 << 20
)

// Client implements remote.Store over HTTP.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens remote.TokenSource
	logger *log.Logger
}

// New creates a client rooted at baseURL (the application-scoped folder).
// tokens may be nil for stores that need no authentication (tests, local
// proxies). A nil logger writes to stderr.
func New(baseURL string, tokens remote.TokenSource, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid store URL %s: %w", baseURL, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[httpstore] ", log.LstdFlags)
	}
	return &Client{
		base:   u,
		http:   &http.Client{},
		tokens: tokens,
		logger: logger,
	}, nil
}

// Stat implements remote.Store. A missing document is a KindNotFound
// error; an empty token on a 200 response means the server simply
// omits Last-Modified, which the gateway resolves with a content fetch.
func (c *Client) Stat(ctx context.Context) (remote.Metadata, error) {
	resp, err := c.do(ctx, http.MethodHead, documentName, nil, "")
	if err != nil {
		return remote.Metadata{}, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, "statDocument"); err != nil {
		return remote.Metadata{}, err
	}
	return remote.Metadata{LastModified: resp.Header.Get("Last-Modified")}, nil
}

// Read implements remote.Store.
func (c *Client) Read(ctx context.Context) ([]byte, remote.Metadata, error) {
	resp, err := c.do(ctx, http.MethodGet, documentName, nil, "")
	if err != nil {
		return nil, remote.Metadata{}, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, "readDocument"); err != nil {
		return nil, remote.Metadata{}, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, remote.Metadata{}, remote.NewError(remote.KindNetwork, "readDocument", err)
	}
	return data, remote.Metadata{LastModified: resp.Header.Get("Last-Modified")}, nil
}

// Write implements remote.Store. The new consistency token comes from the
// response's Last-Modified header; stores that omit it fall back to the
// response Date so the token still changes on every write.
func (c *Client) Write(ctx context.Context, data []byte) (remote.Metadata, error) {
	resp, err := c.do(ctx, http.MethodPut, documentName, bytes.NewReader(data), "application/json")
	if err != nil {
		return remote.Metadata{}, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, "writeDocument"); err != nil {
		return remote.Metadata{}, err
	}

	token := resp.Header.Get("Last-Modified")
	if token == "" {
		token = resp.Header.Get("Date")
	}
	if token == "" {
		token = time.Now().UTC().Format(http.TimeFormat)
	}
	return remote.Metadata{LastModified: token}, nil
}

// WriteBlob implements remote.Store.
func (c *Client) WriteBlob(ctx context.Context, name string, data []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodPut, photosPrefix+name, bytes.NewReader(data), "image/jpeg")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, "uploadBlob"); err != nil {
		return "", err
	}
	return c.resolve(photosPrefix + name), nil
}

// BlobURL implements remote.Store.
func (c *Client) BlobURL(ctx context.Context, name string) (string, error) {
	resp, err := c.do(ctx, http.MethodHead, photosPrefix+name, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, "getBlobURL"); err != nil {
		return "", err
	}
	return c.resolve(photosPrefix + name), nil
}

// DeleteBlob implements remote.Store. Deleting an absent blob succeeds.
func (c *Client) DeleteBlob(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, photosPrefix+name, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return c.checkStatus(resp, "deleteBlob")
}

// ListBlobs implements remote.Store. An absent photos folder lists empty.
func (c *Client) ListBlobs(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, photosPrefix, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []string{}, nil
	}
	if err := c.checkStatus(resp, "listBlobs"); err != nil {
		return nil, err
	}

	var names []string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&names); err != nil {
		return nil, remote.NewError(remote.KindUnknown, "listBlobs", fmt.Errorf("failed to parse listing: %w", err))
	}
	return names, nil
}

// do builds, authenticates and executes one request. Transport failures
// classify as network errors.
func (c *Client) do(ctx context.Context, method, rel string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(rel), body)
	if err != nil {
		return nil, remote.NewError(remote.KindUnknown, method, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, remote.NewError(remote.KindAuth, method, fmt.Errorf("failed to acquire token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, remote.NewError(remote.KindNetwork, method, err)
	}
	return resp, nil
}

// checkStatus converts a non-2xx response into a typed error.
func (c *Client) checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := &remote.Error{
		Kind:   remote.FromStatus(resp.StatusCode),
		Op:     op,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(snippet))),
	}
	return err
}

// resolve joins a relative object path onto the base folder URL.
func (c *Client) resolve(rel string) string {
	u := *c.base
	u.Path += rel
	return u.String()
}
