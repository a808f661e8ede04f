// Package httpds is the HTTP side of a load run: a small client with TLS and
// header configuration, credential strategies, and the concurrent and paged
// fetchers that turn source URLs into raw payloads.
//
// The client never retries. A failed request fails the run and the external
// scheduler decides when to try again.
package httpds

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures the HTTP client.
//
// Zero values are given sensible defaults:
//   - Timeout:   30s
//   - UserAgent: "apiload"
type Config struct {
	// Timeout is the per-request timeout applied at the http.Client level.
	// FetchAll additionally bounds each request with its own context.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification. Use with care.
	InsecureSkipVerify bool

	// BaseHeaders are added to every request. Per-request headers take
	// precedence.
	BaseHeaders http.Header

	UserAgent string

	// MaxBodyBytes fails Fetch with ErrBodyTooLarge when a body is longer;
	// zero means no cap.
	MaxBodyBytes int64

	// Transport is an optional custom RoundTripper. When nil, a default
	// *http.Transport is built from the TLS settings.
	Transport http.RoundTripper
}

// Client wraps an http.Client with base headers and body limits.
type Client struct {
	httpClient  *http.Client
	baseHeaders http.Header
	maxBody     int64
}

// NewClient constructs a Client from Config, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "apiload"
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	hdr := http.Header{}
	for k, vs := range cfg.BaseHeaders {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	if hdr.Get("User-Agent") == "" {
		hdr.Set("User-Agent", cfg.UserAgent)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseHeaders: hdr,
		maxBody:     cfg.MaxBodyBytes,
	}
}

// ErrBodyTooLarge is returned by Fetch when a body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("httpds: response body exceeds max_body_bytes")

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	// Snippet is the beginning of the response body, for logs.
	Snippet string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("httpds: %s %s: status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("httpds: %s %s: status %d: %s", e.Method, e.URL, e.Code, e.Snippet)
}

// Do sends one request. Base headers are applied first, then headers. The
// caller must close the response body. Non-2xx statuses are returned as
// responses, not errors; see Fetch for the strict variant.
func (c *Client) Do(
	ctx context.Context,
	method, url string,
	body []byte,
	headers http.Header,
) (*http.Response, error) {
	if method == "" {
		return nil, fmt.Errorf("httpds: method must not be empty")
	}
	if url == "" {
		return nil, fmt.Errorf("httpds: url must not be empty")
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}
	for k, vs := range c.baseHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.httpClient.Do(req)
}

// Get is a convenience wrapper over Do for HTTP GET. The caller must close
// the response body.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, headers)
}

// Fetch GETs url and returns the whole body. Any status outside 2xx is a
// *StatusError. A body over the configured cap is never truncated; Fetch
// returns ErrBodyTooLarge instead.
func (c *Client) Fetch(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	resp, err := c.Get(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if c.maxBody > 0 {
		r = io.LimitReader(resp.Body, c.maxBody+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("httpds: read body of %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: http.MethodGet, URL: url, Code: resp.StatusCode, Snippet: snippet(b)}
	}
	if c.maxBody > 0 && int64(len(b)) > c.maxBody {
		return nil, fmt.Errorf("%w (%d bytes) at %s", ErrBodyTooLarge, c.maxBody, url)
	}
	return b, nil
}

func snippet(b []byte) string {
	const max = 200
	b = bytes.TrimSpace(b)
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
