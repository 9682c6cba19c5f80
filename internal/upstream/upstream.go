// Package upstream is the pooled, TLS-validating HTTP client used to reach
// the upstream registry and the embedding/generation backend. Generalized
// from the teacher's internal/proxy/upstream.go transport configuration;
// this package performs no retries — retry policy belongs to callers, per
// spec §4.2.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Client wraps an *http.Client configured with connection reuse, a
// TLS 1.2 floor, and mandatory certificate validation.
type Client struct {
	httpClient *http.Client
}

// New builds a Client with the teacher's pooled-transport shape:
// 50 idle connections nominal (spec §5 resource ceiling), 10s dial/TLS
// handshake timeout. No per-call timeout is set on the client itself —
// each call attaches one via context, since the three outbound operations
// (metadata 10s, tarball stream 60s overall, backend calls configurable)
// have different budgets.
func New() *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{httpClient: &http.Client{Transport: transport}}
}

// GetJSON performs a GET with the given timeout and returns the response
// body bytes together with the status code, whatever that status is;
// checking the status is left to the caller. Used for metadata fetches
// (10s timeout).
func (c *Client) GetJSON(ctx context.Context, url string, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("upstream: reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// PostJSON performs a POST with a JSON body and the given timeout.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("upstream: reading response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// OpenStream performs a GET and returns the live response for the caller
// to stream from. A fixed 60s deadline covers the whole request, body
// included; it is not an idle timeout and is not reset as bytes arrive, so
// a transfer still running after 60s is cut off. The caller must close the
// returned body.
func (c *Client) OpenStream(ctx context.Context, url string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstream: building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstream: request failed: %w", err)
	}
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnCloseBody cancels the request context once the body is closed,
// so the 60s idle-timeout context doesn't leak past the stream's lifetime.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
