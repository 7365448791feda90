// Package apiclient is a small wrapped HTTP client for talking to the
// ingestion server: the registration handshake and the queue worker's
// uploads both go through it.
package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Client is a small HTTP client carrying the ingestion server's base URL and
// API key.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New builds a Client. timeout bounds every individual request.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
	}
}

// Get performs a GET against path, decoding a JSON response into out when
// out is non-nil. Returns the HTTP status code regardless of outcome so
// callers can classify it.
func (c *Client) Get(ctx context.Context, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("apiclient: build request: %w", err)
	}
	c.setHeaders(req)
	return c.do(req, out)
}

// PostJSON performs a POST with body marshaled to JSON, decoding a JSON
// response into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("apiclient: marshal body: %w", err)
	}
	return c.PostRaw(ctx, path, data, out)
}

// PostRaw performs a POST with a pre-marshaled JSON body, used by the queue
// worker which already holds the snapshot as json.RawMessage.
func (c *Client) PostRaw(ctx context.Context, path string, data []byte, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)
	return c.do(req, out)
}

// Uploader adapts Client to internal/queue.Uploader, posting each envelope's
// payload to the ingestion server's metrics endpoint.
type Uploader struct {
	client *Client
	path   string
}

// NewUploader builds an Uploader that POSTs to path on client's base URL.
func NewUploader(client *Client, path string) *Uploader {
	return &Uploader{client: client, path: path}
}

// Upload implements internal/queue.Uploader.
func (u *Uploader) Upload(ctx context.Context, payload json.RawMessage) (int, error) {
	return u.client.PostRaw(ctx, u.path, payload, nil)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("User-Agent", "telemetry-aggregator/1.0")
}

func (c *Client) do(req *http.Request, out interface{}) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("apiclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("apiclient: decode response: %w", err)
	}
	return resp.StatusCode, nil
}
