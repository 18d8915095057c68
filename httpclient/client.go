// Package httpclient owns the process-wide outbound HTTP client. One
// instance is built at startup and threaded through every component that
// talks to the network, so all jobs share a single connection pool.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jupark12/go-display-pdf/config"
)

var (
	// ErrUpstream means the remote host answered with a non-2xx status.
	ErrUpstream = errors.New("upstream returned an error status")
	// ErrDecode means the response body is not valid JSON.
	ErrDecode = errors.New("response body is not valid json")
)

// Client wraps a pooled net/http client with the service's defaults:
// per-request timeout, redirects followed, browser-like User-Agent.
type Client struct {
	http      *http.Client
	userAgent string
	log       zerolog.Logger
}

// New creates the shared client from settings.
func New(cfg *config.Settings, logger zerolog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		userAgent: cfg.UserAgent,
		log:       logger.With().Str("component", "httpclient").Logger(),
	}
}

// FetchJSON issues one GET and decodes the body into v.
func (c *Client) FetchJSON(ctx context.Context, url string, v interface{}) error {
	body, err := c.FetchBytes(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// FetchBytes issues one GET and returns the raw body.
func (c *Client) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s from %s", ErrUpstream, resp.Status, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body from %s failed: %w", url, err)
	}
	return body, nil
}

// Close releases pooled connections. Called once on shutdown.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
