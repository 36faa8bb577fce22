// Package manifest fetches and decodes the launcher manifest and resource
// indexes, and selects the CDN node resources are downloaded from.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BadgerOps/gamesync/internal/safety"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

const (
	defaultAttempts  = 3
	defaultBodyLimit = 64 << 20
)

// Client fetches manifest and index documents over HTTP.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	bodyLimit   int64
	attempts    int
	backoffFunc func(attempt int) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithBodyLimit caps how many bytes are read from a single document.
func WithBodyLimit(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.bodyLimit = limit
		}
	}
}

// WithAttempts sets the total number of tries for a document.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// NewClient creates a manifest client.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: safety.NewHTTPClient(60 * time.Second),
		logger:     logger,
		userAgent:  "gamesync/1.0",
		bodyLimit:  defaultBodyLimit,
		attempts:   defaultAttempts,
		backoffFunc: func(attempt int) time.Duration {
			return time.Duration(attempt) * 2 * time.Second
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchManifest downloads and decodes the launcher manifest at manifestURL.
func (c *Client) FetchManifest(ctx context.Context, manifestURL string) (*Manifest, error) {
	body, err := c.fetch(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(body)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", manifestURL, err)
	}
	c.logger.Debug("fetched manifest", "url", manifestURL, "version", m.Version, "cdns", len(m.CDNs), "patches", len(m.PatchConfigs))
	return m, nil
}

// FetchResourceIndex downloads and decodes the index at indexPath relative to cdnURL.
func (c *Client) FetchResourceIndex(ctx context.Context, cdnURL, indexPath string) (*ResourceIndex, error) {
	indexURL := JoinURL(cdnURL, indexPath)
	body, err := c.fetch(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	idx, err := ParseResourceIndex(body)
	if err != nil {
		return nil, fmt.Errorf("resource index %s: %w", indexURL, err)
	}
	c.logger.Debug("fetched resource index", "url", indexURL, "entries", idx.Len(), "bytes", idx.TotalSize())
	return idx, nil
}

// fetch GETs rawURL with retries. Every transport failure and non-200 status
// is retried; an oversized body is not. The body is returned undecoded.
func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if _, err := safety.ValidateHTTPURL(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrNetwork, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, syncerr.Cancelled(err)
		}

		body, retry, err := c.fetchOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		if syncerr.IsCancelled(err) && ctx.Err() != nil {
			return nil, syncerr.Cancelled(ctx.Err())
		}
		lastErr = err
		if !retry {
			break
		}

		c.logger.Warn("document fetch failed", "url", rawURL, "attempt", attempt, "error", err)
		if attempt < c.attempts {
			select {
			case <-time.After(c.backoffFunc(attempt)):
			case <-ctx.Done():
				return nil, syncerr.Cancelled(ctx.Err())
			}
		}
	}
	return nil, fmt.Errorf("%w: fetching %s: %v", syncerr.ErrNetwork, rawURL, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, true, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := safety.ReadAllWithLimit(resp.Body, c.bodyLimit)
	if err != nil {
		return nil, !errors.Is(err, safety.ErrBodyTooLarge), err
	}
	return body, false, nil
}
