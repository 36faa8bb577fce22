// Package download implements the resumable single-file HTTP fetcher used by
// every sync operation.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/BadgerOps/gamesync/internal/safety"
	"github.com/BadgerOps/gamesync/internal/syncerr"
)

// TempSuffix is appended to the destination path while a transfer is in flight.
const TempSuffix = ".temp"

const (
	defaultChunkSize  = 64 * 1024
	defaultRetryCount = 3
)

// ChunkFunc receives the size of every chunk written to disk.
type ChunkFunc func(n int64)

// Request describes one file transfer.
type Request struct {
	URL       string
	DestPath  string
	Overwrite bool
	OnChunk   ChunkFunc
}

// Result contains the outcome of a completed transfer.
type Result struct {
	Path     string        // Final file path
	Size     int64         // Final file size in bytes
	Received int64         // Bytes received by this call
	Resumed  bool          // A previous partial was continued
	Skipped  bool          // The final file already existed and Overwrite was false
	Attempts int           // Number of HTTP attempts made
	Duration time.Duration // Total duration
}

// Client performs resumable HTTP downloads with retries and an optional rate limit.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	chunkSize   int
	retryCount  int
	limiter     *rate.Limiter
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

// WithChunkSize sets the read buffer size. Cancellation is observed between chunks.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithRetryCount sets the total number of attempts per file.
func WithRetryCount(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retryCount = n
		}
	}
}

// WithRateLimit caps throughput in bytes per second. Zero disables the limit.
func WithRateLimit(bytesPerSecond int64) Option {
	return func(c *Client) {
		if bytesPerSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
	}
}

// NewClient creates a new download client with the given logger.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		// No overall Timeout; body reads can take as long as needed and
		// the context still cancels them.
		httpClient:  &http.Client{Transport: safety.NewTransport()},
		logger:      logger,
		userAgent:   "gamesync/1.0",
		chunkSize:   defaultChunkSize,
		retryCount:  defaultRetryCount,
		backoffFunc: calculateBackoffDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter != nil && c.limiter.Burst() < c.chunkSize {
		c.limiter.SetBurst(c.chunkSize)
	}
	return c
}

// DownloadWithResume fetches req.URL into req.DestPath through a sibling
// TempSuffix file, continuing any partial left by an earlier call.
//
// On cancellation the bytes already received stay in the temp file and an
// error matching syncerr.ErrCancelled is returned.
func (c *Client) DownloadWithResume(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if fi, err := os.Stat(req.DestPath); err == nil && fi.Mode().IsRegular() {
		if !req.Overwrite {
			if req.OnChunk != nil {
				req.OnChunk(fi.Size())
			}
			return &Result{Path: req.DestPath, Size: fi.Size(), Skipped: true, Duration: time.Since(start)}, nil
		}
		if err := os.Remove(req.DestPath); err != nil {
			return nil, fmt.Errorf("removing existing %s: %w", req.DestPath, err)
		}
	}

	if dir := filepath.Dir(req.DestPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	var (
		lastErr  error
		received int64
		resumed  bool
	)
	for attempt := 1; attempt <= c.retryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, syncerr.Cancelled(err)
		}

		res, err := c.attempt(ctx, req)
		if res != nil {
			received += res.Received
			resumed = resumed || res.Resumed
		}
		if err == nil {
			res.Received = received
			res.Resumed = resumed
			res.Attempts = attempt
			res.Duration = time.Since(start)
			return res, nil
		}

		if syncerr.IsCancelled(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("download attempt failed", "url", req.URL, "attempt", attempt, "error", err)

		if shouldNotRetry(err) {
			_ = os.Remove(req.DestPath + TempSuffix)
			return nil, err
		}

		if attempt < c.retryCount {
			delay := c.backoffFunc(attempt)
			c.logger.Debug("retrying download", "url", req.URL, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, syncerr.Cancelled(ctx.Err())
			}
		}
	}

	// The partial stays on disk for the next invocation.
	return nil, fmt.Errorf("download %s failed after %d attempts: %w", req.URL, c.retryCount, lastErr)
}

// attempt performs a single request. The returned Result is non-nil whenever
// bytes were written, even on error.
func (c *Client) attempt(ctx context.Context, req Request) (*Result, error) {
	tempPath := req.DestPath + TempSuffix

	var offset int64
	if fi, err := os.Stat(tempPath); err == nil && fi.Mode().IsRegular() {
		offset = fi.Size()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, syncerr.Cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", syncerr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	resumed := false
	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		if total, ok := contentRangeTotal(resp.Header.Get("Content-Range")); ok && total != offset {
			_ = os.Remove(tempPath)
			return nil, fmt.Errorf("%w: partial has %d bytes, remote file has %d", syncerr.ErrNetwork, offset, total)
		}
		c.logger.Debug("range not satisfiable, partial already complete", "path", tempPath, "size", offset)
		if err := os.Rename(tempPath, req.DestPath); err != nil {
			return nil, fmt.Errorf("finalizing %s: %w", req.DestPath, err)
		}
		return &Result{Path: req.DestPath, Size: offset}, nil

	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && start != offset {
			_ = os.Remove(tempPath)
			return nil, fmt.Errorf("%w: server resumed at byte %d, expected %d", syncerr.ErrNetwork, start, offset)
		}
		resumed = true

	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		if offset > 0 {
			c.logger.Debug("server ignored range, restarting", "path", tempPath, "discarded", offset)
		}
		offset = 0

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	if err := file.Truncate(offset); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to truncate %s: %w", tempPath, err)
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek %s: %w", tempPath, err)
	}

	received, copyErr := c.copyChunks(ctx, file, resp.Body, req.OnChunk)
	closeErr := file.Close()
	res := &Result{Path: req.DestPath, Size: offset + received, Received: received, Resumed: resumed}
	if copyErr != nil {
		return res, copyErr
	}
	if closeErr != nil {
		return res, fmt.Errorf("failed to close %s: %w", tempPath, closeErr)
	}

	if err := os.Rename(tempPath, req.DestPath); err != nil {
		return res, fmt.Errorf("finalizing %s: %w", req.DestPath, err)
	}
	return res, nil
}

// copyChunks streams body into w one chunk at a time. Every chunk received is
// written before cancellation is honored.
func (c *Client) copyChunks(ctx context.Context, w io.Writer, body io.Reader, onChunk ChunkFunc) (int64, error) {
	buf := make([]byte, c.chunkSize)
	var total int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("failed to write to file: %w", err)
			}
			total += int64(n)
			if onChunk != nil {
				onChunk(int64(n))
			}
			if c.limiter != nil {
				if err := c.limiter.WaitN(ctx, n); err != nil && ctx.Err() != nil {
					return total, syncerr.Cancelled(ctx.Err())
				}
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, syncerr.Cancelled(ctx.Err())
		}
		if readErr != nil {
			return total, fmt.Errorf("%w: reading body: %v", syncerr.ErrNetwork, readErr)
		}
	}
}

// contentRangeStart parses the first byte position of "bytes N-M/T".
func contentRangeStart(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, false
	}
	startStr, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

// contentRangeTotal parses the complete length N from "bytes .../N".
func contentRangeTotal(header string) (int64, bool) {
	if !strings.HasPrefix(strings.TrimSpace(header), "bytes ") {
		return 0, false
	}
	_, total, ok := strings.Cut(header, "/")
	if !ok || strings.TrimSpace(total) == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry.
func shouldNotRetry(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// 4xx other than 429 will not change on retry
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
			return true
		}
	}
	return false
}

// HTTPError represents an unexpected HTTP status. It matches syncerr.ErrNetwork.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// Unwrap lets errors.Is classify HTTP failures as network errors.
func (e *HTTPError) Unwrap() error {
	return syncerr.ErrNetwork
}
