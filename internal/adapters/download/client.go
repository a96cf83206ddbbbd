// Package download fetches tiles, archives and tile indices over HTTP.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/demimport/internal/ports/output"
	"github.com/jobrunner/demimport/internal/retry"
)

// DefaultWorkers is the number of parallel downloads.
const DefaultWorkers = 3

// Config holds the HTTP client configuration.
type Config struct {
	Timeout    time.Duration
	UserAgent  string
	Username   string
	Password   string
	Retry      retry.Policy
	ProbeCache int // number of cached GeoTIFF probes
}

// Client downloads files. It implements output.Downloader.
type Client struct {
	http      *http.Client
	userAgent string
	username  string
	password  string
	retry     retry.Policy
	probes    *lru.Cache[string, output.RasterProbe]
	metrics   output.MetricsCollector
	logger    *slog.Logger
}

// Ensure Client implements output.Downloader.
var _ output.Downloader = (*Client)(nil)

// New creates a download client.
func New(cfg Config, metrics output.MetricsCollector, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "demimport"
	}
	if cfg.ProbeCache <= 0 {
		cfg.ProbeCache = 256
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}

	probes, err := lru.New[string, output.RasterProbe](cfg.ProbeCache)
	if err != nil {
		return nil, err
	}

	policy := cfg.Retry
	if policy.Retryable == nil {
		policy.Retryable = retry.IsTransient
	}
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		metrics.IncRetries("download")
		logger.Warn("download failed, retrying", "attempt", attempt, "error", err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		username:  cfg.Username,
		password:  cfg.Password,
		retry:     policy,
		probes:    probes,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// statusError classifies an HTTP status. Server errors and throttling are
// retried, everything else is permanent.
func statusError(resp *http.Response, rawURL string) error {
	err := fmt.Errorf("%s returned status %d", rawURL, resp.StatusCode)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return err
	}
	return retry.Permanent(err)
}

// Fetch downloads rawURL to dest. The file appears under dest only once it
// is complete.
func (c *Client) Fetch(ctx context.Context, rawURL, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		return c.fetchOnce(ctx, rawURL, dest)
	})
	c.metrics.IncDownloadCount(err == nil)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) fetchOnce(ctx context.Context, rawURL, dest string) error {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, rawURL)
	}

	part := dest + ".part"
	f, err := os.Create(part) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return retry.Permanent(err)
	}

	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(part)
		return err
	}
	c.metrics.AddDownloadBytes(n)

	return os.Rename(part, dest)
}

// FetchAll implements output.Downloader. Files already present in dir are
// not downloaded again. When a download fails, the paths of the files that
// are complete are returned with the error.
func (c *Client) FetchAll(ctx context.Context, urls []string, dir string, workers int) ([]string, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	paths := make([]string, len(urls))
	done := make([]bool, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, u := range urls {
		dest := filepath.Join(dir, FileName(u))
		paths[i] = dest

		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			c.logger.Debug("file already downloaded", "path", dest)
			done[i] = true
			continue
		}

		g.Go(func() error {
			if err := c.Fetch(gctx, u, dest); err != nil {
				return err
			}
			done[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var complete []string
		for i, p := range paths {
			if done[i] {
				complete = append(complete, p)
			}
		}
		return complete, err
	}
	return paths, nil
}

// FileName returns the last path element of a URL.
func FileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}
