package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jobrunner/demimport/internal/retry"
)

const (
	blockSize   = 256 << 10
	blockCached = 64
)

// ErrRangeUnsupported is returned when a server ignores range requests.
var ErrRangeUnsupported = errors.New("server does not support range requests")

// RangeReader reads a remote file with HTTP range requests. Blocks are
// cached, so the many small reads of zip and TIFF directory parsers cost few
// requests.
type RangeReader struct {
	ctx    context.Context
	client *Client
	url    string
	size   int64
	off    int64
	blocks *lru.Cache[int64, []byte]
}

// OpenRange prepares random access to rawURL.
func (c *Client) OpenRange(ctx context.Context, rawURL string) (*RangeReader, error) {
	size, err := c.remoteSize(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	blocks, err := lru.New[int64, []byte](blockCached)
	if err != nil {
		return nil, err
	}
	return &RangeReader{ctx: ctx, client: c, url: rawURL, size: size, blocks: blocks}, nil
}

// remoteSize asks for the first byte and reads the total size from the
// Content-Range header.
func (c *Client) remoteSize(ctx context.Context, rawURL string) (int64, error) {
	var size int64
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodGet, rawURL)
		if err != nil {
			return err
		}
		req.Header.Set("Range", "bytes=0-0")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusPartialContent {
			if resp.StatusCode == http.StatusOK {
				return retry.Permanent(fmt.Errorf("%s: %w", rawURL, ErrRangeUnsupported))
			}
			return statusError(resp, rawURL)
		}
		size, err = parseContentRange(resp.Header.Get("Content-Range"))
		return err
	})
	return size, err
}

// parseContentRange reads the total size of "bytes 0-0/12345".
func parseContentRange(v string) (int64, error) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("unusable Content-Range %q", v)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unusable Content-Range %q: %w", v, err)
	}
	return n, nil
}

// Size returns the length of the remote file.
func (r *RangeReader) Size() int64 { return r.size }

// ReadAt implements io.ReaderAt.
func (r *RangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= r.size {
			return n, io.EOF
		}
		idx := pos / blockSize
		block, err := r.block(idx)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], block[pos-idx*blockSize:])
	}
	return n, nil
}

func (r *RangeReader) block(idx int64) ([]byte, error) {
	if b, ok := r.blocks.Get(idx); ok {
		return b, nil
	}

	start := idx * blockSize
	end := min(start+blockSize, r.size) - 1

	var data []byte
	err := r.client.retry.Do(r.ctx, func(ctx context.Context) error {
		req, err := r.client.newRequest(ctx, http.MethodGet, r.url)
		if err != nil {
			return err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

		resp, err := r.client.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusPartialContent {
			return statusError(resp, r.url)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if int64(len(data)) != end-start+1 {
			return fmt.Errorf("short range read of %s: got %d bytes", r.url, len(data))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.client.metrics.AddDownloadBytes(int64(len(data)))
	r.blocks.Add(idx, data)
	return data, nil
}

// Read implements io.Reader.
func (r *RangeReader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.off)
	r.off += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (r *RangeReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	r.off = abs
	return abs, nil
}
