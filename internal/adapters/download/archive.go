package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/jobrunner/demimport/internal/domain"
)

// Extract implements output.Downloader for zip and gzip archives.
func (c *Client) Extract(ctx context.Context, archive, dir string) ([]string, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(archive), ".zip"):
		zr, err := zip.OpenReader(archive)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", archive, err)
		}
		defer func() { _ = zr.Close() }()
		return extractZip(ctx, &zr.Reader, nil, dir)
	case strings.HasSuffix(strings.ToLower(archive), ".gz"):
		dest := filepath.Join(dir, strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive)))
		if err := gunzipFile(archive, dest); err != nil {
			return nil, err
		}
		return []string{dest}, nil
	}
	return nil, fmt.Errorf("extracting %s: %w", archive, domain.ErrUnsupportedFetch)
}

// ExtractRemote implements output.Downloader. Only the central directory
// and the requested entries are transferred.
func (c *Client) ExtractRemote(ctx context.Context, archiveURL string, entries []string, dir string) ([]string, error) {
	rr, err := c.OpenRange(ctx, archiveURL)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(rr, rr.Size())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", archiveURL, err)
	}
	c.logger.Debug("extracting remote entries", "archive", archiveURL, "entries", len(entries))
	return extractZip(ctx, zr, entries, dir)
}

// extractZip writes files of zr into dir, flattening directories. A nil
// filter extracts every file; otherwise entries are matched by full name or
// base name and missing entries are an error.
func extractZip(ctx context.Context, zr *zip.Reader, filter []string, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	byName := make(map[string]*zip.File)
	var files []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		byName[f.Name] = f
		byName[path.Base(f.Name)] = f
		files = append(files, f)
	}

	if filter != nil {
		files = files[:0]
		for _, name := range filter {
			f, ok := byName[name]
			if !ok {
				f, ok = byName[path.Base(name)]
			}
			if !ok {
				return nil, fmt.Errorf("entry %s: %w", name, domain.ErrNotFound)
			}
			files = append(files, f)
		}
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dest := filepath.Join(dir, path.Base(f.Name))
		if err := writeEntry(f, dest); err != nil {
			return nil, err
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

func writeEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.Create(dest) //#nosec G304 -- dest is the base name inside the extraction dir
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil { //#nosec G110 -- archives come from configured portals
		_ = out.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return out.Close()
}

func gunzipFile(src, dst string) error {
	in, err := os.Open(src) //#nosec G304 -- path built from the download dir
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	defer func() { _ = zr.Close() }()

	out, err := os.Create(dst) //#nosec G304 -- path built from the download dir
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, zr); err != nil { //#nosec G110 -- archives come from configured portals
		_ = out.Close()
		return fmt.Errorf("unpacking %s: %w", src, err)
	}
	return out.Close()
}
