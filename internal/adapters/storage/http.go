package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// HTTPStorage implements ObjectStorage for a web server publishing an index
// file with one relative key per line.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	indexFile string
	username  string
	password  string
	filter    Filter
}

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPStorage creates a new HTTP storage adapter.
func NewHTTPStorage(cfg HTTPConfig, filter Filter) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
		filter:    filter,
	}
}

// List returns the data files of the index below prefix.
func (s *HTTPStorage) List(ctx context.Context, prefix string) ([]output.StorageObject, error) {
	keys, err := s.index(ctx)
	if err != nil {
		return nil, err
	}

	dir := listPrefix("", prefix)
	var objects []output.StorageObject
	for _, key := range keys {
		if !strings.HasPrefix(key, dir) || !s.filter.Match(key) {
			continue
		}
		objects = append(objects, output.StorageObject{Key: key})
	}
	return objects, nil
}

// Dirs returns the first path elements of the indexed keys.
func (s *HTTPStorage) Dirs(ctx context.Context) ([]string, error) {
	keys, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	return firstDirs(keys), nil
}

// index fetches the index file. Empty lines and comments are skipped.
func (s *HTTPStorage) index(ctx context.Context) ([]string, error) {
	indexURL := s.baseURL + "/" + s.indexFile

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: indexURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.StorageError{
			Operation: "list",
			Key:       indexURL,
			Err:       fmt.Errorf("index file returned status %d", resp.StatusCode),
		}
	}

	var keys []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, strings.TrimPrefix(line, "/"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}
	return keys, nil
}

func (s *HTTPStorage) authorize(req *http.Request) {
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
}

// Download downloads a file from HTTP to the local filesystem.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	fileURL := s.baseURL + "/" + key

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}

	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d for %s", resp.StatusCode, key)
	}

	f, err := os.Create(dest) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	return f.Close()
}
