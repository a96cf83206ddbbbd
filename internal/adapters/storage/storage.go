package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// Filter selects data files by extension. An empty filter accepts all.
type Filter []string

// Match reports whether name carries one of the extensions, ignoring case.
func (f Filter) Match(name string) bool {
	if len(f) == 0 {
		return true
	}
	ext := strings.ToLower(path.Ext(name))
	for _, e := range f {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Options configure the remote adapters a root URL may select.
type Options struct {
	Filter Filter
	S3     S3Config
	Azure  AzureConfig
	HTTP   HTTPConfig
}

// Open returns the adapter for a local-data root: a directory,
// s3://bucket/prefix, az://container/prefix or an http(s) base URL.
func Open(ctx context.Context, root string, opts Options) (output.ObjectStorage, error) {
	u, err := url.Parse(root)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return NewLocalStorage(root, opts.Filter), nil
	}

	prefix := strings.Trim(u.Path, "/")
	switch u.Scheme {
	case "s3":
		cfg := opts.S3
		cfg.Bucket = u.Host
		cfg.Prefix = prefix
		return NewS3Storage(ctx, cfg, opts.Filter)
	case "az", "azure":
		cfg := opts.Azure
		cfg.Container = u.Host
		cfg.Prefix = prefix
		return NewAzureStorage(cfg, opts.Filter)
	case "http", "https":
		cfg := opts.HTTP
		cfg.BaseURL = root
		return NewHTTPStorage(cfg, opts.Filter), nil
	case "file":
		return NewLocalStorage(u.Path, opts.Filter), nil
	}
	return nil, &domain.StorageError{
		Operation: "open",
		Key:       root,
		Err:       fmt.Errorf("scheme %q: %w", u.Scheme, domain.ErrStorageUnusable),
	}
}

// relKey strips the adapter prefix from an object key.
func relKey(key, prefix string) string {
	rel := strings.TrimPrefix(key, prefix)
	return strings.TrimPrefix(rel, "/")
}

// joinKey prepends the adapter prefix to a key.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// listPrefix is the object prefix for a relative directory.
func listPrefix(prefix, dir string) string {
	var parts []string
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if d := strings.Trim(dir, "/"); d != "" {
		parts = append(parts, d)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "/") + "/"
}

// firstDirs returns the sorted distinct first path elements of keys that
// have more than one element.
func firstDirs(keys []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, k := range keys {
		first, _, ok := strings.Cut(k, "/")
		if !ok || first == "" || seen[first] {
			continue
		}
		seen[first] = true
		dirs = append(dirs, first)
	}
	sort.Strings(dirs)
	return dirs
}
