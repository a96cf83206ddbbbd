// Package output defines the secondary/driven ports of the application.
package output

import "context"

// ObjectStorage defines the secondary port for local-data roots.
type ObjectStorage interface {
	// List returns all data files below prefix.
	List(ctx context.Context, prefix string) ([]StorageObject, error)

	// Dirs returns the names of the first-level directories.
	Dirs(ctx context.Context) ([]string, error)

	// Download copies an object to the local filesystem.
	Download(ctx context.Context, key string, dest string) error
}

// LocalPather is implemented by storages whose objects already live on the
// local filesystem and need no staging.
type LocalPather interface {
	FullPath(key string) string
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}
