package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// AzureStorage implements ObjectStorage for Azure Blob Storage.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
	filter    Filter
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig, filter Filter) (*AzureStorage, error) {
	var client *azblob.Client
	var err error

	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	} else {
		url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(url, cred, nil)
		}
	}
	if err != nil {
		return nil, &domain.StorageError{Operation: "connect", Key: cfg.Container, Err: err}
	}

	return &AzureStorage{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
		filter:    filter,
	}, nil
}

// List returns the data files below prefix.
func (s *AzureStorage) List(ctx context.Context, prefix string) ([]output.StorageObject, error) {
	blobs, err := s.blobs(ctx, listPrefix(s.prefix, prefix))
	if err != nil {
		return nil, err
	}

	var objects []output.StorageObject
	for _, blob := range blobs {
		if blob.Name == nil || !s.filter.Match(*blob.Name) {
			continue
		}
		obj := output.StorageObject{Key: relKey(*blob.Name, s.prefix)}
		s.extractBlobProperties(blob, &obj)
		objects = append(objects, obj)
	}
	return objects, nil
}

// Dirs returns the first-level virtual directories of the container
// prefix.
func (s *AzureStorage) Dirs(ctx context.Context) ([]string, error) {
	blobs, err := s.blobs(ctx, listPrefix(s.prefix, ""))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(blobs))
	for _, blob := range blobs {
		if blob.Name != nil {
			keys = append(keys, relKey(*blob.Name, s.prefix))
		}
	}
	return firstDirs(keys), nil
}

func (s *AzureStorage) blobs(ctx context.Context, prefix string) ([]*container.BlobItem, error) {
	var items []*container.BlobItem

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Segment.BlobItems...)
	}
	return items, nil
}

// extractBlobProperties extracts properties from an Azure blob.
func (s *AzureStorage) extractBlobProperties(blob *container.BlobItem, obj *output.StorageObject) {
	if blob.Properties == nil {
		return
	}
	if blob.Properties.ContentLength != nil {
		obj.Size = *blob.Properties.ContentLength
	}
	if blob.Properties.LastModified != nil {
		obj.LastModified = blob.Properties.LastModified.Unix()
	}
	if blob.Properties.ETag != nil {
		obj.ETag = string(*blob.Properties.ETag)
	}
}

// Download downloads a blob from Azure to the local filesystem.
func (s *AzureStorage) Download(ctx context.Context, key string, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	resp, err := s.client.DownloadStream(ctx, s.container, s.fullKey(key), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

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

// fullKey returns the full blob name including prefix.
func (s *AzureStorage) fullKey(key string) string {
	return joinKey(s.prefix, key)
}
