package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLocalStorage(t *testing.T) {
	storage := NewLocalStorage("/tmp/test", nil)

	if storage == nil {
		t.Fatal("NewLocalStorage() returned nil")
	}

	if storage.basePath != "/tmp/test" {
		t.Errorf("basePath = %q, want %q", storage.basePath, "/tmp/test")
	}
}

func TestLocalStorageList(t *testing.T) {
	// Create temp directory
	tmpDir, err := os.MkdirTemp("", "demimport-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	// Create test files
	testFiles := []string{
		"BB/dgm_1.xyz",
		"BB/dgm_2.XYZ",
		"BB/sub/dgm_3.xyz",
		"BB/readme.pdf",
		"TH/dgm_4.xyz",
	}

	for _, f := range testFiles {
		path := filepath.Join(tmpDir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
	}

	storage := NewLocalStorage(tmpDir, Filter{".xyz", ".txt"})
	objects, err := storage.List(context.Background(), "BB")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	// Only data files of the state directory
	if len(objects) != 3 {
		t.Errorf("len(objects) = %d, want 3", len(objects))
	}

	// Verify object properties
	for _, obj := range objects {
		if obj.Size != 4 { // "test" is 4 bytes
			t.Errorf("object %q size = %d, want 4", obj.Key, obj.Size)
		}
		if obj.LastModified == 0 {
			t.Errorf("object %q LastModified should not be 0", obj.Key)
		}
		if !strings.HasPrefix(obj.Key, "BB/") {
			t.Errorf("object key %q should be relative to the root", obj.Key)
		}
	}
}

func TestLocalStorageListEmpty(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "demimport-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	storage := NewLocalStorage(tmpDir, nil)
	objects, err := storage.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(objects) != 0 {
		t.Errorf("len(objects) = %d, want 0", len(objects))
	}
}

func TestLocalStorageListNonExistent(t *testing.T) {
	storage := NewLocalStorage("/nonexistent/path", nil)
	_, err := storage.List(context.Background(), "BB")
	if err == nil {
		t.Error("List() should error for non-existent path")
	}
}

func TestLocalStorageDownload(t *testing.T) {
	srcDir, err := os.MkdirTemp("", "demimport-src-*")
	if err != nil {
		t.Fatalf("failed to create src dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(srcDir) }()

	destDir, err := os.MkdirTemp("", "demimport-dest-*")
	if err != nil {
		t.Fatalf("failed to create dest dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(destDir) }()

	// Create source file
	testContent := "test content for download"
	srcFile := filepath.Join(srcDir, "source.xyz")
	if err := os.WriteFile(srcFile, []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create source file: %v", err)
	}

	storage := NewLocalStorage(srcDir, nil)
	destFile := filepath.Join(destDir, "dest.xyz")

	err = storage.Download(context.Background(), "source.xyz", destFile)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	// Verify destination file
	content, err := os.ReadFile(destFile)
	if err != nil {
		t.Fatalf("failed to read dest file: %v", err)
	}
	if string(content) != testContent {
		t.Errorf("content = %q, want %q", string(content), testContent)
	}
}

func TestLocalStorageDownloadSameFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "demimport-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	// Create test file
	testFile := filepath.Join(tmpDir, "test.xyz")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	storage := NewLocalStorage(tmpDir, nil)

	// Download to same location should be a no-op
	err = storage.Download(context.Background(), "test.xyz", testFile)
	if err != nil {
		t.Errorf("Download() to same location should not error, got: %v", err)
	}
}

func TestLocalStorageDownloadNonExistent(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "demimport-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	storage := NewLocalStorage(tmpDir, nil)
	err = storage.Download(context.Background(), "nonexistent.xyz", "/tmp/dest.xyz")
	if err == nil {
		t.Error("Download() should error for non-existent source")
	}
}

func TestLocalStorageDownloadCreatesDir(t *testing.T) {
	srcDir, err := os.MkdirTemp("", "demimport-src-*")
	if err != nil {
		t.Fatalf("failed to create src dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(srcDir) }()

	destDir, err := os.MkdirTemp("", "demimport-dest-*")
	if err != nil {
		t.Fatalf("failed to create dest dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(destDir) }()

	// Create source file
	srcFile := filepath.Join(srcDir, "source.xyz")
	if err := os.WriteFile(srcFile, []byte("test"), 0644); err != nil {
		t.Fatalf("failed to create source file: %v", err)
	}

	storage := NewLocalStorage(srcDir, nil)

	// Destination in nested directory that doesn't exist yet
	destFile := filepath.Join(destDir, "nested", "deep", "dest.xyz")

	err = storage.Download(context.Background(), "source.xyz", destFile)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(destFile); os.IsNotExist(err) {
		t.Error("destination file should exist")
	}
}

func TestLocalStorageFullPath(t *testing.T) {
	storage := NewLocalStorage("/data/local", nil)

	tests := []struct {
		key  string
		want string
	}{
		{"test.xyz", "/data/local/test.xyz"},
		{"subdir/nested.xyz", "/data/local/subdir/nested.xyz"},
		{"", "/data/local"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := storage.FullPath(tt.key); got != tt.want {
				t.Errorf("FullPath(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLocalStorageDirs(t *testing.T) {
	tmpDir := t.TempDir()
	for _, d := range []string{"BB", "HE", "TH"} {
		if err := os.MkdirAll(filepath.Join(tmpDir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dirs, err := NewLocalStorage(tmpDir, nil).Dirs(context.Background())
	if err != nil {
		t.Fatalf("Dirs() error = %v", err)
	}
	want := []string{"BB", "HE", "TH"}
	if strings.Join(dirs, ",") != strings.Join(want, ",") {
		t.Errorf("Dirs() = %v, want %v", dirs, want)
	}
}
