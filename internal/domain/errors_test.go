package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:      "output",
		Value:      "",
		Constraint: "required",
		Message:    "output raster name is required",
	}

	if err.Error() == "" {
		t.Error("Error() should not return empty string")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

func TestAvailabilityError(t *testing.T) {
	err := &AvailabilityError{
		Product:      DTM,
		State:        RP,
		Availability: NotYetSupported,
		Message:      "The import of the open data is not yet supported for RP.",
	}
	if got := err.Error(); got != err.Message {
		t.Errorf("Error() = %q, want %q", got, err.Message)
	}
	if !errors.Is(err, ErrUnsupported) {
		t.Error("AvailabilityError should unwrap to ErrUnsupported")
	}
}

func TestCommandError(t *testing.T) {
	base := errors.New("exit status 1")
	tests := []struct {
		name   string
		err    *CommandError
		suffix string
	}{
		{
			name:   "with stderr",
			err:    &CommandError{Module: "r.import", Stderr: "WARNING: x\nERROR: Unable to open\n", Err: base},
			suffix: "ERROR: Unable to open",
		},
		{
			name:   "without stderr",
			err:    &CommandError{Module: "g.region", Err: base},
			suffix: "exit status 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if !strings.HasPrefix(got, tt.err.Module) {
				t.Errorf("Error() = %q, want prefix %q", got, tt.err.Module)
			}
			if !strings.HasSuffix(got, tt.suffix) {
				t.Errorf("Error() = %q, want suffix %q", got, tt.suffix)
			}
			if !errors.Is(tt.err, base) {
				t.Error("CommandError should unwrap to the underlying error")
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	underlying := errors.New("connection refused")
	tests := []struct {
		name string
		err  *StorageError
	}{
		{"with key", &StorageError{Operation: "download", Key: "BB/a.xyz", Err: underlying}},
		{"without key", &StorageError{Operation: "list", Err: underlying}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() == "" {
				t.Error("Error() should not return empty string")
			}
			if !errors.Is(tt.err, underlying) {
				t.Error("StorageError should unwrap to the underlying error")
			}
		})
	}
}

func TestIndexError(t *testing.T) {
	underlying := errors.New("no such table")
	err := &IndexError{Source: "tindex.gpkg", Layer: "tiles", Err: underlying}
	if !strings.Contains(err.Error(), "tiles") {
		t.Errorf("Error() = %q, want layer name", err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Error("IndexError should unwrap to the underlying error")
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "download.workers", Message: "must be positive"}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ConfigError should unwrap to ErrInvalidInput")
	}
}

func TestSpecificErrors(t *testing.T) {
	tests := []struct {
		err  error
		base error
	}{
		{ErrUnknownState, ErrInvalidInput},
		{ErrKeepWithoutDir, ErrInvalidInput},
		{ErrNoImporter, ErrNotFound},
		{ErrNoOverlap, ErrNotFound},
		{ErrNothingImported, ErrNotFound},
		{ErrNullCells, ErrIncomplete},
		{ErrUnsupportedFetch, ErrUnsupported},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.base) {
			t.Errorf("%v should wrap %v", tt.err, tt.base)
		}
	}
}
