package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("unavailable")
	ErrIncomplete   = errors.New("incomplete result")
)

// Specific errors.
var (
	ErrUnknownProduct   = fmt.Errorf("product: %w", ErrInvalidInput)
	ErrUnknownState     = fmt.Errorf("federal state: %w", ErrInvalidInput)
	ErrNoStates         = fmt.Errorf("no federal state given: %w", ErrInvalidInput)
	ErrKeepWithoutDir   = fmt.Errorf("keep-data flag requires a download directory: %w", ErrInvalidInput)
	ErrNoImporter       = fmt.Errorf("importer: %w", ErrNotFound)
	ErrNoTiles          = fmt.Errorf("no tiles intersect the area of interest: %w", ErrNotFound)
	ErrNoOverlap        = fmt.Errorf("local data does not overlap with aoi: %w", ErrNotFound)
	ErrNothingImported  = fmt.Errorf("no nDSM imported: %w", ErrNotFound)
	ErrNullCells        = fmt.Errorf("null cells contained within ndsm, check if ndsm is imported for complete aoi/region: %w", ErrIncomplete)
	ErrStorageUnusable  = fmt.Errorf("storage: %w", ErrUnavailable)
	ErrSessionNotReady  = fmt.Errorf("GRASS session: %w", ErrUnavailable)
	ErrIndexUnreadable  = fmt.Errorf("tile index: %w", ErrInternal)
	ErrUnsupportedFetch = fmt.Errorf("fetch method: %w", ErrUnsupported)
)

// AvailabilityError is returned when a federal state cannot deliver a
// product from open data.
type AvailabilityError struct {
	Product      Product
	State        FederalState
	Availability Availability
	Message      string
}

// Error implements the error interface.
func (e *AvailabilityError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error type.
func (e *AvailabilityError) Unwrap() error {
	return ErrUnsupported
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// CommandError represents a failed GRASS module invocation.
type CommandError struct {
	Module string   // GRASS module name, e.g. r.import
	Args   []string // Arguments passed to the module
	Stderr string   // Captured standard error
	Err    error    // Underlying error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Module, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IndexError represents an error while reading a tile index.
type IndexError struct {
	Source string // Tile index URL or path
	Layer  string // Layer name
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("tile index error for layer %s in %s: %v", e.Layer, e.Source, e.Err)
	}
	return fmt.Sprintf("tile index error in %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *IndexError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
