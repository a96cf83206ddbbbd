package domain

import "strings"

// ImportRequest holds the options shared by every importer.
type ImportRequest struct {
	AOI         string // vector map name, empty means current region
	DownloadDir string // directory for downloaded files
	Output      string // name of the output raster map
	KeepData    bool   // keep downloaded files (-k)
	NativeRes   bool   // keep the native resolution of the source data (-r)
}

// Validate checks the request for missing or contradicting options.
func (r ImportRequest) Validate() error {
	if strings.TrimSpace(r.Output) == "" {
		return &ValidationError{
			Field:      "output",
			Value:      r.Output,
			Constraint: "required",
			Message:    "output raster name is required",
		}
	}
	if strings.ContainsAny(r.Output, " @/") {
		return &ValidationError{
			Field:      "output",
			Value:      r.Output,
			Constraint: "GRASS map name",
			Message:    "output raster name must not contain spaces, '@' or '/'",
		}
	}
	if r.KeepData && r.DownloadDir == "" {
		return ErrKeepWithoutDir
	}
	return nil
}

// WithOutput returns a copy of the request writing to another raster.
func (r ImportRequest) WithOutput(name string) ImportRequest {
	r.Output = name
	return r
}

// WithDownloadDir returns a copy of the request using another download
// directory.
func (r ImportRequest) WithDownloadDir(dir string) ImportRequest {
	r.DownloadDir = dir
	return r
}

// DispatchRequest is the input of a per-product dispatcher.
type DispatchRequest struct {
	ImportRequest
	States       []FederalState
	LocalDataDir string // root with one subdirectory per state
}

// ComposeRequest is the input of the nDSM composer.
type ComposeRequest struct {
	ImportRequest
	States    []FederalState
	LocalNDSM string
	LocalDSM  string
	LocalDTM  string
}

// ImportResult names the raster an importer produced and the intermediate
// rasters the output still depends on. Whoever receives the result owns
// the intermediates and removes them once the output no longer needs them.
type ImportResult struct {
	Output        string
	Intermediates []string
}

// Merge appends the output and the intermediates of other as
// intermediates of r.
func (r *ImportResult) Merge(other ImportResult) {
	r.Intermediates = append(r.Intermediates, other.Intermediates...)
	if other.Output != "" {
		r.Intermediates = append(r.Intermediates, other.Output)
	}
}
