package output

import (
	"context"

	"github.com/jobrunner/demimport/internal/domain"
)

// MapKind is a GRASS element type.
type MapKind string

// Element types.
const (
	KindRaster MapKind = "raster"
	KindVector MapKind = "vector"
	KindRegion MapKind = "region"
)

// RasterImport describes an r.import call.
type RasterImport struct {
	Input      string  // file path or /vsicurl/ URL
	Output     string  // raster map name
	Resolution float64 // 0 lets GRASS estimate it
}

// XYZImport describes an r.in.xyz call into the current region.
type XYZImport struct {
	Input     string
	Output    string
	Separator string
}

// GIS is the secondary port to the GRASS session the importers work in.
type GIS interface {
	// Location returns the current location and mapset.
	Location(ctx context.Context) (domain.Location, error)
	// EPSG returns the EPSG code of the current location.
	EPSG(ctx context.Context) (int, error)

	// Region returns the current computational region.
	Region(ctx context.Context) (domain.Region, error)
	// SetRegion changes the current computational region.
	SetRegion(ctx context.Context, spec domain.RegionSpec) error
	// SaveRegion stores the current region under name.
	SaveRegion(ctx context.Context, name string) error
	// WithRegion returns a GIS whose current region is the saved region
	// name. Region changes made through it never touch the caller's region.
	WithRegion(name string) GIS
	// TempLocation creates a location for epsg and returns a session in it.
	TempLocation(ctx context.Context, epsg int) (Session, error)

	RegionToVector(ctx context.Context, name string) error
	ImportVector(ctx context.Context, path, name string) error
	ProjectVector(ctx context.Context, from domain.Location, name string) error
	VectorWKT(ctx context.Context, name string) ([]string, error)

	ImportRaster(ctx context.Context, imp RasterImport) error
	ImportXYZ(ctx context.Context, imp XYZImport) error
	ProjectRaster(ctx context.Context, from domain.Location, input, output string, res float64) error
	// BuildVRT mosaics inputs into a virtual raster. A single input is
	// copied.
	BuildVRT(ctx context.Context, inputs []string, output string) error
	MapCalc(ctx context.Context, expression string) error
	// Resample brings input to res into output, interpolating when the
	// input is coarser and aggregating when it is finer. The output never
	// depends on the maps behind a virtual input.
	Resample(ctx context.Context, input, output string, res float64) error
	RasterInfo(ctx context.Context, name string) (domain.RasterInfo, error)
	Univar(ctx context.Context, name string) (domain.Univar, error)
	Rename(ctx context.Context, kind MapKind, from, to string) error

	SetMask(ctx context.Context, vector string) error
	RemoveMask(ctx context.Context) error

	// Remove deletes maps. Missing maps are not an error.
	Remove(ctx context.Context, kind MapKind, names ...string) error
}

// Session is a GIS bound to a temporary location.
type Session interface {
	GIS
	// Close removes the temporary location.
	Close(ctx context.Context) error
}
