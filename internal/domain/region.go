package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Common SRID constants.
const (
	SRIDWGS84        = 4326  // WGS 84
	SRIDETRS89UTM32N = 25832 // ETRS89 / UTM zone 32N
	SRIDETRS89UTM33N = 25833 // ETRS89 / UTM zone 33N
)

// Extent represents a spatial bounding box.
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
	SRID int
}

// IsValid checks if the extent has valid dimensions.
func (e Extent) IsValid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Width returns the width of the extent.
func (e Extent) Width() float64 {
	return math.Abs(e.MaxX - e.MinX)
}

// Height returns the height of the extent.
func (e Extent) Height() float64 {
	return math.Abs(e.MaxY - e.MinY)
}

// Bound converts the extent to an orb.Bound.
func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

// Intersects reports whether two extents share any area or edge.
func (e Extent) Intersects(o Extent) bool {
	return e.Bound().Intersects(o.Bound())
}

// Buffer grows the extent by d on every side.
func (e Extent) Buffer(d float64) Extent {
	return Extent{MinX: e.MinX - d, MinY: e.MinY - d, MaxX: e.MaxX + d, MaxY: e.MaxY + d, SRID: e.SRID}
}

// ExtentFromBound converts an orb.Bound into an extent.
func ExtentFromBound(b orb.Bound, srid int) Extent {
	return Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1], SRID: srid}
}

// Region is the computational region of a GRASS session.
type Region struct {
	North float64
	South float64
	East  float64
	West  float64
	NSRes float64
	EWRes float64
	Rows  int
	Cols  int
}

// Extent returns the region bounds.
func (r Region) Extent(srid int) Extent {
	return Extent{MinX: r.West, MinY: r.South, MaxX: r.East, MaxY: r.North, SRID: srid}
}

// Contains reports whether o lies within r.
func (r Region) Contains(o Region) bool {
	return o.North <= r.North && o.South >= r.South && o.East <= r.East && o.West >= r.West
}

// String returns a g.region style summary.
func (r Region) String() string {
	return fmt.Sprintf("n=%g s=%g e=%g w=%g nsres=%g ewres=%g", r.North, r.South, r.East, r.West, r.NSRes, r.EWRes)
}

// RegionSpec describes a g.region call. Zero fields are omitted.
type RegionSpec struct {
	Region   string  // saved region to restore
	Vector   string  // vector map to take the extent from
	Raster   string  // raster map to take the extent from
	Align    string  // raster map to align cells to
	Bounds   *Extent // explicit bounds
	Res      float64 // resolution
	Grow     int     // number of cells to grow the region by
	AlignRes bool    // align bounds to the resolution (-a flag)
}

// Location identifies a GRASS location and mapset.
type Location struct {
	GISDBase string
	Name     string
	Mapset   string
}

// String returns location/mapset.
func (l Location) String() string {
	return l.Name + "/" + l.Mapset
}

// RasterInfo is the subset of r.info -g output the importers use.
type RasterInfo struct {
	Extent Extent
	NSRes  float64
	EWRes  float64
	Rows   int
	Cols   int
}

// Univar is the subset of r.univar -g output the importers use.
type Univar struct {
	N         int64
	NullCells int64
	Min       float64
	Max       float64
	Mean      float64
	Sum       float64
}
