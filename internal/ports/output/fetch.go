package output

import (
	"context"

	"github.com/jobrunner/demimport/internal/domain"
)

// TileQuery selects tiles of a tile index.
type TileQuery struct {
	// Extent is the area of interest in Extent.SRID.
	Extent domain.Extent
	// Polygons optionally narrows the selection to WKT geometries in the
	// same CRS as Extent.
	Polygons []string
}

// TileIndex is an opened tile index.
type TileIndex interface {
	// Locations returns the location attribute of every tile intersecting q.
	Locations(ctx context.Context, q TileQuery) ([]string, error)
	Close() error
}

// TileIndexOpener fetches and opens tile indices.
type TileIndexOpener interface {
	// Open downloads the tile index at url into dir and opens it. With keep
	// set the downloaded file stays in dir after Close.
	Open(ctx context.Context, url, dir string, keep bool) (TileIndex, error)
}

// RasterProbe is what the header of a GeoTIFF tells about its grid.
type RasterProbe struct {
	PixelSize float64
	Extent    domain.Extent
}

// Downloader fetches remote data files.
type Downloader interface {
	// FetchAll downloads urls into dir with at most workers parallel
	// transfers and returns the local paths in input order. On failure
	// the paths of the completed files are returned with the error.
	FetchAll(ctx context.Context, urls []string, dir string, workers int) ([]string, error)
	// Extract unpacks an archive into dir and returns the extracted paths.
	Extract(ctx context.Context, archive, dir string) ([]string, error)
	// ExtractRemote extracts single entries of a remote zip archive.
	ExtractRemote(ctx context.Context, archiveURL string, entries []string, dir string) ([]string, error)
	// Probe reads the grid of a GeoTIFF from a local path or URL.
	Probe(ctx context.Context, location string) (RasterProbe, error)
}
