package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// IsGeoJSONFile reports whether aoi names a GeoJSON file instead of a
// vector map.
func IsGeoJSONFile(aoi string) bool {
	switch strings.ToLower(filepath.Ext(aoi)) {
	case ".geojson", ".json":
	default:
		return false
	}
	info, err := os.Stat(aoi)
	return err == nil && !info.IsDir()
}

// ImportAOI imports a GeoJSON area of interest as vector map name. The file
// must contain at least one polygon.
func ImportAOI(ctx context.Context, gis output.GIS, path, name string) error {
	data, err := os.ReadFile(path) //#nosec G304 -- path is given by the operator
	if err != nil {
		return fmt.Errorf("reading aoi: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return &domain.ValidationError{Field: "aoi", Value: path, Constraint: "GeoJSON", Message: err.Error()}
	}

	polygons := 0
	for _, f := range fc.Features {
		if isArea(f.Geometry) {
			polygons++
		}
	}
	if polygons == 0 {
		return &domain.ValidationError{
			Field:      "aoi",
			Value:      path,
			Constraint: "polygon",
			Message:    "area of interest contains no polygon",
		}
	}

	if err := gis.ImportVector(ctx, path, name); err != nil {
		return fmt.Errorf("importing aoi: %w", err)
	}
	return nil
}

// tileQuery builds the tile index query for the current region of gis,
// narrowed to the polygons of aoi when one is given.
func tileQuery(ctx context.Context, gis output.GIS, aoi string) (output.TileQuery, error) {
	epsg, err := gis.EPSG(ctx)
	if err != nil {
		return output.TileQuery{}, err
	}
	region, err := gis.Region(ctx)
	if err != nil {
		return output.TileQuery{}, err
	}

	q := output.TileQuery{Extent: region.Extent(epsg)}
	if aoi == "" {
		return q, nil
	}

	raw, err := gis.VectorWKT(ctx, aoi)
	if err != nil {
		return output.TileQuery{}, err
	}
	q.Polygons = areaWKT(raw)
	return q, nil
}

// areaWKT keeps the valid polygons of raw and normalizes their text.
func areaWKT(raw []string) []string {
	var out []string
	for _, s := range raw {
		g, err := wkt.Unmarshal(s)
		if err != nil || !isArea(g) {
			continue
		}
		out = append(out, wkt.MarshalString(g))
	}
	return out
}

func isArea(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}
