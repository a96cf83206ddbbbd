package tileindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// LocationColumn is the tile attribute holding the download location.
const LocationColumn = "location"

// Fetcher downloads a URL to a local file and unpacks archives.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
	Extract(ctx context.Context, archive, dir string) ([]string, error)
}

// Opener fetches tile index archives and opens them.
type Opener struct {
	fetcher   Fetcher
	projector *Projector
	logger    *slog.Logger
}

// Ensure Opener implements output.TileIndexOpener.
var _ output.TileIndexOpener = (*Opener)(nil)

// NewOpener creates an opener. Indices given as local paths are read in
// place.
func NewOpener(fetcher Fetcher, projector *Projector, logger *slog.Logger) *Opener {
	return &Opener{fetcher: fetcher, projector: projector, logger: logger}
}

// Open implements output.TileIndexOpener. A downloaded archive is left in
// dir when keep is set.
func (o *Opener) Open(ctx context.Context, source, dir string, keep bool) (output.TileIndex, error) {
	var temps []string
	cleanup := func() {
		for _, p := range temps {
			_ = os.Remove(p)
		}
	}

	archive := source
	if isRemote(source) {
		archive = filepath.Join(dir, remoteName(source))
		o.logger.Debug("downloading tile index", "url", source, "path", archive)
		if err := o.fetcher.Fetch(ctx, source, archive); err != nil {
			return nil, &domain.IndexError{Source: source, Err: err}
		}
		if !keep {
			temps = append(temps, archive)
		}
	}

	gpkg := archive
	if strings.HasSuffix(archive, ".gz") {
		if o.fetcher == nil {
			cleanup()
			return nil, &domain.IndexError{Source: source, Err: domain.ErrUnsupportedFetch}
		}
		unpacked, err := o.fetcher.Extract(ctx, archive, dir)
		if err != nil {
			cleanup()
			return nil, &domain.IndexError{Source: source, Err: err}
		}
		temps = append(temps, unpacked...)
		gpkg = unpacked[0]
	}

	db, err := openDB(ctx, gpkg)
	if err != nil {
		cleanup()
		return nil, &domain.IndexError{Source: source, Err: err}
	}

	layers, err := readLayers(ctx, db)
	if err == nil && len(layers) == 0 {
		err = fmt.Errorf("no feature layer: %w", domain.ErrIndexUnreadable)
	}
	if err != nil {
		_ = db.Close()
		cleanup()
		return nil, &domain.IndexError{Source: source, Err: err}
	}

	return &Index{
		db:        db,
		source:    source,
		layers:    layers,
		temps:     temps,
		projector: o.projector,
		logger:    o.logger,
	}, nil
}

func isRemote(source string) bool {
	u, err := url.Parse(source)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

func remoteName(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return "tile_index.gpkg.gz"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "tile_index.gpkg.gz"
	}
	return name
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}
	return db, nil
}

type layer struct {
	name     string
	geom     string
	srid     int
	location string
	rtree    bool
}

func (l layer) rtreeTable() string {
	return fmt.Sprintf("rtree_%s_%s", l.name, l.geom)
}

// readLayers reads the feature layers carrying a location attribute.
func readLayers(ctx context.Context, db *sql.DB) ([]layer, error) {
	const query = `
		SELECT c.table_name, g.column_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading layers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var layers []layer
	for rows.Next() {
		var l layer
		if err := rows.Scan(&l.name, &l.geom, &l.srid); err != nil {
			return nil, fmt.Errorf("scanning layer: %w", err)
		}
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var usable []layer
	for _, l := range layers {
		cols, err := columns(ctx, db, l.name)
		if err != nil {
			return nil, err
		}
		l.location = locationColumn(cols)
		if l.location == "" {
			continue
		}

		var n int
		err = db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", l.rtreeTable(),
		).Scan(&n)
		l.rtree = err == nil && n > 0

		usable = append(usable, l)
	}
	return usable, nil
}

func columns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM pragma_table_info('%s')`, table)) //#nosec G201 -- table name from gpkg_contents
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// locationColumn picks the location attribute, ignoring case.
func locationColumn(cols []string) string {
	for _, c := range cols {
		if strings.EqualFold(c, LocationColumn) {
			return c
		}
	}
	return ""
}

// Index is an opened tile index.
type Index struct {
	db        *sql.DB
	source    string
	layers    []layer
	temps     []string
	projector *Projector
	logger    *slog.Logger
}

// Locations implements output.TileIndex. Tiles only touching the query
// bound are not selected.
func (ix *Index) Locations(ctx context.Context, q output.TileQuery) ([]string, error) {
	seen := make(map[string]bool)
	var locations []string

	for _, l := range ix.layers {
		bound := q.Extent
		if l.srid > 0 && bound.SRID > 0 && l.srid != bound.SRID {
			var err error
			bound, err = ix.projector.Transform(bound, l.srid)
			if err != nil {
				return nil, &domain.IndexError{Source: ix.source, Layer: l.name, Err: err}
			}
		}

		var polygons []string
		if bound.SRID == q.Extent.SRID {
			polygons = q.Polygons
		}

		query, args := selectQuery(l, bound, polygons)
		rows, err := ix.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, &domain.IndexError{Source: ix.source, Layer: l.name, Err: err}
		}
		for rows.Next() {
			var loc sql.NullString
			if err := rows.Scan(&loc); err != nil {
				_ = rows.Close()
				return nil, &domain.IndexError{Source: ix.source, Layer: l.name, Err: err}
			}
			if loc.Valid && loc.String != "" && !seen[loc.String] {
				seen[loc.String] = true
				locations = append(locations, loc.String)
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, &domain.IndexError{Source: ix.source, Layer: l.name, Err: err}
		}
	}

	ix.logger.Debug("queried tile index", "source", ix.source, "tiles", len(locations))
	return locations, nil
}

// selectQuery builds the tile selection for one layer. The R-tree is used
// when the layer has one; otherwise geometry MBRs are scanned.
func selectQuery(l layer, bound domain.Extent, polygons []string) (string, []any) {
	var b strings.Builder
	args := []any{bound.MaxX, bound.MinX, bound.MaxY, bound.MinY}

	if l.rtree {
		fmt.Fprintf(&b, `SELECT t."%s" FROM "%s" t INNER JOIN "%s" r ON t.rowid = r.id `+
			`WHERE r.minx < ? AND r.maxx > ? AND r.miny < ? AND r.maxy > ?`,
			l.location, l.name, l.rtreeTable())
	} else {
		g := fmt.Sprintf(`CastAutomagic(t."%s")`, l.geom)
		fmt.Fprintf(&b, `SELECT t."%s" FROM "%s" t `+
			`WHERE MbrMinX(%s) < ? AND MbrMaxX(%s) > ? AND MbrMinY(%s) < ? AND MbrMaxY(%s) > ?`,
			l.location, l.name, g, g, g, g)
	}

	if len(polygons) > 0 {
		b.WriteString(" AND (")
		for i, wkt := range polygons {
			if i > 0 {
				b.WriteString(" OR ")
			}
			fmt.Fprintf(&b, `ST_Intersects(CastAutomagic(t."%s"), GeomFromText(?, ?)) = 1`, l.geom)
			args = append(args, wkt, l.srid)
		}
		b.WriteString(")")
	}
	b.WriteString(" ORDER BY t.rowid")
	return b.String(), args
}

// Close closes the database and removes unpacked files.
func (ix *Index) Close() error {
	err := ix.db.Close()
	for _, p := range ix.temps {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	return err
}
