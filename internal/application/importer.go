package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/jobrunner/demimport/internal/catalog"
	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/input"
	"github.com/jobrunner/demimport/internal/ports/output"
	"github.com/jobrunner/demimport/internal/retry"
)

// ImporterDeps are the collaborators shared by all state importers.
type ImporterDeps struct {
	GIS        output.GIS
	TileIndex  output.TileIndexOpener
	Downloader output.Downloader
	Metrics    output.MetricsCollector
	Logger     *slog.Logger
	Clock      clockwork.Clock
	// Workers is the download pool size for sources without their own.
	Workers int
}

func (d ImporterDeps) withDefaults() ImporterDeps {
	if d.Metrics == nil {
		d.Metrics = &output.NoOpMetrics{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Workers < 1 {
		d.Workers = 3
	}
	return d
}

// Importer imports one product of one federal state as described by a
// catalog source.
type Importer struct {
	ImporterDeps
	source catalog.Source
	fetch  fetchFunc
	retry  retry.Policy
	logger *slog.Logger
}

// Ensure Importer implements input.StateImporter.
var _ input.StateImporter = (*Importer)(nil)

// NewImporter creates the importer for src. The fetch method decides how
// tiles are transferred and imported.
func NewImporter(src catalog.Source, deps ImporterDeps) (*Importer, error) {
	fetch, ok := fetchers[src.Method]
	if !ok {
		return nil, fmt.Errorf("%s: method %q: %w", src.Key(), src.Method, domain.ErrUnsupportedFetch)
	}
	deps = deps.withDefaults()
	logger := deps.Logger.With("product", src.Product, "state", src.State)

	// only sources with a retry budget of their own retry imports
	policy := retry.Once
	if src.Retries > 0 {
		policy.Attempts = src.Retries
		policy.Delay = src.RetryDelay
	}
	policy.Clock = deps.Clock
	policy.Retryable = retry.IsTransient
	policy.OnRetry = func(attempt int, err error) {
		deps.Metrics.IncRetries("import")
		logger.Warn("import failed, retrying", "attempt", attempt, "error", err)
	}

	return &Importer{
		ImporterDeps: deps,
		source:       src,
		fetch:        fetch,
		retry:        policy,
		logger:       logger,
	}, nil
}

// Product implements input.StateImporter.
func (i *Importer) Product() domain.Product { return i.source.Product }

// State implements input.StateImporter.
func (i *Importer) State() domain.FederalState { return i.source.State }

// Method returns the fetch method of the source.
func (i *Importer) Method() catalog.Method { return i.source.Method }

// importRun is the state of one Import call.
type importRun struct {
	*Importer
	gis     output.GIS // where tiles are imported, maybe a temporary location
	req     domain.ImportRequest
	id      string
	dir     string
	restore domain.RegionSpec // region each remote-zip tile starts from
	tracker *Tracker
	tiles   []string
	inTemp  bool
}

func (r *importRun) addTiles(names ...string) {
	r.tiles = append(r.tiles, names...)
	if !r.inTemp {
		r.tracker.Add(output.KindRaster, names...)
	}
}

func (r *importRun) addFiles(paths ...string) {
	r.tracker.AddFile(paths...)
}

// plural is the product name used in progress messages.
func (i *Importer) plural() string {
	return string(i.source.Product) + "s"
}

// Import implements input.StateImporter.
func (i *Importer) Import(ctx context.Context, req domain.ImportRequest) (result domain.ImportResult, err error) {
	if err := req.Validate(); err != nil {
		return result, err
	}
	start := i.Clock.Now()
	id := newID()
	log := i.logger.With("output", req.Output)
	product, state := string(i.source.Product), string(i.source.State)

	tracker := NewTracker(i.GIS, log)
	tracker.SetOutput(req.Output)

	dir := req.DownloadDir
	if dir == "" {
		if dir, err = os.MkdirTemp("", "demimport-"+i.source.Product.Prefix()+"-*"); err != nil {
			return result, fmt.Errorf("creating download directory: %w", err)
		}
		tracker.AddFile(dir)
	} else if err = os.MkdirAll(dir, 0o750); err != nil {
		return result, fmt.Errorf("creating download directory: %w", err)
	}

	scope, err := openScope(ctx, i.GIS, id)
	if err != nil {
		return result, err
	}
	defer func() {
		cctx := detached(ctx)
		tracker.Cleanup(cctx, err != nil, req.KeepData)
		if cerr := scope.close(cctx); cerr != nil {
			log.Warn("failed to restore region", "error", cerr)
		}
		i.Metrics.IncImportCount(product, state, err == nil)
		i.Metrics.ObserveImportDuration(product, state, i.Clock.Since(start))
	}()

	run := &importRun{
		Importer: i,
		gis:      scope.gis,
		req:      req,
		id:       id,
		dir:      dir,
		restore:  domain.RegionSpec{Region: scope.original},
		tracker:  tracker,
	}
	if req.AOI != "" {
		run.restore = domain.RegionSpec{Vector: req.AOI}
	}

	epsg, err := scope.gis.EPSG(ctx)
	if err != nil {
		return result, err
	}
	reproject := i.source.NeedsTempLocation(epsg)

	aoi := req.AOI
	if reproject && aoi == "" {
		aoi = "aoi_region_" + id
		if err = scope.gis.RegionToVector(ctx, aoi); err != nil {
			return result, err
		}
		tracker.Add(output.KindVector, aoi)
	}
	if err = scope.toAOI(ctx, aoi); err != nil {
		return result, err
	}

	locations, err := i.locate(ctx, scope.gis, aoi, dir, req.KeepData)
	if err != nil {
		return result, err
	}

	target := req.Output
	if i.source.Clip {
		target = "tmp_" + req.Output + "_" + id
		tracker.Add(output.KindRaster, target)
	}

	if reproject {
		err = i.importReprojected(ctx, run, scope, aoi, locations, target)
	} else {
		err = i.importDirect(ctx, run, locations, target)
	}
	i.Metrics.AddTilesImported(product, state, len(run.tiles))
	if err != nil {
		return result, err
	}

	if i.source.Clip {
		if err = i.clip(ctx, run, target); err != nil {
			return result, err
		}
	}

	result.Output = req.Output
	switch {
	case !req.NativeRes && !reproject:
		// the whole mosaic at once, resampling single tiles leaves empty
		// rows and columns at the tile borders
		if err = scope.gis.SetRegion(ctx, domain.RegionSpec{Raster: req.Output, Res: scope.callerRes()}); err != nil {
			return result, err
		}
		log.Info("Resampling / interpolating data...")
		if err = scope.gis.Resample(ctx, req.Output, req.Output, scope.callerRes()); err != nil {
			return result, err
		}
	case !reproject && !i.source.Clip && len(run.tiles) > 1:
		// the output is a VRT over the tiles
		tracker.Release(run.tiles...)
		result.Intermediates = append(result.Intermediates, run.tiles...)
	}

	log.Info(fmt.Sprintf("%s raster map <%s> is created.", i.source.Product, req.Output))
	return result, nil
}

// locate returns the fetchable locations of the tiles intersecting the
// current region of gis and aoi.
func (i *Importer) locate(ctx context.Context, gis output.GIS, aoi, dir string, keep bool) ([]string, error) {
	q, err := tileQuery(ctx, gis, aoi)
	if err != nil {
		return nil, err
	}

	idx, err := i.TileIndex.Open(ctx, i.source.TileIndex, dir, keep)
	if err != nil {
		return nil, err
	}
	defer func() { _ = idx.Close() }()

	raw, err := idx.Locations(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", i.source.Key(), domain.ErrNoTiles)
	}

	now := i.Clock.Now()
	locations := make([]string, len(raw))
	for n, loc := range raw {
		locations[n] = i.source.TileURL(loc, now)
	}
	i.logger.Debug("tiles selected", "count", len(locations))
	return locations, nil
}

func (i *Importer) importDirect(ctx context.Context, run *importRun, locations []string, target string) error {
	if err := i.fetch(ctx, run, locations); err != nil {
		return err
	}
	return run.gis.BuildVRT(ctx, run.tiles, target)
}

// importReprojected imports the tiles in a temporary location with the
// source CRS and projects the mosaic back into the region of aoi.
func (i *Importer) importReprojected(ctx context.Context, run *importRun, scope *regionScope, aoi string, locations []string, target string) error {
	loc, err := scope.gis.Location(ctx)
	if err != nil {
		return err
	}

	sess, err := scope.gis.TempLocation(ctx, i.source.SourceEPSG)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(detached(ctx)); cerr != nil {
			i.logger.Warn("failed to remove temporary location", "error", cerr)
		}
	}()

	name, from := splitMapset(aoi, loc)
	if err := sess.ProjectVector(ctx, from, name); err != nil {
		return fmt.Errorf("projecting aoi: %w", err)
	}
	if err := sess.SetRegion(ctx, domain.RegionSpec{Vector: name, Res: scope.callerRes(), AlignRes: true}); err != nil {
		return err
	}

	prevGIS, prevRestore := run.gis, run.restore
	run.gis, run.restore, run.inTemp = sess, domain.RegionSpec{Vector: name}, true
	defer func() {
		run.gis, run.restore, run.inTemp = prevGIS, prevRestore, false
	}()
	if err := i.fetch(ctx, run, locations); err != nil {
		return err
	}
	mosaic := run.req.Output
	if err := sess.BuildVRT(ctx, run.tiles, mosaic); err != nil {
		return err
	}

	res := scope.callerRes()
	if run.req.NativeRes {
		info, err := sess.RasterInfo(ctx, mosaic)
		if err != nil {
			return err
		}
		res = info.NSRes
	}

	tmp, err := sess.Location(ctx)
	if err != nil {
		return err
	}
	if err := scope.gis.SetRegion(ctx, domain.RegionSpec{Vector: aoi, Res: res, AlignRes: true}); err != nil {
		return err
	}
	return scope.gis.ProjectRaster(ctx, tmp, mosaic, target, res)
}

// clip copies the area of the region or aoi out of the mosaic.
func (i *Importer) clip(ctx context.Context, run *importRun, mosaic string) error {
	spec := run.restore
	spec.Align = mosaic
	if err := run.gis.SetRegion(ctx, spec); err != nil {
		return err
	}
	run.tracker.MaskSet()
	if err := run.gis.MapCalc(ctx, "MASK = 1"); err != nil {
		return err
	}
	return run.gis.MapCalc(ctx, run.req.Output+" = "+mosaic)
}

// splitMapset splits name@mapset. Names without mapset live in the mapset
// of loc.
func splitMapset(name string, loc domain.Location) (string, domain.Location) {
	if base, mapset, ok := strings.Cut(name, "@"); ok {
		loc.Mapset = mapset
		return base, loc
	}
	return name, loc
}
