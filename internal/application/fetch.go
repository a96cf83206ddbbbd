package application

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/jobrunner/demimport/internal/catalog"
	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
	"github.com/jobrunner/demimport/internal/xyz"
)

// fetchFunc transfers and imports the tiles at locations into run.gis and
// registers them with run.addTiles.
type fetchFunc func(ctx context.Context, run *importRun, locations []string) error

var fetchers = map[catalog.Method]fetchFunc{
	catalog.COG:       fetchCOG,
	catalog.XYZZip:    fetchXYZZip,
	catalog.RemoteZip: fetchRemoteZip,
}

// fetchCOG imports cloud optimized GeoTIFFs straight from their URL.
func fetchCOG(ctx context.Context, run *importRun, locations []string) error {
	var res float64
	if run.req.NativeRes {
		probe, err := run.Downloader.Probe(ctx, locations[0])
		if err != nil {
			return fmt.Errorf("reading native resolution: %w", err)
		}
		res = probe.PixelSize
	}

	run.logger.Info(fmt.Sprintf("Importing %s...", run.plural()), "tiles", len(locations))
	if err := run.gis.SetRegion(ctx, domain.RegionSpec{Grow: 1}); err != nil {
		return err
	}

	for _, loc := range locations {
		imp := output.RasterImport{
			Input:      catalog.VSICurl(loc),
			Output:     tileName(loc, run.id),
			Resolution: res,
		}
		err := run.retry.Do(ctx, func(ctx context.Context) error {
			return run.gis.ImportRaster(ctx, imp)
		})
		if err != nil {
			return fmt.Errorf("importing %s: %w", loc, err)
		}
		run.addTiles(imp.Output)
	}
	return nil
}

// fetchXYZZip downloads zip archives with XYZ files and grids each file.
func fetchXYZZip(ctx context.Context, run *importRun, locations []string) error {
	var urls []string
	for _, loc := range locations {
		u, ok := catalog.ArchiveURL(loc)
		if !ok {
			u = strings.TrimPrefix(loc, "/vsicurl/")
		}
		if !slices.Contains(urls, u) {
			urls = append(urls, u)
		}
	}

	workers := run.source.Workers
	if workers < 1 {
		workers = run.Workers
	}
	run.logger.Info(fmt.Sprintf("Downloading %s...", run.plural()), "files", len(urls))
	paths, err := run.Downloader.FetchAll(ctx, urls, run.dir, workers)
	run.addFiles(paths...)
	if err != nil {
		return err
	}

	run.logger.Info("Extracting XYZ files from zip files...")
	var files []string
	for _, p := range paths {
		if !strings.EqualFold(path.Ext(p), ".zip") {
			files = append(files, p)
			continue
		}
		extracted, err := run.Downloader.Extract(ctx, p, run.dir)
		run.addFiles(extracted...)
		if err != nil {
			return err
		}
		files = append(files, extracted...)
	}
	files = slices.DeleteFunc(files, func(f string) bool { return !run.source.HasExtension(f) })
	if len(files) == 0 {
		return fmt.Errorf("%s: no data files in archives: %w", run.source.Key(), domain.ErrNoTiles)
	}

	run.logger.Info(fmt.Sprintf("Importing %s...", run.plural()), "files", len(files))
	if err := run.gis.SetRegion(ctx, domain.RegionSpec{Grow: 1}); err != nil {
		return err
	}
	for _, f := range files {
		if err := importXYZFile(ctx, run, f, false); err != nil {
			return err
		}
	}
	return nil
}

// fetchRemoteZip extracts the tiles from one large remote archive without
// downloading all of it.
func fetchRemoteZip(ctx context.Context, run *importRun, locations []string) error {
	entries := make([]string, 0, len(locations))
	for _, loc := range locations {
		if _, entry, ok := catalog.ZipURL(loc); ok {
			entries = append(entries, entry)
		} else {
			entries = append(entries, loc)
		}
	}

	run.logger.Info(fmt.Sprintf("Extracting %s files...", run.source.Product), "files", len(entries))
	files, err := run.Downloader.ExtractRemote(ctx, run.source.Archive, entries, run.dir)
	run.addFiles(files...)
	if err != nil {
		return err
	}

	run.logger.Info(fmt.Sprintf("Importing %s...", run.plural()), "files", len(files))
	for _, f := range files {
		if err := run.gis.SetRegion(ctx, run.restore); err != nil {
			return err
		}
		if err := run.gis.SetRegion(ctx, domain.RegionSpec{Res: run.source.NativeRes, Grow: 1}); err != nil {
			return err
		}
		if err := importXYZFile(ctx, run, f, true); err != nil {
			return err
		}
	}
	return nil
}

// importXYZFile repairs and grids one XYZ file. Unless currentRegion is set
// the region is first fitted to the points of the file.
func importXYZFile(ctx context.Context, run *importRun, file string, currentRegion bool) error {
	sep := run.source.Separator
	fixed, backup, err := xyz.Repair(file, sep)
	if backup != "" {
		run.addFiles(backup)
	}
	if err != nil {
		return fmt.Errorf("repairing %s: %w", file, err)
	}
	if fixed > 0 {
		run.logger.Debug("repaired corrupt rows", "file", file, "rows", fixed)
	}

	if !currentRegion || sep == "" {
		sum, err := xyz.Scan(file, sep)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", file, err)
		}
		sep = sum.Separator
		if !currentRegion {
			ext := xyz.CellExtent(sum)
			if err := run.gis.SetRegion(ctx, domain.RegionSpec{Bounds: &ext, Res: sum.Resolution}); err != nil {
				return err
			}
		}
	}

	name := tileName(file, run.id)
	if err := run.gis.ImportXYZ(ctx, output.XYZImport{Input: file, Output: name, Separator: sep}); err != nil {
		return fmt.Errorf("importing %s: %w", file, err)
	}
	run.addTiles(name)
	return nil
}

// tileName derives a map name from a tile location: the base name without
// extension, reduced to characters GRASS accepts, plus the run id.
func tileName(location, id string) string {
	base := path.Base(strings.ReplaceAll(location, "\\", "/"))
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		case r == '.':
			return '_'
		}
		return -1
	}, base)
	if base == "" || (base[0] >= '0' && base[0] <= '9') {
		base = "tile_" + base
	}
	return base + "_" + id
}
