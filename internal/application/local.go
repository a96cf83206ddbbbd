package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
	"github.com/jobrunner/demimport/internal/xyz"
)

// StorageOpener opens a local-data root: a directory or a remote prefix.
type StorageOpener func(ctx context.Context, root string) (output.ObjectStorage, error)

var localExtensions = map[domain.Product][]string{
	domain.DTM: {".xyz", ".txt"},
	domain.DSM: {".tif", ".tiff"},
}

// LocalImporter imports data the operator staged below a local-data root
// with one directory per federal state.
type LocalImporter struct {
	open       StorageOpener
	downloader output.Downloader
	logger     *slog.Logger
}

// NewLocalImporter creates a local importer.
func NewLocalImporter(open StorageOpener, downloader output.Downloader, logger *slog.Logger) *LocalImporter {
	return &LocalImporter{open: open, downloader: downloader, logger: logger}
}

// States returns the federal states that have a directory below root.
// Directories that are no state code are ignored.
func (l *LocalImporter) States(ctx context.Context, root string) ([]domain.FederalState, error) {
	if root == "" {
		return nil, nil
	}
	store, err := l.open(ctx, root)
	if err != nil {
		return nil, err
	}
	dirs, err := store.Dirs(ctx)
	if err != nil {
		return nil, err
	}

	var states []domain.FederalState
	for _, d := range dirs {
		s := domain.FederalState(strings.ToUpper(d))
		if !s.Valid() {
			l.logger.Debug("ignoring local data directory", "root", root, "dir", d)
			continue
		}
		states = append(states, s)
	}
	return states, nil
}

// Import imports the files of state below root that intersect the current
// region of gis into req.Output. ok is false when no file intersects.
func (l *LocalImporter) Import(ctx context.Context, gis output.GIS, p domain.Product, root string, state domain.FederalState, req domain.ImportRequest) (result domain.ImportResult, ok bool, err error) {
	log := l.logger.With("product", p, "state", state, "root", root)

	exts, known := localExtensions[p]
	if !known {
		return result, false, fmt.Errorf("local %s data: %w", p, domain.ErrUnsupported)
	}

	store, err := l.open(ctx, root)
	if err != nil {
		return result, false, err
	}
	objects, err := store.List(ctx, string(state))
	if err != nil {
		return result, false, err
	}

	tracker := NewTracker(gis, log)
	defer func() {
		tracker.Cleanup(detached(ctx), err != nil, req.KeepData)
	}()

	epsg, err := gis.EPSG(ctx)
	if err != nil {
		return result, false, err
	}
	region, err := gis.Region(ctx)
	if err != nil {
		return result, false, err
	}
	bound := region.Extent(epsg)

	id := newID()
	var tiles []string
	for _, obj := range objects {
		if !hasExt(obj.Key, exts) {
			continue
		}
		file, err := l.stage(ctx, store, obj, req.DownloadDir, tracker)
		if err != nil {
			return result, false, err
		}

		var name string
		if p == domain.DTM {
			name, err = l.importXYZ(ctx, gis, file, bound, id)
		} else {
			name, err = l.importRaster(ctx, gis, file, bound, id, req.NativeRes)
		}
		if err != nil {
			return result, false, err
		}
		if name != "" {
			tracker.Add(output.KindRaster, name)
			tiles = append(tiles, name)
		}
	}

	if len(tiles) == 0 {
		log.Info("Local data does not overlap with aoi.")
		return result, false, nil
	}

	tracker.SetOutput(req.Output)
	if err = gis.BuildVRT(ctx, tiles, req.Output); err != nil {
		return result, false, err
	}
	if len(tiles) > 1 {
		tracker.Release(tiles...)
		result.Intermediates = tiles
	}
	result.Output = req.Output
	log.Info("local data imported", "files", len(tiles), "output", req.Output)
	return result, true, nil
}

// stage returns a local path for obj, downloading it from remote roots.
// Files already staged with the same size are reused.
func (l *LocalImporter) stage(ctx context.Context, store output.ObjectStorage, obj output.StorageObject, dir string, tracker *Tracker) (string, error) {
	if lp, ok := store.(output.LocalPather); ok {
		return lp.FullPath(obj.Key), nil
	}

	if dir == "" {
		dir = os.TempDir()
	}
	localPath := filepath.Join(dir, "local", filepath.FromSlash(obj.Key))
	if info, err := os.Stat(localPath); err == nil && obj.Size > 0 && info.Size() == obj.Size {
		l.logger.Debug("local data already staged, skipping", "key", obj.Key)
		return localPath, nil
	}

	if err := store.Download(ctx, obj.Key, localPath); err != nil {
		return "", err
	}
	tracker.AddFile(localPath)
	return localPath, nil
}

func (l *LocalImporter) importXYZ(ctx context.Context, gis output.GIS, file string, bound domain.Extent, id string) (string, error) {
	sum, err := xyz.Scan(file, "")
	if err != nil {
		l.logger.Warn("skipping unreadable xyz file", "file", file, "error", err)
		return "", nil
	}
	ext := xyz.CellExtent(sum)
	if !ext.Intersects(bound) {
		return "", nil
	}

	if err := gis.SetRegion(ctx, domain.RegionSpec{Bounds: &ext, Res: sum.Resolution}); err != nil {
		return "", err
	}
	name := tileName(file, id)
	if err := gis.ImportXYZ(ctx, output.XYZImport{Input: file, Output: name, Separator: sum.Separator}); err != nil {
		return "", fmt.Errorf("importing %s: %w", file, err)
	}
	return name, nil
}

// importRaster imports a raster file into the current region. Files whose
// footprint cannot be read are imported and left to r.import to clip.
func (l *LocalImporter) importRaster(ctx context.Context, gis output.GIS, file string, bound domain.Extent, id string, native bool) (string, error) {
	probe, err := l.downloader.Probe(ctx, file)
	known := err == nil && probe.Extent.IsValid() && probe.Extent.Width() > 0
	if err != nil {
		l.logger.Debug("unknown raster footprint", "file", file, "error", err)
	}
	if known && !probe.Extent.Intersects(bound) {
		return "", nil
	}

	imp := output.RasterImport{Input: file, Output: tileName(file, id)}
	if native && err == nil {
		imp.Resolution = probe.PixelSize
	}
	if err := gis.ImportRaster(ctx, imp); err != nil {
		return "", fmt.Errorf("importing %s: %w", file, err)
	}
	return imp.Output, nil
}

func hasExt(key string, exts []string) bool {
	ext := strings.ToLower(path.Ext(key))
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}
