// Package application contains the importers, dispatchers and the nDSM
// composer.
package application

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/jobrunner/demimport/internal/ports/output"
)

// Tracker records the maps and files an operation creates so that they can
// be removed when it ends. The output map is removed only on failure.
type Tracker struct {
	mu     sync.Mutex
	gis    output.GIS
	logger *slog.Logger
	maps   map[output.MapKind][]string
	files  []string
	output string
	mask   bool
}

// NewTracker creates a tracker removing maps through gis.
func NewTracker(gis output.GIS, logger *slog.Logger) *Tracker {
	return &Tracker{
		gis:    gis,
		logger: logger,
		maps:   make(map[output.MapKind][]string),
	}
}

// Add registers temporary maps.
func (t *Tracker) Add(kind output.MapKind, names ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range names {
		if n != "" && !slices.Contains(t.maps[kind], n) {
			t.maps[kind] = append(t.maps[kind], n)
		}
	}
}

// Release hands raster maps over to the caller. They are no longer removed.
func (t *Tracker) Release(names ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maps[output.KindRaster] = slices.DeleteFunc(t.maps[output.KindRaster], func(n string) bool {
		return slices.Contains(names, n)
	})
}

// AddFile registers a downloaded file or directory.
func (t *Tracker) AddFile(paths ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = append(t.files, paths...)
}

// SetOutput registers the map that survives a successful run.
func (t *Tracker) SetOutput(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output = name
}

// MaskSet records that a raster mask is active.
func (t *Tracker) MaskSet() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mask = true
}

// MaskCleared records that the mask was removed.
func (t *Tracker) MaskCleared() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mask = false
}

// Rasters returns the registered raster maps.
func (t *Tracker) Rasters() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.maps[output.KindRaster])
}

// Cleanup removes everything registered. failed also removes the output;
// keepFiles leaves downloaded files in place. Errors are logged since
// cleanup must not mask the result of the operation.
func (t *Tracker) Cleanup(ctx context.Context, failed, keepFiles bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mask {
		if err := t.gis.RemoveMask(ctx); err != nil {
			t.logger.Warn("failed to remove mask", "error", err)
		}
		t.mask = false
	}

	rasters := t.maps[output.KindRaster]
	if failed && t.output != "" && !slices.Contains(rasters, t.output) {
		rasters = append(rasters, t.output)
	}
	for _, kind := range []output.MapKind{output.KindRaster, output.KindVector, output.KindRegion} {
		names := t.maps[kind]
		if kind == output.KindRaster {
			names = rasters
		}
		if len(names) == 0 {
			continue
		}
		t.logger.Debug("removing temporary maps", "type", kind, "names", names)
		if err := t.gis.Remove(ctx, kind, names...); err != nil {
			t.logger.Warn("failed to remove temporary maps", "type", kind, "error", err)
		}
	}
	clear(t.maps)

	if !keepFiles {
		for _, p := range t.files {
			if err := os.RemoveAll(p); err != nil {
				t.logger.Warn("failed to delete downloaded file", "path", p, "error", err)
			}
		}
	}
	t.files = nil
}
