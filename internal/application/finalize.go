package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// Finalize writes the output of result into a raster of its own and removes
// the intermediates it depended on. Results without intermediates are left
// as they are. On failure the output and the intermediates are removed.
func Finalize(ctx context.Context, gis output.GIS, result domain.ImportResult, logger *slog.Logger) (err error) {
	if len(result.Intermediates) == 0 {
		return nil
	}

	id := newID()
	tmp := fmt.Sprintf("%s_%s", result.Output, id)
	defer func() {
		if err == nil {
			return
		}
		names := append([]string{tmp, result.Output}, result.Intermediates...)
		if rmErr := gis.Remove(detached(ctx), output.KindRaster, names...); rmErr != nil {
			logger.Warn("failed to remove output after failure", "output", result.Output, "error", rmErr)
		}
	}()

	scope, err := openScope(ctx, gis, id)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := scope.close(detached(ctx)); cerr != nil {
			logger.Warn("failed to restore region", "error", cerr)
		}
	}()

	if err = scope.gis.SetRegion(ctx, domain.RegionSpec{Raster: result.Output}); err != nil {
		return err
	}
	if err = scope.gis.MapCalc(ctx, fmt.Sprintf("%s = %s", tmp, result.Output)); err != nil {
		return fmt.Errorf("writing %s: %w", result.Output, err)
	}
	if err = gis.Rename(ctx, output.KindRaster, tmp, result.Output); err != nil {
		return err
	}

	logger.Debug("removing intermediate maps", "count", len(result.Intermediates))
	if rmErr := gis.Remove(ctx, output.KindRaster, result.Intermediates...); rmErr != nil {
		logger.Warn("failed to remove intermediate maps", "error", rmErr)
	}
	return nil
}
