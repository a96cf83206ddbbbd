package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/input"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// Composer builds an nDSM for several federal states. States publishing
// an nDSM are imported directly, the others are computed as DSM - DTM.
type Composer struct {
	gis      output.GIS
	registry input.ImporterRegistry
	dsm      input.Dispatcher
	dtm      input.Dispatcher
	local    *LocalImporter
	matrix   domain.SupportMatrix
	logger   *slog.Logger
}

// Ensure Composer implements input.Composer.
var _ input.Composer = (*Composer)(nil)

// NewComposer creates an nDSM composer.
func NewComposer(
	gis output.GIS,
	registry input.ImporterRegistry,
	dsm, dtm input.Dispatcher,
	local *LocalImporter,
	matrix domain.SupportMatrix,
	logger *slog.Logger,
) *Composer {
	return &Composer{
		gis:      gis,
		registry: registry,
		dsm:      dsm,
		dtm:      dtm,
		local:    local,
		matrix:   matrix,
		logger:   logger.With("product", domain.NDSM),
	}
}

// localStates lists the state directories of root. An empty root has none.
func (c *Composer) localStates(ctx context.Context, root string) ([]domain.FederalState, error) {
	if root == "" || c.local == nil {
		return nil, nil
	}
	return c.local.States(ctx, root)
}

// Compose implements input.Composer.
func (c *Composer) Compose(ctx context.Context, req domain.ComposeRequest) (result domain.ImportResult, err error) {
	if err := req.Validate(); err != nil {
		return result, err
	}
	states := dedupe(req.States)
	if len(states) == 0 {
		return result, domain.ErrNoStates
	}

	localNDSM, err := c.localStates(ctx, req.LocalNDSM)
	if err != nil {
		return result, fmt.Errorf("reading local nDSM directory: %w", err)
	}
	localDSM, err := c.localStates(ctx, req.LocalDSM)
	if err != nil {
		return result, fmt.Errorf("reading local DSM directory: %w", err)
	}
	localDTM, err := c.localStates(ctx, req.LocalDTM)
	if err != nil {
		return result, fmt.Errorf("reading local DTM directory: %w", err)
	}

	id := newID()
	tracker := NewTracker(c.gis, c.logger)
	tracker.SetOutput(req.Output)

	scope, err := openScope(ctx, c.gis, id)
	if err != nil {
		return result, err
	}
	defer func() {
		cctx := detached(ctx)
		tracker.Cleanup(cctx, err != nil, req.KeepData)
		if cerr := scope.close(cctx); cerr != nil {
			c.logger.Warn("failed to restore region", "error", cerr)
		}
	}()

	var ndsms []string
	for _, fs := range states {
		if err = scope.reset(ctx); err != nil {
			return result, err
		}
		if slices.Contains(localNDSM, fs) {
			c.logger.Info("Local nDSM import not yet supported!", "state", fs)
		}

		name, err := c.composeState(ctx, scope, tracker, req, fs, id,
			slices.Contains(localDSM, fs), slices.Contains(localDTM, fs))
		if err != nil {
			return result, err
		}
		if name != "" {
			ndsms = append(ndsms, name)
		}
	}

	if len(ndsms) == 0 {
		return result, domain.ErrNothingImported
	}

	if err = scope.reset(ctx); err != nil {
		return result, err
	}
	if err = scope.gis.BuildVRT(ctx, ndsms, req.Output); err != nil {
		return result, err
	}
	if err = c.checkCompleteness(ctx, scope, tracker, req.AOI, req.Output, id); err != nil {
		return result, err
	}

	result.Output = req.Output
	// the output references the per-state nDSMs and what they depend on
	result.Intermediates = tracker.Rasters()
	tracker.Release(result.Intermediates...)

	c.logger.Info(fmt.Sprintf("nDSM raster map <%s> is created.", req.Output))
	return result, nil
}

// composeState returns the nDSM of fs, or "" when only one of DSM and DTM
// could be imported.
func (c *Composer) composeState(
	ctx context.Context,
	scope *regionScope,
	tracker *Tracker,
	req domain.ComposeRequest,
	fs domain.FederalState,
	id string,
	hasDSM, hasDTM bool,
) (string, error) {
	flags := req.ImportRequest

	if c.matrix.Classify(domain.NDSM, fs) == domain.Supported {
		imp, err := c.registry.Get(domain.NDSM, fs)
		if err != nil {
			return "", err
		}
		c.logger.Info(fmt.Sprintf("Importing nDSM data for %s...", fs))
		out := fmt.Sprintf("ndsm_%s_%s", fs.Lower(), id)
		tracker.Add(output.KindRaster, out)
		res, err := imp.Import(ctx, c.subRequest(flags, out, "nDSM"))
		if err != nil {
			return "", err
		}
		tracker.Add(output.KindRaster, res.Intermediates...)
		return out, nil
	}

	var dsm, dtm domain.ImportResult
	if hasDSM || c.matrix.Classify(domain.DSM, fs) == domain.Supported {
		c.logger.Info(fmt.Sprintf("Importing DSM data for %s...", fs))
		res, err := c.dispatch(ctx, c.dsm, tracker, req.LocalDSM, flags, fs, fmt.Sprintf("dsm_%s_%s", fs.Lower(), id), "DSM")
		if err != nil {
			return "", err
		}
		dsm = res
	}
	if hasDTM || c.matrix.Classify(domain.DTM, fs) == domain.Supported {
		c.logger.Info(fmt.Sprintf("Importing DTM data for %s...", fs))
		res, err := c.dispatch(ctx, c.dtm, tracker, req.LocalDTM, flags, fs, fmt.Sprintf("dtm_%s_%s", fs.Lower(), id), "DTM")
		if err != nil {
			return "", err
		}
		dtm = res
	}

	var inputs domain.ImportResult
	inputs.Merge(dsm)
	inputs.Merge(dtm)

	if dsm.Output == "" || dtm.Output == "" {
		c.logger.Warn("nDSM cannot be computed, skipping federal state",
			"state", fs, "dsm", dsm.Output != "", "dtm", dtm.Output != "")
		c.drop(ctx, tracker, fs, inputs.Intermediates)
		return "", nil
	}

	ndsm := fmt.Sprintf("ndsm_%s_%s", fs.Lower(), id)
	tracker.Add(output.KindRaster, ndsm)
	if err := scope.gis.SetRegion(ctx, domain.RegionSpec{Raster: dsm.Output}); err != nil {
		return "", err
	}
	if err := scope.gis.MapCalc(ctx, fmt.Sprintf("%s = %s - %s", ndsm, dsm.Output, dtm.Output)); err != nil {
		return "", fmt.Errorf("computing nDSM for %s: %w", fs, err)
	}

	// the difference is a raster of its own, DSM and DTM are done
	c.drop(ctx, tracker, fs, inputs.Intermediates)
	return ndsm, nil
}

// drop removes the DSM and DTM rasters of a state. Rasters that cannot be
// removed stay with the tracker.
func (c *Composer) drop(ctx context.Context, tracker *Tracker, fs domain.FederalState, names []string) {
	if len(names) == 0 {
		return
	}
	if err := c.gis.Remove(ctx, output.KindRaster, names...); err != nil {
		c.logger.Warn("failed to remove DSM and DTM", "state", fs, "error", err)
		return
	}
	tracker.Release(names...)
}

func (c *Composer) dispatch(
	ctx context.Context,
	d input.Dispatcher,
	tracker *Tracker,
	localDir string,
	flags domain.ImportRequest,
	fs domain.FederalState,
	out, sub string,
) (domain.ImportResult, error) {
	tracker.Add(output.KindRaster, out)
	res, err := d.Dispatch(ctx, domain.DispatchRequest{
		ImportRequest: c.subRequest(flags, out, sub),
		States:        []domain.FederalState{fs},
		LocalDataDir:  localDir,
	})
	if err != nil {
		return res, err
	}
	tracker.Add(output.KindRaster, res.Intermediates...)
	return res, nil
}

// subRequest derives the request of a nested import with its own output
// and download subdirectory.
func (c *Composer) subRequest(flags domain.ImportRequest, out, sub string) domain.ImportRequest {
	req := flags.WithOutput(out)
	if flags.DownloadDir != "" {
		req = req.WithDownloadDir(filepath.Join(flags.DownloadDir, sub))
	}
	return req
}

// checkCompleteness fails when a cell of the output inside the region, or
// inside aoi when given, is null.
func (c *Composer) checkCompleteness(ctx context.Context, scope *regionScope, tracker *Tracker, aoi, out, id string) error {
	if err := scope.gis.SetRegion(ctx, domain.RegionSpec{Raster: out}); err != nil {
		return err
	}
	if aoi != "" {
		tracker.MaskSet()
		if err := scope.gis.SetMask(ctx, aoi); err != nil {
			return err
		}
	}

	check := "output_null_cells_" + id
	tracker.Add(output.KindRaster, check)
	if err := scope.gis.MapCalc(ctx, fmt.Sprintf("%s = if(isnull(%s), 1, 0)", check, out)); err != nil {
		return err
	}
	stats, err := scope.gis.Univar(ctx, check)
	if err != nil {
		return err
	}

	var errs []error
	if aoi != "" {
		if rmErr := scope.gis.RemoveMask(ctx); rmErr != nil {
			errs = append(errs, rmErr)
		} else {
			tracker.MaskCleared()
		}
	}
	if stats.N == 0 || stats.Max > 0 {
		errs = append(errs, domain.ErrNullCells)
	}
	if rmErr := scope.gis.Remove(ctx, output.KindRaster, check); rmErr == nil {
		tracker.Release(check)
	}
	return errors.Join(errs...)
}
