package application

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/input"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// Dispatcher imports DTM or DSM for several federal states, from local data
// where it overlaps and from the state importers otherwise.
type Dispatcher struct {
	product  domain.Product
	gis      output.GIS
	registry input.ImporterRegistry
	local    *LocalImporter
	matrix   domain.SupportMatrix
	logger   *slog.Logger
}

// Ensure Dispatcher implements input.Dispatcher.
var _ input.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates the dispatcher of product p.
func NewDispatcher(
	p domain.Product,
	gis output.GIS,
	registry input.ImporterRegistry,
	local *LocalImporter,
	matrix domain.SupportMatrix,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		product:  p,
		gis:      gis,
		registry: registry,
		local:    local,
		matrix:   matrix,
		logger:   logger.With("product", p),
	}
}

// Product implements input.Dispatcher.
func (d *Dispatcher) Product() domain.Product { return d.product }

// Dispatch implements input.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.DispatchRequest) (result domain.ImportResult, err error) {
	if err := req.Validate(); err != nil {
		return result, err
	}
	states := dedupe(req.States)
	if len(states) == 0 {
		return result, domain.ErrNoStates
	}

	var localStates []domain.FederalState
	if req.LocalDataDir != "" {
		if localStates, err = d.local.States(ctx, req.LocalDataDir); err != nil {
			return result, fmt.Errorf("reading local data directory: %w", err)
		}
	}

	id := newID()
	tracker := NewTracker(d.gis, d.logger)
	tracker.SetOutput(req.Output)

	scope, err := openScope(ctx, d.gis, id)
	if err != nil {
		return result, err
	}
	defer func() {
		cctx := detached(ctx)
		tracker.Cleanup(cctx, err != nil, req.KeepData)
		if cerr := scope.close(cctx); cerr != nil {
			d.logger.Warn("failed to restore region", "error", cerr)
		}
	}()

	var outputs []string
	for _, fs := range states {
		if err = scope.reset(ctx); err != nil {
			return result, err
		}
		part, err := d.importState(ctx, scope, req, fs, slices.Contains(localStates, fs))
		if err != nil {
			return result, err
		}
		tracker.Add(output.KindRaster, part.Output)
		tracker.Add(output.KindRaster, part.Intermediates...)
		outputs = append(outputs, part.Output)
	}

	if err = scope.reset(ctx); err != nil {
		return result, err
	}
	if err = scope.gis.BuildVRT(ctx, outputs, req.Output); err != nil {
		return result, err
	}

	result.Output = req.Output
	if d.product == domain.DTM && !req.NativeRes {
		if err = scope.gis.SetRegion(ctx, domain.RegionSpec{Raster: req.Output, Res: scope.callerRes()}); err != nil {
			return result, err
		}
		d.logger.Info("Resampling / interpolating data...")
		if err = scope.gis.Resample(ctx, req.Output, req.Output, scope.callerRes()); err != nil {
			return result, err
		}
	} else if len(outputs) > 1 {
		// the output is a VRT over the per-state rasters
		result.Intermediates = tracker.Rasters()
		tracker.Release(result.Intermediates...)
	} else {
		// g.copy of a single state keeps what that state depends on
		for _, name := range tracker.Rasters() {
			if name != outputs[0] {
				result.Intermediates = append(result.Intermediates, name)
			}
		}
		tracker.Release(result.Intermediates...)
	}

	d.logger.Info(fmt.Sprintf("%s raster map <%s> is created.", d.product, req.Output))
	return result, nil
}

// importState resolves where the data of fs comes from and imports it.
func (d *Dispatcher) importState(ctx context.Context, scope *regionScope, req domain.DispatchRequest, fs domain.FederalState, hasLocal bool) (domain.ImportResult, error) {
	availability := d.matrix.Classify(d.product, fs)

	if hasLocal {
		if err := scope.toAOI(ctx, req.AOI); err != nil {
			return domain.ImportResult{}, err
		}
		localReq := req.ImportRequest.WithOutput(fmt.Sprintf("%s_%s", req.Output, fs.Lower()))
		res, ok, err := d.local.Import(ctx, scope.gis, d.product, req.LocalDataDir, fs, localReq)
		if err != nil {
			return res, err
		}
		if ok {
			return res, nil
		}
		if domain.IsAlwaysLocal(fs) {
			return res, fmt.Errorf("%s: %w", fs, domain.ErrNoOverlap)
		}
		d.logger.Info("Local data does not overlap with aoi. Data will be downloaded from Open Data portal.", "state", fs)
		if err := scope.reset(ctx); err != nil {
			return res, err
		}
	} else if availability == domain.NoOpenData {
		return domain.ImportResult{}, &domain.AvailabilityError{
			Product:      d.product,
			State:        fs,
			Availability: availability,
			Message: fmt.Sprintf("No local data for %s available. For the federal state there are no open data available. Is the path correct?",
				fs),
		}
	}

	switch availability {
	case domain.NotYetSupported:
		return domain.ImportResult{}, &domain.AvailabilityError{
			Product:      d.product,
			State:        fs,
			Availability: availability,
			Message:      fmt.Sprintf("The import of the open data is not yet supported for %s.", fs),
		}
	case domain.NoOpenData:
		// reached when local data of the state missed the aoi
		return domain.ImportResult{}, &domain.AvailabilityError{
			Product:      d.product,
			State:        fs,
			Availability: availability,
			Message: fmt.Sprintf("For the federal state %s there are no open data available. Please use local data <local_data_dir>.",
				fs),
		}
	}

	imp, err := d.registry.Get(d.product, fs)
	if err != nil {
		return domain.ImportResult{}, err
	}
	d.logger.Info(fmt.Sprintf("Importing %s data for %s...", d.product, fs))
	stateReq := req.ImportRequest.WithOutput(fmt.Sprintf("%s_%s", d.product.Prefix(), fs.Lower()))
	if req.DownloadDir != "" {
		stateReq = stateReq.WithDownloadDir(filepath.Join(req.DownloadDir, string(fs)))
	}
	return imp.Import(ctx, stateReq)
}

func dedupe(states []domain.FederalState) []domain.FederalState {
	out := make([]domain.FederalState, 0, len(states))
	for _, s := range states {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
