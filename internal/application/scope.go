package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// newID returns a short random id for temporary map names.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// detached keeps the values of ctx but ignores its cancellation, so that
// cleanup still runs after an interrupt.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// regionScope gives an operation its own working region. The caller's
// region is saved as original_region_<id> and restored on close; all region
// changes go to a working copy that only the scoped GIS sees.
type regionScope struct {
	base     output.GIS
	gis      output.GIS
	original string
	work     string
	caller   domain.Region
}

func openScope(ctx context.Context, base output.GIS, id string) (*regionScope, error) {
	caller, err := base.Region(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading region: %w", err)
	}

	s := &regionScope{
		base:     base,
		original: "original_region_" + id,
		work:     "work_region_" + id,
		caller:   caller,
	}
	if err := base.SaveRegion(ctx, s.original); err != nil {
		return nil, fmt.Errorf("saving region: %w", err)
	}
	if err := base.SaveRegion(ctx, s.work); err != nil {
		_ = base.Remove(ctx, output.KindRegion, s.original)
		return nil, fmt.Errorf("saving region: %w", err)
	}
	s.gis = base.WithRegion(s.work)
	return s, nil
}

// callerRes is the north-south resolution of the caller's region.
func (s *regionScope) callerRes() float64 {
	return s.caller.NSRes
}

// reset sets the working region back to the caller's region.
func (s *regionScope) reset(ctx context.Context) error {
	return s.gis.SetRegion(ctx, domain.RegionSpec{Region: s.original})
}

// toAOI narrows the working region to the envelope of aoi, aligned to the
// current resolution. An empty aoi keeps the region.
func (s *regionScope) toAOI(ctx context.Context, aoi string) error {
	if aoi == "" {
		return nil
	}
	return s.gis.SetRegion(ctx, domain.RegionSpec{Vector: aoi, AlignRes: true})
}

func (s *regionScope) close(ctx context.Context) error {
	restore := s.base.SetRegion(ctx, domain.RegionSpec{Region: s.original})
	if restore != nil {
		restore = fmt.Errorf("restoring region: %w", restore)
	}
	return errors.Join(restore, s.base.Remove(ctx, output.KindRegion, s.original, s.work))
}
