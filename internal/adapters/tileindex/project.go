package tileindex

import (
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twpayne/go-proj/v10"

	"github.com/jobrunner/demimport/internal/domain"
)

// edgeSteps is the number of segments each bound edge is split into before
// transformation, so curved edges in the target CRS stay inside the result.
const edgeSteps = 8

// Projector transforms extents between EPSG codes. Transformations are
// cached per CRS pair.
type Projector struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *proj.PJ]
}

// NewProjector creates a projector caching up to size transformations.
func NewProjector(size int) (*Projector, error) {
	cache, err := lru.New[string, *proj.PJ](size)
	if err != nil {
		return nil, err
	}
	return &Projector{cache: cache}, nil
}

// Transform returns the envelope of e in the target CRS.
func (p *Projector) Transform(e domain.Extent, target int) (domain.Extent, error) {
	if e.SRID == target || e.SRID == 0 || target == 0 {
		return e, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pj, err := p.get(e.SRID, target)
	if err != nil {
		return domain.Extent{}, err
	}

	coords := densify(e)
	if latLon(e.SRID) {
		flip(coords)
	}
	if err := pj.ForwardFloat64Slices(coords); err != nil {
		return domain.Extent{}, fmt.Errorf("transforming EPSG:%d to EPSG:%d: %w", e.SRID, target, err)
	}
	if latLon(target) {
		flip(coords)
	}
	return envelope(coords, target), nil
}

func (p *Projector) get(from, to int) (*proj.PJ, error) {
	key := fmt.Sprintf("%d>%d", from, to)
	if pj, ok := p.cache.Get(key); ok {
		return pj, nil
	}
	pj, err := proj.NewCRSToCRS(fmt.Sprintf("epsg:%d", from), fmt.Sprintf("epsg:%d", to), nil)
	if err != nil {
		return nil, fmt.Errorf("creating transformation EPSG:%d to EPSG:%d: %w", from, to, err)
	}
	p.cache.Add(key, pj)
	return pj, nil
}

// latLon reports whether the authority axis order of srid is latitude first.
func latLon(srid int) bool {
	return srid == domain.SRIDWGS84
}

// densify returns points along the edges of e, x first.
func densify(e domain.Extent) [][]float64 {
	coords := make([][]float64, 0, 4*edgeSteps)
	dx := e.Width() / edgeSteps
	dy := e.Height() / edgeSteps
	for i := 0; i < edgeSteps; i++ {
		fi := float64(i)
		coords = append(coords,
			[]float64{e.MinX + fi*dx, e.MinY},
			[]float64{e.MaxX, e.MinY + fi*dy},
			[]float64{e.MaxX - fi*dx, e.MaxY},
			[]float64{e.MinX, e.MaxY - fi*dy},
		)
	}
	return coords
}

func flip(coords [][]float64) {
	for i, c := range coords {
		coords[i][0], coords[i][1] = c[1], c[0]
	}
}

func envelope(coords [][]float64, srid int) domain.Extent {
	e := domain.Extent{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
		SRID: srid,
	}
	for _, c := range coords {
		e.MinX = math.Min(e.MinX, c[0])
		e.MaxX = math.Max(e.MaxX, c[0])
		e.MinY = math.Min(e.MinY, c[1])
		e.MaxY = math.Max(e.MaxY, c[1])
	}
	return e
}
