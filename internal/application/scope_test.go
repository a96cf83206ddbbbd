package application

import (
	"context"
	"errors"
	"testing"

	"github.com/jobrunner/demimport/internal/domain"
)

func TestRegionScope(t *testing.T) {
	ctx := context.Background()
	gis := newFakeGIS()

	scope, err := openScope(ctx, gis, "abc")
	if err != nil {
		t.Fatalf("openScope() error = %v", err)
	}
	if scope.callerRes() != 10 {
		t.Errorf("callerRes() = %v, want 10", scope.callerRes())
	}

	if err := scope.gis.SetRegion(ctx, domain.RegionSpec{Res: 1}); err != nil {
		t.Fatal(err)
	}
	if gis.Current() != testRegion {
		t.Errorf("caller region changed to %v", gis.Current())
	}
	r, _ := scope.gis.Region(ctx)
	if r.NSRes != 1 {
		t.Errorf("working region res = %v, want 1", r.NSRes)
	}

	if err := scope.reset(ctx); err != nil {
		t.Fatal(err)
	}
	if r, _ := scope.gis.Region(ctx); r != testRegion {
		t.Errorf("reset region = %v, want %v", r, testRegion)
	}

	if err := scope.close(ctx); err != nil {
		t.Fatalf("close() error = %v", err)
	}
	if got := gis.Regions(); len(got) != 0 {
		t.Errorf("saved regions left: %v", got)
	}
	if gis.Current() != testRegion {
		t.Errorf("region after close = %v", gis.Current())
	}
}

func TestOpenScopeFailure(t *testing.T) {
	gis := newFakeGIS()
	gis.s.failOnce["SaveRegion"] = []error{nil, errFlaky}

	if _, err := openScope(context.Background(), gis, "abc"); !errors.Is(err, errFlaky) {
		t.Fatalf("openScope() error = %v, want %v", err, errFlaky)
	}
	if got := gis.Regions(); len(got) != 0 {
		t.Errorf("saved regions left: %v", got)
	}
}

func TestToAOI(t *testing.T) {
	ctx := context.Background()
	gis := newFakeGIS()
	scope, err := openScope(ctx, gis, "abc")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = scope.close(ctx) }()

	if err := scope.toAOI(ctx, ""); err != nil {
		t.Fatalf("toAOI(\"\") error = %v", err)
	}
	if n := gis.Called("SetRegion"); n != 0 {
		t.Errorf("SetRegion called %d times for an empty aoi", n)
	}

	gis.s.vectors["aoi"] = true
	if err := scope.toAOI(ctx, "aoi"); err != nil {
		t.Fatalf("toAOI() error = %v", err)
	}
	if n := gis.Called("SetRegion {Region: Vector:aoi"); n != 1 {
		t.Errorf("calls = %v", gis.Calls())
	}
}
