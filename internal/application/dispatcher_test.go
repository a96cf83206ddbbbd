package application

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/jobrunner/demimport/internal/domain"
)

type dispatcherFixture struct {
	gis       *fakeGIS
	registry  *ImporterRegistry
	importers map[domain.FederalState]*fakeImporter
	dispatch  *Dispatcher
}

func newDispatcherFixture(p domain.Product, states ...domain.FederalState) *dispatcherFixture {
	f := &dispatcherFixture{
		gis:       newFakeGIS(),
		registry:  NewImporterRegistry(domain.OpenDataAvailability),
		importers: make(map[domain.FederalState]*fakeImporter),
	}
	for _, s := range states {
		imp := &fakeImporter{product: p, state: s, gis: f.gis}
		f.importers[s] = imp
		f.registry.Register(imp, "cog")
	}
	local := NewLocalImporter(openFakeStorage, &fakeDownloader{}, testLogger())
	f.dispatch = NewDispatcher(p, f.gis, f.registry, local, domain.OpenDataAvailability, testLogger())
	return f
}

func (f *dispatcherFixture) assertRegionRestored(t *testing.T) {
	t.Helper()
	if got := f.gis.Regions(); len(got) != 0 {
		t.Errorf("saved regions left: %v", got)
	}
	if got := f.gis.Current(); got != testRegion {
		t.Errorf("region = %v, want %v", got, testRegion)
	}
}

func TestDispatcherSingleState(t *testing.T) {
	f := newDispatcherFixture(domain.DSM, domain.TH)
	req := domain.DispatchRequest{
		ImportRequest: domain.ImportRequest{Output: "dsm", DownloadDir: "/data/dl"},
		States:        []domain.FederalState{domain.TH, domain.TH},
	}

	res, err := f.dispatch.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Output != "dsm" || len(res.Intermediates) != 0 {
		t.Errorf("result = %+v", res)
	}
	if got := f.gis.Rasters(); !slices.Equal(got, []string{"dsm"}) {
		t.Errorf("rasters = %v", got)
	}

	reqs := f.importers[domain.TH].reqs
	if len(reqs) != 1 {
		t.Fatalf("importer called %d times, want 1", len(reqs))
	}
	if reqs[0].Output != "dsm_th" || reqs[0].DownloadDir != filepath.Join("/data/dl", "TH") {
		t.Errorf("state request = %+v", reqs[0])
	}
	f.assertRegionRestored(t)
}

func TestDispatcherResamplesDTM(t *testing.T) {
	f := newDispatcherFixture(domain.DTM, domain.TH, domain.SN)
	req := domain.DispatchRequest{
		ImportRequest: domain.ImportRequest{Output: "dtm"},
		States:        []domain.FederalState{domain.TH, domain.SN},
	}

	res, err := f.dispatch.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(res.Intermediates) != 0 {
		t.Errorf("intermediates = %v, want none", res.Intermediates)
	}
	if got := f.gis.Rasters(); !slices.Equal(got, []string{"dtm"}) {
		t.Errorf("rasters = %v", got)
	}
	if n := f.gis.Called("BuildVRT dtm dtm_th,dtm_sn"); n != 1 {
		t.Errorf("calls = %v", f.gis.Calls())
	}
	if n := f.gis.Called("Resample dtm dtm 10"); n != 1 {
		t.Errorf("calls = %v", f.gis.Calls())
	}
	f.assertRegionRestored(t)
}

func TestDispatcherNativeKeepsStateRasters(t *testing.T) {
	f := newDispatcherFixture(domain.DSM, domain.TH, domain.SN)
	f.importers[domain.TH].intermediates = []string{"tile_a", "tile_b"}
	req := domain.DispatchRequest{
		ImportRequest: domain.ImportRequest{Output: "dsm", NativeRes: true},
		States:        []domain.FederalState{domain.TH, domain.SN},
	}

	res, err := f.dispatch.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	got := slices.Clone(res.Intermediates)
	slices.Sort(got)
	if want := []string{"dsm_sn", "dsm_th", "tile_a", "tile_b"}; !slices.Equal(got, want) {
		t.Errorf("intermediates = %v, want %v", got, want)
	}
	if got := f.gis.Rasters(); !slices.Equal(got, []string{"dsm", "dsm_sn", "dsm_th", "tile_a", "tile_b"}) {
		t.Errorf("rasters = %v", got)
	}
}

func TestDispatcherErrors(t *testing.T) {
	tests := []struct {
		name    string
		states  []domain.FederalState
		wantErr error
		wantMsg string
	}{
		{
			name:    "no states",
			wantErr: domain.ErrNoStates,
		},
		{
			name:    "no open data",
			states:  []domain.FederalState{domain.BY},
			wantErr: domain.ErrUnsupported,
			wantMsg: "No local data for BY available. For the federal state there are no open data available. Is the path correct?",
		},
		{
			name:    "not yet supported",
			states:  []domain.FederalState{domain.ST},
			wantErr: domain.ErrUnsupported,
			wantMsg: "The import of the open data is not yet supported for ST.",
		},
		{
			name:    "no importer",
			states:  []domain.FederalState{domain.SN},
			wantErr: domain.ErrNoImporter,
		},
		{
			name:    "fails after a good state",
			states:  []domain.FederalState{domain.TH, domain.ST},
			wantErr: domain.ErrUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(domain.DTM, domain.TH)
			_, err := f.dispatch.Dispatch(context.Background(), domain.DispatchRequest{
				ImportRequest: domain.ImportRequest{Output: "dtm"},
				States:        tt.states,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
			if got := f.gis.Rasters(); len(got) != 0 {
				t.Errorf("rasters left: %v", got)
			}
			f.assertRegionRestored(t)
		})
	}
}

func TestDispatcherLocalData(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "TH/dgm1_390_5820.xyz", xyzTile(390100.5, 5820100.5))

	f := newDispatcherFixture(domain.DTM, domain.TH)
	_, err := f.dispatch.Dispatch(context.Background(), domain.DispatchRequest{
		ImportRequest: domain.ImportRequest{Output: "dtm"},
		States:        []domain.FederalState{domain.TH},
		LocalDataDir:  root,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if n := len(f.importers[domain.TH].reqs); n != 0 {
		t.Errorf("open data importer called %d times for local data", n)
	}
	if n := f.gis.Called("ImportXYZ " + filepath.Join(root, "TH", "dgm1_390_5820.xyz")); n != 1 {
		t.Errorf("calls = %v", f.gis.Calls())
	}
	if got := f.gis.Rasters(); !slices.Equal(got, []string{"dtm"}) {
		t.Errorf("rasters = %v", got)
	}
	f.assertRegionRestored(t)
}

func TestDispatcherLocalDataMissesAOI(t *testing.T) {
	tests := []struct {
		name     string
		state    domain.FederalState
		wantErr  error
		wantMsg  string
		download bool
	}{
		{name: "falls back to open data", state: domain.TH, download: true},
		{name: "always local", state: domain.BW, wantErr: domain.ErrNoOverlap},
		{
			name:    "no open data",
			state:   domain.BY,
			wantErr: domain.ErrUnsupported,
			wantMsg: "For the federal state BY there are no open data available. Please use local data <local_data_dir>.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, string(tt.state)+"/far.xyz", xyzTile(450000.5, 5900000.5))
			writeFile(t, root, "readme/notes.txt", "not a state")

			f := newDispatcherFixture(domain.DTM, tt.state)
			_, err := f.dispatch.Dispatch(context.Background(), domain.DispatchRequest{
				ImportRequest: domain.ImportRequest{Output: "dtm"},
				States:        []domain.FederalState{tt.state},
				LocalDataDir:  root,
			})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
			if got := len(f.importers[tt.state].reqs) == 1; got != tt.download {
				t.Errorf("downloaded = %v, want %v", got, tt.download)
			}
			for _, c := range f.gis.Calls() {
				if strings.HasPrefix(c, "ImportXYZ") {
					t.Errorf("non-overlapping file imported: %s", c)
				}
			}
			f.assertRegionRestored(t)
		})
	}
}
