package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

var errFlaky = errors.New("flaky")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testRegion is the caller region of most tests: 1 km² at 10 m.
var testRegion = domain.Region{
	North: 5821000, South: 5820000, East: 391000, West: 390000,
	NSRes: 10, EWRes: 10, Rows: 100, Cols: 100,
}

// gisState is the mapset a fakeGIS works on. Views created with WithRegion
// share it.
type gisState struct {
	mu       sync.Mutex
	calls    []string
	current  domain.Region
	regions  map[string]domain.Region
	rasters  map[string]bool
	vectors  map[string]bool
	vrts     map[string][]string
	imports  []output.RasterImport
	mask     bool
	epsg     int
	loc      domain.Location
	wkt      []string
	info     domain.RasterInfo
	univar   domain.Univar
	fail     map[string]error
	failOnce map[string][]error
	temps    []*fakeSession
}

// fakeGIS implements output.GIS in memory.
type fakeGIS struct {
	s        *gisState
	override string
}

func newFakeGIS() *fakeGIS {
	return &fakeGIS{s: &gisState{
		current:  testRegion,
		regions:  make(map[string]domain.Region),
		rasters:  make(map[string]bool),
		vectors:  make(map[string]bool),
		vrts:     make(map[string][]string),
		epsg:     domain.SRIDETRS89UTM32N,
		loc:      domain.Location{GISDBase: "/grassdata", Name: "utm32", Mapset: "PERMANENT"},
		fail:     make(map[string]error),
		failOnce: make(map[string][]error),
		univar:   domain.Univar{N: 100, Max: 0},
	}}
}

// call records an operation and returns the error configured for it.
// Callers hold the lock.
func (f *fakeGIS) call(op string, detail ...string) error {
	f.s.calls = append(f.s.calls, strings.TrimSpace(op+" "+strings.Join(detail, " ")))
	if errs := f.s.failOnce[op]; len(errs) > 0 {
		f.s.failOnce[op] = errs[1:]
		return errs[0]
	}
	return f.s.fail[op]
}

func (f *fakeGIS) region() domain.Region {
	if f.override != "" {
		return f.s.regions[f.override]
	}
	return f.s.current
}

func (f *fakeGIS) setRegion(r domain.Region) {
	if f.override != "" {
		f.s.regions[f.override] = r
		return
	}
	f.s.current = r
}

// Calls returns the recorded operations.
func (f *fakeGIS) Calls() []string {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return append([]string(nil), f.s.calls...)
}

// Called counts the recorded operations starting with prefix.
func (f *fakeGIS) Called(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Rasters returns the existing raster maps, sorted.
func (f *fakeGIS) Rasters() []string {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return sortedKeys(f.s.rasters)
}

func (f *fakeGIS) Vectors() []string {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return sortedKeys(f.s.vectors)
}

func (f *fakeGIS) Regions() []string {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	names := make([]string, 0, len(f.s.regions))
	for n := range f.s.regions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f *fakeGIS) Current() domain.Region {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.current
}

func (f *fakeGIS) Mask() bool {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.mask
}

func (f *fakeGIS) addRaster(names ...string) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, n := range names {
		f.s.rasters[n] = true
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeGIS) Location(_ context.Context) (domain.Location, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.loc, f.call("Location")
}

func (f *fakeGIS) EPSG(_ context.Context) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.epsg, f.call("EPSG")
}

func (f *fakeGIS) Region(_ context.Context) (domain.Region, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.region(), f.call("Region")
}

func (f *fakeGIS) SetRegion(_ context.Context, spec domain.RegionSpec) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("SetRegion", fmt.Sprintf("%+v", spec)); err != nil {
		return err
	}
	r := f.region()
	if spec.Region != "" {
		saved, ok := f.s.regions[spec.Region]
		if !ok {
			return fmt.Errorf("region <%s> not found", spec.Region)
		}
		r = saved
	}
	if spec.Raster != "" && !f.s.rasters[spec.Raster] {
		return fmt.Errorf("raster <%s> not found", spec.Raster)
	}
	if spec.Vector != "" && !f.s.vectors[spec.Vector] {
		return fmt.Errorf("vector <%s> not found", spec.Vector)
	}
	if spec.Bounds != nil {
		r.North, r.South, r.East, r.West = spec.Bounds.MaxY, spec.Bounds.MinY, spec.Bounds.MaxX, spec.Bounds.MinX
	}
	if spec.Res > 0 {
		r.NSRes, r.EWRes = spec.Res, spec.Res
	}
	f.setRegion(r)
	return nil
}

func (f *fakeGIS) SaveRegion(_ context.Context, name string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("SaveRegion", name); err != nil {
		return err
	}
	f.s.regions[name] = f.region()
	return nil
}

func (f *fakeGIS) WithRegion(name string) output.GIS {
	return &fakeGIS{s: f.s, override: name}
}

func (f *fakeGIS) TempLocation(_ context.Context, epsg int) (output.Session, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("TempLocation", fmt.Sprint(epsg)); err != nil {
		return nil, err
	}
	tmp := newFakeGIS()
	tmp.s.epsg = epsg
	tmp.s.loc = domain.Location{GISDBase: "/tmp/grassdata", Name: fmt.Sprintf("tmp_%d", epsg), Mapset: "PERMANENT"}
	sess := &fakeSession{fakeGIS: tmp}
	f.s.temps = append(f.s.temps, sess)
	return sess, nil
}

func (f *fakeGIS) RegionToVector(_ context.Context, name string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("RegionToVector", name); err != nil {
		return err
	}
	f.s.vectors[name] = true
	return nil
}

func (f *fakeGIS) ImportVector(_ context.Context, p, name string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("ImportVector", p, name); err != nil {
		return err
	}
	f.s.vectors[name] = true
	return nil
}

func (f *fakeGIS) ProjectVector(_ context.Context, from domain.Location, name string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("ProjectVector", from.String(), name); err != nil {
		return err
	}
	f.s.vectors[name] = true
	return nil
}

func (f *fakeGIS) VectorWKT(_ context.Context, name string) ([]string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.wkt, f.call("VectorWKT", name)
}

func (f *fakeGIS) ImportRaster(_ context.Context, imp output.RasterImport) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("ImportRaster", imp.Input, imp.Output); err != nil {
		return err
	}
	f.s.imports = append(f.s.imports, imp)
	f.s.rasters[imp.Output] = true
	return nil
}

func (f *fakeGIS) ImportXYZ(_ context.Context, imp output.XYZImport) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("ImportXYZ", imp.Input, imp.Output, imp.Separator); err != nil {
		return err
	}
	f.s.rasters[imp.Output] = true
	return nil
}

func (f *fakeGIS) ProjectRaster(_ context.Context, from domain.Location, input, out string, res float64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("ProjectRaster", from.String(), input, out, fmt.Sprint(res)); err != nil {
		return err
	}
	f.s.rasters[out] = true
	return nil
}

func (f *fakeGIS) BuildVRT(_ context.Context, inputs []string, out string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("BuildVRT", out, strings.Join(inputs, ",")); err != nil {
		return err
	}
	for _, in := range inputs {
		if !f.s.rasters[in] {
			return fmt.Errorf("raster <%s> not found", in)
		}
	}
	f.s.rasters[out] = true
	f.s.vrts[out] = append([]string(nil), inputs...)
	return nil
}

func (f *fakeGIS) MapCalc(_ context.Context, expression string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("MapCalc", expression); err != nil {
		return err
	}
	name, _, _ := strings.Cut(expression, "=")
	name = strings.TrimSpace(name)
	if name == "MASK" {
		f.s.mask = true
		return nil
	}
	f.s.rasters[name] = true
	delete(f.s.vrts, name)
	return nil
}

func (f *fakeGIS) Resample(_ context.Context, input, out string, res float64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("Resample", input, out, fmt.Sprint(res)); err != nil {
		return err
	}
	f.s.rasters[out] = true
	delete(f.s.vrts, out)
	return nil
}

func (f *fakeGIS) RasterInfo(_ context.Context, name string) (domain.RasterInfo, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.info, f.call("RasterInfo", name)
}

func (f *fakeGIS) Univar(_ context.Context, name string) (domain.Univar, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.univar, f.call("Univar", name)
}

func (f *fakeGIS) Rename(_ context.Context, kind output.MapKind, from, to string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("Rename", string(kind), from, to); err != nil {
		return err
	}
	if kind == output.KindRaster {
		if !f.s.rasters[from] {
			return fmt.Errorf("raster <%s> not found", from)
		}
		delete(f.s.rasters, from)
		delete(f.s.vrts, to)
		f.s.rasters[to] = true
	}
	return nil
}

func (f *fakeGIS) SetMask(_ context.Context, vector string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("SetMask", vector); err != nil {
		return err
	}
	f.s.mask = true
	return nil
}

func (f *fakeGIS) RemoveMask(_ context.Context) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("RemoveMask"); err != nil {
		return err
	}
	f.s.mask = false
	return nil
}

func (f *fakeGIS) Remove(_ context.Context, kind output.MapKind, names ...string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.call("Remove", append([]string{string(kind)}, names...)...); err != nil {
		return err
	}
	for _, n := range names {
		switch kind {
		case output.KindRaster:
			delete(f.s.rasters, n)
			delete(f.s.vrts, n)
		case output.KindVector:
			delete(f.s.vectors, n)
		case output.KindRegion:
			delete(f.s.regions, n)
		}
	}
	return nil
}

// fakeSession is a temporary location.
type fakeSession struct {
	*fakeGIS
	closed bool
}

func (s *fakeSession) Close(_ context.Context) error {
	s.closed = true
	return nil
}

// fakeIndex implements output.TileIndex.
type fakeIndex struct {
	locations []string
	queries   *[]output.TileQuery
}

func (i *fakeIndex) Locations(_ context.Context, q output.TileQuery) ([]string, error) {
	*i.queries = append(*i.queries, q)
	return i.locations, nil
}

func (i *fakeIndex) Close() error { return nil }

// fakeOpener implements output.TileIndexOpener.
type fakeOpener struct {
	locations []string
	openErr   error
	opened    []string
	kept      []bool
	queries   []output.TileQuery
}

func (o *fakeOpener) Open(_ context.Context, url, _ string, keep bool) (output.TileIndex, error) {
	o.opened = append(o.opened, url)
	o.kept = append(o.kept, keep)
	if o.openErr != nil {
		return nil, o.openErr
	}
	return &fakeIndex{locations: o.locations, queries: &o.queries}, nil
}

// fakeDownloader implements output.Downloader. FetchAll writes the
// configured content of a URL into the target directory. With fetchErr set,
// URLs without content fail and the others are still written.
type fakeDownloader struct {
	mu       sync.Mutex
	content  map[string]string
	probe    output.RasterProbe
	probes   map[string]output.RasterProbe
	probeErr error
	fetched  []string
	entries  []string
	fetchErr error
}

func (d *fakeDownloader) FetchAll(_ context.Context, urls []string, dir string, _ int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	paths := make([]string, 0, len(urls))
	var err error
	for _, u := range urls {
		if _, ok := d.content[u]; !ok && d.fetchErr != nil {
			err = d.fetchErr
			continue
		}
		p := filepath.Join(dir, path.Base(u))
		if err := os.WriteFile(p, []byte(d.content[u]), 0o600); err != nil {
			return paths, err
		}
		d.fetched = append(d.fetched, u)
		paths = append(paths, p)
	}
	return paths, err
}

func (d *fakeDownloader) Extract(_ context.Context, archive, _ string) ([]string, error) {
	return nil, fmt.Errorf("unexpected archive %s", archive)
}

func (d *fakeDownloader) ExtractRemote(_ context.Context, archiveURL string, entries []string, dir string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		p := filepath.Join(dir, path.Base(e))
		if err := os.WriteFile(p, []byte(d.content[archiveURL+"/"+e]), 0o600); err != nil {
			return paths, err
		}
		d.entries = append(d.entries, e)
		paths = append(paths, p)
	}
	return paths, nil
}

func (d *fakeDownloader) Probe(_ context.Context, location string) (output.RasterProbe, error) {
	if d.probeErr != nil {
		return output.RasterProbe{}, d.probeErr
	}
	if p, ok := d.probes[location]; ok {
		return p, nil
	}
	return d.probe, nil
}

// fakeMetrics counts what the importers report.
type fakeMetrics struct {
	output.NoOpMetrics
	mu      sync.Mutex
	retries int
	imports map[bool]int
	tiles   int
}

func (m *fakeMetrics) IncRetries(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *fakeMetrics) IncImportCount(_, _ string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.imports == nil {
		m.imports = make(map[bool]int)
	}
	m.imports[success]++
}

func (m *fakeMetrics) AddTilesImported(_, _ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles += n
}

func (m *fakeMetrics) ObserveImportDuration(_, _ string, _ time.Duration) {}

// fakeImporter implements input.StateImporter. It creates its output in gis.
type fakeImporter struct {
	product       domain.Product
	state         domain.FederalState
	gis           *fakeGIS
	intermediates []string
	err           error
	reqs          []domain.ImportRequest
}

func (i *fakeImporter) Product() domain.Product    { return i.product }
func (i *fakeImporter) State() domain.FederalState { return i.state }

func (i *fakeImporter) Import(_ context.Context, req domain.ImportRequest) (domain.ImportResult, error) {
	i.reqs = append(i.reqs, req)
	if i.err != nil {
		return domain.ImportResult{}, i.err
	}
	i.gis.addRaster(req.Output)
	i.gis.addRaster(i.intermediates...)
	return domain.ImportResult{Output: req.Output, Intermediates: i.intermediates}, nil
}

// fakeDispatcher implements input.Dispatcher for the composer.
type fakeDispatcher struct {
	product domain.Product
	gis     *fakeGIS
	skip    map[domain.FederalState]bool
	err     error
	reqs    []domain.DispatchRequest
}

func (d *fakeDispatcher) Product() domain.Product { return d.product }

func (d *fakeDispatcher) Dispatch(_ context.Context, req domain.DispatchRequest) (domain.ImportResult, error) {
	d.reqs = append(d.reqs, req)
	if d.err != nil {
		return domain.ImportResult{}, d.err
	}
	d.gis.addRaster(req.Output)
	return domain.ImportResult{Output: req.Output}, nil
}

// fakeStorage implements output.ObjectStorage over a local directory.
type fakeStorage struct {
	root string
}

func (s *fakeStorage) List(_ context.Context, prefix string) ([]output.StorageObject, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, prefix))
	if err != nil {
		return nil, err
	}
	var objs []output.StorageObject
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		objs = append(objs, output.StorageObject{Key: prefix + "/" + e.Name(), Size: info.Size()})
	}
	return objs, nil
}

func (s *fakeStorage) Dirs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

func (s *fakeStorage) Download(_ context.Context, key, dest string) error {
	return fmt.Errorf("unexpected download of %s to %s", key, dest)
}

func (s *fakeStorage) FullPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func openFakeStorage(_ context.Context, root string) (output.ObjectStorage, error) {
	return &fakeStorage{root: root}, nil
}

// writeFile creates dir/name with content.
func writeFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

// xyzTile is a 3x2 point grid at 1 m starting at x, y.
func xyzTile(x, y float64) string {
	var b strings.Builder
	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			fmt.Fprintf(&b, "%.1f %.1f %.2f\n", x+float64(col), y+float64(row), 35+float64(col))
		}
	}
	return b.String()
}
