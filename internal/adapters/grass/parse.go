package grass

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jobrunner/demimport/internal/domain"
)

// parseKV parses the key=value lines printed by modules run with -g.
// Quotes and trailing semicolons of g.gisenv output are stripped.
func parseKV(out []byte) map[string]string {
	kv := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSuffix(strings.TrimSpace(value), ";")
		value = strings.Trim(value, `"'`)
		kv[strings.TrimSpace(key)] = value
	}
	return kv
}

type kvReader struct {
	kv  map[string]string
	err error
}

func (r *kvReader) float(keys ...string) float64 {
	for _, key := range keys {
		v, ok := r.kv[key]
		if !ok {
			continue
		}
		if v == "nan" || v == "-nan" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil && r.err == nil {
			r.err = fmt.Errorf("parsing %s=%q: %w", key, v, err)
		}
		return f
	}
	if r.err == nil {
		r.err = fmt.Errorf("missing key %s", keys[0])
	}
	return 0
}

func (r *kvReader) optionalFloat(key string) float64 {
	if _, ok := r.kv[key]; !ok {
		return 0
	}
	return r.float(key)
}

func (r *kvReader) int(key string) int64 {
	v, ok := r.kv[key]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return n
}

func parseRegion(out []byte) (domain.Region, error) {
	r := kvReader{kv: parseKV(out)}
	reg := domain.Region{
		North: r.float("n", "north"),
		South: r.float("s", "south"),
		East:  r.float("e", "east"),
		West:  r.float("w", "west"),
		NSRes: r.float("nsres"),
		EWRes: r.float("ewres"),
		Rows:  int(r.int("rows")),
		Cols:  int(r.int("cols")),
	}
	if r.err != nil {
		return domain.Region{}, fmt.Errorf("g.region output: %w", r.err)
	}
	return reg, nil
}

func parseRasterInfo(out []byte) (domain.RasterInfo, error) {
	r := kvReader{kv: parseKV(out)}
	info := domain.RasterInfo{
		Extent: domain.Extent{
			MaxY: r.float("north"),
			MinY: r.float("south"),
			MaxX: r.float("east"),
			MinX: r.float("west"),
		},
		NSRes: r.float("nsres"),
		EWRes: r.float("ewres"),
		Rows:  int(r.int("rows")),
		Cols:  int(r.int("cols")),
	}
	if r.err != nil {
		return domain.RasterInfo{}, fmt.Errorf("r.info output: %w", r.err)
	}
	return info, nil
}

// parseUnivar reads r.univar -g. A map without any non-null cell prints
// n=0 and no statistics.
func parseUnivar(out []byte) (domain.Univar, error) {
	r := kvReader{kv: parseKV(out)}
	u := domain.Univar{
		N:         r.int("n"),
		NullCells: r.int("null_cells"),
		Min:       r.optionalFloat("min"),
		Max:       r.optionalFloat("max"),
		Mean:      r.optionalFloat("mean"),
		Sum:       r.optionalFloat("sum"),
	}
	if r.err != nil {
		return domain.Univar{}, fmt.Errorf("r.univar output: %w", r.err)
	}
	return u, nil
}

// parseEPSG reads g.proj -g output of GRASS 7 (epsg=) and 8 (srid=EPSG:).
func parseEPSG(out []byte) (int, error) {
	kv := parseKV(out)
	if v, ok := kv["srid"]; ok {
		if code, found := strings.CutPrefix(strings.ToUpper(v), "EPSG:"); found {
			return strconv.Atoi(code)
		}
	}
	if v, ok := kv["epsg"]; ok {
		return strconv.Atoi(v)
	}
	return 0, fmt.Errorf("g.proj output: no EPSG code")
}

func parseLocation(out []byte) (domain.Location, error) {
	kv := parseKV(out)
	loc := domain.Location{
		GISDBase: kv["GISDBASE"],
		Name:     kv["LOCATION_NAME"],
		Mapset:   kv["MAPSET"],
	}
	if loc.GISDBase == "" || loc.Name == "" || loc.Mapset == "" {
		return domain.Location{}, fmt.Errorf("g.gisenv output: incomplete session: %w", domain.ErrSessionNotReady)
	}
	return loc, nil
}

func parseWKT(out []byte) []string {
	var geoms []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			geoms = append(geoms, line)
		}
	}
	return geoms
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
