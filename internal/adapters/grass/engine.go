package grass

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// DefaultMemory is the cache size in MB handed to r.import and r.proj.
const DefaultMemory = 1000

// Config configures an Engine.
type Config struct {
	// Executable is the GRASS start script used to create locations.
	Executable string
	// GISRC points to the session file. Empty uses the inherited one.
	GISRC string
	// Memory is the cache size in MB for memory hungry modules.
	Memory int
}

// Engine runs GRASS modules in one session.
type Engine struct {
	runner     Runner
	logger     *slog.Logger
	executable string
	gisrc      string
	memory     int
	region     string // WIND_OVERRIDE, empty for the mapset region
}

// Ensure Engine implements output.GIS.
var _ output.GIS = (*Engine)(nil)

// New creates an engine for the session described by cfg.
func New(runner Runner, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Executable == "" {
		cfg.Executable = "grass"
	}
	if cfg.Memory <= 0 {
		cfg.Memory = DefaultMemory
	}
	return &Engine{
		runner:     runner,
		logger:     logger,
		executable: cfg.Executable,
		gisrc:      cfg.GISRC,
		memory:     cfg.Memory,
	}
}

func (e *Engine) env() []string {
	var env []string
	if e.gisrc != "" {
		env = append(env, "GISRC="+e.gisrc)
	}
	if e.region != "" {
		env = append(env, "WIND_OVERRIDE="+e.region)
	}
	return env
}

func (e *Engine) run(ctx context.Context, module string, args ...string) ([]byte, error) {
	return e.runner.Run(ctx, e.env(), module, args...)
}

// Location implements output.GIS.
func (e *Engine) Location(ctx context.Context) (domain.Location, error) {
	out, err := e.run(ctx, "g.gisenv", "-n")
	if err != nil {
		return domain.Location{}, fmt.Errorf("%w: %w", domain.ErrSessionNotReady, err)
	}
	return parseLocation(out)
}

// EPSG implements output.GIS.
func (e *Engine) EPSG(ctx context.Context) (int, error) {
	out, err := e.run(ctx, "g.proj", "-g")
	if err != nil {
		return 0, err
	}
	return parseEPSG(out)
}

// Region implements output.GIS.
func (e *Engine) Region(ctx context.Context) (domain.Region, error) {
	out, err := e.run(ctx, "g.region", "-g")
	if err != nil {
		return domain.Region{}, err
	}
	return parseRegion(out)
}

// SetRegion implements output.GIS.
func (e *Engine) SetRegion(ctx context.Context, spec domain.RegionSpec) error {
	args := regionArgs(spec)
	if len(args) == 0 {
		return nil
	}
	_, err := e.run(ctx, "g.region", append(args, "--quiet")...)
	return err
}

func regionArgs(spec domain.RegionSpec) []string {
	var args []string
	if spec.Region != "" {
		args = append(args, "region="+spec.Region)
	}
	if spec.Vector != "" {
		args = append(args, "vector="+spec.Vector)
	}
	if spec.Raster != "" {
		args = append(args, "raster="+spec.Raster)
	}
	if b := spec.Bounds; b != nil {
		args = append(args,
			"n="+formatFloat(b.MaxY),
			"s="+formatFloat(b.MinY),
			"e="+formatFloat(b.MaxX),
			"w="+formatFloat(b.MinX),
		)
	}
	if spec.Res > 0 {
		args = append(args, "res="+formatFloat(spec.Res))
	}
	if spec.Align != "" {
		args = append(args, "align="+spec.Align)
	}
	if spec.Grow != 0 {
		args = append(args, fmt.Sprintf("grow=%d", spec.Grow))
	}
	if spec.AlignRes {
		args = append(args, "-a")
	}
	return args
}

// SaveRegion implements output.GIS.
func (e *Engine) SaveRegion(ctx context.Context, name string) error {
	_, err := e.run(ctx, "g.region", "save="+name, "--overwrite", "--quiet")
	return err
}

// WithRegion implements output.GIS.
func (e *Engine) WithRegion(name string) output.GIS {
	scoped := *e
	scoped.region = name
	return &scoped
}

// RegionToVector implements output.GIS.
func (e *Engine) RegionToVector(ctx context.Context, name string) error {
	_, err := e.run(ctx, "v.in.region", "output="+name, "--overwrite", "--quiet")
	return err
}

// ImportVector implements output.GIS.
func (e *Engine) ImportVector(ctx context.Context, path, name string) error {
	_, err := e.run(ctx, "v.import", "input="+path, "output="+name, "--overwrite", "--quiet")
	return err
}

// ProjectVector implements output.GIS.
func (e *Engine) ProjectVector(ctx context.Context, from domain.Location, name string) error {
	_, err := e.run(ctx, "v.proj",
		"dbase="+from.GISDBase,
		"location="+from.Name,
		"mapset="+from.Mapset,
		"input="+name,
		"output="+name,
		"--overwrite", "--quiet",
	)
	return err
}

// VectorWKT implements output.GIS.
func (e *Engine) VectorWKT(ctx context.Context, name string) ([]string, error) {
	out, err := e.run(ctx, "v.out.ascii", "input="+name, "format=wkt", "type=area", "--quiet")
	if err != nil {
		return nil, err
	}
	return parseWKT(out), nil
}

// ImportRaster implements output.GIS.
func (e *Engine) ImportRaster(ctx context.Context, imp output.RasterImport) error {
	args := []string{
		"input=" + imp.Input,
		"output=" + imp.Output,
		"extent=region",
		fmt.Sprintf("memory=%d", e.memory),
	}
	if imp.Resolution > 0 {
		args = append(args, "resolution=value", "resolution_value="+formatFloat(imp.Resolution))
	}
	_, err := e.run(ctx, "r.import", append(args, "--overwrite", "--quiet")...)
	return err
}

// ImportXYZ implements output.GIS.
func (e *Engine) ImportXYZ(ctx context.Context, imp output.XYZImport) error {
	sep := imp.Separator
	switch sep {
	case "", " ":
		sep = "space"
	case ",":
		sep = "comma"
	case ";":
		sep = "semicolon"
	}
	_, err := e.run(ctx, "r.in.xyz",
		"input="+imp.Input,
		"output="+imp.Output,
		"separator="+sep,
		"method=mean",
		"--overwrite", "--quiet",
	)
	return err
}

// ProjectRaster implements output.GIS.
func (e *Engine) ProjectRaster(ctx context.Context, from domain.Location, input, output string, res float64) error {
	args := []string{
		"dbase=" + from.GISDBase,
		"location=" + from.Name,
		"mapset=" + from.Mapset,
		"input=" + input,
		"output=" + output,
		"method=bilinear",
		fmt.Sprintf("memory=%d", e.memory),
		"-n",
	}
	if res > 0 {
		args = append(args, "resolution="+formatFloat(res))
	}
	_, err := e.run(ctx, "r.proj", append(args, "--overwrite", "--quiet")...)
	return err
}

// BuildVRT implements output.GIS. A single input is copied instead.
func (e *Engine) BuildVRT(ctx context.Context, inputs []string, output string) error {
	switch len(inputs) {
	case 0:
		return fmt.Errorf("building %s: %w", output, domain.ErrNoTiles)
	case 1:
		_, err := e.run(ctx, "g.copy", "raster="+inputs[0]+","+output, "--overwrite", "--quiet")
		return err
	}
	_, err := e.run(ctx, "r.buildvrt",
		"input="+strings.Join(inputs, ","),
		"output="+output,
		"--overwrite", "--quiet",
	)
	return err
}

// MapCalc implements output.GIS.
func (e *Engine) MapCalc(ctx context.Context, expression string) error {
	_, err := e.run(ctx, "r.mapcalc", "expression="+expression, "--overwrite", "--quiet")
	return err
}

// Resample implements output.GIS. input and output may be the same map.
// The output is always a raster of its own, never a virtual one.
func (e *Engine) Resample(ctx context.Context, input, out string, res float64) error {
	info, err := e.RasterInfo(ctx, input)
	if err != nil {
		return err
	}

	target := out
	if input == out {
		target = fmt.Sprintf("%s_resamp_%s", out, shortID())
	}

	switch {
	case sameRes(info.NSRes, res):
		// materialize, the input may be a VRT over maps that are removed later
		_, err = e.run(ctx, "r.mapcalc", "expression="+target+" = "+input, "--overwrite", "--quiet")
	case info.NSRes > res:
		e.logger.Debug("interpolating raster", "input", input, "from", info.NSRes, "to", res)
		_, err = e.run(ctx, "r.resamp.interp",
			"input="+input, "output="+target, "method=bilinear", "--overwrite", "--quiet")
	default:
		e.logger.Debug("aggregating raster", "input", input, "from", info.NSRes, "to", res)
		_, err = e.run(ctx, "r.resamp.stats",
			"input="+input, "output="+target, "method=average", "--overwrite", "--quiet")
	}
	if err != nil {
		return err
	}

	if target != out {
		return e.Rename(ctx, output.KindRaster, target, out)
	}
	return nil
}

func sameRes(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// RasterInfo implements output.GIS.
func (e *Engine) RasterInfo(ctx context.Context, name string) (domain.RasterInfo, error) {
	out, err := e.run(ctx, "r.info", "-g", "map="+name)
	if err != nil {
		return domain.RasterInfo{}, err
	}
	return parseRasterInfo(out)
}

// Univar implements output.GIS.
func (e *Engine) Univar(ctx context.Context, name string) (domain.Univar, error) {
	out, err := e.run(ctx, "r.univar", "-g", "map="+name)
	if err != nil {
		return domain.Univar{}, err
	}
	return parseUnivar(out)
}

// Rename implements output.GIS.
func (e *Engine) Rename(ctx context.Context, kind output.MapKind, from, to string) error {
	_, err := e.run(ctx, "g.rename", string(kind)+"="+from+","+to, "--overwrite", "--quiet")
	return err
}

// SetMask implements output.GIS.
func (e *Engine) SetMask(ctx context.Context, vector string) error {
	_, err := e.run(ctx, "r.mask", "vector="+vector, "--overwrite", "--quiet")
	return err
}

// RemoveMask implements output.GIS.
func (e *Engine) RemoveMask(ctx context.Context) error {
	_, err := e.run(ctx, "r.mask", "-r", "--quiet")
	return err
}

// Remove implements output.GIS.
func (e *Engine) Remove(ctx context.Context, kind output.MapKind, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := e.run(ctx, "g.remove", "-f", "type="+string(kind), "name="+strings.Join(names, ","), "--quiet")
	return err
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
