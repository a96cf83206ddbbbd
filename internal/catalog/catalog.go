// Package catalog describes where each federal state publishes its
// elevation data and how it has to be fetched.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/demimport/internal/domain"
)

//go:embed catalog.yaml
var embedded []byte

// Method is the way tiles are fetched and imported.
type Method string

// Fetch methods.
const (
	// COG imports cloud optimized GeoTIFFs straight from their URL.
	COG Method = "cog"
	// XYZZip downloads zip archives and grids the contained XYZ files.
	XYZZip Method = "xyz-zip"
	// RemoteZip extracts single XYZ entries from one large remote archive.
	RemoteZip Method = "remote-zip"
)

// Source is one open data source for a product of a federal state.
type Source struct {
	Product    domain.Product      `yaml:"product"`
	State      domain.FederalState `yaml:"state"`
	TileIndex  string              `yaml:"tile_index"`
	Method     Method              `yaml:"method"`
	SourceEPSG int                 `yaml:"source_epsg"`
	Separator  string              `yaml:"separator"`
	Extensions []string            `yaml:"extensions"`
	NativeRes  float64             `yaml:"native_res"`
	Archive    string              `yaml:"archive"`
	DataURL    string              `yaml:"data_url"`
	DateToken  string              `yaml:"date_token"`
	Retries    int                 `yaml:"retries"`
	RetryDelay time.Duration       `yaml:"retry_delay"`
	Workers    int                 `yaml:"workers"`
	Clip       bool                `yaml:"clip"`
}

// Key returns "<product>/<state>".
func (s Source) Key() string {
	return string(s.Product) + "/" + string(s.State)
}

// NeedsTempLocation reports whether tiles must be imported in a temporary
// location with the given source CRS.
func (s Source) NeedsTempLocation(locationEPSG int) bool {
	return s.SourceEPSG != 0 && s.SourceEPSG != locationEPSG
}

// HasExtension reports whether name ends with one of the data extensions.
func (s Source) HasExtension(name string) bool {
	if len(s.Extensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range s.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Catalog holds all known sources.
type Catalog struct {
	TileIndexBase string   `yaml:"tile_index_base"`
	Sources       []Source `yaml:"sources"`
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// Load reads a catalog file. An empty path returns the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) //#nosec G304 -- path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for i := range c.Sources {
		c.Sources[i].TileIndex = c.resolve(c.Sources[i].TileIndex)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every source for a usable method and tile index.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		if _, err := domain.ParseProduct(string(s.Product)); err != nil {
			return &domain.ConfigError{Field: "catalog.product", Message: err.Error()}
		}
		if !s.State.Valid() {
			return &domain.ConfigError{Field: "catalog.state", Message: fmt.Sprintf("unknown state %q", s.State)}
		}
		if seen[s.Key()] {
			return &domain.ConfigError{Field: "catalog." + s.Key(), Message: "duplicate source"}
		}
		seen[s.Key()] = true
		if s.TileIndex == "" {
			return &domain.ConfigError{Field: "catalog." + s.Key() + ".tile_index", Message: "required"}
		}
		switch s.Method {
		case COG, XYZZip:
		case RemoteZip:
			if s.Archive == "" {
				return &domain.ConfigError{Field: "catalog." + s.Key() + ".archive", Message: "required for remote-zip"}
			}
		default:
			return &domain.ConfigError{Field: "catalog." + s.Key() + ".method", Message: fmt.Sprintf("unknown method %q", s.Method)}
		}
	}
	return nil
}

// Lookup returns the source of a product and state.
func (c *Catalog) Lookup(p domain.Product, s domain.FederalState) (Source, bool) {
	for _, src := range c.Sources {
		if src.Product == p && src.State == s {
			return src, true
		}
	}
	return Source{}, false
}

// States returns the states with a source for a product, sorted.
func (c *Catalog) States(p domain.Product) []domain.FederalState {
	var out []domain.FederalState
	for _, src := range c.Sources {
		if src.Product == p {
			out = append(out, src.State)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Catalog) resolve(ref string) string {
	if ref == "" || strings.Contains(ref, "://") || c.TileIndexBase == "" {
		return ref
	}
	return strings.TrimSuffix(c.TileIndexBase, "/") + "/" + strings.TrimPrefix(ref, "/")
}
