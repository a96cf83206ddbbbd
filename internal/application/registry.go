package application

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jobrunner/demimport/internal/catalog"
	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/input"
)

type importerKey struct {
	product domain.Product
	state   domain.FederalState
}

// ImporterRegistry manages the state importers by product and state.
type ImporterRegistry struct {
	mu        sync.RWMutex
	importers map[importerKey]input.StateImporter
	methods   map[importerKey]string
	matrix    domain.SupportMatrix
}

// Ensure ImporterRegistry implements input.ImporterRegistry.
var _ input.ImporterRegistry = (*ImporterRegistry)(nil)

// NewImporterRegistry creates an empty registry classifying states with
// matrix.
func NewImporterRegistry(matrix domain.SupportMatrix) *ImporterRegistry {
	return &ImporterRegistry{
		importers: make(map[importerKey]input.StateImporter),
		methods:   make(map[importerKey]string),
		matrix:    matrix,
	}
}

// NewRegistryFromCatalog builds one importer per catalog source.
func NewRegistryFromCatalog(cat *catalog.Catalog, matrix domain.SupportMatrix, deps ImporterDeps) (*ImporterRegistry, error) {
	r := NewImporterRegistry(matrix)
	for _, src := range cat.Sources {
		imp, err := NewImporter(src, deps)
		if err != nil {
			return nil, err
		}
		r.Register(imp, string(src.Method))
	}
	return r, nil
}

// Register adds or replaces the importer of its product and state.
func (r *ImporterRegistry) Register(imp input.StateImporter, method string) {
	key := importerKey{imp.Product(), imp.State()}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.importers[key] = imp
	r.methods[key] = method
}

// Get implements input.ImporterRegistry.
func (r *ImporterRegistry) Get(p domain.Product, s domain.FederalState) (input.StateImporter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	imp, ok := r.importers[importerKey{p, s}]
	if !ok {
		return nil, fmt.Errorf("%s for %s: %w", p, s, domain.ErrNoImporter)
	}
	return imp, nil
}

// List implements input.ImporterRegistry. Entries are sorted by product
// and state.
func (r *ImporterRegistry) List() []input.ImporterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]input.ImporterInfo, 0, len(r.importers))
	for key := range r.importers {
		infos = append(infos, input.ImporterInfo{
			Product:      key.product,
			State:        key.state,
			Method:       r.methods[key],
			Availability: r.matrix.Classify(key.product, key.state),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Product != infos[j].Product {
			return productOrder(infos[i].Product) < productOrder(infos[j].Product)
		}
		return infos[i].State < infos[j].State
	})
	return infos
}

// Missing returns the states classified as supported for p that have no
// importer.
func (r *ImporterRegistry) Missing(p domain.Product) []domain.FederalState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.FederalState
	for _, s := range r.matrix.States(p, domain.Supported) {
		if _, ok := r.importers[importerKey{p, s}]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func productOrder(p domain.Product) int {
	for i, q := range domain.Products {
		if q == p {
			return i
		}
	}
	return len(domain.Products)
}
