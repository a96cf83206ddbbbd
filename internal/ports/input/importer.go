// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/demimport/internal/domain"
)

// StateImporter imports one product of one federal state from its open
// data portal.
type StateImporter interface {
	Product() domain.Product
	State() domain.FederalState
	Import(ctx context.Context, req domain.ImportRequest) (domain.ImportResult, error)
}

// Dispatcher imports one product for several federal states, from local
// data where available and from open data otherwise.
type Dispatcher interface {
	Product() domain.Product
	Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.ImportResult, error)
}

// Composer builds a normalized surface model for several federal states.
type Composer interface {
	Compose(ctx context.Context, req domain.ComposeRequest) (domain.ImportResult, error)
}

// ImporterInfo describes a registered importer.
type ImporterInfo struct {
	Product      domain.Product
	State        domain.FederalState
	Method       string
	Availability domain.Availability
}

// ImporterRegistry looks up importers by product and state.
type ImporterRegistry interface {
	Get(p domain.Product, s domain.FederalState) (StateImporter, error)
	List() []ImporterInfo
}

// PreflightChecker reports whether imports can run in the current session.
type PreflightChecker interface {
	// IsReady returns true if imports can run.
	IsReady(ctx context.Context) bool

	// GetPreflightDetails returns the status of every checked component.
	GetPreflightDetails(ctx context.Context) PreflightDetails
}

// PreflightDetails contains detailed preflight information.
type PreflightDetails struct {
	Ready            bool                // Imports can run
	Location         string              // location/mapset of the session
	EPSG             int                 // EPSG code of the location
	ImportersLoaded  int                 // Number of registered importers
	MissingImporters map[string][]string // product -> supported states without importer
	Components       map[string]string   // Component statuses
}
