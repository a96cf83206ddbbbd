package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/input"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// PreflightService checks the GRASS session and the importer setup before
// anything is downloaded.
type PreflightService struct {
	gis      output.GIS
	registry *ImporterRegistry
	matrix   domain.SupportMatrix
}

// Ensure PreflightService implements input.PreflightChecker.
var _ input.PreflightChecker = (*PreflightService)(nil)

// NewPreflightService creates a new preflight service.
func NewPreflightService(gis output.GIS, registry *ImporterRegistry, matrix domain.SupportMatrix) *PreflightService {
	return &PreflightService{
		gis:      gis,
		registry: registry,
		matrix:   matrix,
	}
}

// IsReady implements input.PreflightChecker.
func (s *PreflightService) IsReady(ctx context.Context) bool {
	return s.GetPreflightDetails(ctx).Ready
}

// GetPreflightDetails implements input.PreflightChecker.
func (s *PreflightService) GetPreflightDetails(ctx context.Context) input.PreflightDetails {
	details := input.PreflightDetails{
		Ready:            true,
		ImportersLoaded:  len(s.registry.List()),
		MissingImporters: make(map[string][]string),
		Components:       make(map[string]string),
	}

	loc, err := s.gis.Location(ctx)
	if err != nil {
		details.Ready = false
		details.Components["grass"] = "error: " + err.Error()
	} else {
		details.Location = loc.String()
		details.Components["grass"] = "ok"
	}

	if epsg, err := s.gis.EPSG(ctx); err != nil {
		details.Ready = false
		details.Components["projection"] = "error: " + err.Error()
	} else {
		details.EPSG = epsg
		details.Components["projection"] = fmt.Sprintf("EPSG:%d", epsg)
	}

	if err := s.matrix.Validate(); err != nil {
		details.Ready = false
		details.Components["support_matrix"] = "error: " + err.Error()
	} else {
		details.Components["support_matrix"] = "ok"
	}

	// a supported state without importer fails only when it is requested
	status := "ok"
	for _, p := range domain.Products {
		missing := s.registry.Missing(p)
		if len(missing) == 0 {
			continue
		}
		codes := make([]string, len(missing))
		for i, st := range missing {
			codes[i] = string(st)
		}
		details.MissingImporters[string(p)] = codes
		status = "incomplete"
	}
	if status != "ok" {
		var parts []string
		for _, p := range domain.Products {
			if codes, ok := details.MissingImporters[string(p)]; ok {
				parts = append(parts, fmt.Sprintf("%s: %s", p, strings.Join(codes, ",")))
			}
		}
		status += " (" + strings.Join(parts, "; ") + ")"
	}
	details.Components["importers"] = status

	return details
}
