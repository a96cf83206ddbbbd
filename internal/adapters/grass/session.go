package grass

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// Session is an engine working in a temporary location. It shares the
// GISDBASE of the engine it was created from but uses its own GISRC file.
type Session struct {
	*Engine
	dir   string
	rc    string
	owner *Engine
}

// Ensure Session implements output.Session.
var _ output.Session = (*Session)(nil)

// TempLocation implements output.GIS.
func (e *Engine) TempLocation(ctx context.Context, epsg int) (output.Session, error) {
	current, err := e.Location(ctx)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("tmploc_%d_%s", epsg, shortID())
	dir := filepath.Join(current.GISDBase, name)

	if _, err := e.runner.Run(ctx, nil, e.executable, "-c", fmt.Sprintf("EPSG:%d", epsg), "-e", dir); err != nil {
		return nil, fmt.Errorf("creating location %s: %w", name, err)
	}

	rc, err := writeGISRC(domain.Location{GISDBase: current.GISDBase, Name: name, Mapset: "PERMANENT"})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	e.logger.Info("created temporary location", "location", name, "epsg", epsg)

	scoped := *e
	scoped.gisrc = rc
	scoped.region = ""
	return &Session{Engine: &scoped, dir: dir, rc: rc, owner: e}, nil
}

// Close removes the location directory and its GISRC file.
func (s *Session) Close(_ context.Context) error {
	s.owner.logger.Debug("removing temporary location", "dir", s.dir)
	return errors.Join(os.RemoveAll(s.dir), os.Remove(s.rc))
}

func writeGISRC(loc domain.Location) (string, error) {
	f, err := os.CreateTemp("", "demimport-gisrc-*")
	if err != nil {
		return "", fmt.Errorf("creating GISRC: %w", err)
	}
	content := fmt.Sprintf("GISDBASE: %s\nLOCATION_NAME: %s\nMAPSET: %s\nGUI: text\n",
		loc.GISDBase, loc.Name, loc.Mapset)
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing GISRC: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing GISRC: %w", err)
	}
	return f.Name(), nil
}
