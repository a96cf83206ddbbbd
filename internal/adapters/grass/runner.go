// Package grass implements the GIS port over GRASS GIS module executables.
package grass

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/jobrunner/demimport/internal/domain"
)

// Runner executes a GRASS module. env entries are added to the process
// environment.
type Runner interface {
	Run(ctx context.Context, env []string, module string, args ...string) ([]byte, error)
}

// ExecRunner runs modules as child processes.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner that logs every invocation at debug level.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, env []string, module string, args ...string) ([]byte, error) {
	r.logger.Debug("running GRASS module", "module", module, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, module, args...) //#nosec G204 -- module names are constants of this package
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &domain.CommandError{
			Module: module,
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}
