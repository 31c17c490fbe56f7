package step

import (
	"context"
	"fmt"

	"github.com/kingrea/contenta/internal/artifact"
	"github.com/kingrea/contenta/internal/config"
	"github.com/kingrea/contenta/internal/job"
	"github.com/kingrea/contenta/internal/logbook"
)

// Descriptor describes a registered step. It is immutable once the registry
// has been built.
type Descriptor struct {
	ID    string
	Label string
	Kind  string
	// Requires lists workspace-relative artifacts that must exist before the
	// step body runs. A trailing slash denotes a non-empty directory.
	Requires []string
	// Outputs lists artifacts the step is expected to produce.
	Outputs []string
	// RequiresConfig lists dotted config keys; an empty value skips the step.
	RequiresConfig []string
	// RefreshCredentials asks the orchestrator to run the credential
	// refresher and reload the config before the step.
	RefreshCredentials bool
	// Script overrides the conventional executable name for command steps.
	Script string
}

// Validate ensures the descriptor is well-formed.
func (d Descriptor) Validate() error {
	if !ValidID(d.ID) {
		return fmt.Errorf("step: invalid id %q", d.ID)
	}
	if d.Label == "" {
		return fmt.Errorf("step: label is required for %s", d.ID)
	}
	if d.Kind == "" {
		return fmt.Errorf("step: kind is required for %s", d.ID)
	}
	return nil
}

// Name renders "SS label" for log lines.
func (d Descriptor) Name() string {
	return fmt.Sprintf("[%s] %s", d.ID, d.Label)
}

// Context carries shared runtime dependencies into every step.
type Context struct {
	Job       *job.Job
	Config    *config.Config
	Log       *logbook.Logbook
	Workspace *artifact.Workspace
	Step      Descriptor
}

// WithStep returns a copy bound to desc.
func (sc *Context) WithStep(desc Descriptor) *Context {
	clone := *sc
	clone.Step = desc
	return &clone
}

// Executable is implemented by every step body.
type Executable interface {
	Run(ctx context.Context, sc *Context) (Result, error)
}

// Func adapts a plain function to Executable.
type Func func(ctx context.Context, sc *Context) (Result, error)

// Run implements Executable.
func (f Func) Run(ctx context.Context, sc *Context) (Result, error) {
	return f(ctx, sc)
}
