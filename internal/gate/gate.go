// Package gate decides whether a step may run based on what earlier steps
// left in the workspace. It never infers dependencies; it only checks what a
// descriptor declares.
package gate

import (
	"fmt"
	"strings"

	"github.com/kingrea/contenta/internal/artifact"
	"github.com/kingrea/contenta/internal/step"
)

// ConfigSource reports empty config keys.
type ConfigSource interface {
	Missing(keys []string) []string
}

// Decision is the gate outcome for one step.
type Decision struct {
	Pass          bool
	Missing       []string
	MissingConfig []string
}

// Reason renders the skip reason.
func (d Decision) Reason() string {
	var parts []string
	if len(d.Missing) > 0 {
		parts = append(parts, "missing artifacts: "+strings.Join(d.Missing, ", "))
	}
	if len(d.MissingConfig) > 0 {
		parts = append(parts, "missing config: "+strings.Join(d.MissingConfig, ", "))
	}
	return strings.Join(parts, "; ")
}

// Result converts a failed decision into a skipped result.
func (d Decision) Result() step.Result {
	if d.Pass {
		return step.Success(nil)
	}
	return step.Skipped("%s", d.Reason())
}

// Check evaluates desc.Requires against ws and desc.RequiresConfig against
// cfg. A descriptor with no declarations always passes. An artifact that
// cannot be inspected is returned as an error rather than a skip.
func Check(ws *artifact.Workspace, cfg ConfigSource, desc step.Descriptor) (Decision, error) {
	var d Decision
	for _, rel := range desc.Requires {
		res, err := ws.Check(rel)
		if err != nil && res.State == artifact.StateError {
			return Decision{}, fmt.Errorf("gate: step %s: check %s: %w", desc.ID, rel, err)
		}
		if res.State != artifact.StateReady {
			d.Missing = append(d.Missing, rel)
		}
	}
	if len(desc.RequiresConfig) > 0 && cfg != nil {
		d.MissingConfig = cfg.Missing(desc.RequiresConfig)
	}
	d.Pass = len(d.Missing) == 0 && len(d.MissingConfig) == 0
	return d, nil
}
