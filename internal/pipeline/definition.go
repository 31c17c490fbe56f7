// Package pipeline turns a declarative step list into a step registry. The
// list is YAML; a default pipeline is embedded in the binary.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/kingrea/contenta/internal/step"
)

// Definition declares the ordered steps of a pipeline plus the config keys
// that must be present before any step runs.
type Definition struct {
	ID             string    `yaml:"id"`
	Name           string    `yaml:"name"`
	Description    string    `yaml:"description,omitempty"`
	RequiredConfig []string  `yaml:"required_config,omitempty"`
	Steps          []StepDef `yaml:"steps"`
}

// StepDef is one entry in Definition.Steps.
type StepDef struct {
	ID                 string   `yaml:"id"`
	Label              string   `yaml:"label"`
	Kind               string   `yaml:"kind"`
	Requires           []string `yaml:"requires,omitempty"`
	Outputs            []string `yaml:"outputs,omitempty"`
	RequiresConfig     []string `yaml:"requires_config,omitempty"`
	RefreshCredentials bool     `yaml:"refresh_credentials,omitempty"`
	Script             string   `yaml:"script,omitempty"`
}

// Descriptor converts the entry to a registry descriptor.
func (s StepDef) Descriptor() step.Descriptor {
	return step.Descriptor{
		ID:                 strings.TrimSpace(s.ID),
		Label:              strings.TrimSpace(s.Label),
		Kind:               strings.TrimSpace(s.Kind),
		Requires:           cloneStrings(s.Requires),
		Outputs:            cloneStrings(s.Outputs),
		RequiresConfig:     cloneStrings(s.RequiresConfig),
		RefreshCredentials: s.RefreshCredentials,
		Script:             strings.TrimSpace(s.Script),
	}
}

// Validate checks ids, labels, kinds, uniqueness and that the declared order
// is strictly increasing (09 before 09-5 before 10).
func (def Definition) Validate() error {
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("pipeline: id is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("pipeline %s: at least one step is required", def.ID)
	}
	seen := map[string]struct{}{}
	var prev *step.ID
	for idx, s := range def.Steps {
		desc := s.Descriptor()
		if err := desc.Validate(); err != nil {
			return fmt.Errorf("pipeline %s step[%d]: %w", def.ID, idx, err)
		}
		if _, dup := seen[desc.ID]; dup {
			return fmt.Errorf("pipeline %s: duplicate step id %s", def.ID, desc.ID)
		}
		seen[desc.ID] = struct{}{}
		parsed, err := step.ParseID(desc.ID)
		if err != nil {
			return fmt.Errorf("pipeline %s step[%d]: %w", def.ID, idx, err)
		}
		if prev != nil && !prev.Less(parsed) {
			return fmt.Errorf("pipeline %s: step %s is declared after %s", def.ID, desc.ID, prev)
		}
		prev = &parsed
		for _, rel := range desc.Requires {
			if err := checkRelative(rel); err != nil {
				return fmt.Errorf("pipeline %s step %s: %w", def.ID, desc.ID, err)
			}
		}
		for _, rel := range desc.Outputs {
			if err := checkRelative(rel); err != nil {
				return fmt.Errorf("pipeline %s step %s: %w", def.ID, desc.ID, err)
			}
		}
	}
	return nil
}

// Populate validates def and adds every step to reg. Each step kind must
// already have a factory in reg.
func Populate(def Definition, reg *step.Registry) error {
	if err := def.Validate(); err != nil {
		return err
	}
	for _, s := range def.Steps {
		desc := s.Descriptor()
		if !reg.HasKind(desc.Kind) {
			return fmt.Errorf("pipeline %s step %s: unknown kind %q (known: %s)", def.ID, desc.ID, desc.Kind, strings.Join(reg.Kinds(), ", "))
		}
		if err := reg.Add(desc); err != nil {
			return fmt.Errorf("pipeline %s: %w", def.ID, err)
		}
	}
	return nil
}

func checkRelative(rel string) error {
	trimmed := strings.TrimSpace(rel)
	if trimmed == "" {
		return fmt.Errorf("empty artifact path")
	}
	if strings.HasPrefix(trimmed, "/") || trimmed == ".." || strings.HasPrefix(trimmed, "../") || strings.Contains(trimmed, "/../") {
		return fmt.Errorf("artifact path %q must stay inside the workspace", rel)
	}
	return nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
