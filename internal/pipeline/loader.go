package pipeline

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Parse decodes and validates a definition.
func Parse(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("pipeline: definition payload is empty")
	}
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("pipeline: decode definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadReader reads a definition from r.
func LoadReader(r io.Reader) (Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read definition: %w", err)
	}
	return Parse(content)
}

// LoadFile loads a definition from path.
func LoadFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	def, err := Parse(content)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	return def, nil
}

// Default returns the embedded WordPress pipeline.
func Default() (Definition, error) {
	return Parse(defaultYAML)
}

// Load returns the definition at path, or the embedded default when path is
// empty.
func Load(path string) (Definition, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}
