package step

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrStepNotFound marks a registry/executable mismatch. It is a packaging
// defect and always fatal.
var ErrStepNotFound = errors.New("step not found")

// NotFoundError names the step that could not be resolved.
type NotFoundError struct {
	ID     string
	Detail string
}

func (e *NotFoundError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("step %s: %s", e.ID, ErrStepNotFound)
	}
	return fmt.Sprintf("step %s: %s: %s", e.ID, ErrStepNotFound, e.Detail)
}

// Is lets errors.Is match ErrStepNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrStepNotFound
}

// Factory builds the executable for a descriptor of a given kind.
type Factory func(Descriptor) (Executable, error)

// Registry keeps step descriptors in execution order plus the factories that
// turn a descriptor into an executable.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
	steps     map[string]entry
}

type entry struct {
	desc   Descriptor
	parsed ID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{},
		steps:     map[string]entry{},
	}
}

// RegisterKind installs a factory for a step kind. Returns an error if the
// kind already exists.
func (r *Registry) RegisterKind(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("step: kind is required")
	}
	if factory == nil {
		return fmt.Errorf("step: factory is required for kind %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("step: kind %s already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// MustRegisterKind panics if registration fails.
func (r *Registry) MustRegisterKind(kind string, factory Factory) {
	if err := r.RegisterKind(kind, factory); err != nil {
		panic(err)
	}
}

// HasKind reports whether a factory exists for kind.
func (r *Registry) HasKind(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Add appends a descriptor. Ids must be unique and strictly increasing so
// that insertion order equals execution order.
func (r *Registry) Add(desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	parsed, err := ParseID(desc.ID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[desc.ID]; exists {
		return fmt.Errorf("step: %s already registered", desc.ID)
	}
	if n := len(r.order); n > 0 {
		last := r.steps[r.order[n-1]]
		if !last.parsed.Less(parsed) {
			return fmt.Errorf("step: %s must come after %s", desc.ID, last.desc.ID)
		}
	}
	r.steps[desc.ID] = entry{desc: desc, parsed: parsed}
	r.order = append(r.order, desc.ID)
	return nil
}

// IDs returns the registered step ids in execution order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}

// Descriptors returns every descriptor in execution order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.steps[id].desc)
	}
	return out
}

// Descriptor looks up one step.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.steps[id]
	return e.desc, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Descriptor(id)
	return ok
}

// Index returns the position of id in execution order, or -1.
func (r *Registry) Index(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, candidate := range r.order {
		if candidate == id {
			return i
		}
	}
	return -1
}

// First returns the id of the first registered step.
func (r *Registry) First() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// MaxOrdinal returns the highest main numeric part across registered steps.
func (r *Registry) MaxOrdinal() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	highest := -1
	for _, id := range r.order {
		if main := r.steps[id].parsed.Main; main > highest {
			highest = main
		}
	}
	return highest
}

// Executable resolves the runnable body for id.
func (r *Registry) Executable(id string) (Executable, error) {
	r.mu.RLock()
	e, ok := r.steps[id]
	var factory Factory
	if ok {
		factory = r.factories[e.desc.Kind]
	}
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{ID: id, Detail: "not registered"}
	}
	if factory == nil {
		return nil, &NotFoundError{ID: id, Detail: fmt.Sprintf("no factory for kind %s", e.desc.Kind)}
	}
	exec, err := factory(e.desc)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, &NotFoundError{ID: id, Detail: "factory returned no executable"}
	}
	return exec, nil
}
