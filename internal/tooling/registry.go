package tooling

import (
	"errors"
	"sync"

	"quartermaster/internal/domain"
)

// ErrNilTool is returned when Register is given a nil tool.
var ErrNilTool = errors.New("tooling: tool must not be nil")

// Registry maps tool names to tools. It is filled once at startup and only
// read afterwards; List preserves registration order so the catalog the
// model sees is stable.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*Tool
}

// NewRegistry returns an empty, ready-to-use registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. It fails with *DuplicateToolError when a tool with
// the same name already exists.
func (r *Registry) Register(t *Tool) error {
	if t == nil {
		return ErrNilTool
	}
	name := t.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// RegisterAll registers every tool and reports all failures together.
func (r *Registry) RegisterAll(tools ...*Tool) error {
	var errs []error
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the named tool or *UnknownToolError.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return t, nil
}

// List returns the definition of every tool in registration order.
func (r *Registry) List() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
