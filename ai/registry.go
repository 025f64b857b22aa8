package ai

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wardline/wardline/core"
)

// Registry holds named generators so the capability gate can pick one at
// request time. Registration typically happens at startup.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	defaultKey string
	logger     core.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		generators: make(map[string]Generator),
		logger:     logger,
	}
}

// Register adds a generator under a name. The first registration becomes
// the default.
func (r *Registry) Register(name string, gen Generator) error {
	if name == "" || gen == nil {
		return fmt.Errorf("name and generator are required: %w", core.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.generators[name]; exists {
		return fmt.Errorf("generator %q already registered: %w", name, core.ErrInvalidInput)
	}
	r.generators[name] = gen
	if r.defaultKey == "" {
		r.defaultKey = name
	}

	r.logger.Info("Generator registered", map[string]interface{}{
		"name":    name,
		"default": r.defaultKey == name,
	})
	return nil
}

// Get returns a generator by name, or the default when name is empty
func (r *Registry) Get(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultKey
	}
	gen, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("generator %q: %w", name, core.ErrNotFound)
	}
	return gen, nil
}

// Names lists registered generator names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
