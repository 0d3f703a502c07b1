package plugin

import (
	"fmt"
	"sync"

	convergeerrors "github.com/convergetool/converge/pkg/errors"
)

// Registry maps step types to their reconciler plugins. Registration happens
// once during startup; lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin implementation for the provided step type.
func (r *Registry) Register(stepType string, p Plugin) error {
	if p == nil {
		return convergeerrors.NewPluginError(stepType, fmt.Errorf("plugin is nil"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[stepType]; exists {
		return convergeerrors.NewPluginError(stepType, fmt.Errorf("plugin already registered"))
	}

	r.plugins[stepType] = p
	return nil
}

// Get retrieves a plugin by step type.
func (r *Registry) Get(stepType string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[stepType]
	if !ok {
		return nil, convergeerrors.NewPluginError(stepType, fmt.Errorf("no plugin registered"))
	}

	return p, nil
}

// Types returns the registered step types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.plugins))
	for t := range r.plugins {
		types = append(types, t)
	}
	return types
}
