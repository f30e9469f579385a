package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a lookup table from agent name to AgentPlugin. It is populated
// during process start and frozen before serving traffic; after Freeze,
// further registration is rejected. Lookups never fail on unknown names;
// callers branch on the ok result.
type Registry struct {
	plugins map[string]AgentPlugin
	frozen  bool
	mu      sync.RWMutex
}

// NewRegistry creates an empty plugin registry
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]AgentPlugin),
	}
}

// Register registers a plugin under its name. Re-registration of a name is a
// start-up configuration error, as is registration after Freeze.
func (r *Registry) Register(p AgentPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", p.Name())
	}
	if _, exists := r.plugins[p.Name()]; exists {
		return fmt.Errorf("agent plugin %q already registered", p.Name())
	}

	r.plugins[p.Name()] = p
	return nil
}

// Freeze marks the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the plugin registered under name, or ok=false when absent.
func (r *Registry) Lookup(name string) (AgentPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns the sorted set of registered agent names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry builds a frozen registry with all built-in agent plugins.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, p := range []AgentPlugin{
		NewClaudePlugin(),
		NewCodexPlugin(),
		NewGeminiPlugin(),
	} {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}
