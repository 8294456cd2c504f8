// Package registry maps driver names to lazy constructors, so peer
// dependencies are only imported/initialized when a driver is actually
// configured (spec §2 "Driver Registry", §9 "Polymorphism across drivers").
package registry

import (
	"fmt"
	"sort"
	"sync"

	replicator "github.com/user/s3db-replicator"
)

// Constructor builds a Replicator from a raw, driver-specific configuration
// value (typically unmarshaled YAML/JSON).
type Constructor func(config map[string]any) (replicator.Replicator, error)

// Registry is a concurrency-safe name-to-constructor map.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// Names returns every registered driver name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for n := range r.constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds a Replicator for the named driver. An unknown name is a
// configuration error whose message lists the available drivers, per
// spec §8's boundary behaviour.
func (r *Registry) New(name string, config map[string]any) (replicator.Replicator, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, replicator.ConfigError("registry.New", name,
			fmt.Sprintf("available drivers: %v", r.Names()),
			fmt.Errorf("unknown driver %q", name))
	}
	return ctor(config)
}
