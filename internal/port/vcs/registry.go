package vcs

import (
	"fmt"
	"sort"
	"sync"
)

// Factory is a constructor function that creates a new Vcs instance.
type Factory func(cfg Config) (Vcs, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a VCS factory available by name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("vcs: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a new Vcs by name using the registered factory.
func New(name string, cfg Config) (Vcs, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("vcs: unknown manager %q", name)
	}
	return factory(cfg)
}

// Available returns the names of all registered adapters, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
