package platform

import (
	"sync"

	"github.com/Strob0t/moon/internal/domain/toolchain"
)

// Registry holds platforms in registration order with the system platform
// always consulted last.
type Registry struct {
	mu        sync.RWMutex
	platforms []Platform
	system    Platform
}

// NewRegistry creates a Registry whose fallback is system.
func NewRegistry(system Platform) *Registry {
	return &Registry{system: system}
}

// Register appends p before the system fallback.
func (r *Registry) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms = append(r.platforms, p)
}

// List returns every platform, system last.
func (r *Registry) List() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Platform, 0, len(r.platforms)+1)
	out = append(out, r.platforms...)
	return append(out, r.system)
}

// Enabled returns the platforms whose toolchain is enabled, system last.
func (r *Registry) Enabled() []Platform {
	var out []Platform
	for _, p := range r.List() {
		if p.IsToolchainEnabled() || p == r.system {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the first enabled platform that matches p, falling back to system.
func (r *Registry) Get(p toolchain.Platform) Platform {
	for _, candidate := range r.Enabled() {
		if candidate.Matches(p, nil) {
			return candidate
		}
	}
	return r.system
}

// ForRuntime returns the platform that owns rt, falling back to system.
func (r *Registry) ForRuntime(rt toolchain.Runtime) Platform {
	for _, candidate := range r.Enabled() {
		if candidate.Matches(rt.Platform, &rt) {
			return candidate
		}
	}
	return r.system
}

// IsEnabled reports whether a non-system platform is enabled for p.
func (r *Registry) IsEnabled(p toolchain.Platform) bool {
	return !r.Get(p).Type().IsSystem() || p.IsSystem()
}
