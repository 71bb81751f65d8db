package probe

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages all registered probers keyed by protocol name
type Registry struct {
	mu      sync.RWMutex
	probers map[string]Prober
}

// NewRegistry creates an empty prober registry
func NewRegistry() *Registry {
	return &Registry{
		probers: make(map[string]Prober),
	}
}

// Register adds a prober to the registry
func (r *Registry) Register(p Prober) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.probers[name]; exists {
		return fmt.Errorf("prober %s already registered", name)
	}
	r.probers[name] = p
	return nil
}

// Get returns the prober registered under name
func (r *Registry) Get(name string) (Prober, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.probers[name]
	return p, ok
}

// Names returns all registered prober names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.probers))
	for name := range r.probers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered probers ordered by name
func (r *Registry) All() []Prober {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.probers))
	for name := range r.probers {
		names = append(names, name)
	}
	sort.Strings(names)

	probers := make([]Prober, 0, len(names))
	for _, name := range names {
		probers = append(probers, r.probers[name])
	}
	return probers
}

// DefaultRegistry builds a registry with every built-in prober wired.
// Registration of built-ins cannot collide, so errors are ignored.
func DefaultRegistry(log zerolog.Logger) *Registry {
	r := NewRegistry()
	r.Register(NewS7Prober(log))
	r.Register(NewONVIFProber(log))
	r.Register(NewDNSProber(log))
	r.Register(NewSSDPProber(log))
	r.Register(NewSSHProber(log))
	r.Register(NewPortScanProber(log))
	return r
}
