package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bitempo/bitempo/internal/domain"
)

// Registry is the process-wide table of tracked entity types. It is built
// once at startup; Freeze locks it before the engine starts serving writes,
// so operations never observe a half-registered type.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]struct{}
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]struct{})}
}

// Register adds an entity type to the tracked set. Registering the same type
// twice is a no-op, so wiring code may be re-run safely.
func (r *Registry) Register(entityType string) error {
	if entityType == "" {
		return fmt.Errorf("entity type must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		if _, ok := r.types[entityType]; ok {
			return nil
		}
		return domain.ErrRegistryFrozen
	}
	r.types[entityType] = struct{}{}
	return nil
}

// Freeze disallows further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// IsTracked reports whether the entity type was registered.
func (r *Registry) IsTracked(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[entityType]
	return ok
}

// Types returns the sorted list of tracked entity types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
