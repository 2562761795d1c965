package registry

import (
	"fmt"
	"slices"
	"sync"
)

// Factory creates an instance of T from a flat config map.
type Factory[T any] func(config map[string]string) (T, error)

// Registry holds named factories for creating instances of T.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// New creates a new empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		factories: make(map[string]Factory[T]),
	}
}

// Register adds a named factory. Registering the same kind twice panics,
// since it can only happen through two init() functions claiming one name.
func (r *Registry[T]) Register(kind string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[kind]; dup {
		panic(fmt.Sprintf("registry: kind %q registered twice", kind))
	}
	r.factories[kind] = factory
}

// Create instantiates T using the factory registered under kind.
func (r *Registry[T]) Create(kind string, config map[string]string) (T, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, fmt.Errorf("unknown engine kind %q (registered: %v)", kind, r.List())
	}

	return factory(config)
}

// Has returns true if the named factory exists.
func (r *Registry[T]) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// List returns all registered kinds, sorted.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}
