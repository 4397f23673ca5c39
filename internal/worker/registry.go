package worker

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh Worker.
type Factory func() Worker

// Registry maps method names to worker factories. It is populated at
// startup and read by the player and the CLI.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under method. Registering a method twice is an error.
func (r *Registry) Register(method string, f Factory) error {
	if method == "" {
		return fmt.Errorf("register worker: empty method name")
	}
	if f == nil {
		return fmt.Errorf("register worker %q: nil factory", method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[method]; exists {
		return fmt.Errorf("register worker %q: already registered", method)
	}
	r.factories[method] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(method string, f Factory) {
	if err := r.Register(method, f); err != nil {
		panic(err)
	}
}

// New creates the worker registered for method.
func (r *Registry) New(method string) (Worker, error) {
	r.mu.RLock()
	f, ok := r.factories[method]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return f(), nil
}

// Names returns the registered methods in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtins returns a registry holding the sample workers.
func Builtins() *Registry {
	r := NewRegistry()
	r.MustRegister(SumMethod, func() Worker { return Sum{} })
	r.MustRegister(EchoMethod, func() Worker { return Echo{} })
	return r
}
