// ABOUTME: Provider registry resolving a request's provider name to a Backend.
// ABOUTME: The default provider serves requests that name none.

package backend

import "fmt"

// Registry maps provider names to backends.
type Registry struct {
	backends map[string]Backend
	def      string
}

// NewRegistry creates a registry with the given default provider name.
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		def:      defaultProvider,
	}
}

// Register adds a backend under a provider name.
func (r *Registry) Register(name string, b Backend) {
	r.backends[name] = b
}

// Resolve returns the backend for the provider name, or the default backend
// when name is empty.
func (r *Registry) Resolve(name string) (Backend, error) {
	if name == "" {
		name = r.def
	}
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return b, nil
}
