package provider

import (
	"sync"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

var _ driven.AdapterRegistry = (*Registry)(nil)

// Registry maps each provider to the adapter variant serving it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.Provider]driven.ProviderAdapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.Provider]driven.ProviderAdapter)}
}

// Register installs adapter for provider, replacing any previous one.
func (r *Registry) Register(provider model.Provider, adapter driven.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[provider] = adapter
}

// Adapter returns the adapter for provider.
func (r *Registry) Adapter(provider model.Provider) (driven.ProviderAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	return a, ok
}
