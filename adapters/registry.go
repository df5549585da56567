package adapters

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/brettbedarf/wikifs"
	"github.com/brettbedarf/wikifs/internal/util"
)

// Factory builds a backend provider from the raw JSON backend config
type Factory = func(raw []byte) (wikifs.BackendProvider, error)

// Registry maps backend type names to their factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register ties a JSON-raw factory to a "type" key. The first registration of
// a type wins.
func (r *Registry) Register(backendType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[backendType]; ok {
		logger := util.GetLogger("Registry")
		logger.Warn().Str("type", backendType).Msg("Backend type already registered; ignoring")
		return
	}
	r.factories[backendType] = f
}

// GetFactory returns the factory registered for backendType
func (r *Registry) GetFactory(backendType string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[backendType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory for backend type %q", backendType)
	}
	return f, nil
}

// GetProvider picks the right factory based on the "type" field of raw and
// builds the provider with it.
func (r *Registry) GetProvider(raw []byte) (wikifs.BackendProvider, error) {
	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("backend config: %w", err)
	}
	f, err := r.GetFactory(meta.Type)
	if err != nil {
		return nil, err
	}
	return f(raw)
}

// Types lists the registered backend types
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
// All backend types should be registered during app init.
func Register(backendType string, f Factory) {
	defaultRegistry.Register(backendType, f)
}

// GetProvider builds a provider from raw using the default registry
func GetProvider(raw []byte) (wikifs.BackendProvider, error) {
	return defaultRegistry.GetProvider(raw)
}
