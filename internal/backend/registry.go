package backend

import (
	"fmt"
	"sort"
	"sync"
)

// ModelInfo pairs a model name with the capabilities of its backend.
type ModelInfo struct {
	Model        string       `json:"model"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered backends keyed by the model name they serve.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register makes b the backend for the given model, replacing any earlier one.
func (r *Registry) Register(model string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[model] = b
}

// Resolve returns the backend serving model.
func (r *Registry) Resolve(model string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[model]
	if !ok {
		return nil, fmt.Errorf("no backend registered for model %q", model)
	}
	return b, nil
}

// List returns information about all registered models, sorted by name
// for a stable API response.
func (r *Registry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ModelInfo, 0, len(r.backends))
	for model, b := range r.backends {
		infos = append(infos, ModelInfo{
			Model:        model,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Model < infos[j].Model
	})
	return infos
}
