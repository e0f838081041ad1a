package blobstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry resolves backend ids recorded in entries to live backends.
type Registry struct {
	mu        sync.RWMutex
	backends  map[string]Backend
	defaultID string
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds b. The first registered backend becomes the default.
func (r *Registry) Register(b Backend) error {
	if b == nil {
		return fmt.Errorf("backend is required")
	}
	id := strings.TrimSpace(b.ID())
	if id == "" {
		return fmt.Errorf("backend id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[id]; exists {
		return fmt.Errorf("backend %q already registered", id)
	}
	r.backends[id] = b
	if r.defaultID == "" {
		r.defaultID = id
	}
	return nil
}

// SetDefault selects the backend that receives new external objects.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[id]; !ok {
		return fmt.Errorf("backend %q is not registered", id)
	}
	r.defaultID = id
	return nil
}

func (r *Registry) Get(id string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("backend %q is not registered", id)
	}
	return b, nil
}

func (r *Registry) Default() (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultID == "" {
		return nil, fmt.Errorf("no external backend is configured")
	}
	return r.backends[r.defaultID], nil
}

// IDs returns the registered backend ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
