package task

import (
	"fmt"
	"sort"
	"sync"
)

// KindInfo describes a registered task kind.
type KindInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type entry struct {
	fn          Func
	description string
}

// Registry holds the task kinds callers may submit by name.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]entry
}

// NewRegistry creates an empty task kind registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]entry),
	}
}

// Register adds fn under the given kind name, replacing any previous entry.
func (r *Registry) Register(name, description string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[name] = entry{fn: fn, description: description}
}

// Resolve returns the callable registered under name.
func (r *Registry) Resolve(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return e.fn, nil
}

// List returns all registered kinds, sorted by name for a stable API response.
func (r *Registry) List() []KindInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]KindInfo, 0, len(r.kinds))
	for name, e := range r.kinds {
		infos = append(infos, KindInfo{Name: name, Description: e.description})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
