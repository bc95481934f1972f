package session

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps session ids to their running actors.
type Registry interface {
	Get(id string) (*Actor, bool)
	// Put inserts a only when id is absent and reports whether it did.
	Put(id string, a *Actor) bool
	// Replace swaps old for next only while old is still registered.
	Replace(id string, old, next *Actor) bool
	// Remove deletes id only while it still maps to a.
	Remove(id string, a *Actor) bool
	IDs() []string
}

// MapRegistry is a Registry backed by a mutex-guarded map.
type MapRegistry struct {
	mu     sync.RWMutex
	actors map[string]*Actor
}

func NewRegistry() *MapRegistry {
	return &MapRegistry{actors: make(map[string]*Actor)}
}

func (r *MapRegistry) Get(id string) (*Actor, bool) {
	key := strings.TrimSpace(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[key]
	return a, ok
}

func (r *MapRegistry) Put(id string, a *Actor) bool {
	key := strings.TrimSpace(id)
	if key == "" || a == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actors[key]; exists {
		return false
	}
	r.actors[key] = a
	return true
}

func (r *MapRegistry) Replace(id string, old, next *Actor) bool {
	key := strings.TrimSpace(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.actors[key]; !ok || current != old {
		return false
	}
	r.actors[key] = next
	return true
}

func (r *MapRegistry) Remove(id string, a *Actor) bool {
	key := strings.TrimSpace(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.actors[key]; !ok || current != a {
		return false
	}
	delete(r.actors, key)
	return true
}

func (r *MapRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actors))
	for id := range r.actors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
