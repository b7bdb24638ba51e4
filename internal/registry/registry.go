// Package registry holds live sessions keyed by composite identity.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrExists is returned by Insert when the key already holds a value.
var ErrExists = errors.New("key already registered")

// Registry is a concurrency-safe map holding at most one value per key.
// Values are compared by identity in Remove, so V is usually a pointer.
type Registry[K comparable, V comparable] struct {
	mu    sync.RWMutex
	items map[K]V
}

func New[K comparable, V comparable]() *Registry[K, V] {
	return &Registry[K, V]{items: make(map[K]V)}
}

// Insert stores v under key unless key is already present.
func (r *Registry[K, V]) Insert(key K, v V) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[key]; exists {
		return ErrExists
	}
	r.items[key] = v
	return nil
}

func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[key]
	return v, ok
}

func (r *Registry[K, V]) Has(key K) bool {
	_, ok := r.Get(key)
	return ok
}

// Delete removes key unconditionally and returns what it held. The services
// never call it: a session removes itself with Remove when it ends, so a
// newer session under the same key survives. Delete is kept for callers
// that own the whole key space, such as tests resetting a registry.
func (r *Registry[K, V]) Delete(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[key]
	if ok {
		delete(r.items, key)
	}
	return v, ok
}

// Remove deletes key only while it still maps to v. It reports whether an
// entry was removed, so concurrent callers removing the same value see
// exactly one true.
func (r *Registry[K, V]) Remove(key K, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[key]
	if !ok || cur != v {
		return false
	}
	delete(r.items, key)
	return true
}

// Range calls fn for a snapshot of the entries; fn may mutate the registry.
func (r *Registry[K, V]) Range(fn func(key K, v V) bool) {
	for _, e := range r.snapshot() {
		if !fn(e.key, e.val) {
			return
		}
	}
}

// Values returns the current values.
func (r *Registry[K, V]) Values() []V {
	entries := r.snapshot()
	out := make([]V, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.val)
	}
	return out
}

func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

type entry[K comparable, V any] struct {
	key K
	val V
}

func (r *Registry[K, V]) snapshot() []entry[K, V] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entry[K, V], 0, len(r.items))
	for k, v := range r.items {
		out = append(out, entry[K, V]{k, v})
	}
	return out
}

// SortedKeys returns the keys of a string-keyed registry in order.
func SortedKeys[V comparable](r *Registry[string, V]) []string {
	keys := make([]string, 0, r.Len())
	r.Range(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}
