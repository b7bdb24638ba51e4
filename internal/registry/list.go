package registry

import "sync"

// ListRegistry maps a key to a list of values. A key whose list becomes
// empty is removed, never left holding an empty list.
type ListRegistry[K comparable, V comparable] struct {
	mu    sync.RWMutex
	items map[K][]V
}

func NewList[K comparable, V comparable]() *ListRegistry[K, V] {
	return &ListRegistry[K, V]{items: make(map[K][]V)}
}

// Append adds v to the list under key.
func (r *ListRegistry[K, V]) Append(key K, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = append(r.items[key], v)
}

// Remove drops v from key's list and prunes the key once empty. It reports
// whether v was found.
func (r *ListRegistry[K, V]) Remove(key K, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	lst, ok := r.items[key]
	if !ok {
		return false
	}
	for i, cur := range lst {
		if cur != v {
			continue
		}
		out := make([]V, 0, len(lst)-1)
		out = append(out, lst[:i]...)
		out = append(out, lst[i+1:]...)
		if len(out) == 0 {
			delete(r.items, key)
		} else {
			r.items[key] = out
		}
		return true
	}
	return false
}

// Get returns a copy of key's list.
func (r *ListRegistry[K, V]) Get(key K) []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]V(nil), r.items[key]...)
}

func (r *ListRegistry[K, V]) Has(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[key]
	return ok
}

// Range calls fn for a snapshot of every key and its list.
func (r *ListRegistry[K, V]) Range(fn func(key K, list []V) bool) {
	r.mu.RLock()
	snap := make(map[K][]V, len(r.items))
	for k, v := range r.items {
		snap[k] = append([]V(nil), v...)
	}
	r.mu.RUnlock()

	for k, v := range snap {
		if !fn(k, v) {
			return
		}
	}
}

// Len is the number of keys.
func (r *ListRegistry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Count is the total number of values across keys.
func (r *ListRegistry[K, V]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, v := range r.items {
		n += len(v)
	}
	return n
}
