// Package events provides typed observer registries.
package events

import (
	"sort"
	"sync"
)

// Registry holds subscribers for events of type T.
type Registry[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(T)
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{subs: make(map[uint64]func(T))}
}

// Subscribe adds fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Dispatch calls every subscriber synchronously in subscription order.
// Subscribers may subscribe or unsubscribe from within their callback.
func (r *Registry[T]) Dispatch(event T) {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(T), len(ids))
	for i, id := range ids {
		fns[i] = r.subs[id]
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}

// Len returns the number of subscribers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
