package client

import (
	"container/list"
	"sync"
)

// Registry is a typed observer list. Listeners are called in subscription order on the
// publishing goroutine, never while the registry's lock is held.
type Registry[T any] struct {
	mu        sync.Mutex
	listeners *list.List
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{listeners: list.New()}
}

// Subscribe adds fn and returns a function that removes it. Removal is O(1) and idempotent.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	r.mu.Lock()
	el := r.listeners.PushBack(fn)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.listeners.Remove(el)
			r.mu.Unlock()
		})
	}
}

// Publish delivers v to every listener subscribed at the time of the call.
func (r *Registry[T]) Publish(v T) {
	r.mu.Lock()
	fns := make([]func(T), 0, r.listeners.Len())
	for el := r.listeners.Front(); el != nil; el = el.Next() {
		fns = append(fns, el.Value.(func(T)))
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of listeners.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeners.Len()
}
