// Package ring provides a fixed-capacity ring buffer that retains the most
// recently pushed items. It backs the engine's in-memory record of recently
// decoded status frames; once full, each push evicts the oldest item.
package ring

import "sync"

// Ring is a bounded, concurrency-safe ring buffer of the most recent items.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of the oldest item
	count int
}

// New creates a Ring with the given capacity. It panics if capacity is not positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest item when the ring is full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % len(r.items)
	r.items[tail] = item
	if r.count < len(r.items) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.items)
	}
}

// Latest returns up to n items, newest first. It returns all retained items
// if n exceeds the current length.
func (r *Ring[T]) Latest(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]T, n)
	for i := 0; i < n; i++ {
		idx := (r.head + r.count - 1 - i) % len(r.items)
		out[i] = r.items[idx]
	}
	return out
}

// Len returns the number of retained items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Reset discards all retained items.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.count = 0
}
