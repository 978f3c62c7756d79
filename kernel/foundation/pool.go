package foundation

import "sync"

// Pool is a ring of preallocated slots handed out round-robin. It keeps no
// record of which slots are in use: a slot is reused once the ring wraps, so
// the capacity must cover the largest number of slots a producer can have in
// flight at once.
type Pool[T any] struct {
	mu    sync.Mutex
	slots []T
	next  int
}

// NewPool allocates capacity slots.
func NewPool[T any](capacity int) *Pool[T] {
	if capacity <= 0 {
		panic("pool capacity must be positive")
	}
	return &Pool[T]{slots: make([]T, capacity)}
}

// Next returns the slot at the current index and advances the index.
func (p *Pool[T]) Next() *T {
	p.mu.Lock()
	slot := &p.slots[p.next]
	p.next++
	if p.next == len(p.slots) {
		p.next = 0
	}
	p.mu.Unlock()
	return slot
}

// Cap returns the number of slots.
func (p *Pool[T]) Cap() int { return len(p.slots) }
