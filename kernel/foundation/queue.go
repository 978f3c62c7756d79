package foundation

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned by TryPush when every slot is occupied.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned once the queue has been closed.
	ErrQueueClosed = errors.New("queue closed")
)

// QueueStats tracks queue performance
type QueueStats struct {
	Enqueued uint64
	Dequeued uint64
	Dropped  uint64
	Depth    uint32
	MaxDepth uint32
}

// Queue is the fixed-capacity FIFO ring behind the kernel command stack.
// Producers may be ISR-class (TryPush, never waits) or task-class (Push,
// waits for a free slot). A single consumer drains it with Pop.
type Queue[T any] struct {
	mu       sync.Mutex
	slots    []queueSlot[T]
	mask     uint32
	head     uint32
	tail     uint32
	closed   bool
	stats    QueueStats
	ready    chan struct{}
	space    chan struct{}
	spaceReq int
}

type queueSlot[T any] struct {
	v   T
	seq uint64
}

// NewQueue creates a queue. capacity must be a power of two.
func NewQueue[T any](capacity uint32) *Queue[T] {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("capacity must be power of 2")
	}
	return &Queue[T]{
		slots: make([]queueSlot[T], capacity),
		mask:  capacity - 1,
		ready: make(chan struct{}, 1),
		space: make(chan struct{}),
	}
}

// Cap returns the number of slots.
func (q *Queue[T]) Cap() int { return len(q.slots) }

// TryPush appends v and returns its sequence number (1-based, monotonically
// increasing across the queue's lifetime).
func (q *Queue[T]) TryPush(v T) (uint64, error) {
	q.mu.Lock()
	seq, err := q.pushLocked(v)
	if err == ErrQueueFull {
		q.stats.Dropped++
	}
	q.mu.Unlock()
	if err == nil {
		q.signal()
	}
	return seq, err
}

// Push appends v, waiting for a free slot until ctx is done.
func (q *Queue[T]) Push(ctx context.Context, v T) (uint64, error) {
	for {
		q.mu.Lock()
		seq, err := q.pushLocked(v)
		if err != ErrQueueFull {
			q.mu.Unlock()
			if err == nil {
				q.signal()
			}
			return seq, err
		}
		q.spaceReq++
		wait := q.space
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			q.mu.Lock()
			q.spaceReq--
			q.mu.Unlock()
			return 0, ctx.Err()
		}
	}
}

func (q *Queue[T]) pushLocked(v T) (uint64, error) {
	if q.closed {
		return 0, ErrQueueClosed
	}
	if q.tail-q.head > q.mask {
		return 0, ErrQueueFull
	}
	q.stats.Enqueued++
	q.slots[q.tail&q.mask] = queueSlot[T]{v: v, seq: q.stats.Enqueued}
	q.tail++
	depth := q.tail - q.head
	q.stats.Depth = depth
	if depth > q.stats.MaxDepth {
		q.stats.MaxDepth = depth
	}
	return q.stats.Enqueued, nil
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes the oldest entry and returns it with the sequence number it
// was given at push time. It never waits.
func (q *Queue[T]) Pop() (T, uint64, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == q.tail {
		return zero, 0, false
	}
	idx := q.head & q.mask
	slot := q.slots[idx]
	q.slots[idx] = queueSlot[T]{}
	q.head++
	q.stats.Dequeued++
	q.stats.Depth = q.tail - q.head

	if q.spaceReq > 0 {
		close(q.space)
		q.space = make(chan struct{})
		q.spaceReq = 0
	}
	return slot.v, slot.seq, true
}

// Ready delivers a wake-up after pushes. Wake-ups coalesce; the consumer must
// drain with Pop until it reports empty.
func (q *Queue[T]) Ready() <-chan struct{} { return q.ready }

// Len returns the current depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}

// Close rejects further pushes and releases producers waiting for space.
// Entries already queued stay poppable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.space)
	q.space = make(chan struct{})
	q.spaceReq = 0
}

// Stats returns a snapshot of the counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
