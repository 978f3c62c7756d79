// Package monitor observes a running kernel: a bounded trace ring with
// compressed dumps, Prometheus counters, and a websocket server streaming
// trace records and accepting interrupt-class command records.
package monitor

import (
	"bytes"
	"io"
	"sync"

	"github.com/andybalholm/brotli"

	"github.com/nashif/zephyr-sub001/kernel/abi"
	"github.com/nashif/zephyr-sub001/kernel/micro"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// TraceBuffer keeps the most recent trace events and fans them out to live
// subscribers. Observe never blocks: a subscriber that falls behind loses
// events.
type TraceBuffer struct {
	mu      sync.Mutex
	ring    []micro.TraceEvent
	next    int
	full    bool
	dropped uint64
	subs    map[int]*subscription
	nextSub int
}

type subscription struct {
	ch     chan micro.TraceEvent
	missed uint64
}

// NewTraceBuffer creates a buffer holding up to capacity events.
func NewTraceBuffer(capacity int) *TraceBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &TraceBuffer{
		ring: make([]micro.TraceEvent, capacity),
		subs: make(map[int]*subscription),
	}
}

// Observe implements micro.Monitor.
func (b *TraceBuffer) Observe(ev micro.TraceEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.full {
		b.dropped++
	}
	b.ring[b.next] = ev
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}

	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			s.missed++
		}
	}
}

// Snapshot returns the buffered events, oldest first.
func (b *TraceBuffer) Snapshot() []micro.TraceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return append([]micro.TraceEvent(nil), b.ring[:b.next]...)
	}
	out := make([]micro.TraceEvent, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	return append(out, b.ring[:b.next]...)
}

// Len returns the number of buffered events.
func (b *TraceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.ring)
	}
	return b.next
}

// Dropped returns how many events were overwritten.
func (b *TraceBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Subscribe registers a live listener with a queue of depth events. The
// returned cancel function unregisters it and reports how many events it
// missed.
func (b *TraceBuffer) Subscribe(depth int) (<-chan micro.TraceEvent, func() uint64) {
	if depth < 1 {
		depth = 1
	}
	s := &subscription{ch: make(chan micro.TraceEvent, depth)}

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() uint64 {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
		b.mu.Lock()
		defer b.mu.Unlock()
		return s.missed
	}
}

// WriteCompressed writes the buffered events as a brotli-compressed trace
// batch and returns the number of compressed bytes written.
func (b *TraceBuffer) WriteCompressed(w io.Writer) (int, error) {
	data, err := abi.EncodeTraceBatch(b.Snapshot())
	if err != nil {
		return 0, utils.WrapError(err, "encode trace batch")
	}
	var out bytes.Buffer
	bw := brotli.NewWriterLevel(&out, brotli.DefaultCompression)
	if _, err := bw.Write(data); err != nil {
		return 0, utils.WrapError(err, "compress trace")
	}
	if err := bw.Close(); err != nil {
		return 0, utils.WrapError(err, "compress trace")
	}
	return w.Write(out.Bytes())
}

// ReadCompressed decodes a dump written by WriteCompressed.
func ReadCompressed(r io.Reader) ([]micro.TraceEvent, error) {
	data, err := io.ReadAll(brotli.NewReader(r))
	if err != nil {
		return nil, utils.WrapError(err, "decompress trace")
	}
	return abi.DecodeTraceBatch(data)
}
