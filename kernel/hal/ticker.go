package hal

import (
	"context"
	"time"
)

// Ticker is a host tick source driven by a wall-clock ticker. Ticks that the
// consumer does not pick up in time are dropped from the channel but still
// counted in the sequence number, so a consumer can tell how many elapsed.
type Ticker struct {
	ch     chan uint64
	period time.Duration
}

// NewTicker creates a source firing hz times per second.
func NewTicker(hz int) *Ticker {
	if hz <= 0 {
		hz = 100
	}
	return &Ticker{
		ch:     make(chan uint64, 64),
		period: time.Second / time.Duration(hz),
	}
}

// Ticks implements TickSource.
func (t *Ticker) Ticks() <-chan uint64 { return t.ch }

// Period returns the tick duration.
func (t *Ticker) Period() time.Duration { return t.period }

// Run produces ticks until ctx is done. limit stops after that many ticks
// (zero means run forever).
func (t *Ticker) Run(ctx context.Context, limit uint64) {
	tk := time.NewTicker(t.period)
	defer tk.Stop()
	defer close(t.ch)

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			seq++
			select {
			case t.ch <- seq:
			default:
			}
			if limit > 0 && seq >= limit {
				return
			}
		}
	}
}
