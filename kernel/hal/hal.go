// Package hal holds the platform interfaces the kernel core consumes:
// interrupt registration and the periodic tick source.
package hal

import "errors"

var (
	// ErrNoVector is returned when the controller has no free vector left.
	ErrNoVector = errors.New("no free interrupt vector")
	// ErrUnknownVector is returned when disconnecting a vector that is not in use.
	ErrUnknownVector = errors.New("unknown interrupt vector")
)

// ISR is an interrupt service routine. It runs in interrupt context and must
// not block.
type ISR func()

// IRQController is the interrupt controller glue provided by the platform.
type IRQController interface {
	// Connect installs isr for irq at the given priority and returns the
	// vector it was bound to. The line starts masked.
	Connect(irq, priority uint32, isr ISR) (vector uint32, err error)
	// Disconnect releases a vector returned by Connect.
	Disconnect(vector uint32) error
	// Enable unmasks irq.
	Enable(irq uint32)
	// Disable masks irq.
	Disable(irq uint32)
}

// TickSource delivers the periodic system tick.
type TickSource interface {
	Ticks() <-chan uint64
}
