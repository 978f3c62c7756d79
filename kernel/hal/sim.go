package hal

import (
	"sort"
	"sync"
)

type simLine struct {
	vector   uint32
	priority uint32
	isr      ISR
	enabled  bool
	pending  bool
	fired    uint64
}

// SimController is an in-process interrupt controller. Raise plays the role
// of the device asserting its line: the ISR runs synchronously on the
// caller's goroutine when the line is enabled, otherwise the edge is latched
// and delivered on the next Enable.
type SimController struct {
	mu         sync.Mutex
	lines      map[uint32]*simLine
	byVector   map[uint32]uint32
	maxVectors int
	nextVector uint32
	freeVecs   []uint32
}

// NewSimController creates a controller with maxVectors vectors
// (zero means unlimited).
func NewSimController(maxVectors int) *SimController {
	return &SimController{
		lines:      make(map[uint32]*simLine),
		byVector:   make(map[uint32]uint32),
		maxVectors: maxVectors,
		nextVector: 32,
	}
}

// Connect implements IRQController.
func (c *SimController) Connect(irq, priority uint32, isr ISR) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxVectors > 0 && len(c.byVector) >= c.maxVectors {
		return 0, ErrNoVector
	}

	var vector uint32
	if n := len(c.freeVecs); n > 0 {
		vector = c.freeVecs[n-1]
		c.freeVecs = c.freeVecs[:n-1]
	} else {
		vector = c.nextVector
		c.nextVector++
	}

	c.lines[irq] = &simLine{vector: vector, priority: priority, isr: isr}
	c.byVector[vector] = irq
	return vector, nil
}

// Disconnect implements IRQController.
func (c *SimController) Disconnect(vector uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	irq, ok := c.byVector[vector]
	if !ok {
		return ErrUnknownVector
	}
	delete(c.byVector, vector)
	delete(c.lines, irq)
	c.freeVecs = append(c.freeVecs, vector)
	return nil
}

// Enable implements IRQController.
func (c *SimController) Enable(irq uint32) {
	c.mu.Lock()
	line, ok := c.lines[irq]
	if !ok {
		c.mu.Unlock()
		return
	}
	line.enabled = true
	deliver := line.pending
	line.pending = false
	c.mu.Unlock()

	if deliver {
		c.Raise(irq)
	}
}

// Disable implements IRQController.
func (c *SimController) Disable(irq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if line, ok := c.lines[irq]; ok {
		line.enabled = false
	}
}

// Raise asserts irq. It reports whether an ISR ran.
func (c *SimController) Raise(irq uint32) bool {
	c.mu.Lock()
	line, ok := c.lines[irq]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if !line.enabled {
		line.pending = true
		c.mu.Unlock()
		return false
	}
	line.fired++
	isr := line.isr
	c.mu.Unlock()

	isr()
	return true
}

// Enabled reports whether irq is connected and unmasked.
func (c *SimController) Enabled(irq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	line, ok := c.lines[irq]
	return ok && line.enabled
}

// Connected reports whether irq has an ISR installed.
func (c *SimController) Connected(irq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lines[irq]
	return ok
}

// Fired returns how many times the ISR for irq ran.
func (c *SimController) Fired(irq uint32) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if line, ok := c.lines[irq]; ok {
		return line.fired
	}
	return 0
}

// Vectors lists the vectors in use, ascending.
func (c *SimController) Vectors() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, 0, len(c.byVector))
	for v := range c.byVector {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
