package micro

import (
	"fmt"

	"github.com/nashif/zephyr-sub001/kernel/foundation"
	"github.com/nashif/zephyr-sub001/kernel/hal"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// TimeSlice configures round-robin among equal-priority tasks. Ticks zero
// disables slicing; only tasks at PriorityLimit or less urgent are sliced.
type TimeSlice struct {
	Ticks         int32
	PriorityLimit Priority
}

// Config holds kernel configuration
type Config struct {
	// CommandQueueSize is the number of command stack slots (rounded up to
	// a power of two).
	CommandQueueSize uint32
	// ISRPacketPool and FiberPacketPool size the packet rings used by
	// interrupt and fiber context.
	ISRPacketPool   int
	FiberPacketPool int
	// ServerPriority is the fiber priority of the command server; fibers at
	// this priority or more urgent run between packets.
	ServerPriority Priority
	TimeSlice      TimeSlice

	Logger *utils.Logger
	// FatalHandler is invoked on essential-task loss or a server fault.
	// The default logs and panics.
	FatalHandler func(err error)
	Monitors     []Monitor
	// IRQ is the interrupt controller used by the IRQ bridge. Nil disables
	// task IRQ objects.
	IRQ hal.IRQController
}

// DefaultConfig returns a configuration suitable for tests and the CLI.
func DefaultConfig() Config {
	return Config{
		CommandQueueSize: 256,
		ISRPacketPool:    32,
		FiberPacketPool:  16,
		ServerPriority:   0,
		TimeSlice:        TimeSlice{PriorityLimit: foundation.PriorityLowest},
	}
}

// Validate checks the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.CommandQueueSize == 0 {
		c.CommandQueueSize = def.CommandQueueSize
	}
	c.CommandQueueSize = foundation.NextPowerOfTwo(c.CommandQueueSize)
	if c.ISRPacketPool == 0 {
		c.ISRPacketPool = def.ISRPacketPool
	}
	if c.FiberPacketPool == 0 {
		c.FiberPacketPool = def.FiberPacketPool
	}
	if c.ISRPacketPool < 0 || c.FiberPacketPool < 0 {
		return fmt.Errorf("packet pool sizes must be positive")
	}
	if !c.ServerPriority.Valid() {
		return fmt.Errorf("server priority %d out of range", c.ServerPriority)
	}
	if c.TimeSlice.Ticks < 0 {
		return fmt.Errorf("time slice must not be negative")
	}
	if !c.TimeSlice.PriorityLimit.Valid() {
		return fmt.Errorf("time slice priority limit %d out of range", c.TimeSlice.PriorityLimit)
	}
	if c.Logger == nil {
		c.Logger = utils.DefaultLogger("kernel")
	}
	if c.FatalHandler == nil {
		logger := c.Logger
		c.FatalHandler = func(err error) {
			logger.Error("Kernel fatal error", utils.Err(err))
			panic(err)
		}
	}
	return nil
}
