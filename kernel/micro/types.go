package micro

import (
	"strings"

	"github.com/nashif/zephyr-sub001/kernel/foundation"
)

// Ticks counts system ticks. Two values are special: NoWait fails a blocking
// call immediately and Forever waits without arming a timer.
type Ticks int32

const (
	NoWait  Ticks = 0
	Forever Ticks = -1
)

// Priority re-exports the scheduling priority (0 is the most urgent).
type Priority = foundation.Priority

// Object identifiers. Each kind is numbered from zero in definition order.
type (
	TaskID    uint16
	SemID     uint16
	MutexID   uint16
	MapID     uint16
	PipeID    uint16
	MailboxID uint16
	EventID   uint16
	GroupID   uint16
	TimerID   uint16
	IRQObjID  uint16
	FiberID   uint16
)

const (
	// IdleTask is the always-runnable task at the lowest priority.
	IdleTask TaskID = 0
	// AnyTask matches every task in mailbox sender/receiver filters.
	AnyTask TaskID = 0xFFFF
	// NoSem leaves a timer or async send without a completion semaphore.
	NoSem SemID = 0xFFFF
	// TickEvent is the well-known event announcing elapsed ticks.
	TickEvent EventID = 0
)

// TaskOptions are static properties of a task.
type TaskOptions uint8

const (
	// Essential tasks may not exit or fault; doing so is a fatal error.
	Essential TaskOptions = 1 << iota
)

// TaskState is a set of reasons that keep a task off the ready list.
// A task is runnable exactly when its state is zero.
type TaskState uint32

const (
	StateStopped TaskState = 1 << iota
	StateTerminated
	StateSuspended
	StateSleeping
	StateSemWait
	StateMutexWait
	StateMapWait
	StateEventWait
	StateGroupWait
	StatePipeSend
	StatePipeRecv
	StateMboxSend
	StateMboxRecv
)

var stateNames = []struct {
	bit  TaskState
	name string
}{
	{StateStopped, "stopped"},
	{StateTerminated, "terminated"},
	{StateSuspended, "suspended"},
	{StateSleeping, "sleeping"},
	{StateSemWait, "sem"},
	{StateMutexWait, "mutex"},
	{StateMapWait, "map"},
	{StateEventWait, "event"},
	{StateGroupWait, "group"},
	{StatePipeSend, "pipe-send"},
	{StatePipeRecv, "pipe-recv"},
	{StateMboxSend, "mbox-send"},
	{StateMboxRecv, "mbox-recv"},
}

// Blocked reports whether the state includes a wait on a kernel object.
func (s TaskState) Blocked() bool {
	return s&(StateSleeping|StateSemWait|StateMutexWait|StateMapWait|StateEventWait|
		StateGroupWait|StatePipeSend|StatePipeRecv|StateMboxSend|StateMboxRecv) != 0
}

func (s TaskState) String() string {
	if s == 0 {
		return "ready"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// GroupOptions select how GroupWait matches.
type GroupOptions uint8

const (
	// WaitAny matches when any bit of the mask is set (default).
	WaitAny GroupOptions = 0
	// WaitAll matches only when every bit of the mask is set.
	WaitAll GroupOptions = 1 << iota
	// WaitClear clears the waited bits from the group once matched.
	WaitClear
)

// PipeOption selects the transfer policy of a pipe request.
type PipeOption uint8

const (
	// PipeAll transfers the whole request or nothing (_ALL_N).
	PipeAll PipeOption = iota
	// PipeAtLeastOne completes once at least one unit moved (_1_TO_N).
	PipeAtLeastOne
	// PipeAny never waits and reports whatever moved (_0_TO_N).
	PipeAny
)

func (o PipeOption) String() string {
	switch o {
	case PipeAll:
		return "all"
	case PipeAtLeastOne:
		return "at-least-one"
	case PipeAny:
		return "any"
	default:
		return "unknown"
	}
}
