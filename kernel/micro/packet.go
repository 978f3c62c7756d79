package micro

import (
	"fmt"

	"github.com/nashif/zephyr-sub001/kernel/arena"
)

// Opcode selects the handler of a command packet.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpInspect

	OpTaskStart
	OpTaskAbort
	OpTaskExit
	OpTaskSuspend
	OpTaskResume
	OpTaskPriority
	OpTaskSleep
	OpTaskYield
	OpTimeSlice

	OpSemGive
	OpSemTake
	OpSemReset

	OpMutexLock
	OpMutexUnlock
	OpMutexReset

	OpEventSend
	OpEventRecv
	OpEventHandler

	OpGroupSet
	OpGroupClear
	OpGroupWait

	OpMapAlloc
	OpMapFree

	OpPipePut
	OpPipeGet

	OpMboxPut
	OpMboxGet

	OpTimerAlloc
	OpTimerStart
	OpTimerStop
	OpTimerFree

	OpIRQAlloc
	OpIRQTest
	OpIRQAck
	OpIRQFree

	OpFiberWake

	opCount
)

var opNames = [opCount]string{
	OpNop:          "nop",
	OpInspect:      "inspect",
	OpTaskStart:    "task-start",
	OpTaskAbort:    "task-abort",
	OpTaskExit:     "task-exit",
	OpTaskSuspend:  "task-suspend",
	OpTaskResume:   "task-resume",
	OpTaskPriority: "task-priority",
	OpTaskSleep:    "task-sleep",
	OpTaskYield:    "task-yield",
	OpTimeSlice:    "time-slice",
	OpSemGive:      "sem-give",
	OpSemTake:      "sem-take",
	OpSemReset:     "sem-reset",
	OpMutexLock:    "mutex-lock",
	OpMutexUnlock:  "mutex-unlock",
	OpMutexReset:   "mutex-reset",
	OpEventSend:    "event-send",
	OpEventRecv:    "event-recv",
	OpEventHandler: "event-handler",
	OpGroupSet:     "group-set",
	OpGroupClear:   "group-clear",
	OpGroupWait:    "group-wait",
	OpMapAlloc:     "map-alloc",
	OpMapFree:      "map-free",
	OpPipePut:      "pipe-put",
	OpPipeGet:      "pipe-get",
	OpMboxPut:      "mbox-put",
	OpMboxGet:      "mbox-get",
	OpTimerAlloc:   "timer-alloc",
	OpTimerStart:   "timer-start",
	OpTimerStop:    "timer-stop",
	OpTimerFree:    "timer-free",
	OpIRQAlloc:     "irq-alloc",
	OpIRQTest:      "irq-test",
	OpIRQAck:       "irq-ack",
	OpIRQFree:      "irq-free",
	OpFiberWake:    "fiber-wake",
}

func (op Opcode) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Valid reports whether op names a kernel service.
func (op Opcode) Valid() bool { return op < opCount }

// ParseOpcode looks up an opcode by its String form.
func ParseOpcode(name string) (Opcode, bool) {
	for op, n := range opNames {
		if n == name {
			return Opcode(op), true
		}
	}
	return 0, false
}

// ISRSafe reports whether op may be submitted from interrupt context.
func (op Opcode) ISRSafe() bool {
	switch op {
	case OpSemGive, OpGroupSet, OpGroupClear, OpEventSend, OpFiberWake:
		return true
	}
	return false
}

// args is the union of command arguments. Each opcode reads the fields it
// needs and ignores the rest.
type args struct {
	id     uint16 // target object (or task)
	prio   Priority
	flags  uint32 // group flags, group mask, irq line, info word
	opts   uint32 // group options, pipe option, irq priority
	ticks  Ticks  // sleep, timer duration, slice length
	period Ticks
	sem    SemID
	sems   []SemID
	buf    []byte
	msg    *Message
	block  arena.Block
	async  bool
	fn     func()
	filter EventHandler
	cause  error
}

// packet is a command record owned by its submitter until pushed, then by
// the server until completed.
type packet struct {
	op      Opcode
	caller  *tcb
	timeout Ticks
	a       args
	done    chan struct{}

	err    error
	value  uint32
	count  int
	block  arena.Block
	sem    SemID
	vector uint32
}

// entry is one slot of the command queue: either a packet or a bare event id.
type entry struct {
	pkt   *packet
	event EventID
	gen   uint64
}

// complete stores the result and releases the submitter. Packets without a
// done channel (ISR, fiber and async packets) are fire-and-forget.
func (p *packet) complete(err error) {
	p.err = err
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
}

func (p *packet) callerID() TaskID {
	if p.caller == nil {
		return AnyTask
	}
	return p.caller.id
}
