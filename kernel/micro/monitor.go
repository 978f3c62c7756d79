package micro

// TraceKind classifies a TraceEvent.
type TraceKind uint8

const (
	// TraceCommand: a command packet was dispatched (Object is the opcode).
	TraceCommand TraceKind = iota + 1
	// TraceSignal: a well-known event was signalled (Object is the event id).
	TraceSignal
	// TraceSwitch: the current task changed (Task is the new task, Arg the old).
	TraceSwitch
	// TraceTimeout: a blocked call timed out (Object is the opcode).
	TraceTimeout
	// TraceFatal: the fatal handler is about to run.
	TraceFatal
)

func (k TraceKind) String() string {
	switch k {
	case TraceCommand:
		return "command"
	case TraceSignal:
		return "event"
	case TraceSwitch:
		return "switch"
	case TraceTimeout:
		return "timeout"
	case TraceFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// TraceEvent is one record handed to monitors. Seq is the command queue
// sequence number of the entry being processed (zero before the first).
type TraceEvent struct {
	Kind   TraceKind
	Seq    uint64
	Tick   uint64
	Task   TaskID
	Object uint32
	Arg    uint32
}

// Monitor observes kernel activity. Observe runs on the server goroutine and
// must return quickly.
type Monitor interface {
	Observe(ev TraceEvent)
}

// MonitorFunc adapts a function to Monitor.
type MonitorFunc func(TraceEvent)

// Observe implements Monitor.
func (f MonitorFunc) Observe(ev TraceEvent) { f(ev) }

func (k *Kernel) trace(ev TraceEvent) {
	if len(k.monitors) == 0 {
		return
	}
	ev.Tick = k.ticks
	if ev.Seq == 0 {
		ev.Seq = k.seq
	}
	for _, m := range k.monitors {
		m.Observe(ev)
	}
}
