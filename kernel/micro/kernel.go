// Package micro implements the microkernel command server: a single
// goroutine that owns the scheduler and every kernel object, and serves
// task, fiber and interrupt requests submitted through one FIFO command
// queue.
//
// Objects are defined before Run. Tasks call services through *Task handles,
// interrupt context uses Kernel.ISR, and fibers use their FiberContext.
package micro

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nashif/zephyr-sub001/kernel/foundation"
	"github.com/nashif/zephyr-sub001/kernel/hal"
	"github.com/nashif/zephyr-sub001/kernel/timer"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

const (
	stateDefining int32 = iota
	stateRunning
	stateStopped
)

// Kernel is the command server and the state it owns.
//
// Scheduling decides which task the kernel regards as current; it does not
// gate task goroutines. Entry functions run concurrently and are serialized
// only where they call into the kernel, so priority preemption and time
// slicing show up in Stats and TaskStatus but never pause a running body.
type Kernel struct {
	cfg       Config
	log       *utils.Logger
	queue     *foundation.Queue[entry]
	isrPool   *foundation.Pool[packet]
	fiberPool *foundation.Pool[packet]
	monitors  []Monitor
	irq       hal.IRQController
	fatalFn   func(error)

	// Owned by the server goroutine once Run starts.
	tasks      []*tcb
	idle       *tcb
	current    *tcb
	ready      readyList
	timers     timer.List[tickAction]
	slice      TimeSlice
	ticks      uint64
	sems       []*semaphore
	mutexes    []*mutex
	maps       []*memMap
	pipes      []*pipe
	mailboxes  []*mailbox
	events     []*event
	groups     []*group
	utimers    []*userTimer
	irqObjs    []*irqObject
	fibers     []*fiber
	fiberReady fiberQueue
	seq        uint64

	// Readable from any goroutine.
	state        atomic.Int32
	pendingTicks atomic.Int64
	tickCount    atomic.Uint64
	idleTicks    atomic.Uint64
	switches     atomic.Uint64
	dispatched   atomic.Uint64
	timeouts     atomic.Uint64
	currentID    atomic.Uint32
	fatalOnce    atomic.Bool

	life    context.Context
	stop    context.CancelFunc
	stopped chan struct{}
}

// New creates a kernel in the defining phase. The idle task and the tick
// event are created here.
func New(cfg Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, utils.WrapError(err, "invalid kernel config")
	}

	life, stop := context.WithCancel(context.Background())
	k := &Kernel{
		cfg:       cfg,
		log:       cfg.Logger.Named("micro"),
		queue:     foundation.NewQueue[entry](cfg.CommandQueueSize),
		isrPool:   foundation.NewPool[packet](cfg.ISRPacketPool),
		fiberPool: foundation.NewPool[packet](cfg.FiberPacketPool),
		monitors:  append([]Monitor(nil), cfg.Monitors...),
		irq:       cfg.IRQ,
		fatalFn:   cfg.FatalHandler,
		ready:     newReadyList(),
		slice:     cfg.TimeSlice,
		life:      life,
		stop:      stop,
		stopped:   make(chan struct{}),
	}

	k.idle = &tcb{id: IdleTask, name: "idle", prio: foundation.PriorityLowest, basePrio: foundation.PriorityLowest}
	k.idle.handle = &Task{k: k, id: IdleTask, name: "idle"}
	k.tasks = append(k.tasks, k.idle)
	k.ready.add(k.idle)
	k.current = k.idle

	k.events = append(k.events, &event{name: "tick", handler: k.tickHandler})
	return k, nil
}

// AddMonitor registers a monitor. Only valid before Run.
func (k *Kernel) AddMonitor(m Monitor) error {
	if err := k.checkDefining(); err != nil {
		return err
	}
	k.monitors = append(k.monitors, m)
	return nil
}

func (k *Kernel) checkDefining() error {
	if k.state.Load() != stateDefining {
		return errInvalidState("objects can only be defined before Run")
	}
	return nil
}

// Run executes the command server until ctx is cancelled. A panic inside the
// server is handed to the fatal handler. Run may be called once.
func (k *Kernel) Run(ctx context.Context) (err error) {
	if !k.state.CompareAndSwap(stateDefining, stateRunning) {
		return errInvalidState("kernel already started")
	}
	defer func() {
		k.state.Store(stateStopped)
		k.stop()
		k.queue.Close()
		close(k.stopped)
	}()
	defer func() {
		if r := recover(); r != nil {
			ferr := &FatalError{Reason: "command server fault", Task: k.current.id, Cause: fmt.Errorf("%v", r)}
			err = ferr
			k.fatal(ferr)
		}
	}()

	k.log.Info("Kernel started",
		utils.Int("tasks", len(k.tasks)),
		utils.Uint64("queue", uint64(k.queue.Cap())))
	k.boot()

	for {
		k.drain()
		k.reschedule()
		k.runFibers(foundation.PriorityLowest)
		if k.queue.Len() > 0 || k.fiberReady.Len() > 0 {
			select {
			case <-ctx.Done():
				k.log.Info("Kernel stopped", utils.Uint64("ticks", k.ticks))
				return nil
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			k.log.Info("Kernel stopped", utils.Uint64("ticks", k.ticks))
			return nil
		case <-k.queue.Ready():
		}
	}
}

func (k *Kernel) boot() {
	for _, t := range k.tasks[1:] {
		if t.auto {
			k.startTask(t)
		}
	}
	k.reschedule()
}

// drain dispatches queued entries in FIFO order until the queue is empty.
func (k *Kernel) drain() {
	for {
		e, seq, ok := k.queue.Pop()
		if !ok {
			return
		}
		k.seq = seq
		k.dispatched.Add(1)
		if e.pkt == nil {
			k.signalEntry(e, seq)
		} else {
			k.dispatch(e.pkt, seq)
		}
		k.runFibers(k.cfg.ServerPriority)
	}
}

func (k *Kernel) signalEntry(e entry, seq uint64) {
	id := e.event
	if int(id) >= len(k.events) {
		k.log.Warn("Dropping signal for unknown event", utils.Uint64("event", uint64(id)))
		return
	}
	if o := k.events[id].irq; o != nil && (o.owner == nil || e.gen != o.gen) {
		k.log.Debug("Dropping stale interrupt signal",
			utils.Uint64("object", uint64(o.id)), utils.Uint64("gen", e.gen))
		return
	}
	k.trace(TraceEvent{Kind: TraceSignal, Seq: seq, Object: uint32(id)})
	k.eventSignal(id)
}

func (k *Kernel) dispatch(p *packet, seq uint64) {
	k.trace(TraceEvent{Kind: TraceCommand, Seq: seq, Task: p.callerID(), Object: uint32(p.op), Arg: uint32(p.a.id)})

	if c := p.caller; c != nil && c.state&StateTerminated != 0 && p.op != OpTaskExit {
		p.complete(ErrAborted)
		return
	}

	detached := p.done == nil
	k.handle(p)
	if detached && p.err != nil {
		k.log.Warn("Detached request failed", utils.String("op", p.op.String()), utils.Err(p.err))
	}
}

func (k *Kernel) handle(p *packet) {
	switch p.op {
	// Barriers and queries observe the task selection as of this packet.
	case OpNop:
		k.reschedule()
		p.complete(nil)
	case OpInspect:
		k.reschedule()
		p.a.fn()
		p.complete(nil)

	case OpTaskStart:
		k.handleTaskStart(p)
	case OpTaskAbort:
		k.handleTaskAbort(p)
	case OpTaskExit:
		k.handleTaskExit(p)
	case OpTaskSuspend:
		k.handleTaskSuspend(p)
	case OpTaskResume:
		k.handleTaskResume(p)
	case OpTaskPriority:
		k.handleTaskPriority(p)
	case OpTaskSleep:
		k.handleTaskSleep(p)
	case OpTaskYield:
		k.handleTaskYield(p)
	case OpTimeSlice:
		k.handleTimeSlice(p)

	case OpSemGive:
		k.handleSemGive(p)
	case OpSemTake:
		k.handleSemTake(p)
	case OpSemReset:
		k.handleSemReset(p)

	case OpMutexLock:
		k.handleMutexLock(p)
	case OpMutexUnlock:
		k.handleMutexUnlock(p)
	case OpMutexReset:
		k.handleMutexReset(p)

	case OpEventSend:
		k.handleEventSend(p)
	case OpEventRecv:
		k.handleEventRecv(p)
	case OpEventHandler:
		k.handleEventHandler(p)

	case OpGroupSet:
		k.handleGroupSet(p)
	case OpGroupClear:
		k.handleGroupClear(p)
	case OpGroupWait:
		k.handleGroupWait(p)

	case OpMapAlloc:
		k.handleMapAlloc(p)
	case OpMapFree:
		k.handleMapFree(p)

	case OpPipePut:
		k.handlePipePut(p)
	case OpPipeGet:
		k.handlePipeGet(p)

	case OpMboxPut:
		k.handleMboxPut(p)
	case OpMboxGet:
		k.handleMboxGet(p)

	case OpTimerAlloc:
		k.handleTimerAlloc(p)
	case OpTimerStart:
		k.handleTimerStart(p)
	case OpTimerStop:
		k.handleTimerStop(p)
	case OpTimerFree:
		k.handleTimerFree(p)

	case OpIRQAlloc:
		k.handleIRQAlloc(p)
	case OpIRQTest:
		k.handleIRQTest(p)
	case OpIRQAck:
		k.handleIRQAck(p)
	case OpIRQFree:
		k.handleIRQFree(p)

	case OpFiberWake:
		k.handleFiberWake(p)

	default:
		k.log.Warn("Unknown opcode", utils.Uint64("op", uint64(p.op)))
		p.complete(errFail("unknown opcode"))
	}
}

// fatal reports an unrecoverable condition once.
func (k *Kernel) fatal(err *FatalError) {
	if !k.fatalOnce.CompareAndSwap(false, true) {
		return
	}
	k.trace(TraceEvent{Kind: TraceFatal, Task: err.Task})
	k.log.Error("Kernel fatal error", utils.String("reason", err.Reason), utils.Err(err.Cause))
	k.fatalFn(err)
}

// submit pushes a packet and waits for it to complete. Host code may submit
// packets without a caller.
func (k *Kernel) submit(p *packet) error {
	if k.state.Load() == stateStopped {
		return ErrShutdown
	}
	done := make(chan struct{})
	p.done = done
	if _, err := k.queue.Push(k.life, entry{pkt: p}); err != nil {
		return ErrShutdown
	}
	select {
	case <-done:
		return p.err
	case <-k.stopped:
		return ErrShutdown
	}
}

// post pushes a fire-and-forget packet from interrupt or fiber context. A
// full queue there cannot be waited out and is fatal.
func (k *Kernel) post(p *packet) error {
	if _, err := k.queue.TryPush(entry{pkt: p}); err != nil {
		return k.overflow(err)
	}
	return nil
}

func (k *Kernel) overflow(err error) error {
	if k.state.Load() != stateRunning {
		return ErrShutdown
	}
	kerr := WrapKernelError(ErrCodeQueueOverflow, "command queue overflow", err)
	if k.fatalOnce.CompareAndSwap(false, true) {
		k.log.Error("Command queue overflow from interrupt context", utils.Err(err))
		k.fatalFn(&FatalError{Reason: "command queue overflow", Task: TaskID(k.currentID.Load()), Cause: kerr})
	}
	return kerr
}

// inspect runs fn on the server goroutine and waits for it.
func (k *Kernel) inspect(fn func()) error {
	return k.submit(&packet{op: OpInspect, a: args{fn: fn}})
}

// Sync waits until every entry queued before the call has been processed.
func (k *Kernel) Sync() error {
	return k.submit(&packet{op: OpNop})
}

// Done is closed when Run returns.
func (k *Kernel) Done() <-chan struct{} { return k.stopped }

// Running reports whether Run is active.
func (k *Kernel) Running() bool { return k.state.Load() == stateRunning }

// Stats is a snapshot of kernel counters.
type Stats struct {
	Ticks           uint64
	IdleTicks       uint64
	ContextSwitches uint64
	Dispatched      uint64
	Timeouts        uint64
	Current         TaskID
	Queue           foundation.QueueStats
}

// Stats returns the kernel counters. Safe from any goroutine.
func (k *Kernel) Stats() Stats {
	return Stats{
		Ticks:           k.tickCount.Load(),
		IdleTicks:       k.idleTicks.Load(),
		ContextSwitches: k.switches.Load(),
		Dispatched:      k.dispatched.Load(),
		Timeouts:        k.timeouts.Load(),
		Current:         TaskID(k.currentID.Load()),
		Queue:           k.queue.Stats(),
	}
}

// Tick announces one system tick. It is the tick ISR: it never blocks and
// coalesces ticks when the queue is full.
func (k *Kernel) Tick() { k.tickN(1) }

func (k *Kernel) tickN(n int64) {
	k.pendingTicks.Add(n)
	_, _ = k.queue.TryPush(entry{event: TickEvent})
}

// RunTicks forwards ticks from src until ctx is cancelled or src closes.
// Sequence numbers the source skipped are announced with the next one it
// delivers.
func (k *Kernel) RunTicks(ctx context.Context, src hal.TickSource) {
	ch := src.Ticks()
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case seq, ok := <-ch:
			if !ok {
				return
			}
			n := int64(1)
			if seq > last {
				n = int64(seq - last)
			}
			last = seq
			k.tickN(n)
		}
	}
}

func (k *Kernel) tickHandler(EventID) bool {
	k.announceTicks()
	return false
}
