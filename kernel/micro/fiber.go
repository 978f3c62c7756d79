package micro

// FiberResult tells the server what to do with a fiber after a run.
type FiberResult uint8

const (
	// FiberYield requeues the fiber behind fibers of the same priority.
	FiberYield FiberResult = iota
	// FiberBlock parks the fiber until WakeFiber.
	FiberBlock
	// FiberDone retires the fiber.
	FiberDone
)

// FiberFunc is one run-to-completion step of a fiber. It runs on the server
// goroutine and must not block.
type FiberFunc func(fc *FiberContext) FiberResult

type fiberState uint8

const (
	fiberRunnable fiberState = iota
	fiberBlocked
	fiberRetired
)

type fiber struct {
	id    FiberID
	name  string
	prio  Priority
	fn    FiberFunc
	state fiberState
	wake  bool
	runs  uint64
	fc    *FiberContext
}

// fiberQueue orders runnable fibers by priority, FIFO among equals.
type fiberQueue struct {
	items []*fiber
}

func (q *fiberQueue) Len() int { return len(q.items) }

func (q *fiberQueue) push(f *fiber) {
	i := len(q.items)
	for i > 0 && f.prio.Higher(q.items[i-1].prio) {
		i--
	}
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = f
}

// countUpTo returns how many queued fibers have priority limit or better.
func (q *fiberQueue) countUpTo(limit Priority) int {
	n := 0
	for n < len(q.items) && !limit.Higher(q.items[n].prio) {
		n++
	}
	return n
}

func (q *fiberQueue) pop(limit Priority) *fiber {
	if len(q.items) == 0 || limit.Higher(q.items[0].prio) {
		return nil
	}
	f := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return f
}

// FiberContext is the service surface available to a running fiber.
// Requests are queued as command packets like interrupt requests.
type FiberContext struct {
	k *Kernel
	f *fiber
}

// ID returns the fiber id.
func (fc *FiberContext) ID() FiberID { return fc.f.id }

// Runs returns how many times the fiber has run, this run included.
func (fc *FiberContext) Runs() uint64 { return fc.f.runs }

// Ticks returns the kernel tick count.
func (fc *FiberContext) Ticks() uint64 { return fc.k.ticks }

// SemGive queues a semaphore give.
func (fc *FiberContext) SemGive(id SemID) error {
	return fc.k.postFrom(fc.k.fiberPool, OpSemGive, args{id: uint16(id)})
}

// GroupSet queues a group set.
func (fc *FiberContext) GroupSet(id GroupID, flags uint32) error {
	return fc.k.postFrom(fc.k.fiberPool, OpGroupSet, args{id: uint16(id), flags: flags})
}

// Signal queues an event signal.
func (fc *FiberContext) Signal(id EventID) error {
	return fc.k.signal(id)
}

// WakeFiber queues a wake-up of another fiber.
func (fc *FiberContext) WakeFiber(id FiberID) error {
	return fc.k.postFrom(fc.k.fiberPool, OpFiberWake, args{id: uint16(id)})
}

// DefineFiber creates a runnable fiber. Fibers at the server priority or
// better run between command packets; the rest run once the queue drains.
// Only valid before Run.
func (k *Kernel) DefineFiber(name string, prio Priority, fn FiberFunc) (FiberID, error) {
	if err := k.checkDefining(); err != nil {
		return 0, err
	}
	if !prio.Valid() {
		return 0, errFail("fiber priority out of range")
	}
	if fn == nil {
		return 0, errFail("fiber needs a function")
	}
	f := &fiber{id: FiberID(len(k.fibers)), name: name, prio: prio, fn: fn}
	f.fc = &FiberContext{k: k, f: f}
	k.fibers = append(k.fibers, f)
	k.fiberReady.push(f)
	return f.id, nil
}

// WakeFiber makes a blocked fiber runnable from host code.
func (k *Kernel) WakeFiber(id FiberID) error {
	return k.submit(&packet{op: OpFiberWake, a: args{id: uint16(id)}})
}

// runFibers gives each fiber runnable at priority limit or better one run.
// Fibers made runnable during the round wait for the next one.
func (k *Kernel) runFibers(limit Priority) {
	n := k.fiberReady.countUpTo(limit)
	for i := 0; i < n; i++ {
		f := k.fiberReady.pop(limit)
		if f == nil {
			return
		}
		k.runFiber(f)
	}
}

func (k *Kernel) runFiber(f *fiber) {
	f.runs++
	switch f.fn(f.fc) {
	case FiberYield:
		k.fiberReady.push(f)
	case FiberBlock:
		if f.wake {
			f.wake = false
			k.fiberReady.push(f)
			return
		}
		f.state = fiberBlocked
	default:
		f.state = fiberRetired
	}
}

func (k *Kernel) handleFiberWake(p *packet) {
	if int(p.a.id) >= len(k.fibers) {
		p.complete(errUnknownObject("fiber", int(p.a.id)))
		return
	}
	f := k.fibers[p.a.id]
	switch f.state {
	case fiberBlocked:
		f.state = fiberRunnable
		k.fiberReady.push(f)
	case fiberRunnable:
		f.wake = true
	default:
		p.complete(errInvalidState("fiber has finished"))
		return
	}
	p.complete(nil)
}
