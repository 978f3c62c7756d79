package micro

// semaphore is a counting semaphore. A give either hands off to the head
// waiter or increments the count, never both.
type semaphore struct {
	name    string
	count   uint32
	waiters waitQueue
}

// SemStatus is a snapshot of a semaphore.
type SemStatus struct {
	Name    string
	Count   uint32
	Waiters int
}

// DefineSemaphore creates a semaphore with an initial count. Only valid
// before Run.
func (k *Kernel) DefineSemaphore(name string, initial uint32) (SemID, error) {
	if err := k.checkDefining(); err != nil {
		return 0, err
	}
	if len(k.sems) >= int(NoSem) {
		return 0, errFail("too many semaphores")
	}
	k.sems = append(k.sems, &semaphore{name: name, count: initial})
	return SemID(len(k.sems) - 1), nil
}

// SemGive signals a semaphore.
func (t *Task) SemGive(id SemID) error {
	return t.call(&packet{op: OpSemGive, a: args{id: uint16(id)}})
}

// SemTake waits for a semaphore.
func (t *Task) SemTake(id SemID, timeout Ticks) error {
	return t.call(&packet{op: OpSemTake, timeout: timeout, a: args{sems: []SemID{id}}})
}

// SemTakeAny waits on a group of semaphores and returns the one taken.
// When several are available the first in ids wins.
func (t *Task) SemTakeAny(ids []SemID, timeout Ticks) (SemID, error) {
	p := &packet{op: OpSemTake, timeout: timeout, a: args{sems: append([]SemID(nil), ids...)}, sem: NoSem}
	err := t.call(p)
	if err != nil {
		return NoSem, err
	}
	return p.sem, nil
}

// SemReset sets the count to zero.
func (t *Task) SemReset(id SemID) error {
	return t.call(&packet{op: OpSemReset, a: args{id: uint16(id)}})
}

// SemStatus returns a snapshot of the semaphore.
func (k *Kernel) SemStatus(id SemID) (SemStatus, error) {
	var st SemStatus
	var lerr error
	err := k.inspect(func() {
		s, err := k.lookupSem(id)
		if err != nil {
			lerr = err
			return
		}
		st = SemStatus{Name: s.name, Count: s.count, Waiters: s.waiters.Len()}
	})
	if err != nil {
		return st, err
	}
	return st, lerr
}

func (k *Kernel) lookupSem(id SemID) (*semaphore, error) {
	if int(id) >= len(k.sems) {
		return nil, errUnknownObject("semaphore", int(id))
	}
	return k.sems[id], nil
}

// canWait completes p with a failure when it may not block.
func (k *Kernel) canWait(p *packet, what string) bool {
	if p.timeout == NoWait {
		p.complete(errFail(what + " not available"))
		return false
	}
	if p.caller == nil {
		p.complete(errFail("blocking call without a calling task"))
		return false
	}
	return true
}

func (k *Kernel) semGive(id SemID) error {
	s, err := k.lookupSem(id)
	if err != nil {
		return err
	}
	if w := s.waiters.head(); w != nil {
		w.pkt.sem = id
		k.wake(w, nil)
		return nil
	}
	s.count++
	return nil
}

func (k *Kernel) handleSemGive(p *packet) {
	p.complete(k.semGive(SemID(p.a.id)))
}

func (k *Kernel) handleSemTake(p *packet) {
	if len(p.a.sems) == 0 {
		p.complete(errFail("no semaphore given"))
		return
	}
	queues := make([]*waitQueue, 0, len(p.a.sems))
	for _, id := range p.a.sems {
		s, err := k.lookupSem(id)
		if err != nil {
			p.complete(err)
			return
		}
		queues = append(queues, &s.waiters)
	}
	for _, id := range p.a.sems {
		if s := k.sems[id]; s.count > 0 {
			s.count--
			p.sem = id
			p.complete(nil)
			return
		}
	}
	if !k.canWait(p, "semaphore") {
		return
	}
	w := k.block(p, StateSemWait, queues...)
	w.sems = p.a.sems
}

func (k *Kernel) handleSemReset(p *packet) {
	s, err := k.lookupSem(SemID(p.a.id))
	if err != nil {
		p.complete(err)
		return
	}
	s.count = 0
	p.complete(nil)
}
