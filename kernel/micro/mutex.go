package micro

// mutex is a recursive lock with priority inheritance. The owner runs at
// least at the priority of its most urgent waiter.
type mutex struct {
	name    string
	owner   *tcb
	count   uint32
	waiters waitQueue
}

// MutexStatus is a snapshot of a mutex. Owner is AnyTask when free.
type MutexStatus struct {
	Name    string
	Owner   TaskID
	Count   uint32
	Waiters int
}

// DefineMutex creates a free mutex. Only valid before Run.
func (k *Kernel) DefineMutex(name string) (MutexID, error) {
	if err := k.checkDefining(); err != nil {
		return 0, err
	}
	k.mutexes = append(k.mutexes, &mutex{name: name})
	return MutexID(len(k.mutexes) - 1), nil
}

// MutexLock acquires the mutex. The owner may lock it again; each lock
// needs a matching unlock.
func (t *Task) MutexLock(id MutexID, timeout Ticks) error {
	return t.call(&packet{op: OpMutexLock, timeout: timeout, a: args{id: uint16(id)}})
}

// MutexUnlock releases one level of the mutex. Only the owner may unlock.
func (t *Task) MutexUnlock(id MutexID) error {
	return t.call(&packet{op: OpMutexUnlock, a: args{id: uint16(id)}})
}

// MutexReset reinitialises a free mutex.
func (t *Task) MutexReset(id MutexID) error {
	return t.call(&packet{op: OpMutexReset, a: args{id: uint16(id)}})
}

// MutexStatus returns a snapshot of the mutex.
func (k *Kernel) MutexStatus(id MutexID) (MutexStatus, error) {
	var st MutexStatus
	var lerr error
	err := k.inspect(func() {
		m, err := k.lookupMutex(uint16(id))
		if err != nil {
			lerr = err
			return
		}
		st = MutexStatus{Name: m.name, Owner: AnyTask, Count: m.count, Waiters: m.waiters.Len()}
		if m.owner != nil {
			st.Owner = m.owner.id
		}
	})
	if err != nil {
		return st, err
	}
	return st, lerr
}

func (k *Kernel) lookupMutex(id uint16) (*mutex, error) {
	if int(id) >= len(k.mutexes) {
		return nil, errUnknownObject("mutex", int(id))
	}
	return k.mutexes[id], nil
}

func (k *Kernel) handleMutexLock(p *packet) {
	m, err := k.lookupMutex(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	caller := p.caller
	if caller == nil {
		p.complete(errFail("mutex lock without a calling task"))
		return
	}
	switch m.owner {
	case nil:
		m.owner = caller
		m.count = 1
		caller.held = append(caller.held, m)
		p.complete(nil)
		return
	case caller:
		m.count++
		p.complete(nil)
		return
	}
	if !k.canWait(p, "mutex") {
		return
	}
	w := k.block(p, StateMutexWait, &m.waiters)
	w.mutex = m
	k.inherit(m.owner, 0)
}

func (k *Kernel) handleMutexUnlock(p *packet) {
	m, err := k.lookupMutex(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if m.owner == nil || m.count == 0 {
		p.complete(errInvalidState("mutex is not locked"))
		return
	}
	if m.owner != p.caller {
		p.complete(errPermission(OpMutexUnlock.String(), p.callerID()))
		return
	}
	m.count--
	if m.count > 0 {
		p.complete(nil)
		return
	}

	prev := m.owner
	prev.held = removeMutex(prev.held, m)
	k.handOff(m)
	k.inherit(prev, 0)
	p.complete(nil)
}

// handOff gives a released mutex to its head waiter, if any.
func (k *Kernel) handOff(m *mutex) {
	m.owner = nil
	m.count = 0
	w := m.waiters.head()
	if w == nil {
		return
	}
	k.release(w)
	next := w.task
	m.owner = next
	m.count = 1
	next.held = append(next.held, m)
	w.pkt.complete(nil)
	k.inherit(next, 0)
}

// releaseMutexes frees every mutex held by a terminating task.
func (k *Kernel) releaseMutexes(t *tcb) {
	held := t.held
	t.held = nil
	for _, m := range held {
		k.handOff(m)
	}
}

func (k *Kernel) handleMutexReset(p *packet) {
	m, err := k.lookupMutex(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if m.count > 0 {
		p.complete(NewKernelError(ErrCodeBusy, "mutex is held").WithContext("owner", uint16(m.owner.id)))
		return
	}
	m.owner = nil
	m.count = 0
	p.complete(nil)
}

func removeMutex(list []*mutex, m *mutex) []*mutex {
	for i, it := range list {
		if it == m {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}
