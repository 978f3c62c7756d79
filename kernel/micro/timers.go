package micro

import "github.com/nashif/zephyr-sub001/kernel/timer"

// userTimer is a slot of the kernel timer pool. On expiry it gives its
// semaphore; a periodic timer re-arms itself.
type userTimer struct {
	id        TimerID
	allocated bool
	owner     TaskID
	sem       SemID
	entry     timer.Entry[tickAction]
}

// TimerStatus is a snapshot of a timer slot.
type TimerStatus struct {
	Allocated bool
	Active    bool
	Owner     TaskID
	Remaining Ticks
	Period    Ticks
}

const timerRestart = 1

// DefineTimers adds n slots to the timer pool. Only valid before Run.
func (k *Kernel) DefineTimers(n int) error {
	if err := k.checkDefining(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ut := &userTimer{id: TimerID(len(k.utimers)), sem: NoSem}
		ut.entry.Value = tickAction{ut: ut}
		k.utimers = append(k.utimers, ut)
	}
	return nil
}

// TimerAlloc takes a free timer from the pool.
func (t *Task) TimerAlloc() (TimerID, error) {
	p := &packet{op: OpTimerAlloc}
	if err := t.call(p); err != nil {
		return 0, err
	}
	return TimerID(p.value), nil
}

// TimerStart arms the timer to give sem after duration ticks and then every
// period ticks (zero for one-shot). A running timer is re-armed.
func (t *Task) TimerStart(id TimerID, duration, period Ticks, sem SemID) error {
	return t.call(&packet{op: OpTimerStart, a: args{id: uint16(id), ticks: duration, period: period, sem: sem}})
}

// TimerRestart re-arms the timer with new timing, keeping its semaphore.
func (t *Task) TimerRestart(id TimerID, duration, period Ticks) error {
	return t.call(&packet{op: OpTimerStart, a: args{id: uint16(id), ticks: duration, period: period, opts: timerRestart}})
}

// TimerStop disarms the timer. Stopping an expired one-shot is a no-op.
func (t *Task) TimerStop(id TimerID) error {
	return t.call(&packet{op: OpTimerStop, a: args{id: uint16(id)}})
}

// TimerFree stops the timer and returns it to the pool.
func (t *Task) TimerFree(id TimerID) error {
	return t.call(&packet{op: OpTimerFree, a: args{id: uint16(id)}})
}

// TimerStatus returns a snapshot of a timer slot.
func (k *Kernel) TimerStatus(id TimerID) (TimerStatus, error) {
	var st TimerStatus
	var lerr error
	err := k.inspect(func() {
		if int(id) >= len(k.utimers) {
			lerr = errUnknownObject("timer", int(id))
			return
		}
		ut := k.utimers[id]
		st = TimerStatus{
			Allocated: ut.allocated,
			Active:    ut.entry.Active(),
			Owner:     ut.owner,
			Remaining: Ticks(k.timers.Remaining(&ut.entry)),
			Period:    Ticks(ut.entry.Period),
		}
	})
	if err != nil {
		return st, err
	}
	return st, lerr
}

// TimerRemaining returns the ticks left before the timer fires.
func (k *Kernel) TimerRemaining(id TimerID) (Ticks, error) {
	st, err := k.TimerStatus(id)
	return st.Remaining, err
}

func (k *Kernel) lookupTimer(id uint16) (*userTimer, error) {
	if int(id) >= len(k.utimers) {
		return nil, errUnknownObject("timer", int(id))
	}
	ut := k.utimers[id]
	if !ut.allocated {
		return nil, errInvalidState("timer is not allocated")
	}
	return ut, nil
}

func (k *Kernel) handleTimerAlloc(p *packet) {
	for _, ut := range k.utimers {
		if ut.allocated {
			continue
		}
		ut.allocated = true
		ut.owner = p.callerID()
		ut.sem = NoSem
		p.value = uint32(ut.id)
		p.complete(nil)
		return
	}
	p.complete(errFail("no free timer"))
}

func (k *Kernel) handleTimerStart(p *packet) {
	ut, err := k.lookupTimer(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if p.a.ticks <= 0 || p.a.period < 0 {
		p.complete(errFail("invalid timer duration"))
		return
	}
	if p.a.opts != timerRestart {
		if p.a.sem != NoSem {
			if _, err := k.lookupSem(p.a.sem); err != nil {
				p.complete(err)
				return
			}
		}
		ut.sem = p.a.sem
	}
	ut.entry.Period = int64(p.a.period)
	k.timers.Insert(&ut.entry, int64(p.a.ticks))
	p.complete(nil)
}

func (k *Kernel) handleTimerStop(p *packet) {
	ut, err := k.lookupTimer(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	k.timers.Remove(&ut.entry)
	p.complete(nil)
}

func (k *Kernel) handleTimerFree(p *packet) {
	ut, err := k.lookupTimer(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	k.timers.Remove(&ut.entry)
	ut.allocated = false
	ut.sem = NoSem
	ut.owner = AnyTask
	p.complete(nil)
}

func (k *Kernel) timerFired(ut *userTimer) {
	if ut.sem == NoSem {
		return
	}
	_ = k.semGive(ut.sem)
}
