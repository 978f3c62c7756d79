package micro

// EventHandler filters a signal before it reaches the event. Returning
// false consumes the signal. Handlers run on the server goroutine.
type EventHandler func(id EventID) bool

// event is a binary task event with at most one waiter. An event owned by
// an IRQ object is reachable only through that object.
type event struct {
	name    string
	handler EventHandler
	pending bool
	waiters waitQueue
	irq     *irqObject
}

// DefineEvent creates an event. handler may be nil. Only valid before Run.
func (k *Kernel) DefineEvent(name string, handler EventHandler) (EventID, error) {
	if err := k.checkDefining(); err != nil {
		return 0, err
	}
	k.events = append(k.events, &event{name: name, handler: handler})
	return EventID(len(k.events) - 1), nil
}

// EventSend signals an event from task context.
func (t *Task) EventSend(id EventID) error {
	return t.call(&packet{op: OpEventSend, a: args{id: uint16(id)}})
}

// EventRecv waits for an event and consumes it.
func (t *Task) EventRecv(id EventID, timeout Ticks) error {
	return t.call(&packet{op: OpEventRecv, timeout: timeout, a: args{id: uint16(id)}})
}

// EventSetHandler installs or clears the handler of an event.
func (t *Task) EventSetHandler(id EventID, fn EventHandler) error {
	return t.call(&packet{op: OpEventHandler, a: args{id: uint16(id), filter: fn}})
}

// EventPending reports whether an event is signalled and not yet consumed.
func (k *Kernel) EventPending(id EventID) (bool, error) {
	var pending bool
	var lerr error
	err := k.inspect(func() {
		ev, err := k.lookupUserEvent(uint16(id))
		if err != nil {
			lerr = err
			return
		}
		pending = ev.pending
	})
	if err != nil {
		return false, err
	}
	return pending, lerr
}

// lookupUserEvent rejects the reserved tick event and events owned by IRQ
// objects.
func (k *Kernel) lookupUserEvent(id uint16) (*event, error) {
	if EventID(id) == TickEvent {
		return nil, errFail("the tick event is reserved")
	}
	if int(id) >= len(k.events) {
		return nil, errUnknownObject("event", int(id))
	}
	ev := k.events[id]
	if ev.irq != nil {
		return nil, errIRQEvent(EventID(id), ev.irq.id)
	}
	return ev, nil
}

func errIRQEvent(id EventID, obj IRQObjID) *KernelError {
	return NewKernelError(ErrCodePermission, "event belongs to an irq object").
		WithContext("event", uint16(id)).
		WithContext("object", uint16(obj))
}

func (k *Kernel) eventSignal(id EventID) {
	ev := k.events[id]
	if ev.handler != nil && !ev.handler(id) {
		return
	}
	if w := ev.waiters.head(); w != nil {
		k.wake(w, nil)
		return
	}
	ev.pending = true
}

func (k *Kernel) handleEventSend(p *packet) {
	if _, err := k.lookupUserEvent(p.a.id); err != nil {
		p.complete(err)
		return
	}
	k.eventSignal(EventID(p.a.id))
	p.complete(nil)
}

func (k *Kernel) handleEventRecv(p *packet) {
	ev, err := k.lookupUserEvent(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	k.eventRecv(p, ev)
}

func (k *Kernel) eventRecv(p *packet, ev *event) {
	if ev.pending {
		ev.pending = false
		p.complete(nil)
		return
	}
	if ev.waiters.Len() > 0 {
		p.complete(NewKernelError(ErrCodeBusy, "event already has a waiter"))
		return
	}
	if !k.canWait(p, "event") {
		return
	}
	k.block(p, StateEventWait, &ev.waiters)
}

func (k *Kernel) handleEventHandler(p *packet) {
	ev, err := k.lookupUserEvent(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	ev.handler = p.a.filter
	p.complete(nil)
}
