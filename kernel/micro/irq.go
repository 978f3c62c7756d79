package micro

import (
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// irqObject binds one hardware interrupt to a task through a dedicated
// event. The ISR signals the event and masks the line; the owner unmasks it
// with IRQAck once it has handled the interrupt.
type irqObject struct {
	id     IRQObjID
	event  EventID
	owner  *tcb
	irq    uint32
	vector uint32
	// gen changes on every allocation and release. Signals carry the
	// generation their ISR was connected under; older ones are dropped.
	gen uint64
}

// IRQStatus is a snapshot of an IRQ object. Owner is AnyTask when free.
type IRQStatus struct {
	Owner   TaskID
	IRQ     uint32
	Vector  uint32
	Event   EventID
	Pending bool
}

// DefineIRQObject creates an IRQ object and its dedicated event. Only valid
// before Run.
func (k *Kernel) DefineIRQObject(name string) (IRQObjID, error) {
	if err := k.checkDefining(); err != nil {
		return 0, err
	}
	ev, err := k.DefineEvent(name, nil)
	if err != nil {
		return 0, err
	}
	id := IRQObjID(len(k.irqObjs))
	o := &irqObject{id: id, event: ev}
	k.events[ev].irq = o
	k.irqObjs = append(k.irqObjs, o)
	return id, nil
}

// IRQAlloc binds irq to the object for the caller and returns the vector.
// It fails when the object is owned or irq is bound to another object.
func (t *Task) IRQAlloc(obj IRQObjID, irq, priority uint32) (uint32, error) {
	p := &packet{op: OpIRQAlloc, a: args{id: uint16(obj), flags: irq, opts: priority}}
	if err := t.call(p); err != nil {
		return 0, err
	}
	return p.vector, nil
}

// IRQTest waits for the interrupt bound to the object.
func (t *Task) IRQTest(obj IRQObjID, timeout Ticks) error {
	return t.call(&packet{op: OpIRQTest, timeout: timeout, a: args{id: uint16(obj)}})
}

// IRQAck unmasks the interrupt after it was handled.
func (t *Task) IRQAck(obj IRQObjID) error {
	return t.call(&packet{op: OpIRQAck, a: args{id: uint16(obj)}})
}

// IRQFree masks and disconnects the interrupt and releases the object.
func (t *Task) IRQFree(obj IRQObjID) error {
	return t.call(&packet{op: OpIRQFree, a: args{id: uint16(obj)}})
}

// IRQStatus returns a snapshot of the object.
func (k *Kernel) IRQStatus(obj IRQObjID) (IRQStatus, error) {
	var st IRQStatus
	var lerr error
	err := k.inspect(func() {
		o, err := k.lookupIRQ(uint16(obj))
		if err != nil {
			lerr = err
			return
		}
		st = IRQStatus{Owner: AnyTask, IRQ: o.irq, Vector: o.vector, Event: o.event, Pending: k.events[o.event].pending}
		if o.owner != nil {
			st.Owner = o.owner.id
		}
	})
	if err != nil {
		return st, err
	}
	return st, lerr
}

func (k *Kernel) lookupIRQ(id uint16) (*irqObject, error) {
	if int(id) >= len(k.irqObjs) {
		return nil, errUnknownObject("irq object", int(id))
	}
	return k.irqObjs[id], nil
}

// ownedIRQ returns the object when the caller of p owns it.
func (k *Kernel) ownedIRQ(p *packet) (*irqObject, error) {
	o, err := k.lookupIRQ(p.a.id)
	if err != nil {
		return nil, err
	}
	if o.owner == nil || o.owner != p.caller {
		return nil, errPermission(p.op.String(), p.callerID())
	}
	return o, nil
}

func (k *Kernel) handleIRQAlloc(p *packet) {
	o, err := k.lookupIRQ(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if k.irq == nil {
		p.complete(errFail("no interrupt controller configured"))
		return
	}
	if p.caller == nil {
		p.complete(errFail("irq allocation without a calling task"))
		return
	}
	if o.owner != nil {
		p.complete(NewKernelError(ErrCodeBusy, "irq object already owned").WithContext("owner", uint16(o.owner.id)))
		return
	}
	irq := p.a.flags
	for _, other := range k.irqObjs {
		if other != o && other.owner != nil && other.irq == irq {
			p.complete(NewKernelError(ErrCodeBusy, "irq already bound").
				WithContext("irq", irq).
				WithContext("object", uint16(other.id)))
			return
		}
	}

	ctrl := k.irq
	ev := o.event
	o.gen++
	gen := o.gen
	vector, err := ctrl.Connect(irq, p.a.opts, func() {
		_ = k.signalIRQ(ev, gen)
		ctrl.Disable(irq)
	})
	if err != nil {
		p.complete(WrapKernelError(ErrCodeFail, "irq connect failed", err))
		return
	}

	o.owner = p.caller
	o.irq = irq
	o.vector = vector
	k.events[ev].pending = false
	ctrl.Enable(irq)
	k.log.Debug("IRQ object allocated",
		utils.Uint64("object", uint64(o.id)), utils.Uint32("irq", irq), utils.Uint32("vector", vector))
	p.vector = vector
	p.complete(nil)
}

func (k *Kernel) handleIRQTest(p *packet) {
	o, err := k.ownedIRQ(p)
	if err != nil {
		p.complete(err)
		return
	}
	k.eventRecv(p, k.events[o.event])
}

func (k *Kernel) handleIRQAck(p *packet) {
	o, err := k.ownedIRQ(p)
	if err != nil {
		p.complete(err)
		return
	}
	k.irq.Enable(o.irq)
	p.complete(nil)
}

func (k *Kernel) handleIRQFree(p *packet) {
	o, err := k.ownedIRQ(p)
	if err != nil {
		p.complete(err)
		return
	}
	k.releaseIRQ(o)
	p.complete(nil)
}

func (k *Kernel) releaseIRQ(o *irqObject) {
	k.irq.Disable(o.irq)
	if err := k.irq.Disconnect(o.vector); err != nil {
		k.log.Warn("IRQ disconnect failed", utils.Uint32("vector", o.vector), utils.Err(err))
	}
	ev := k.events[o.event]
	ev.pending = false
	if w := ev.waiters.head(); w != nil {
		k.wake(w, ErrAborted)
	}
	o.gen++
	o.owner = nil
	o.irq = 0
	o.vector = 0
}

// freeTaskIRQs releases every object owned by a terminating task.
func (k *Kernel) freeTaskIRQs(t *tcb) {
	for _, o := range k.irqObjs {
		if o.owner == t {
			k.releaseIRQ(o)
		}
	}
}
