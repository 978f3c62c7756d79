package micro

import "github.com/nashif/zephyr-sub001/kernel/foundation"

// ISR is the interrupt-context service surface. Its methods never block:
// requests are written into preallocated packets and queued. A full command
// queue in interrupt context is fatal.
type ISR struct {
	k *Kernel
}

// ISR returns the interrupt-context API of the kernel.
func (k *Kernel) ISR() ISR { return ISR{k: k} }

// Signal raises a well-known event. Events owned by IRQ objects are raised
// only by their bound interrupt.
func (i ISR) Signal(id EventID) error { return i.k.signal(id) }

// SemGive gives a semaphore.
func (i ISR) SemGive(id SemID) error {
	return i.k.postFrom(i.k.isrPool, OpSemGive, args{id: uint16(id)})
}

// GroupSet sets event group flags.
func (i ISR) GroupSet(id GroupID, flags uint32) error {
	return i.k.postFrom(i.k.isrPool, OpGroupSet, args{id: uint16(id), flags: flags})
}

// GroupClear clears event group flags.
func (i ISR) GroupClear(id GroupID, flags uint32) error {
	return i.k.postFrom(i.k.isrPool, OpGroupClear, args{id: uint16(id), flags: flags})
}

// WakeFiber makes a blocked fiber runnable.
func (i ISR) WakeFiber(id FiberID) error {
	return i.k.postFrom(i.k.isrPool, OpFiberWake, args{id: uint16(id)})
}

// Submit queues an interrupt-safe request decoded from an external command
// record. Opcodes that may block are rejected.
func (i ISR) Submit(op Opcode, id uint16, flags uint32) error {
	if op == OpNop {
		return nil
	}
	if !op.ISRSafe() {
		return errFail("opcode not allowed in interrupt context").WithContext("op", op.String())
	}
	if op == OpEventSend {
		return i.Signal(EventID(id))
	}
	return i.k.postFrom(i.k.isrPool, op, args{id: id, flags: flags})
}

// Tick announces one system tick.
func (i ISR) Tick() { i.k.Tick() }

func (k *Kernel) signal(id EventID) error {
	if id == TickEvent {
		return errFail("the tick event is reserved; use Tick")
	}
	if int(id) < len(k.events) {
		if o := k.events[id].irq; o != nil {
			return errIRQEvent(id, o.id)
		}
	}
	if _, err := k.queue.TryPush(entry{event: id}); err != nil {
		return k.overflow(err)
	}
	return nil
}

// signalIRQ raises the event of an IRQ object on behalf of the ISR connected
// under generation gen.
func (k *Kernel) signalIRQ(id EventID, gen uint64) error {
	if _, err := k.queue.TryPush(entry{event: id, gen: gen}); err != nil {
		return k.overflow(err)
	}
	return nil
}

// postFrom fills the next packet of pool and queues it.
func (k *Kernel) postFrom(pool *foundation.Pool[packet], op Opcode, a args) error {
	p := pool.Next()
	*p = packet{op: op, a: a}
	return k.post(p)
}
