package micro

import "github.com/nashif/zephyr-sub001/kernel/timer"

// tickAction is the payload of a tick list entry: a waiter timeout or a
// user timer expiry.
type tickAction struct {
	w  *waiter
	ut *userTimer
}

// waiter is a blocked request parked on one or more wait queues.
type waiter struct {
	task  *tcb // nil for async mailbox sends
	pkt   *packet
	prio  Priority
	state TaskState

	queues    []*waitQueue
	tmo       timer.Entry[tickAction]
	expireErr error
	released  bool

	// request specific
	mask  uint32
	gopts GroupOptions
	pipe  *pipeRequest
	mbox  *mboxRequest
	mutex *mutex
	sems  []SemID
}

// waitQueue holds waiters in priority order, FIFO among equal priorities.
// A fifo queue ignores priority entirely.
type waitQueue struct {
	fifo  bool
	items []*waiter
}

func (q *waitQueue) Len() int { return len(q.items) }

func (q *waitQueue) head() *waiter {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *waitQueue) insert(w *waiter) {
	if q.fifo {
		q.items = append(q.items, w)
		return
	}
	i := len(q.items)
	for i > 0 && w.prio.Higher(q.items[i-1].prio) {
		i--
	}
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = w
}

func (q *waitQueue) remove(w *waiter) bool {
	for i, it := range q.items {
		if it == w {
			copy(q.items[i:], q.items[i+1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			return true
		}
	}
	return false
}

// reposition moves w after a priority change.
func (q *waitQueue) reposition(w *waiter) {
	if q.fifo {
		return
	}
	if q.remove(w) {
		q.insert(w)
	}
}

// snapshot copies the queue so handlers can wake waiters while iterating.
func (q *waitQueue) snapshot() []*waiter {
	if len(q.items) == 0 {
		return nil
	}
	out := make([]*waiter, len(q.items))
	copy(out, q.items)
	return out
}

// block parks the caller of p on the given queues, arming the timeout
// unless p waits forever. The caller must have ruled out NoWait.
func (k *Kernel) block(p *packet, state TaskState, queues ...*waitQueue) *waiter {
	w := &waiter{
		task:      p.caller,
		pkt:       p,
		state:     state,
		expireErr: errTimeout(p.op.String(), p.timeout),
	}
	if t := p.caller; t != nil {
		w.prio = t.prio
		t.wait = w
		k.setState(t, state)
	}
	for _, q := range queues {
		q.insert(w)
		w.queues = append(w.queues, q)
	}
	if p.timeout > 0 {
		w.tmo.Value = tickAction{w: w}
		k.timers.Insert(&w.tmo, int64(p.timeout))
	}
	return w
}

// release detaches w from its queues and timer and makes the task ready
// again. It does not complete the packet.
func (k *Kernel) release(w *waiter) {
	w.released = true
	for _, q := range w.queues {
		q.remove(w)
	}
	w.queues = nil
	k.timers.Remove(&w.tmo)
	if t := w.task; t != nil && t.wait == w {
		t.wait = nil
		k.clearState(t, w.state)
	}
}

// wake releases w and completes its request.
func (k *Kernel) wake(w *waiter, err error) {
	k.release(w)
	w.pkt.complete(err)
}

// expire handles a waiter whose timeout reached zero. A waiter satisfied
// earlier in the same tick is left alone.
func (k *Kernel) expire(w *waiter) {
	if w.released {
		return
	}
	k.release(w)
	err := w.expireErr
	if w.pipe != nil {
		w.pkt.count = w.pipe.done
		err = pipeTimedOut(w.pipe, err)
	}
	if err != nil {
		k.timeouts.Add(1)
		k.trace(TraceEvent{Kind: TraceTimeout, Task: w.pkt.callerID(), Object: uint32(w.pkt.op)})
	}
	if w.mutex != nil && w.mutex.owner != nil {
		k.inherit(w.mutex.owner, 0)
	}
	w.pkt.complete(err)
}

// cancelWait aborts the pending wait of t, if any.
func (k *Kernel) cancelWait(t *tcb, err error) {
	w := t.wait
	if w == nil {
		return
	}
	k.release(w)
	if w.mutex != nil && w.mutex.owner != nil {
		k.inherit(w.mutex.owner, 0)
	}
	if w.pipe != nil {
		w.pkt.count = w.pipe.done
	}
	w.pkt.complete(err)
}

// onTick runs the action of an expired tick list entry.
func (k *Kernel) onTick(e *timer.Entry[tickAction]) {
	switch {
	case e.Value.w != nil:
		k.expire(e.Value.w)
	case e.Value.ut != nil:
		k.timerFired(e.Value.ut)
	}
}
