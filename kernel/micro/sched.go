package micro

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/nashif/zephyr-sub001/kernel/foundation"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// tcb is the task control block. Only the server goroutine touches it.
type tcb struct {
	id       TaskID
	name     string
	prio     Priority
	basePrio Priority
	opts     TaskOptions
	state    TaskState
	entry    TaskEntry
	auto     bool

	wait      *waiter
	held      []*mutex
	sliceLeft int32
	handle    *Task
	running   bool // entry goroutine alive
	cancel    func()
	exits     uint64
}

// readyList keeps one FIFO per priority and a bitmap of non-empty levels.
type readyList struct {
	queues [foundation.PriorityLevels][]*tcb
	bitmap *bitset.BitSet
}

func newReadyList() readyList {
	return readyList{bitmap: bitset.New(foundation.PriorityLevels)}
}

func (r *readyList) add(t *tcb) {
	r.queues[t.prio] = append(r.queues[t.prio], t)
	r.bitmap.Set(uint(t.prio))
}

func (r *readyList) remove(t *tcb) {
	q := r.queues[t.prio]
	for i, it := range q {
		if it == t {
			copy(q[i:], q[i+1:])
			q[len(q)-1] = nil
			r.queues[t.prio] = q[:len(q)-1]
			break
		}
	}
	if len(r.queues[t.prio]) == 0 {
		r.bitmap.Clear(uint(t.prio))
	}
}

// rotate moves t to the tail of its priority queue.
func (r *readyList) rotate(t *tcb) {
	r.remove(t)
	r.add(t)
}

// head returns the first task of the most urgent non-empty priority.
func (r *readyList) head() *tcb {
	i, ok := r.bitmap.NextSet(0)
	if !ok {
		return nil
	}
	return r.queues[i][0]
}

func (k *Kernel) setState(t *tcb, bits TaskState) {
	wasReady := t.state == 0
	t.state |= bits
	if wasReady && t.state != 0 {
		k.ready.remove(t)
	}
}

func (k *Kernel) clearState(t *tcb, bits TaskState) {
	if t.state == 0 {
		return
	}
	t.state &^= bits
	if t.state == 0 {
		t.sliceLeft = k.slice.Ticks
		k.ready.add(t)
	}
}

// setPriority changes the effective priority of t, keeping the ready list
// and any wait queue it sits on ordered.
func (k *Kernel) setPriority(t *tcb, prio Priority) {
	if t.prio == prio {
		return
	}
	if t.state == 0 {
		k.ready.remove(t)
		t.prio = prio
		k.ready.add(t)
	} else {
		t.prio = prio
	}
	if w := t.wait; w != nil {
		w.prio = prio
		for _, q := range w.queues {
			q.reposition(w)
		}
	}
}

const maxInheritDepth = 16

// inherit recomputes the effective priority of a mutex owner from its base
// priority and the head waiters of the mutexes it holds, following the
// chain when the owner itself waits on a mutex.
func (k *Kernel) inherit(t *tcb, depth int) {
	prio := t.basePrio
	for _, m := range t.held {
		if w := m.waiters.head(); w != nil && w.prio.Higher(prio) {
			prio = w.prio
		}
	}
	if prio == t.prio {
		return
	}
	k.setPriority(t, prio)
	if depth >= maxInheritDepth {
		k.log.Warn("Priority inheritance chain too deep", utils.Uint64("task", uint64(t.id)))
		return
	}
	if w := t.wait; w != nil && w.mutex != nil && w.mutex.owner != nil {
		k.inherit(w.mutex.owner, depth+1)
	}
}

// reschedule selects the most urgent ready task and makes it current.
func (k *Kernel) reschedule() {
	next := k.ready.head()
	if next == nil || next == k.current {
		return
	}
	prev := k.current
	k.current = next
	k.currentID.Store(uint32(next.id))
	next.sliceLeft = k.slice.Ticks
	k.switches.Add(1)
	k.trace(TraceEvent{Kind: TraceSwitch, Task: next.id, Arg: uint32(prev.id)})
}

// sliceTick charges one tick to the current task and rotates it to the tail
// of its priority once its slice is used up.
func (k *Kernel) sliceTick() {
	t := k.current
	if k.slice.Ticks <= 0 || t == k.idle || t.state != 0 || t.prio < k.slice.PriorityLimit {
		return
	}
	t.sliceLeft--
	if t.sliceLeft > 0 {
		return
	}
	t.sliceLeft = k.slice.Ticks
	k.ready.rotate(t)
	k.reschedule()
}

func (k *Kernel) handleTimeSlice(p *packet) {
	if p.a.ticks < 0 || !p.a.prio.Valid() {
		p.complete(errFail("invalid time slice"))
		return
	}
	k.slice = TimeSlice{Ticks: int32(p.a.ticks), PriorityLimit: p.a.prio}
	k.current.sliceLeft = k.slice.Ticks
	p.complete(nil)
}

// announceTicks consumes the ticks accumulated by Tick.
func (k *Kernel) announceTicks() {
	for n := k.pendingTicks.Swap(0); n > 0; n-- {
		k.ticks++
		k.tickCount.Store(k.ticks)
		if k.current == k.idle {
			k.idleTicks.Add(1)
		}
		for _, e := range k.timers.Tick() {
			k.onTick(e)
		}
		k.sliceTick()
	}
}
