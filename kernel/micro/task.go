package micro

import (
	"context"
	"fmt"

	"github.com/nashif/zephyr-sub001/kernel/foundation"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// TaskEntry is the body of a task. It runs on its own goroutine; ctx is
// cancelled when the task is aborted or the kernel stops. Returning ends
// the task.
type TaskEntry func(ctx context.Context, t *Task)

// TaskConfig defines a task.
type TaskConfig struct {
	Name      string
	Priority  Priority
	Options   TaskOptions
	AutoStart bool
	// Entry may be nil for an external task driven by host code.
	Entry TaskEntry
}

// Task is the handle a task uses to call kernel services. Every method
// submits a command packet and waits for the server to complete it.
type Task struct {
	k    *Kernel
	tcb  *tcb
	id   TaskID
	name string
}

// ID returns the task id.
func (t *Task) ID() TaskID { return t.id }

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Kernel returns the kernel the task belongs to.
func (t *Task) Kernel() *Kernel { return t.k }

func (t *Task) call(p *packet) error {
	p.caller = t.tcb
	return t.k.submit(p)
}

// TaskStatus is a snapshot of a task control block.
type TaskStatus struct {
	ID           TaskID
	Name         string
	Priority     Priority
	BasePriority Priority
	Options      TaskOptions
	State        TaskState
	Current      bool
	Running      bool
}

// DefineTask creates a stopped task. Only valid before Run.
func (k *Kernel) DefineTask(cfg TaskConfig) (*Task, error) {
	if err := k.checkDefining(); err != nil {
		return nil, err
	}
	if !cfg.Priority.Valid() || cfg.Priority == foundation.PriorityLowest {
		return nil, errFail("task priority out of range").WithContext("priority", uint8(cfg.Priority))
	}
	if len(k.tasks) >= int(AnyTask) {
		return nil, errFail("too many tasks")
	}

	id := TaskID(len(k.tasks))
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("task-%d", id)
	}
	t := &tcb{
		id:       id,
		name:     cfg.Name,
		prio:     cfg.Priority,
		basePrio: cfg.Priority,
		opts:     cfg.Options,
		state:    StateStopped,
		entry:    cfg.Entry,
		auto:     cfg.AutoStart,
	}
	t.handle = &Task{k: k, tcb: t, id: id, name: cfg.Name}
	k.tasks = append(k.tasks, t)
	return t.handle, nil
}

// Task returns the handle of a defined task.
func (k *Kernel) Task(id TaskID) (*Task, error) {
	if id == IdleTask || int(id) >= len(k.tasks) {
		return nil, errUnknownObject("task", int(id))
	}
	return k.tasks[id].handle, nil
}

func (k *Kernel) lookupTask(id uint16) (*tcb, error) {
	if int(id) >= len(k.tasks) {
		return nil, errUnknownObject("task", int(id))
	}
	return k.tasks[id], nil
}

// StartTask starts a task from host code.
func (k *Kernel) StartTask(id TaskID) error {
	return k.submit(&packet{op: OpTaskStart, a: args{id: uint16(id)}})
}

// AbortTask aborts a task from host code.
func (k *Kernel) AbortTask(id TaskID) error {
	return k.submit(&packet{op: OpTaskAbort, a: args{id: uint16(id)}})
}

// TaskStatus returns a snapshot of the task.
func (k *Kernel) TaskStatus(id TaskID) (TaskStatus, error) {
	var st TaskStatus
	var lerr error
	err := k.inspect(func() {
		t, err := k.lookupTask(uint16(id))
		if err != nil {
			lerr = err
			return
		}
		st = k.taskStatus(t)
	})
	if err != nil {
		return st, err
	}
	return st, lerr
}

// Tasks returns a snapshot of every task, idle first.
func (k *Kernel) Tasks() ([]TaskStatus, error) {
	var out []TaskStatus
	err := k.inspect(func() {
		out = make([]TaskStatus, 0, len(k.tasks))
		for _, t := range k.tasks {
			out = append(out, k.taskStatus(t))
		}
	})
	return out, err
}

func (k *Kernel) taskStatus(t *tcb) TaskStatus {
	return TaskStatus{
		ID:           t.id,
		Name:         t.name,
		Priority:     t.prio,
		BasePriority: t.basePrio,
		Options:      t.opts,
		State:        t.state,
		Current:      t == k.current,
		Running:      t.running,
	}
}

// StartTask starts a stopped or terminated task.
func (t *Task) StartTask(id TaskID) error {
	return t.call(&packet{op: OpTaskStart, a: args{id: uint16(id)}})
}

// AbortTask terminates a task. Its pending wait completes with ErrAborted
// and its IRQ objects are released. Aborting an essential task is fatal.
func (t *Task) AbortTask(id TaskID) error {
	return t.call(&packet{op: OpTaskAbort, a: args{id: uint16(id)}})
}

// SuspendTask takes a task off the ready list until ResumeTask.
func (t *Task) SuspendTask(id TaskID) error {
	return t.call(&packet{op: OpTaskSuspend, a: args{id: uint16(id)}})
}

// ResumeTask undoes SuspendTask.
func (t *Task) ResumeTask(id TaskID) error {
	return t.call(&packet{op: OpTaskResume, a: args{id: uint16(id)}})
}

// SetPriority changes the base priority of a task.
func (t *Task) SetPriority(id TaskID, prio Priority) error {
	return t.call(&packet{op: OpTaskPriority, a: args{id: uint16(id), prio: prio}})
}

// Sleep blocks the caller for ticks ticks. Zero or less yields.
func (t *Task) Sleep(ticks Ticks) error {
	return t.call(&packet{op: OpTaskSleep, timeout: ticks, a: args{ticks: ticks}})
}

// Yield moves the caller behind the other ready tasks of its priority.
func (t *Task) Yield() error {
	return t.call(&packet{op: OpTaskYield})
}

// SetTimeSlice changes the round-robin slice length and priority limit.
func (t *Task) SetTimeSlice(ticks Ticks, limit Priority) error {
	return t.call(&packet{op: OpTimeSlice, a: args{ticks: ticks, prio: limit}})
}

func (k *Kernel) handleTaskStart(p *packet) {
	t, err := k.lookupTask(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if t == k.idle || t.state&(StateStopped|StateTerminated) == 0 {
		p.complete(errInvalidState("task already started"))
		return
	}
	if t.running {
		p.complete(NewKernelError(ErrCodeBusy, "task goroutine still running"))
		return
	}
	k.startTask(t)
	p.complete(nil)
}

func (k *Kernel) startTask(t *tcb) {
	t.prio = t.basePrio
	t.held = nil
	t.state = StateStopped
	k.clearState(t, StateStopped)
	k.log.Debug("Task started", utils.String("task", t.name), utils.Uint64("id", uint64(t.id)))
	if t.entry != nil {
		k.spawn(t)
	}
}

func (k *Kernel) spawn(t *tcb) {
	ctx, cancel := context.WithCancel(k.life)
	t.cancel = cancel
	t.running = true
	fn, h := t.entry, t.handle

	go func() {
		var cause error
		defer func() {
			if r := recover(); r != nil {
				cause = fmt.Errorf("task panic: %v", r)
			}
			cancel()
			exit := &packet{op: OpTaskExit, caller: t, a: args{cause: cause}}
			_, _ = k.queue.Push(k.life, entry{pkt: exit})
		}()
		fn(ctx, h)
	}()
}

func (k *Kernel) handleTaskExit(p *packet) {
	t := p.caller
	t.running = false
	t.exits++
	if t.state&StateTerminated != 0 {
		return
	}
	if t.opts&Essential != 0 {
		reason := "essential task exited"
		if p.a.cause != nil {
			reason = "essential task faulted"
		}
		k.fatal(&FatalError{Reason: reason, Task: t.id, Cause: p.a.cause})
	}
	if p.a.cause != nil {
		k.log.Warn("Task faulted", utils.String("task", t.name), utils.Err(p.a.cause))
	} else {
		k.log.Debug("Task exited", utils.String("task", t.name))
	}
	k.terminate(t)
}

func (k *Kernel) handleTaskAbort(p *packet) {
	t, err := k.lookupTask(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if t == k.idle {
		p.complete(errFail("the idle task cannot be aborted"))
		return
	}
	if t.state&StateTerminated != 0 {
		p.complete(nil)
		return
	}
	if t.opts&Essential != 0 {
		k.fatal(&FatalError{Reason: "essential task aborted", Task: t.id})
		p.complete(ErrFatal)
		return
	}
	k.terminate(t)
	p.complete(nil)
}

// terminate releases everything the task waits on or owns and parks it.
// Held mutexes pass to their next waiter.
func (k *Kernel) terminate(t *tcb) {
	k.cancelWait(t, ErrAborted)
	if t.state == 0 {
		k.ready.remove(t)
	}
	t.state = StateTerminated
	t.prio = t.basePrio
	k.releaseMutexes(t)
	k.freeTaskIRQs(t)
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (k *Kernel) handleTaskSuspend(p *packet) {
	t, err := k.lookupTask(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if t == k.idle || t.state&(StateStopped|StateTerminated) != 0 {
		p.complete(errInvalidState("task is not active"))
		return
	}
	k.setState(t, StateSuspended)
	p.complete(nil)
}

func (k *Kernel) handleTaskResume(p *packet) {
	t, err := k.lookupTask(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if t.state&StateSuspended != 0 {
		k.clearState(t, StateSuspended)
	}
	p.complete(nil)
}

func (k *Kernel) handleTaskPriority(p *packet) {
	t, err := k.lookupTask(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if t == k.idle || !p.a.prio.Valid() || p.a.prio == foundation.PriorityLowest {
		p.complete(errFail("task priority out of range"))
		return
	}
	t.basePrio = p.a.prio
	k.inherit(t, 0)
	p.complete(nil)
}

func (k *Kernel) handleTaskSleep(p *packet) {
	if p.caller == nil {
		p.complete(errFail("sleep needs a calling task"))
		return
	}
	if p.a.ticks <= 0 {
		k.handleTaskYield(p)
		return
	}
	w := k.block(p, StateSleeping)
	w.expireErr = nil
}

func (k *Kernel) handleTaskYield(p *packet) {
	if t := p.caller; t != nil && t.state == 0 {
		k.ready.rotate(t)
	}
	p.complete(nil)
}
