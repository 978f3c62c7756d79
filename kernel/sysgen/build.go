package sysgen

import (
	"fmt"

	"github.com/nashif/zephyr-sub001/kernel/foundation"
	"github.com/nashif/zephyr-sub001/kernel/micro"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// Entries supplies the code a project refers to by name.
type Entries struct {
	Tasks    map[string]micro.TaskEntry
	Fibers   map[string]micro.FiberFunc
	Handlers map[string]micro.EventHandler
}

// Symbols maps project names to the objects Build defined.
type Symbols struct {
	Tasks      map[string]*micro.Task
	Fibers     map[string]micro.FiberID
	Semaphores map[string]micro.SemID
	Mutexes    map[string]micro.MutexID
	Maps       map[string]micro.MapID
	Pipes      map[string]micro.PipeID
	Mailboxes  map[string]micro.MailboxID
	Events     map[string]micro.EventID
	Groups     map[string]micro.GroupID
	IRQObjects map[string]micro.IRQObjID
}

func newSymbols() *Symbols {
	return &Symbols{
		Tasks:      make(map[string]*micro.Task),
		Fibers:     make(map[string]micro.FiberID),
		Semaphores: make(map[string]micro.SemID),
		Mutexes:    make(map[string]micro.MutexID),
		Maps:       make(map[string]micro.MapID),
		Pipes:      make(map[string]micro.PipeID),
		Mailboxes:  make(map[string]micro.MailboxID),
		Events:     make(map[string]micro.EventID),
		Groups:     make(map[string]micro.GroupID),
		IRQObjects: make(map[string]micro.IRQObjID),
	}
}

// Task returns the handle of a named task.
func (s *Symbols) Task(name string) (*micro.Task, error) {
	t, ok := s.Tasks[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}
	return t, nil
}

// Config overlays the project's kernel settings on base.
func (p *Project) Config(base micro.Config) micro.Config {
	ks := p.Kernel
	if ks.CommandQueue > 0 {
		base.CommandQueueSize = ks.CommandQueue
	}
	if ks.ISRPackets > 0 {
		base.ISRPacketPool = ks.ISRPackets
	}
	if ks.FiberPackets > 0 {
		base.FiberPacketPool = ks.FiberPackets
	}
	base.ServerPriority = micro.Priority(ks.ServerPriority)
	base.TimeSlice.Ticks = ks.TimeSlice.Ticks
	base.TimeSlice.PriorityLimit = foundation.PriorityLowest
	if ks.TimeSlice.PriorityLimit != nil {
		base.TimeSlice.PriorityLimit = micro.Priority(*ks.TimeSlice.PriorityLimit)
	}
	return base
}

// Build creates a kernel from the project and defines every object in
// file order, so ids follow declaration order within each kind. base
// supplies the host settings (logger, monitors, interrupt controller).
func (p *Project) Build(entries Entries, base micro.Config) (*micro.Kernel, *Symbols, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	k, err := micro.New(p.Config(base))
	if err != nil {
		return nil, nil, err
	}
	sym := newSymbols()

	if err := k.DefineTimers(p.Kernel.Timers); err != nil {
		return nil, nil, utils.WrapError(err, "define timers")
	}

	for _, ts := range p.Tasks {
		cfg := micro.TaskConfig{
			Name:      ts.Name,
			Priority:  micro.Priority(ts.Priority),
			AutoStart: ts.AutoStart,
		}
		if ts.Essential {
			cfg.Options |= micro.Essential
		}
		entry := ts.Entry
		if entry == "" {
			cfg.Entry = entries.Tasks[ts.Name]
		} else if cfg.Entry = entries.Tasks[entry]; cfg.Entry == nil {
			return nil, nil, fmt.Errorf("task %q: entry %q not provided", ts.Name, entry)
		}
		t, err := k.DefineTask(cfg)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "task %q", ts.Name)
		}
		sym.Tasks[ts.Name] = t
	}

	for _, fs := range p.Fibers {
		name := fs.Entry
		if name == "" {
			name = fs.Name
		}
		fn := entries.Fibers[name]
		if fn == nil {
			return nil, nil, fmt.Errorf("fiber %q: entry %q not provided", fs.Name, name)
		}
		id, err := k.DefineFiber(fs.Name, micro.Priority(fs.Priority), fn)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "fiber %q", fs.Name)
		}
		sym.Fibers[fs.Name] = id
	}

	for _, s := range p.Semaphores {
		id, err := k.DefineSemaphore(s.Name, s.Initial)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "semaphore %q", s.Name)
		}
		sym.Semaphores[s.Name] = id
	}

	for _, m := range p.Mutexes {
		id, err := k.DefineMutex(m.Name)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "mutex %q", m.Name)
		}
		sym.Mutexes[m.Name] = id
	}

	for _, m := range p.Maps {
		id, err := k.DefineMemoryMap(m.Name, m.Blocks, m.BlockSize)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "map %q", m.Name)
		}
		sym.Maps[m.Name] = id
	}

	for _, pp := range p.Pipes {
		unit := pp.Unit
		if unit == 0 {
			unit = 1
		}
		id, err := k.DefinePipe(pp.Name, unit)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "pipe %q", pp.Name)
		}
		sym.Pipes[pp.Name] = id
	}

	for _, mb := range p.Mailboxes {
		id, err := k.DefineMailbox(mb.Name)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "mailbox %q", mb.Name)
		}
		sym.Mailboxes[mb.Name] = id
	}

	for _, e := range p.Events {
		var handler micro.EventHandler
		if e.Handler != "" {
			if handler = entries.Handlers[e.Handler]; handler == nil {
				return nil, nil, fmt.Errorf("event %q: handler %q not provided", e.Name, e.Handler)
			}
		}
		id, err := k.DefineEvent(e.Name, handler)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "event %q", e.Name)
		}
		sym.Events[e.Name] = id
	}

	for _, g := range p.Groups {
		id, err := k.DefineGroup(g.Name, g.Initial)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "group %q", g.Name)
		}
		sym.Groups[g.Name] = id
	}

	for _, o := range p.IRQObjects {
		id, err := k.DefineIRQObject(o.Name)
		if err != nil {
			return nil, nil, utils.WrapErrorf(err, "irq object %q", o.Name)
		}
		sym.IRQObjects[o.Name] = id
	}

	return k, sym, nil
}
