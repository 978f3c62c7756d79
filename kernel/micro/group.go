package micro

// group is a 32-bit event flag word with a FIFO list of waiters.
type group struct {
	name    string
	flags   uint32
	waiters waitQueue
}

// DefineGroup creates an event group with initial flags. Only valid before
// Run.
func (k *Kernel) DefineGroup(name string, initial uint32) (GroupID, error) {
	if err := k.checkDefining(); err != nil {
		return 0, err
	}
	k.groups = append(k.groups, &group{name: name, flags: initial, waiters: waitQueue{fifo: true}})
	return GroupID(len(k.groups) - 1), nil
}

// GroupSet ORs flags into the group and wakes every waiter that now matches.
func (t *Task) GroupSet(id GroupID, flags uint32) error {
	return t.call(&packet{op: OpGroupSet, a: args{id: uint16(id), flags: flags}})
}

// GroupClear clears flags from the group.
func (t *Task) GroupClear(id GroupID, flags uint32) error {
	return t.call(&packet{op: OpGroupClear, a: args{id: uint16(id), flags: flags}})
}

// GroupWait waits until mask matches under opts and returns the flag word.
// An immediate match returns the word after any clear; a woken waiter gets
// the word as it was before clears of that set. With NoWait and no match it
// returns the current flags and no error.
func (t *Task) GroupWait(id GroupID, mask uint32, opts GroupOptions, timeout Ticks) (uint32, error) {
	p := &packet{op: OpGroupWait, timeout: timeout, a: args{id: uint16(id), flags: mask, opts: uint32(opts)}}
	err := t.call(p)
	return p.value, err
}

// GroupGet returns the current flags.
func (k *Kernel) GroupGet(id GroupID) (uint32, error) {
	var flags uint32
	var lerr error
	err := k.inspect(func() {
		g, err := k.lookupGroup(uint16(id))
		if err != nil {
			lerr = err
			return
		}
		flags = g.flags
	})
	if err != nil {
		return 0, err
	}
	return flags, lerr
}

// GroupWaiters returns the number of tasks waiting on the group.
func (k *Kernel) GroupWaiters(id GroupID) (int, error) {
	var n int
	var lerr error
	err := k.inspect(func() {
		g, err := k.lookupGroup(uint16(id))
		if err != nil {
			lerr = err
			return
		}
		n = g.waiters.Len()
	})
	if err != nil {
		return 0, err
	}
	return n, lerr
}

func (k *Kernel) lookupGroup(id uint16) (*group, error) {
	if int(id) >= len(k.groups) {
		return nil, errUnknownObject("group", int(id))
	}
	return k.groups[id], nil
}

func groupMatch(flags, mask uint32, opts GroupOptions) bool {
	if opts&WaitAll != 0 {
		return flags&mask == mask
	}
	return flags&mask != 0
}

func (k *Kernel) groupSet(g *group, flags uint32) {
	g.flags |= flags

	var clear uint32
	for _, w := range g.waiters.snapshot() {
		if !groupMatch(g.flags, w.mask, w.gopts) {
			continue
		}
		w.pkt.value = g.flags
		if w.gopts&WaitClear != 0 {
			clear |= w.mask
		}
		k.wake(w, nil)
	}
	g.flags &^= clear
}

func (k *Kernel) handleGroupSet(p *packet) {
	g, err := k.lookupGroup(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	k.groupSet(g, p.a.flags)
	p.value = g.flags
	p.complete(nil)
}

func (k *Kernel) handleGroupClear(p *packet) {
	g, err := k.lookupGroup(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	g.flags &^= p.a.flags
	p.value = g.flags
	p.complete(nil)
}

func (k *Kernel) handleGroupWait(p *packet) {
	g, err := k.lookupGroup(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	mask, opts := p.a.flags, GroupOptions(p.a.opts)
	if mask == 0 {
		p.complete(errFail("empty wait mask"))
		return
	}
	if groupMatch(g.flags, mask, opts) {
		if opts&WaitClear != 0 {
			g.flags &^= mask
		}
		p.value = g.flags
		p.complete(nil)
		return
	}
	if p.timeout == NoWait {
		p.value = g.flags
		p.complete(nil)
		return
	}
	if p.caller == nil {
		p.complete(errFail("blocking call without a calling task"))
		return
	}
	w := k.block(p, StateGroupWait, &g.waiters)
	w.mask = mask
	w.gopts = opts
}
