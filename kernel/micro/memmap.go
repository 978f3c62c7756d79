package micro

import (
	"github.com/nashif/zephyr-sub001/kernel/arena"
	"github.com/nashif/zephyr-sub001/kernel/utils"
)

// Block is a memory map block handed out by MapAlloc.
type Block = arena.Block

// memMap pairs a block arena with the tasks waiting for a block.
type memMap struct {
	name    string
	blocks  *arena.BlockMap
	waiters waitQueue
}

// MapStatus is a snapshot of a memory map.
type MapStatus struct {
	Name    string
	Stats   arena.MapStats
	Waiters int
}

// DefineMemoryMap creates a map of blocks fixed-size blocks. Only valid
// before Run.
func (k *Kernel) DefineMemoryMap(name string, blocks, blockSize uint32) (MapID, error) {
	if err := k.checkDefining(); err != nil {
		return 0, err
	}
	bm, err := arena.NewBlockMap(blocks, blockSize)
	if err != nil {
		return 0, WrapKernelError(ErrCodeFail, "invalid memory map", err)
	}
	k.maps = append(k.maps, &memMap{name: name, blocks: bm})
	return MapID(len(k.maps) - 1), nil
}

// MapAlloc takes a block, waiting up to timeout when the map is empty.
func (t *Task) MapAlloc(id MapID, timeout Ticks) (Block, error) {
	p := &packet{op: OpMapAlloc, timeout: timeout, a: args{id: uint16(id)}}
	if err := t.call(p); err != nil {
		return Block{}, err
	}
	return p.block, nil
}

// MapFree returns a block. A waiting task receives it directly.
func (t *Task) MapFree(id MapID, blk Block) error {
	return t.call(&packet{op: OpMapFree, a: args{id: uint16(id), block: blk}})
}

// MapStatus returns the usage counters of a map.
func (k *Kernel) MapStatus(id MapID) (MapStatus, error) {
	var st MapStatus
	var lerr error
	err := k.inspect(func() {
		m, err := k.lookupMap(uint16(id))
		if err != nil {
			lerr = err
			return
		}
		st = MapStatus{Name: m.name, Stats: m.blocks.Stats(), Waiters: m.waiters.Len()}
	})
	if err != nil {
		return st, err
	}
	return st, lerr
}

func (k *Kernel) lookupMap(id uint16) (*memMap, error) {
	if int(id) >= len(k.maps) {
		return nil, errUnknownObject("memory map", int(id))
	}
	return k.maps[id], nil
}

func (k *Kernel) handleMapAlloc(p *packet) {
	m, err := k.lookupMap(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	if blk, ok := m.blocks.Alloc(); ok {
		p.block = blk
		p.complete(nil)
		return
	}
	if !k.canWait(p, "memory block") {
		return
	}
	k.block(p, StateMapWait, &m.waiters)
}

func (k *Kernel) handleMapFree(p *packet) {
	m, err := k.lookupMap(p.a.id)
	if err != nil {
		p.complete(err)
		return
	}
	blk := p.a.block
	if err := m.blocks.Check(blk); err != nil {
		k.log.Warn("Rejected memory map free", utils.String("map", m.name), utils.Err(err))
		p.complete(WrapKernelError(ErrCodeFail, "invalid block", err))
		return
	}
	if w := m.waiters.head(); w != nil {
		w.pkt.block = blk
		k.wake(w, nil)
		p.complete(nil)
		return
	}
	if err := m.blocks.Free(blk); err != nil {
		p.complete(WrapKernelError(ErrCodeFail, "invalid block", err))
		return
	}
	p.complete(nil)
}
