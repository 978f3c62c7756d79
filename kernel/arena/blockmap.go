package arena

import (
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// BlockMap is a fixed-size block allocator over one contiguous arena.
//
// Free blocks form a singly linked list threaded through an explicit
// next-index table instead of through the blocks themselves, so alloc and
// free stay O(1) without aliasing block memory. The allocation bitmap only
// guards against foreign or double frees.
//
// BlockMap is not safe for concurrent use; the kernel server owns it.
type BlockMap struct {
	buf       []byte
	blockSize uint32
	next      []int32
	head      int32
	allocated *bitset.BitSet

	// Statistics
	used          uint32
	highWatermark uint32
	freeCount     uint32
}

const endOfList int32 = -1

// Block is a handle to one allocated block.
type Block struct {
	Index uint32
	Data  []byte
}

// Valid reports whether b refers to a block at all.
func (b Block) Valid() bool { return b.Data != nil }

// MapStats is a snapshot of usage counters.
type MapStats struct {
	Blocks        uint32
	BlockSize     uint32
	Used          uint32
	HighWatermark uint32
	Free          uint32
}

// NewBlockMap carves an arena of blocks*blockSize bytes.
func NewBlockMap(blocks, blockSize uint32) (*BlockMap, error) {
	if blocks == 0 {
		return nil, fmt.Errorf("block map needs at least one block")
	}
	if blockSize == 0 {
		return nil, fmt.Errorf("block size must be positive")
	}
	if blocks > math.MaxInt32 || uint64(blocks)*uint64(blockSize) > math.MaxInt {
		return nil, fmt.Errorf("arena of %d blocks of %d bytes is too large", blocks, blockSize)
	}

	bm := &BlockMap{
		buf:       make([]byte, blockOffset(blocks, blockSize)),
		blockSize: blockSize,
		next:      make([]int32, blocks),
		allocated: bitset.New(uint(blocks)),
		freeCount: blocks,
	}

	// Link every block in address order: 0 -> 1 -> ... -> end.
	for i := range bm.next {
		bm.next[i] = int32(i + 1)
	}
	bm.next[blocks-1] = endOfList
	bm.head = 0

	return bm, nil
}

// Alloc pops the head of the free list.
func (bm *BlockMap) Alloc() (Block, bool) {
	if bm.head == endOfList {
		return Block{}, false
	}

	idx := bm.head
	bm.head = bm.next[idx]
	bm.next[idx] = endOfList
	bm.allocated.Set(uint(idx))
	bm.freeCount--

	bm.used++
	if bm.used > bm.highWatermark {
		bm.highWatermark = bm.used
	}

	return bm.block(uint32(idx)), true
}

// Free pushes blk onto the head of the free list.
func (bm *BlockMap) Free(blk Block) error {
	if err := bm.Check(blk); err != nil {
		return err
	}

	idx := int32(blk.Index)
	bm.allocated.Clear(uint(idx))
	bm.next[idx] = bm.head
	bm.head = idx
	bm.freeCount++
	bm.used--
	return nil
}

// Check verifies that blk is a currently allocated block of this map.
func (bm *BlockMap) Check(blk Block) error {
	if blk.Index >= uint32(len(bm.next)) {
		return fmt.Errorf("block index %d out of range", blk.Index)
	}
	if !bm.owns(blk) {
		return fmt.Errorf("block %d does not belong to this map", blk.Index)
	}
	if !bm.allocated.Test(uint(blk.Index)) {
		return fmt.Errorf("double free detected at block %d", blk.Index)
	}
	return nil
}

func (bm *BlockMap) owns(blk Block) bool {
	if len(blk.Data) == 0 {
		return false
	}
	want := bm.block(blk.Index)
	return &want.Data[0] == &blk.Data[0]
}

func (bm *BlockMap) block(idx uint32) Block {
	off := blockOffset(idx, bm.blockSize)
	end := off + int(bm.blockSize)
	return Block{
		Index: idx,
		Data:  bm.buf[off:end:end],
	}
}

// blockOffset is the byte offset of block idx, computed in int so arenas
// past 4 GiB address correctly.
func blockOffset(idx, blockSize uint32) int {
	return int(idx) * int(blockSize)
}

// FreeLen walks the free list. Used by consistency checks, not by Alloc.
func (bm *BlockMap) FreeLen() int {
	n := 0
	for i := bm.head; i != endOfList; i = bm.next[i] {
		n++
	}
	return n
}

// Stats returns the usage counters.
func (bm *BlockMap) Stats() MapStats {
	return MapStats{
		Blocks:        uint32(len(bm.next)),
		BlockSize:     bm.blockSize,
		Used:          bm.used,
		HighWatermark: bm.highWatermark,
		Free:          bm.freeCount,
	}
}
