package target

import (
	"fmt"
	"sync"

	"github.com/hermes-cache/hermes/internal/types"
)

const defaultSlabSize = int64(4 << 20) // 4MiB

// slabAllocator tracks which byte ranges of a target's logical address
// space are free, in units of a fixed slab size. It underlies all three
// Target implementations: a bump pointer for never-used space plus a
// first-fit free list for space returned by Free, so that capacity
// genuinely shrinks and grows the way spec.md section 3 requires
// ("Free capacity is decremented on successful allocation and incremented
// on free").
type slabAllocator struct {
	mu       sync.Mutex
	slabSize int64
	capacity int64
	next     int64          // start of never-yet-allocated space
	free     []types.Block  // first-fit free list, offset order
}

func newSlabAllocator(capacity, slabSize int64) *slabAllocator {
	if slabSize <= 0 {
		slabSize = defaultSlabSize
	}
	return &slabAllocator{slabSize: slabSize, capacity: capacity}
}

// allocate hands out up to `size` bytes, possibly across several Blocks
// (spec.md section 4.3 step 5: "Allocate(bytes) from the target client,
// which returns zero or more Block{offset,size} chunks"). It returns as
// many bytes as currently fit; the caller is responsible for spilling any
// shortfall to the next sub-placement.
func (a *slabAllocator) allocate(size int64) []types.Block {
	a.mu.Lock()
	defer a.mu.Unlock()

	var blocks []types.Block
	remaining := size

	// First-fit from the free list.
	for i := 0; i < len(a.free) && remaining > 0; {
		blk := a.free[i]
		if blk.Size <= remaining {
			blocks = append(blocks, blk)
			remaining -= blk.Size
			a.free = append(a.free[:i], a.free[i+1:]...)
			continue
		}
		// Split the free block.
		blocks = append(blocks, types.Block{Offset: blk.Offset, Size: remaining})
		a.free[i] = types.Block{Offset: blk.Offset + remaining, Size: blk.Size - remaining}
		remaining = 0
	}

	// Bump-allocate the rest, in slab-sized steps so every target
	// (including the S3-backed blob target, which maps one slab to one
	// remote object) has a stable mapping from offset to underlying chunk.
	for remaining > 0 && a.next < a.capacity {
		step := a.slabSize
		if a.capacity-a.next < step {
			step = a.capacity - a.next
		}
		if step > remaining {
			step = remaining
		}
		blocks = append(blocks, types.Block{Offset: a.next, Size: step})
		a.next += step
		remaining -= step
	}

	return blocks
}

// free returns a block's space to the free list, coalescing is skipped for
// simplicity (spec.md does not require compaction). No separate capacity
// counter is kept: freeBytes derives free space from the bump pointer and
// the free list.
func (a *slabAllocator) free_(blk types.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, blk)
}

func (a *slabAllocator) freeBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	used := a.next
	for _, b := range a.free {
		used -= b.Size
	}
	return a.capacity - used
}

func (a *slabAllocator) validateRange(off, length, capacity int64) error {
	if off < 0 || length < 0 || off+length > capacity {
		return fmt.Errorf("target: range [%d,%d) out of bounds for capacity %d", off, off+length, capacity)
	}
	return nil
}
