package target

import (
	"context"

	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/types"
	"go.uber.org/zap"
)

// MemoryTarget is a DRAM-speed target: one process-local byte arena,
// grounded on the teacher's internal/memory.Store (an in-process block
// cache), adapted here from whole-block Put/Get to byte-range
// Allocate/Write/Read/Free.
type MemoryTarget struct {
	id       types.TargetID
	name     string
	score    float64
	arena    []byte
	alloc    *slabAllocator
	logger   *zap.Logger
}

// NewMemoryTarget creates a memory target with the configured capacity.
func NewMemoryTarget(id types.TargetID, cfg config.TargetConfig, slabSize int64, logger *zap.Logger) *MemoryTarget {
	cap := int64(cfg.Capacity)
	return &MemoryTarget{
		id:     id,
		name:   cfg.Name,
		score:  cfg.Score,
		arena:  make([]byte, cap),
		alloc:  newSlabAllocator(cap, slabSize),
		logger: logger,
	}
}

func (t *MemoryTarget) ID() types.TargetID { return t.id }

func (t *MemoryTarget) Allocate(_ context.Context, size int64) ([]types.Block, error) {
	return t.alloc.allocate(size), nil
}

func (t *MemoryTarget) Write(_ context.Context, buf []byte, off int64, length int64) (int, error) {
	if err := t.alloc.validateRange(off, length, int64(len(t.arena))); err != nil {
		return 0, err
	}
	n := copy(t.arena[off:off+length], buf)
	return n, nil
}

func (t *MemoryTarget) Read(_ context.Context, buf []byte, off int64, length int64) (int, error) {
	if err := t.alloc.validateRange(off, length, int64(len(t.arena))); err != nil {
		return 0, err
	}
	n := copy(buf, t.arena[off:off+length])
	return n, nil
}

func (t *MemoryTarget) Free(_ context.Context, blk types.Block) error {
	t.alloc.free_(blk)
	return nil
}

func (t *MemoryTarget) PollStats(_ context.Context) (types.TargetInfo, error) {
	return types.TargetInfo{
		ID:      t.id,
		Name:    t.name,
		Free:    t.alloc.freeBytes(),
		MaxCap:  int64(len(t.arena)),
		Score:   t.score,
		Healthy: true,
	}, nil
}
