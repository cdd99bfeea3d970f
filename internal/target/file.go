package target

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/types"
	"go.uber.org/zap"
)

// FileTarget is a local NVMe/SSD-speed target backed by a single sparse
// file, grounded on the teacher's internal/file.Store (which laid out one
// file per block under a data directory); adapted here to one sparse file
// per target with byte-range Allocate/Write/Read/Free via WriteAt/ReadAt.
type FileTarget struct {
	id     types.TargetID
	name   string
	score  float64
	path   string
	f      *os.File
	cap    int64
	alloc  *slabAllocator
	logger *zap.Logger
}

// NewFileTarget creates a file target, preallocating a sparse backing file
// of the configured capacity under MountPoint.
func NewFileTarget(id types.TargetID, cfg config.TargetConfig, slabSize int64, logger *zap.Logger) (*FileTarget, error) {
	if cfg.MountPoint == "" {
		return nil, fmt.Errorf("file target %q requires mount_point", cfg.Name)
	}
	if err := os.MkdirAll(cfg.MountPoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mount point %s: %w", cfg.MountPoint, err)
	}
	path := filepath.Join(cfg.MountPoint, fmt.Sprintf("target-%s.slab", cfg.Name))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening slab file %s: %w", path, err)
	}
	cap := int64(cfg.Capacity)
	if err := f.Truncate(cap); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating slab file to %d bytes: %w", cap, err)
	}
	return &FileTarget{
		id:     id,
		name:   cfg.Name,
		score:  cfg.Score,
		path:   path,
		f:      f,
		cap:    cap,
		alloc:  newSlabAllocator(cap, slabSize),
		logger: logger,
	}, nil
}

func (t *FileTarget) ID() types.TargetID { return t.id }

func (t *FileTarget) Allocate(_ context.Context, size int64) ([]types.Block, error) {
	return t.alloc.allocate(size), nil
}

func (t *FileTarget) Write(_ context.Context, buf []byte, off int64, length int64) (int, error) {
	if err := t.alloc.validateRange(off, length, t.cap); err != nil {
		return 0, err
	}
	if int64(len(buf)) < length {
		length = int64(len(buf))
	}
	n, err := t.f.WriteAt(buf[:length], off)
	return n, err
}

func (t *FileTarget) Read(_ context.Context, buf []byte, off int64, length int64) (int, error) {
	if err := t.alloc.validateRange(off, length, t.cap); err != nil {
		return 0, err
	}
	if int64(len(buf)) < length {
		length = int64(len(buf))
	}
	n, err := t.f.ReadAt(buf[:length], off)
	if err != nil && n > 0 {
		// Short reads at EOF are expected for a sparse/partially-written
		// file; only a genuine error should propagate.
		err = nil
	}
	return n, err
}

func (t *FileTarget) Free(_ context.Context, blk types.Block) error {
	t.alloc.free_(blk)
	return nil
}

func (t *FileTarget) PollStats(_ context.Context) (types.TargetInfo, error) {
	return types.TargetInfo{
		ID:      t.id,
		Name:    t.name,
		Free:    t.alloc.freeBytes(),
		MaxCap:  t.cap,
		Score:   t.score,
		Healthy: true,
	}, nil
}

// Close releases the backing file handle.
func (t *FileTarget) Close() error {
	return t.f.Close()
}
