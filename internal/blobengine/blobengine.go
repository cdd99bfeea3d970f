// Package blobengine implements the Blob Engine (spec.md section 4.3–4.5):
// Put, Get, Destroy, Truncate, and Reorganize over a lane's blob map,
// fanning reads and writes out across storage targets placed by the Data
// Placement Engine. Grounded on the teacher's internal/ingest.Pipeline
// write path (buffer-then-fan-out-to-tier-stores) and internal/tier
// read-through, generalised from whole-message tiering to byte-range
// buffer placement.
package blobengine

import (
	"context"
	"fmt"

	"github.com/hermes-cache/hermes/internal/accesslog"
	"github.com/hermes-cache/hermes/internal/dpe"
	"github.com/hermes-cache/hermes/internal/ids"
	"github.com/hermes-cache/hermes/internal/lane"
	"github.com/hermes-cache/hermes/internal/tagengine"
	"github.com/hermes-cache/hermes/internal/target"
	"github.com/hermes-cache/hermes/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine runs blob operations against one lane.
type Engine struct {
	lane    *lane.Lane
	ids     *ids.Allocator
	targets *target.Registry
	placer  *dpe.Engine
	tags    *tagengine.Engine
	ring    *accesslog.Ring
	logger  *zap.Logger
}

// New creates a blob engine bound to a single lane and its collaborators.
func New(l *lane.Lane, alloc *ids.Allocator, targets *target.Registry, placer *dpe.Engine, tags *tagengine.Engine, ring *accesslog.Ring, logger *zap.Logger) *Engine {
	return &Engine{lane: l, ids: alloc, targets: targets, placer: placer, tags: tags, ring: ring, logger: logger}
}

// resolveBlob implements GetOrCreateBlobId (spec.md section 4.3 step 1):
// if blob is non-null, look it up by id; otherwise look up (or create) by
// name under the lane's blob rwlock. created reports DID_CREATE.
func (e *Engine) resolveBlob(ctx context.Context, tag ids.TagID, name string, blob ids.BlobID, mustCreate bool) (*types.BlobInfo, bool, error) {
	if !blob.IsNull() {
		if err := e.lane.BlobLock.RLock(ctx); err != nil {
			return nil, false, err
		}
		info, ok := e.lane.BlobByID(blob)
		e.lane.BlobLock.RUnlock()
		if !ok {
			return nil, false, fmt.Errorf("blobengine: blob %s not found", blob)
		}
		return info, false, nil
	}

	if err := e.lane.BlobLock.RLock(ctx); err != nil {
		return nil, false, err
	}
	if id, ok := e.lane.LookupBlobByName(tag, name); ok {
		info, _ := e.lane.BlobByID(id)
		e.lane.BlobLock.RUnlock()
		return info, false, nil
	}
	e.lane.BlobLock.RUnlock()

	if !mustCreate {
		return nil, false, fmt.Errorf("blobengine: blob %q not found in tag %s", name, tag)
	}

	if err := e.lane.BlobLock.Lock(ctx); err != nil {
		return nil, false, err
	}
	defer e.lane.BlobLock.Unlock()
	// Re-check under the write lock: another goroutine may have created it
	// while we waited.
	if id, ok := e.lane.LookupBlobByName(tag, name); ok {
		info, _ := e.lane.BlobByID(id)
		return info, false, nil
	}
	id := ids.BlobID{NodeID: e.ids.Node(), Hash: ids.HashName(tag.String(), name), Unique: e.ids.Next()}
	info := types.NewBlobInfo(id, tag, name)
	e.lane.PutBlob(tag, info)
	return info, true, nil
}

func (e *Engine) maybeStageIn(ctx context.Context, tag ids.TagID, info *types.BlobInfo, flags types.Flags, score float64) error {
	if !flags.Has(types.FlagShouldStage) || !info.NeverStaged() {
		return nil
	}
	tagName, ok, err := e.tags.GetTagName(ctx, tag)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	stager, ok := e.lane.Stagers.Lookup(tagName)
	if !ok {
		e.logger.Warn("blobengine: should_stage set but no stager registered", zap.String("tag", tagName))
		info.LastFlush = 1
		return nil
	}
	data, err := stager.StageIn(ctx, tagName, info.Name, score)
	if err != nil {
		// spec.md section 7: StageIn failure proceeds with an empty blob.
		e.logger.Warn("blobengine: stage-in failed, proceeding empty", zap.Error(err))
		info.LastFlush = 1
		return nil
	}
	info.LastFlush = 1
	if len(data) == 0 {
		return nil
	}
	// Allocate buffers to hold the staged-in bytes before writing them —
	// a freshly created blob has no buffers yet (spec.md section 4.3 step
	// 2: "this populates buffers before first write"). A fresh blob has
	// MaxBlobSize==0, so allocated is this call's entire new capacity.
	allocated, err := e.growForWrite(ctx, info, 0, int64(len(data)), score)
	if err != nil {
		return err
	}
	info.MaxBlobSize = allocated
	if allocated == 0 {
		// AllocationFailure (spec.md section 7): proceed with an empty blob
		// rather than writing into buffers that don't exist.
		return nil
	}
	writable := allocated
	if writable > int64(len(data)) {
		writable = int64(len(data))
	}
	if err := e.writeRange(ctx, info, 0, writable, data[:writable], score); err != nil {
		return err
	}
	info.BlobSize = writable
	return nil
}

// Put implements spec.md section 4.3.
func (e *Engine) Put(ctx context.Context, tag ids.TagID, name string, blob ids.BlobID, offset, size int64, payload []byte, score float64, flags types.Flags) (ids.BlobID, int64, error) {
	info, created, err := e.resolveBlob(ctx, tag, name, blob, true)
	if err != nil {
		return ids.BlobID{}, 0, err
	}
	if created {
		flags |= types.FlagDidCreate
	}

	if err := info.Lock.Lock(ctx); err != nil {
		return ids.BlobID{}, 0, err
	}
	defer info.Lock.Unlock()
	info.Score = score

	if err := e.maybeStageIn(ctx, tag, info, flags, score); err != nil {
		return ids.BlobID{}, 0, err
	}

	prevMax := info.MaxBlobSize
	allocated, err := e.growForWrite(ctx, info, offset, size, score)
	if err != nil {
		// spec.md section 7 / line 154: a cancelled or failed sub-task
		// leaves the blob with whatever buffers were already allocated, no
		// rollback — so the partial growth this call managed still counts.
		if allocated > 0 {
			info.MaxBlobSize = prevMax + allocated
		}
		return ids.BlobID{}, 0, err
	}

	needed := offset + size
	requestedGrowth := needed - prevMax
	if requestedGrowth < 0 {
		requestedGrowth = 0
	}
	if requestedGrowth > 0 && allocated == 0 {
		// AllocationFailure (spec.md section 7): every target returned zero
		// bytes — no partial commit.
		return info.BlobID, 0, nil
	}

	newMax := prevMax + allocated
	if newMax > info.MaxBlobSize {
		info.MaxBlobSize = newMax
	}

	// writable is the portion of [offset, offset+size) actually backed by
	// buffers now; it's short of size only when allocation came up short of
	// requestedGrowth (spec.md section 8 P4: placement coverage).
	writable := size
	if offset+writable > info.MaxBlobSize {
		writable = info.MaxBlobSize - offset
	}
	if writable < 0 {
		writable = 0
	}

	if writable > 0 {
		if err := e.writeRange(ctx, info, offset, writable, payload[:writable], score); err != nil {
			return ids.BlobID{}, 0, err
		}
	}
	if offset+writable > info.BlobSize {
		info.BlobSize = offset + writable
	}

	info.ModCount++
	info.WriteStats.Count++
	info.WriteStats.TotalBytes += writable
	e.ring.Push(types.IOStat{Op: types.IOWrite, TagID: tag, BlobID: info.BlobID, Size: writable})

	if flags.Has(types.FlagShouldStage) {
		if tagName, ok, _ := e.tags.GetTagName(ctx, tag); ok {
			if stager, ok := e.lane.Stagers.Lookup(tagName); ok {
				go func() {
					if err := stager.UpdateSize(context.Background(), tagName, offset, writable); err != nil {
						e.logger.Warn("blobengine: stager UpdateSize failed", zap.Error(err))
					}
				}()
			}
		}
	} else if allocated > 0 {
		go func() {
			if err := e.tags.TagUpdateSize(context.Background(), tag, allocated, types.SizeAdd); err != nil {
				e.logger.Warn("blobengine: async TagUpdateSize failed", zap.Error(err))
			}
		}()
	}
	if flags.Has(types.FlagDidCreate) {
		if err := e.tags.TagAddBlob(ctx, tag, info.BlobID); err != nil {
			e.logger.Warn("blobengine: TagAddBlob failed", zap.Error(err))
		}
	}

	return info.BlobID, writable, nil
}

// growForWrite computes the capacity delta (spec.md section 4.3 step 3)
// and places/allocates it via the DPE (step 4–5), returning the bytes
// actually allocated — which may be less than the requested delta if a
// target came up short (spec.md section 8 P4), including zero if every
// target is exhausted (section 7 AllocationFailure). Does not mutate
// info.BlobSize/MaxBlobSize; the caller grows those by the actual
// return value, never by the request, so sum(buffers[i].size) never
// falls short of max_blob_size (spec.md section 3). Must be called with
// info.Lock held for write.
func (e *Engine) growForWrite(ctx context.Context, info *types.BlobInfo, offset, size int64, score float64) (int64, error) {
	needed := offset + size
	sizeDiff := needed - info.MaxBlobSize
	if sizeDiff <= 0 {
		return 0, nil
	}

	e.targets.Refresh(ctx)
	schemas, err := e.placer.Place([]int64{sizeDiff}, e.targets.Stats(), dpe.Context{Score: score})
	if err != nil {
		return 0, fmt.Errorf("blobengine: placement failed: %w", err)
	}
	parts := schemas[0].Parts

	var totalAllocated int64
	for i := 0; i < len(parts); i++ {
		want := parts[i].Bytes
		if want <= 0 {
			continue
		}
		tgt, ok := e.targets.ByID(parts[i].TargetID)
		if !ok {
			return totalAllocated, fmt.Errorf("blobengine: placement named unknown target %v", parts[i].TargetID)
		}
		blocks, err := tgt.Allocate(ctx, want)
		if err != nil {
			return totalAllocated, fmt.Errorf("blobengine: allocate on target %v: %w", parts[i].TargetID, err)
		}
		var allocated int64
		for _, blk := range blocks {
			info.Buffers = append(info.Buffers, types.BufferInfo{
				TargetID: parts[i].TargetID,
				Offset:   blk.Offset,
				Size:     blk.Size,
			})
			allocated += blk.Size
		}
		totalAllocated += allocated
		if allocated < want && i+1 < len(parts) {
			// Spill the remainder to the next sub-placement (spec.md section
			// 4.3 step 5).
			parts[i+1].Bytes += want - allocated
		}
	}
	return totalAllocated, nil
}

// overlap is one buffer's slice of an [offset, offset+size) request:
// relOff is the byte offset within the target buffer where the overlap
// begins; reqOff is the corresponding offset within the request's own
// byte range (payload or out); length is the overlap's byte length.
type overlap struct {
	buf    types.BufferInfo
	relOff int64
	reqOff int64
	length int64
}

// overlapsFor walks buffers (a blob's buffer list, concatenated in
// order starting at byte 0) and returns the sub-ranges that intersect
// [offset, offset+size).
func overlapsFor(buffers []types.BufferInfo, offset, size int64) []overlap {
	var out []overlap
	var bufStart int64
	for _, buf := range buffers {
		bufEnd := bufStart + buf.Size
		overlapStart := max64(offset, bufStart)
		overlapEnd := min64(offset+size, bufEnd)
		if overlapStart < overlapEnd {
			out = append(out, overlap{
				buf:    buf,
				relOff: overlapStart - bufStart,
				reqOff: overlapStart - offset,
				length: overlapEnd - overlapStart,
			})
		}
		bufStart = bufEnd
	}
	return out
}

// writeRange fans a write out across info.Buffers, writing only the
// portion of each buffer that overlaps [offset, offset+size) (spec.md
// section 4.3 step 6). Must be called with info.Lock held for write.
func (e *Engine) writeRange(ctx context.Context, info *types.BlobInfo, offset, size int64, payload []byte, score float64) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ov := range overlapsFor(info.Buffers, offset, size) {
		ov := ov
		g.Go(func() error {
			tgt, ok := e.targets.ByID(ov.buf.TargetID)
			if !ok {
				return fmt.Errorf("blobengine: write target %v not registered", ov.buf.TargetID)
			}
			_, err := tgt.Write(gctx, payload[ov.reqOff:ov.reqOff+ov.length], ov.buf.Offset+ov.relOff, ov.length)
			return err
		})
	}
	return g.Wait()
}

// Get implements spec.md section 4.4.
func (e *Engine) Get(ctx context.Context, tag ids.TagID, name string, blob ids.BlobID, offset, size int64, out []byte, flags types.Flags) (ids.BlobID, int64, error) {
	info, _, err := e.resolveBlob(ctx, tag, name, blob, true)
	if err != nil {
		return ids.BlobID{}, 0, err
	}

	if flags.Has(types.FlagShouldStage) && info.NeverStaged() {
		// Stage-in needs the write lock; taken and released up front since
		// stage-in-on-read only happens once per blob (before any write).
		if err := info.Lock.Lock(ctx); err != nil {
			return ids.BlobID{}, 0, err
		}
		err := e.maybeStageIn(ctx, tag, info, flags, info.Score)
		info.Lock.Unlock()
		if err != nil {
			return ids.BlobID{}, 0, err
		}
	}

	if err := info.Lock.RLock(ctx); err != nil {
		return ids.BlobID{}, 0, err
	}
	defer info.Lock.RUnlock()

	n, err := e.readRange(ctx, info, offset, size, out)
	if err != nil {
		return ids.BlobID{}, 0, err
	}

	info.ReadStats.Count++
	info.ReadStats.TotalBytes += int64(n)
	e.ring.Push(types.IOStat{Op: types.IORead, TagID: tag, BlobID: info.BlobID, Size: int64(n)})

	return info.BlobID, int64(n), nil
}

func (e *Engine) readRange(ctx context.Context, info *types.BlobInfo, offset, size int64, out []byte) (int, error) {
	if offset >= info.BlobSize {
		return 0, nil
	}
	if offset+size > info.BlobSize {
		size = info.BlobSize - offset
	}
	if size <= 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var total int
	for _, ov := range overlapsFor(info.Buffers, offset, size) {
		ov := ov
		total += int(ov.length)
		g.Go(func() error {
			tgt, ok := e.targets.ByID(ov.buf.TargetID)
			if !ok {
				return fmt.Errorf("blobengine: read target %v not registered", ov.buf.TargetID)
			}
			_, err := tgt.Read(gctx, out[ov.reqOff:ov.reqOff+ov.length], ov.buf.Offset+ov.relOff, ov.length)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// GetBlobScore returns a blob's current placement score under a read
// lock, without creating it if absent (spec.md section 3: BlobInfo.score;
// supplemented per SPEC_FULL.md section 10, grounded on the original's
// `GetBlobScore` accessor in original_source/include/hermes/bucket.h).
func (e *Engine) GetBlobScore(ctx context.Context, tag ids.TagID, name string, blob ids.BlobID) (float64, error) {
	info, _, err := e.resolveBlob(ctx, tag, name, blob, false)
	if err != nil {
		return 0, err
	}
	if err := info.Lock.RLock(ctx); err != nil {
		return 0, err
	}
	defer info.Lock.RUnlock()
	return info.Score, nil
}

// GetBlobSize returns a blob's current blob_size under a read lock.
func (e *Engine) GetBlobSize(ctx context.Context, tag ids.TagID, name string, blob ids.BlobID) (int64, error) {
	info, _, err := e.resolveBlob(ctx, tag, name, blob, false)
	if err != nil {
		return 0, err
	}
	if err := info.Lock.RLock(ctx); err != nil {
		return 0, err
	}
	defer info.Lock.RUnlock()
	return info.BlobSize, nil
}

// GetBlobBuffers returns a copy of a blob's buffer list under a read lock
// (spec.md section 8 P4/P6 test hook: lets a caller verify placement
// coverage and capacity credit directly against the buffer list).
func (e *Engine) GetBlobBuffers(ctx context.Context, tag ids.TagID, name string, blob ids.BlobID) ([]types.BufferInfo, error) {
	info, _, err := e.resolveBlob(ctx, tag, name, blob, false)
	if err != nil {
		return nil, err
	}
	if err := info.Lock.RLock(ctx); err != nil {
		return nil, err
	}
	defer info.Lock.RUnlock()
	out := make([]types.BufferInfo, len(info.Buffers))
	copy(out, info.Buffers)
	return out, nil
}

// ContainsBlob reports whether name resolves to an existing blob in tag,
// without creating one if it doesn't (spec.md section 4.4's Get always
// creates on miss; this accessor is the non-creating check the original
// exposes separately).
func (e *Engine) ContainsBlob(ctx context.Context, tag ids.TagID, name string) (bool, error) {
	_, _, err := e.resolveBlob(ctx, tag, name, ids.BlobID{}, false)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Destroy implements spec.md section 4.5 "Destroy".
func (e *Engine) Destroy(ctx context.Context, tag ids.TagID, name string, blob ids.BlobID, flags types.Flags) error {
	info, _, err := e.resolveBlob(ctx, tag, name, blob, false)
	if err != nil {
		return err
	}

	if err := info.Lock.Lock(ctx); err != nil {
		return err
	}
	for _, buf := range info.Buffers {
		tgt, ok := e.targets.ByID(buf.TargetID)
		if !ok {
			continue
		}
		if err := tgt.Free(ctx, types.Block{Offset: buf.Offset, Size: buf.Size}); err != nil {
			e.logger.Warn("blobengine: free on destroy failed", zap.Error(err))
		}
	}
	info.Lock.Unlock()

	if !flags.Has(types.FlagKeepInTag) {
		if err := e.tags.TagRemoveBlob(ctx, tag, info.BlobID); err != nil {
			return err
		}
	}

	if err := e.lane.BlobLock.Lock(ctx); err != nil {
		return err
	}
	e.lane.DeleteBlob(tag, info)
	e.lane.BlobLock.Unlock()
	return nil
}

// Truncate implements spec.md section 4.5 "Truncate": adjusts blob_size
// downward. Buffer reclamation is unspecified by the core and deferred,
// matching spec.md's explicit allowance.
func (e *Engine) Truncate(ctx context.Context, tag ids.TagID, name string, blob ids.BlobID, newSize int64) error {
	info, _, err := e.resolveBlob(ctx, tag, name, blob, false)
	if err != nil {
		return err
	}
	if err := info.Lock.Lock(ctx); err != nil {
		return err
	}
	defer info.Lock.Unlock()
	if newSize < info.BlobSize {
		info.BlobSize = newSize
		info.ModCount++
	}
	return nil
}

// Reorganize implements spec.md section 4.5 "Reorganize": re-score a
// blob by reading it whole and writing it back under the new score. The
// write-back goes through Put, which reuses the blob's existing buffers;
// the DPE is consulted only for capacity beyond them, so bytes already
// placed are not moved to other targets. This implementation runs
// synchronously and lets the caller decide whether to await it.
func (e *Engine) Reorganize(ctx context.Context, tag ids.TagID, name string, blob ids.BlobID, newScore float64, userFlag bool) error {
	info, _, err := e.resolveBlob(ctx, tag, name, blob, false)
	if err != nil {
		return err
	}

	if err := info.Lock.Lock(ctx); err != nil {
		return err
	}
	if userFlag {
		info.UserScore = newScore
	}
	info.Score = newScore
	size := info.BlobSize
	info.Lock.Unlock()

	if size <= 0 {
		return nil
	}
	scratch := make([]byte, size)
	if _, _, err := e.Get(ctx, tag, name, info.BlobID, 0, size, scratch, 0); err != nil {
		return fmt.Errorf("blobengine: reorganize read failed: %w", err)
	}
	if _, _, err := e.Put(ctx, tag, name, info.BlobID, 0, size, scratch, newScore, 0); err != nil {
		return fmt.Errorf("blobengine: reorganize write failed: %w", err)
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
