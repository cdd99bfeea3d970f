// Package tagengine implements the Tag Engine (spec.md section 4.6): tag
// CRUD, size accounting, and contained-blob list maintenance over a
// lane's tag map. Grounded on the teacher's internal/meta bucket-per-
// resource CRUD style, adapted from durable bbolt buckets to the
// in-memory, lock-guarded maps a lane.Lane owns.
package tagengine

import (
	"context"
	"fmt"

	"github.com/hermes-cache/hermes/internal/ids"
	"github.com/hermes-cache/hermes/internal/lane"
	"github.com/hermes-cache/hermes/internal/stage"
	"github.com/hermes-cache/hermes/internal/types"
	"go.uber.org/zap"
)

// Engine runs tag operations against one lane.
type Engine struct {
	lane   *lane.Lane
	ids    *ids.Allocator
	logger *zap.Logger
}

// New creates a tag engine bound to a single lane.
func New(l *lane.Lane, alloc *ids.Allocator, logger *zap.Logger) *Engine {
	return &Engine{lane: l, ids: alloc, logger: logger}
}

// GetOrCreateTag is atomic under the tag rwlock write lock (spec.md
// section 4.6): returns the existing tag if name is already known,
// otherwise mints {node_id, hash(name), next_unique}. It registers no
// stager, even when SHOULD_STAGE is set; stagers are added through
// RegisterStager on a single node, and nothing in this repository
// broadcasts a registration to other nodes.
func (e *Engine) GetOrCreateTag(ctx context.Context, name string, owner bool, backendSize int64, flags types.Flags) (*types.TagInfo, bool, error) {
	if err := e.lane.TagLock.Lock(ctx); err != nil {
		return nil, false, err
	}
	defer e.lane.TagLock.Unlock()

	if id, ok := e.lane.LookupTagByName(name); ok {
		info, _ := e.lane.TagByID(id)
		return info, false, nil
	}

	id := ids.TagID{NodeID: e.ids.Node(), Hash: ids.HashName(name), Unique: e.ids.Next()}
	info := &types.TagInfo{
		TagID:        id,
		Name:         name,
		Owner:        owner,
		InternalSize: backendSize,
		Flags:        flags,
	}
	e.lane.PutTag(info)
	return info, true, nil
}

// GetTagID resolves a tag's id by name under a read lock.
func (e *Engine) GetTagID(ctx context.Context, name string) (ids.TagID, bool, error) {
	if err := e.lane.TagLock.RLock(ctx); err != nil {
		return ids.TagID{}, false, err
	}
	defer e.lane.TagLock.RUnlock()
	id, ok := e.lane.LookupTagByName(name)
	return id, ok, nil
}

// GetTagName resolves a tag's name by id under a read lock.
func (e *Engine) GetTagName(ctx context.Context, id ids.TagID) (string, bool, error) {
	if err := e.lane.TagLock.RLock(ctx); err != nil {
		return "", false, err
	}
	defer e.lane.TagLock.RUnlock()
	info, ok := e.lane.TagByID(id)
	if !ok {
		return "", false, nil
	}
	return info.Name, true, nil
}

// TagGetSize returns the tag's internal_size under a read lock.
func (e *Engine) TagGetSize(ctx context.Context, id ids.TagID) (int64, error) {
	if err := e.lane.TagLock.RLock(ctx); err != nil {
		return 0, err
	}
	defer e.lane.TagLock.RUnlock()
	info, ok := e.lane.TagByID(id)
	if !ok {
		return 0, fmt.Errorf("tagengine: tag %s not found", id)
	}
	return info.InternalSize, nil
}

// TagGetContainedBlobIds returns a copy of the tag's blob list.
func (e *Engine) TagGetContainedBlobIds(ctx context.Context, id ids.TagID) ([]ids.BlobID, error) {
	if err := e.lane.TagLock.RLock(ctx); err != nil {
		return nil, err
	}
	defer e.lane.TagLock.RUnlock()
	info, ok := e.lane.TagByID(id)
	if !ok {
		return nil, fmt.Errorf("tagengine: tag %s not found", id)
	}
	out := make([]ids.BlobID, len(info.Blobs))
	copy(out, info.Blobs)
	return out, nil
}

// TagAddBlob appends blob to the tag's list under the tag write lock,
// skipping duplicates (spec.md section 3 invariant: "blobs contains no
// duplicates").
func (e *Engine) TagAddBlob(ctx context.Context, tag ids.TagID, blob ids.BlobID) error {
	if err := e.lane.TagLock.Lock(ctx); err != nil {
		return err
	}
	defer e.lane.TagLock.Unlock()
	info, ok := e.lane.TagByID(tag)
	if !ok {
		return fmt.Errorf("tagengine: tag %s not found", tag)
	}
	if !info.ContainsBlob(blob) {
		info.Blobs = append(info.Blobs, blob)
	}
	return nil
}

// TagRemoveBlob removes blob from the tag's list under the tag write
// lock.
func (e *Engine) TagRemoveBlob(ctx context.Context, tag ids.TagID, blob ids.BlobID) error {
	if err := e.lane.TagLock.Lock(ctx); err != nil {
		return err
	}
	defer e.lane.TagLock.Unlock()
	info, ok := e.lane.TagByID(tag)
	if !ok {
		return fmt.Errorf("tagengine: tag %s not found", tag)
	}
	for i, b := range info.Blobs {
		if b == blob {
			info.Blobs = append(info.Blobs[:i], info.Blobs[i+1:]...)
			break
		}
	}
	return nil
}

// TagUpdateSize applies a size update under the tag write lock: Add adds
// a signed delta; Cap sets internal_size to max(current, delta) (spec.md
// section 4.6).
func (e *Engine) TagUpdateSize(ctx context.Context, tag ids.TagID, delta int64, mode types.SizeUpdateMode) error {
	if err := e.lane.TagLock.Lock(ctx); err != nil {
		return err
	}
	defer e.lane.TagLock.Unlock()
	info, ok := e.lane.TagByID(tag)
	if !ok {
		return fmt.Errorf("tagengine: tag %s not found", tag)
	}
	switch mode {
	case types.SizeAdd:
		info.InternalSize += delta
	case types.SizeCap:
		if delta > info.InternalSize {
			info.InternalSize = delta
		}
	}
	return nil
}

// TagClearBlobs destroys every contained blob (fire-and-forget via
// destroyBlob) then clears the list and zeroes internal_size (spec.md
// section 4.6).
func (e *Engine) TagClearBlobs(ctx context.Context, tag ids.TagID, destroyBlob func(ids.BlobID) error) error {
	if err := e.lane.TagLock.Lock(ctx); err != nil {
		return err
	}
	info, ok := e.lane.TagByID(tag)
	if !ok {
		e.lane.TagLock.Unlock()
		return fmt.Errorf("tagengine: tag %s not found", tag)
	}
	blobs := append([]ids.BlobID(nil), info.Blobs...)
	info.Blobs = nil
	info.InternalSize = 0
	e.lane.TagLock.Unlock()

	for _, b := range blobs {
		go func(id ids.BlobID) {
			if err := destroyBlob(id); err != nil {
				e.logger.Warn("tagengine: clear-blobs destroy failed", zap.Error(err))
			}
		}(b)
	}
	return nil
}

// DestroyTag drops the tag from both maps and, if the tag is an owner,
// destroys its contained blobs before returning (spec.md section 4.6).
// Stagers registered for the tag's name are left in the registry.
func (e *Engine) DestroyTag(ctx context.Context, tag ids.TagID, destroyBlob func(ids.BlobID) error) error {
	if err := e.lane.TagLock.Lock(ctx); err != nil {
		return err
	}
	info, ok := e.lane.TagByID(tag)
	if !ok {
		e.lane.TagLock.Unlock()
		return fmt.Errorf("tagengine: tag %s not found", tag)
	}
	blobs := append([]ids.BlobID(nil), info.Blobs...)
	e.lane.DeleteTag(info)
	e.lane.TagLock.Unlock()

	if info.Owner {
		for _, b := range blobs {
			if err := destroyBlob(b); err != nil {
				e.logger.Warn("tagengine: destroy-tag cascade failed", zap.Error(err))
			}
		}
	}
	return nil
}

// TagFlush invokes flushBlob on every blob contained in tag (spec.md
// section 4.6).
func (e *Engine) TagFlush(ctx context.Context, tag ids.TagID, flushBlob func(context.Context, ids.BlobID) error) error {
	blobIDs, err := e.TagGetContainedBlobIds(ctx, tag)
	if err != nil {
		return err
	}
	for _, b := range blobIDs {
		if err := flushBlob(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// RegisterStager wires a stager into this node's registry for a tag name
// pattern (spec.md section 4.6: "RegisterStager(tag_id, name, params) so
// every node materialises the plugin").
func (e *Engine) RegisterStager(pattern string, s stage.Stager) {
	e.lane.Stagers.Register(pattern, s)
}
