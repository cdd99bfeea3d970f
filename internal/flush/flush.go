// Package flush implements the Flush Loop (spec.md section 4.8): a
// periodic task that walks every blob in every lane and, for blobs whose
// modification count exceeds their last-flushed count, reads them back
// whole and hands them to their tag's stager. Grounded on the teacher's
// internal/lifecycle.Manager periodic ticker loop, adapted from a
// retention-cutoff GC walk to a dirty-blob stage-out walk.
package flush

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hermes-cache/hermes/internal/blobengine"
	"github.com/hermes-cache/hermes/internal/ids"
	"github.com/hermes-cache/hermes/internal/lane"
	"github.com/hermes-cache/hermes/internal/tagengine"
	"go.uber.org/zap"
)

// LaneEngines bundles one lane with the blob/tag engines bound to it,
// since blobengine.Engine and tagengine.Engine are each constructed
// against a single lane.
type LaneEngines struct {
	Lane  *lane.Lane
	Blobs *blobengine.Engine
	Tags  *tagengine.Engine
}

// Loop periodically flushes every dirty blob across a node's lanes.
type Loop struct {
	engines []LaneEngines
	period  time.Duration
	logger  *zap.Logger

	pendingFlushes atomic.Int64
	draining       atomic.Bool
}

// New creates a flush loop over the given lanes. period is typically
// config.Config.FlushPeriod; zero or negative falls back to 5 seconds
// (spec.md section 4.8: "scheduled periodically, default 5 seconds").
func New(engines []LaneEngines, period time.Duration, logger *zap.Logger) *Loop {
	if period <= 0 {
		period = 5 * time.Second
	}
	return &Loop{engines: engines, period: period, logger: logger}
}

// Run ticks every period, flushing every dirty blob, until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Cycle(ctx)
		}
	}
}

// Cycle runs one flush pass over every lane (spec.md section 4.8).
func (l *Loop) Cycle(ctx context.Context) {
	draining := l.draining.Load()
	for _, le := range l.engines {
		if err := le.Lane.BlobLock.RLock(ctx); err != nil {
			return
		}
		blobs := le.Lane.AllBlobs()
		le.Lane.BlobLock.RUnlock()

		for _, b := range blobs {
			if err := b.Lock.RLock(ctx); err != nil {
				return
			}
			dirty := b.Dirty()
			tag, blob := b.TagID, b.BlobID
			b.Lock.RUnlock()
			if !dirty {
				continue
			}
			if err := l.flushOne(ctx, le, tag, blob); err != nil {
				l.logger.Warn("flush: blob flush failed", zap.Error(err))
				continue
			}
			if draining {
				l.pendingFlushes.Add(1)
			}
		}
	}
}

// FlushBlob flushes a single blob by id, looking up which lane owns it.
// It takes the tag as well as the blob, so it does not match the
// func(context.Context, ids.BlobID) error callback tagengine.Engine.TagFlush
// takes; a caller passing it there binds the tag in a closure.
func (l *Loop) FlushBlob(ctx context.Context, tag ids.TagID, blob ids.BlobID) error {
	for _, le := range l.engines {
		if _, ok := le.Lane.BlobByID(blob); ok {
			return l.flushOne(ctx, le, tag, blob)
		}
	}
	return fmt.Errorf("flush: blob %s not owned by any local lane", blob)
}

// flushOne implements spec.md section 4.8's per-blob FlushBlob: read the
// whole blob locally, hand it to the tag's stager, then advance
// last_flush to the mod_count observed at read time (so a write that
// lands between the read and the bookkeeping update is not lost —
// last_flush only ever catches up to what was actually staged out).
func (l *Loop) flushOne(ctx context.Context, le LaneEngines, tag ids.TagID, blob ids.BlobID) error {
	info, ok := le.Lane.BlobByID(blob)
	if !ok {
		return fmt.Errorf("flush: blob %s not found", blob)
	}

	if err := info.Lock.RLock(ctx); err != nil {
		return err
	}
	size := info.BlobSize
	modCount := info.ModCount
	name := info.Name
	info.Lock.RUnlock()

	if size <= 0 {
		return nil
	}

	tagName, ok, err := le.Tags.GetTagName(ctx, tag)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("flush: tag %s not found", tag)
	}
	stager, ok := le.Lane.Stagers.Lookup(tagName)
	if !ok {
		l.logger.Warn("flush: dirty blob has no stager, skipping", zap.String("tag", tagName))
		return nil
	}

	scratch := make([]byte, size)
	if _, _, err := le.Blobs.Get(ctx, tag, name, blob, 0, size, scratch, 0); err != nil {
		return fmt.Errorf("flush: read blob for stage-out: %w", err)
	}
	if err := stager.StageOut(ctx, tagName, name, scratch); err != nil {
		return fmt.Errorf("flush: stage-out failed: %w", err)
	}

	if err := info.Lock.Lock(ctx); err != nil {
		return err
	}
	if info.ModCount < modCount {
		modCount = info.ModCount
	}
	info.LastFlush = modCount
	info.Lock.Unlock()
	return nil
}

// SetDraining marks the loop as being under a drain/flush signal so
// cycles increment the pending-flush counter (spec.md section 4.8: "if
// the worker is under a drain/flush signal, increment a pending-flush
// counter so the orchestrator knows work remains").
func (l *Loop) SetDraining(draining bool) {
	l.draining.Store(draining)
}

// PendingFlushes returns the count accumulated while draining.
func (l *Loop) PendingFlushes() int64 {
	return l.pendingFlushes.Load()
}
