// Package target implements the storage-target clients the spec treats as
// an external collaborator (spec.md section 6: "Target client:
// Allocate(size) -> [Block], Write(buf, off, len), Read(buf, off, len),
// Free(Block), PollStats() -> {free, max_cap, write_bw, write_latency}").
// Three concrete speed/capacity tiers are provided — memory, file, and
// blob — so the Data Placement Engine (package dpe) has real heterogeneity
// to place across (spec.md section 9: "Target ... tagged variants with a
// common capability set").
package target

import (
	"context"
	"fmt"
	"sync"

	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/types"
	"go.uber.org/zap"
)

// Target is the capability set a storage target exposes to the Blob Engine
// and the Data Placement Engine. It is exactly types.TargetClient, named
// locally so implementations in this package read naturally.
type Target = types.TargetClient

// New constructs a Target from its configuration.
func New(ctx context.Context, cfg config.TargetConfig, id types.TargetID, logger *zap.Logger) (Target, error) {
	slab := defaultSlabSize
	if len(cfg.SlabSizes) > 0 {
		slab = int64(cfg.SlabSizes[0])
	}
	switch cfg.Kind {
	case config.TargetKindMemory:
		return NewMemoryTarget(id, cfg, slab, logger), nil
	case config.TargetKindFile:
		return NewFileTarget(id, cfg, slab, logger)
	case config.TargetKindBlob:
		return NewBlobTarget(ctx, id, cfg, slab, logger)
	default:
		return nil, fmt.Errorf("target: unknown kind %q for target %q", cfg.Kind, cfg.Name)
	}
}

// Registry is the in-memory table of storage targets with live
// capacity/bandwidth/latency stats pulled from each target client
// (spec.md section 2, component 1).
type Registry struct {
	mu      sync.RWMutex
	targets []Target
	stats   []types.TargetInfo
	logger  *zap.Logger
}

// NewRegistry builds a registry from already-constructed targets, polling
// each once to seed its initial stats.
func NewRegistry(ctx context.Context, targets []Target, logger *zap.Logger) (*Registry, error) {
	r := &Registry{targets: targets, stats: make([]types.TargetInfo, len(targets)), logger: logger}
	for i, t := range targets {
		st, err := t.PollStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("polling initial stats for target %d: %w", i, err)
		}
		r.stats[i] = st
	}
	return r, nil
}

// Targets returns the target clients in configured order (the order that
// matters for DPE spillover chaining, spec.md section 4.7).
func (r *Registry) Targets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Stats returns the last-polled TargetInfo for every target, in the same
// order as Targets().
func (r *Registry) Stats() []types.TargetInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TargetInfo, len(r.stats))
	copy(out, r.stats)
	return out
}

// Refresh re-polls every target's live stats. TargetUnavailable (spec.md
// section 7) marks a target unhealthy rather than failing the refresh, so
// the DPE can simply skip it.
func (r *Registry) Refresh(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.targets {
		st, err := t.PollStats(ctx)
		if err != nil {
			r.logger.Warn("target unavailable, marking unhealthy", zap.Int("target", i), zap.Error(err))
			r.stats[i].Healthy = false
			continue
		}
		st.Healthy = true
		r.stats[i] = st
	}
}

// ByID returns the target with the given id, if registered.
func (r *Registry) ByID(id types.TargetID) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.targets {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}
