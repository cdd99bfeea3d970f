// Package dpe implements the Data Placement Engine (spec.md section 4.7):
// a pure function that, given a list of byte sizes to place, the live
// target stats, and a placement context (score), returns an ordered
// placement schema per size. Grounded on the teacher's
// internal/tier.PolicyEngine, which was also a pluggable, config-driven
// strategy object evaluated over a target/tier list — there it picked
// demotion candidates by age/size/count, here it picks an ordered target
// chain by score.
package dpe

import (
	"fmt"
	"sort"

	"github.com/hermes-cache/hermes/internal/types"
)

// SubPlacement is one (target, bytes) pair within a Schema.
type SubPlacement struct {
	TargetID types.TargetID
	Bytes    int64
}

// Schema is an ordered list of sub-placements summing to one requested
// size. Spec.md section 4.7 requires the targets be ordered so that a
// spillover from sub-placement i lands in sub-placement i+1, and that the
// final sub-placement is always the fallback (lowest) tier.
type Schema struct {
	Parts []SubPlacement
}

// Total returns the sum of bytes across all sub-placements.
func (s Schema) Total() int64 {
	var n int64
	for _, p := range s.Parts {
		n += p.Bytes
	}
	return n
}

// Context carries the placement priority for one Place call (spec.md
// section 4.7: "context {score, policy}").
type Context struct {
	Score float64
}

// Policy is the pluggable placement strategy. Implementations must
// preserve the spillover-chain and fallback-terminated properties spec.md
// mandates; Place itself (below) appends the fallback sub-placement, so a
// Policy only needs to order the non-fallback targets.
type Policy interface {
	// Order returns target indices (into targets) in the order sizes
	// should be attempted against them, highest-priority first. The
	// fallback target index is excluded by the caller before Order runs.
	Order(targets []types.TargetInfo, ctx Context) []int
}

// GreedyScorePolicy orders targets by descending TargetInfo.Score, ties
// broken by descending free capacity — "higher score means keep
// closer/faster" (spec.md section 3: Score glossary entry).
type GreedyScorePolicy struct{}

func (GreedyScorePolicy) Order(targets []types.TargetInfo, ctx Context) []int {
	idx := make([]int, len(targets))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ta, tb := targets[idx[a]], targets[idx[b]]
		if ta.Score != tb.Score {
			return ta.Score > tb.Score
		}
		return ta.Free > tb.Free
	})
	return idx
}

// Engine runs a Policy over a target list to build placement schemas.
type Engine struct {
	policy        Policy
	fallbackIndex int
}

// New constructs a placement engine. fallbackIndex names the target that
// absorbs spillover: Place always ends with a sub-placement on it for
// whatever the other targets could not take, regardless of its free space
// (spec.md section 4.7), so a full fallback target leaves that remainder
// unallocated.
func New(policy Policy, fallbackIndex int) *Engine {
	if policy == nil {
		policy = GreedyScorePolicy{}
	}
	return &Engine{policy: policy, fallbackIndex: fallbackIndex}
}

// Place computes one schema per requested size (spec.md section 4.7:
// "Output: one schema per input size").
func (e *Engine) Place(sizes []int64, targets []types.TargetInfo, ctx Context) ([]Schema, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("dpe: no targets configured")
	}
	if e.fallbackIndex < 0 || e.fallbackIndex >= len(targets) {
		return nil, fmt.Errorf("dpe: fallback index %d out of range", e.fallbackIndex)
	}

	nonFallback := make([]types.TargetInfo, 0, len(targets))
	nonFallbackIdx := make([]int, 0, len(targets))
	for i, t := range targets {
		if i == e.fallbackIndex || !t.Healthy {
			continue
		}
		nonFallback = append(nonFallback, t)
		nonFallbackIdx = append(nonFallbackIdx, i)
	}
	order := e.policy.Order(nonFallback, ctx)

	schemas := make([]Schema, len(sizes))
	for i, size := range sizes {
		var parts []SubPlacement
		remaining := size
		for _, oi := range order {
			if remaining <= 0 {
				break
			}
			t := nonFallback[oi]
			if t.Free <= 0 {
				continue
			}
			take := t.Free
			if take > remaining {
				take = remaining
			}
			parts = append(parts, SubPlacement{TargetID: targets[nonFallbackIdx[oi]].ID, Bytes: take})
			remaining -= take
		}
		// Fallback sub-placement: zero-sized unless spillover remains, per
		// spec.md section 4.3 step 4 ("Append a fallback sub-placement of
		// size 0 targeting the designated fallback target to absorb
		// spillover").
		parts = append(parts, SubPlacement{TargetID: targets[e.fallbackIndex].ID, Bytes: remaining})
		schemas[i] = Schema{Parts: parts}
	}
	return schemas, nil
}
