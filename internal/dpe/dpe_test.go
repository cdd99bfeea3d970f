package dpe

import (
	"testing"

	"github.com/hermes-cache/hermes/internal/types"
)

func targets() []types.TargetInfo {
	return []types.TargetInfo{
		{ID: types.TargetID(0), Name: "dram", Free: 100, MaxCap: 100, Score: 3, Healthy: true},
		{ID: types.TargetID(1), Name: "nvme", Free: 50, MaxCap: 200, Score: 2, Healthy: true},
		{ID: types.TargetID(2), Name: "s3", Free: 1 << 40, MaxCap: 1 << 40, Score: 0, Healthy: true},
	}
}

func TestPlaceFitsInHighestScoreTarget(t *testing.T) {
	e := New(GreedyScorePolicy{}, 2)
	schemas, err := e.Place([]int64{40}, targets(), Context{})
	if err != nil {
		t.Fatal(err)
	}
	s := schemas[0]
	if s.Total() != 40 {
		t.Fatalf("total = %d, want 40", s.Total())
	}
	if s.Parts[0].TargetID != types.TargetID(0) || s.Parts[0].Bytes != 40 {
		t.Fatalf("expected all 40 bytes on dram target, got %+v", s.Parts)
	}
	last := s.Parts[len(s.Parts)-1]
	if last.TargetID != types.TargetID(2) || last.Bytes != 0 {
		t.Fatalf("expected zero-sized fallback tail, got %+v", last)
	}
}

func TestPlaceSpillsOverInOrder(t *testing.T) {
	e := New(GreedyScorePolicy{}, 2)
	schemas, err := e.Place([]int64{130}, targets(), Context{})
	if err != nil {
		t.Fatal(err)
	}
	parts := schemas[0].Parts
	if len(parts) != 3 {
		t.Fatalf("expected 3 sub-placements, got %d: %+v", len(parts), parts)
	}
	if parts[0].TargetID != types.TargetID(0) || parts[0].Bytes != 100 {
		t.Fatalf("sub-placement 0 = %+v, want dram/100", parts[0])
	}
	if parts[1].TargetID != types.TargetID(1) || parts[1].Bytes != 30 {
		t.Fatalf("sub-placement 1 = %+v, want nvme/30", parts[1])
	}
	if parts[2].TargetID != types.TargetID(2) || parts[2].Bytes != 0 {
		t.Fatalf("fallback sub-placement = %+v, want s3/0", parts[2])
	}
	if schemas[0].Total() != 130 {
		t.Fatalf("total = %d, want 130", schemas[0].Total())
	}
}

func TestPlaceSpillsToFallbackWhenNonFallbackExhausted(t *testing.T) {
	e := New(GreedyScorePolicy{}, 2)
	schemas, err := e.Place([]int64{1000}, targets(), Context{})
	if err != nil {
		t.Fatal(err)
	}
	parts := schemas[0].Parts
	last := parts[len(parts)-1]
	if last.TargetID != types.TargetID(2) {
		t.Fatalf("last sub-placement should target fallback, got %+v", last)
	}
	if last.Bytes != 1000-150 {
		t.Fatalf("fallback absorbed %d, want %d", last.Bytes, 1000-150)
	}
}

func TestPlaceSkipsUnhealthyTargets(t *testing.T) {
	ts := targets()
	ts[0].Healthy = false
	e := New(GreedyScorePolicy{}, 2)
	schemas, err := e.Place([]int64{10}, ts, Context{})
	if err != nil {
		t.Fatal(err)
	}
	if schemas[0].Parts[0].TargetID != types.TargetID(1) {
		t.Fatalf("expected placement to skip unhealthy dram, got %+v", schemas[0].Parts)
	}
}

func TestPlaceRejectsBadFallbackIndex(t *testing.T) {
	e := New(GreedyScorePolicy{}, 99)
	if _, err := e.Place([]int64{10}, targets(), Context{}); err == nil {
		t.Fatal("expected error for out-of-range fallback index")
	}
}
