package accesslog

import (
	"testing"

	"github.com/hermes-cache/hermes/internal/types"
)

func TestPollReturnsAscendingSinceID(t *testing.T) {
	r := New(4)
	for i := 0; i < 3; i++ {
		r.Push(types.IOStat{Op: types.IOWrite, Size: int64(i)})
	}
	recs := r.PollAccessPattern(0)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.ID != uint64(i+1) {
			t.Fatalf("record %d has id %d, want %d", i, rec.ID, i+1)
		}
	}

	recs = r.PollAccessPattern(2)
	if len(recs) != 1 || recs[0].ID != 3 {
		t.Fatalf("poll since 2 = %+v, want single record id 3", recs)
	}
}

func TestPushOverwritesOldestOnOverflow(t *testing.T) {
	r := New(2)
	r.Push(types.IOStat{Size: 1})
	r.Push(types.IOStat{Size: 2})
	r.Push(types.IOStat{Size: 3}) // overflows, drops id 1

	recs := r.PollAccessPattern(0)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].ID != 2 || recs[1].ID != 3 {
		t.Fatalf("got ids %d,%d want 2,3", recs[0].ID, recs[1].ID)
	}
}

func TestLenTracksLiveEntries(t *testing.T) {
	r := New(4)
	if r.Len() != 0 {
		t.Fatalf("new ring len = %d, want 0", r.Len())
	}
	r.Push(types.IOStat{})
	r.Push(types.IOStat{})
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
}
