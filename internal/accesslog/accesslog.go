// Package accesslog implements the access-pattern log (spec.md section
// 4.9): a bounded multi-producer single-consumer ring of IOStat records
// used for telemetry and tiering feedback. Grounded on the teacher's
// internal/metrics package, which likewise kept a small in-memory ring of
// recent events behind a mutex for a /metrics-adjacent polling API;
// adapted here from a Prometheus-only push model to a pollable ring
// serving PollAccessPattern(since_id); no Prometheus counter is fed from
// the ring.
package accesslog

import (
	"sync"
	"sync/atomic"

	"github.com/hermes-cache/hermes/internal/types"
)

// Ring is a bounded, overwrite-oldest-on-overflow ring buffer of IOStat
// records. Safe for concurrent Push from many lane goroutines and
// concurrent Poll from one consumer.
type Ring struct {
	mu     sync.Mutex
	buf    []types.IOStat
	head   int // index of the oldest live entry
	size   int // number of live entries, <= len(buf)
	nextID atomic.Uint64
}

// New creates a ring of the given depth (spec.md section 4.9: "default
// 8192 entries").
func New(depth int) *Ring {
	if depth <= 0 {
		depth = 8192
	}
	return &Ring{buf: make([]types.IOStat, depth)}
}

// Push appends a record, assigning it the next monotonic id (spec.md
// section 4.9: "id is assigned by the ring"). On overflow the oldest
// entry is silently dropped. The ID field of rec is overwritten.
func (r *Ring) Push(rec types.IOStat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = r.nextID.Add(1)
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = rec
		r.size++
		return
	}
	// Full: overwrite the oldest slot and advance head (spec.md section
	// 4.9: "on overflow, oldest entries are overwritten").
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
}

// PollAccessPattern returns records with id > sinceID in ascending id
// order (spec.md section 4.9).
func (r *Ring) PollAccessPattern(sinceID uint64) []types.IOStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.IOStat, 0, r.size)
	for i := 0; i < r.size; i++ {
		rec := r.buf[(r.head+i)%len(r.buf)]
		if rec.ID > sinceID {
			out = append(out, rec)
		}
	}
	return out
}

// Len reports the number of live entries currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
