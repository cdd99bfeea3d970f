// Package coop provides cooperative, context-aware locks for code that must
// hold a lock across suspension points (target I/O, stager I/O, cross-node
// calls) without blocking an OS thread the way a plain sync.RWMutex would.
//
// Hermes's lane engine (spec.md 4.2, 5) suspends at every I/O call while
// still holding, e.g., a blob's rwlock across the whole write fan-out. A
// goroutine park on sync.RWMutex already yields the thread, but it cannot
// be cancelled: a caller stuck behind a wedged writer has no way out. RWMutex
// here is built on golang.org/x/sync/semaphore, whose Acquire takes a
// context and returns ctx.Err() if cancelled or timed out while waiting,
// which is exactly the "cancellable at suspension points" property spec.md
// section 5 requires of cooperative locks.
package coop

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// maxWeight bounds the number of concurrent readers a RWMutex allows. It is
// arbitrary but must be large enough that no realistic lane ever has more
// simultaneous readers of one blob.
const maxWeight = 1 << 20

// RWMutex is a reader/writer lock whose Lock/RLock take a context and can be
// cancelled while waiting, instead of blocking forever.
type RWMutex struct {
	sem *semaphore.Weighted
}

// NewRWMutex creates a ready-to-use cooperative RWMutex.
func NewRWMutex() *RWMutex {
	return &RWMutex{sem: semaphore.NewWeighted(maxWeight)}
}

// RLock acquires a read lock, yielding to the scheduler while waiting and
// returning early if ctx is cancelled.
func (m *RWMutex) RLock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// RUnlock releases a read lock acquired with RLock.
func (m *RWMutex) RUnlock() {
	m.sem.Release(1)
}

// Lock acquires the exclusive write lock.
func (m *RWMutex) Lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, maxWeight)
}

// Unlock releases a write lock acquired with Lock.
func (m *RWMutex) Unlock() {
	m.sem.Release(maxWeight)
}

// TryLock attempts to acquire the write lock without waiting.
func (m *RWMutex) TryLock() bool {
	return m.sem.TryAcquire(maxWeight)
}

// Mutex is a plain cooperative mutex (used for the lane's stager map lock),
// built the same way so it shares the cancellable-wait property.
type Mutex struct {
	sem *semaphore.Weighted
}

// NewMutex creates a ready-to-use cooperative mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: semaphore.NewWeighted(1)}
}

// Lock acquires the mutex.
func (m *Mutex) Lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	m.sem.Release(1)
}
