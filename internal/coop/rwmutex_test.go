package coop

import (
	"context"
	"testing"
	"time"
)

func TestRWMutexMultipleReaders(t *testing.T) {
	m := NewRWMutex()
	ctx := context.Background()

	if err := m.RLock(ctx); err != nil {
		t.Fatalf("first RLock: %v", err)
	}
	if err := m.RLock(ctx); err != nil {
		t.Fatalf("second concurrent RLock should not block: %v", err)
	}
	m.RUnlock()
	m.RUnlock()
}

func TestRWMutexWriterExcludesReaders(t *testing.T) {
	m := NewRWMutex()
	ctx := context.Background()

	if err := m.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.RLock(cctx); err == nil {
		t.Fatal("expected RLock to block while writer holds the lock")
	}
	m.Unlock()
}

func TestRWMutexCancellable(t *testing.T) {
	m := NewRWMutex()
	ctx := context.Background()
	if err := m.Lock(ctx); err != nil {
		t.Fatal(err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Lock(cctx) }()

	cancel()
	if err := <-done; err == nil {
		t.Fatal("expected cancelled Lock to return an error")
	}
	m.Unlock()
}

func TestMutex(t *testing.T) {
	m := NewMutex()
	ctx := context.Background()
	if err := m.Lock(ctx); err != nil {
		t.Fatal(err)
	}
	m.Unlock()
	if err := m.Lock(ctx); err != nil {
		t.Fatal(err)
	}
	m.Unlock()
}
