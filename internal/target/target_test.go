package target

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/types"
	"go.uber.org/zap"
)

func TestMemoryTargetAllocateWriteRead(t *testing.T) {
	ctx := context.Background()
	mt := NewMemoryTarget(1, config.TargetConfig{Name: "dram", Capacity: 1024, Score: 1}, 256, zap.NewNop())

	blocks, err := mt.Allocate(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if total := totalSize(blocks); total != 100 {
		t.Fatalf("allocated %d bytes, want 100", total)
	}

	payload := []byte("hello world, this is a test payload")
	if _, err := mt.Write(ctx, payload, blocks[0].Offset, int64(len(payload))); err != nil {
		t.Fatal(err)
	}

	out := make([]byte, len(payload))
	n, err := mt.Read(ctx, out, blocks[0].Offset, int64(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) || string(out) != string(payload) {
		t.Fatalf("read back %q, want %q", out[:n], payload)
	}

	st, err := mt.PollStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Free != 1024-100 {
		t.Fatalf("free = %d, want %d", st.Free, 1024-100)
	}

	if err := mt.Free(ctx, blocks[0]); err != nil {
		t.Fatal(err)
	}
	st, _ = mt.PollStats(ctx)
	if st.Free != 1024 {
		t.Fatalf("after free, free = %d, want 1024", st.Free)
	}
}

func TestFileTargetAllocateWriteRead(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ft, err := NewFileTarget(2, config.TargetConfig{
		Name:       "nvme",
		MountPoint: filepath.Join(dir, "nvme"),
		Capacity:   4096,
		Score:      0.5,
	}, 512, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer ft.Close()

	blocks, err := ft.Allocate(ctx, 600)
	if err != nil {
		t.Fatal(err)
	}
	if totalSize(blocks) != 600 {
		t.Fatalf("allocated %d, want 600", totalSize(blocks))
	}

	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i)
	}

	written := int64(0)
	for _, b := range blocks {
		n, err := ft.Write(ctx, payload[written:written+b.Size], b.Offset, b.Size)
		if err != nil || int64(n) != b.Size {
			t.Fatalf("write: n=%d err=%v", n, err)
		}
		written += b.Size
	}

	out := make([]byte, 600)
	read := int64(0)
	for _, b := range blocks {
		n, err := ft.Read(ctx, out[read:read+b.Size], b.Offset, b.Size)
		if err != nil || int64(n) != b.Size {
			t.Fatalf("read: n=%d err=%v", n, err)
		}
		read += b.Size
	}
	for i := range payload {
		if out[i] != payload[i] {
			t.Fatalf("mismatch at byte %d: got %d want %d", i, out[i], payload[i])
		}
	}
}

func totalSize(blocks []types.Block) int64 {
	var n int64
	for _, b := range blocks {
		n += b.Size
	}
	return n
}
