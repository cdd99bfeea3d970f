package blobengine

import (
	"context"
	"testing"

	"github.com/hermes-cache/hermes/internal/accesslog"
	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/dpe"
	"github.com/hermes-cache/hermes/internal/ids"
	"github.com/hermes-cache/hermes/internal/lane"
	"github.com/hermes-cache/hermes/internal/stage"
	"github.com/hermes-cache/hermes/internal/tagengine"
	"github.com/hermes-cache/hermes/internal/target"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) (*Engine, *tagengine.Engine, context.Context) {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	dram := target.NewMemoryTarget(0, config.TargetConfig{Name: "dram", Capacity: 1024, Score: 2}, 256, logger)
	fallback := target.NewMemoryTarget(1, config.TargetConfig{Name: "fallback", Capacity: 1 << 20, Score: 0}, 4096, logger)

	reg, err := target.NewRegistry(ctx, []target.Target{dram, fallback}, logger)
	if err != nil {
		t.Fatal(err)
	}
	placer := dpe.New(dpe.GreedyScorePolicy{}, 1)

	node := ids.NewNodeID()
	alloc := ids.NewAllocator(node)
	stagers, err := stage.NewRegistry(nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	l := lane.New(0, stagers)
	tags := tagengine.New(l, alloc, logger)
	ring := accesslog.New(64)

	return New(l, alloc, reg, placer, tags, ring, logger), tags, ctx
}

func TestPutThenGetRoundTrip(t *testing.T) {
	e, tags, ctx := newTestEngine(t)

	tag, created, err := tags.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected tag to be newly created")
	}

	payload := []byte("hello hermes")
	blobID, n, err := e.Put(ctx, tag.TagID, "b1", ids.BlobID{}, 0, int64(len(payload)), payload, 1.0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("wrote %d bytes, want %d", n, len(payload))
	}

	out := make([]byte, len(payload))
	_, read, err := e.Get(ctx, tag.TagID, "b1", blobID, 0, int64(len(out)), out, 0)
	if err != nil {
		t.Fatal(err)
	}
	if read != int64(len(payload)) || string(out) != string(payload) {
		t.Fatalf("read back %q (%d bytes), want %q", out[:read], read, payload)
	}
}

func TestPartialPutDoesNotClobberSurroundingBytes(t *testing.T) {
	e, tags, ctx := newTestEngine(t)
	tag, _, err := tags.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	full := []byte("0123456789")
	blobID, _, err := e.Put(ctx, tag.TagID, "b1", ids.BlobID{}, 0, int64(len(full)), full, 1.0, 0)
	if err != nil {
		t.Fatal(err)
	}

	patch := []byte("XYZ")
	if _, _, err := e.Put(ctx, tag.TagID, "b1", blobID, 3, int64(len(patch)), patch, 1.0, 0); err != nil {
		t.Fatal(err)
	}

	out := make([]byte, 10)
	if _, _, err := e.Get(ctx, tag.TagID, "b1", blobID, 0, 10, out, 0); err != nil {
		t.Fatal(err)
	}
	want := "012XYZ6789"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestPutSpillsAcrossTargetsWhenFirstExhausted(t *testing.T) {
	e, tags, ctx := newTestEngine(t)
	tag, _, err := tags.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 2000) // dram only has 1024 bytes capacity
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	blobID, n, err := e.Put(ctx, tag.TagID, "big", ids.BlobID{}, 0, int64(len(payload)), payload, 1.0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("wrote %d, want %d", n, len(payload))
	}

	out := make([]byte, len(payload))
	if _, _, err := e.Get(ctx, tag.TagID, "big", blobID, 0, int64(len(out)), out, 0); err != nil {
		t.Fatal(err)
	}
	for i := range payload {
		if out[i] != payload[i] {
			t.Fatalf("mismatch at byte %d: got %d want %d", i, out[i], payload[i])
		}
	}
}

func TestDestroyFreesBuffersAndRemovesFromTag(t *testing.T) {
	e, tags, ctx := newTestEngine(t)
	tag, _, err := tags.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("data")
	blobID, _, err := e.Put(ctx, tag.TagID, "b1", ids.BlobID{}, 0, int64(len(payload)), payload, 1.0, 0)
	if err != nil {
		t.Fatal(err)
	}

	e.targets.Refresh(ctx)
	statsBeforeDestroy := e.targets.Stats()
	var freeBeforeDestroy int64
	for _, st := range statsBeforeDestroy {
		freeBeforeDestroy += st.Free
	}

	if err := e.Destroy(ctx, tag.TagID, "b1", blobID, 0); err != nil {
		t.Fatal(err)
	}

	if _, _, err := e.Get(ctx, tag.TagID, "b1", blobID, 0, 4, make([]byte, 4), 0); err == nil {
		t.Fatal("expected Get on destroyed blob to fail")
	}

	// spec.md section 8 P6 / scenario 6: destroying a blob credits its
	// buffers' space back to each target's free capacity.
	e.targets.Refresh(ctx)
	statsAfterDestroy := e.targets.Stats()
	var freeAfterDestroy int64
	for _, st := range statsAfterDestroy {
		freeAfterDestroy += st.Free
	}
	if freeAfterDestroy != freeBeforeDestroy+int64(len(payload)) {
		t.Fatalf("free capacity after destroy = %d, want %d (before %d + freed %d)",
			freeAfterDestroy, freeBeforeDestroy+int64(len(payload)), freeBeforeDestroy, len(payload))
	}
}

func TestPutReturnsZeroBytesWrittenWhenAllTargetsExhausted(t *testing.T) {
	// spec.md section 7 AllocationFailure: "every target returns zero
	// bytes -> Put returns bytes_written = 0 (no partial commit)".
	ctx := context.Background()
	logger := zap.NewNop()

	full := target.NewMemoryTarget(0, config.TargetConfig{Name: "dram", Capacity: 0, Score: 2}, 256, logger)
	fallbackFull := target.NewMemoryTarget(1, config.TargetConfig{Name: "fallback", Capacity: 0, Score: 0}, 4096, logger)

	reg, err := target.NewRegistry(ctx, []target.Target{full, fallbackFull}, logger)
	if err != nil {
		t.Fatal(err)
	}
	placer := dpe.New(dpe.GreedyScorePolicy{}, 1)

	node := ids.NewNodeID()
	alloc := ids.NewAllocator(node)
	stagers, err := stage.NewRegistry(nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	l := lane.New(0, stagers)
	tags := tagengine.New(l, alloc, logger)
	ring := accesslog.New(64)

	e := New(l, alloc, reg, placer, tags, ring, logger)

	tag, _, err := tags.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("no room anywhere")
	blobID, n, err := e.Put(ctx, tag.TagID, "b1", ids.BlobID{}, 0, int64(len(payload)), payload, 1.0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("bytes_written = %d, want 0 (no partial commit)", n)
	}

	if bid, ok := l.LookupBlobByName(tag.TagID, "b1"); ok {
		if info, ok := l.BlobByID(bid); ok && (info.BlobSize != 0 || info.MaxBlobSize != 0) {
			t.Fatalf("blob_size/max_blob_size = %d/%d, want 0/0 after allocation failure", info.BlobSize, info.MaxBlobSize)
		}
	}

	out := make([]byte, len(payload))
	_, read, err := e.Get(ctx, tag.TagID, "b1", blobID, 0, int64(len(out)), out, 0)
	if err != nil {
		t.Fatal(err)
	}
	if read != 0 {
		t.Fatalf("read %d bytes back, want 0 (nothing was ever written)", read)
	}
}

func TestReadOnlyAccessorsReportStateWithoutCreating(t *testing.T) {
	e, tags, ctx := newTestEngine(t)
	tag, _, err := tags.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if ok, err := e.ContainsBlob(ctx, tag.TagID, "b1"); err != nil || ok {
		t.Fatalf("ContainsBlob on missing blob = %v, %v, want false, nil", ok, err)
	}

	payload := []byte("hello")
	blobID, _, err := e.Put(ctx, tag.TagID, "b1", ids.BlobID{}, 0, int64(len(payload)), payload, 0.5, 0)
	if err != nil {
		t.Fatal(err)
	}

	if ok, err := e.ContainsBlob(ctx, tag.TagID, "b1"); err != nil || !ok {
		t.Fatalf("ContainsBlob on existing blob = %v, %v, want true, nil", ok, err)
	}
	if score, err := e.GetBlobScore(ctx, tag.TagID, "b1", blobID); err != nil || score != 0.5 {
		t.Fatalf("GetBlobScore = %v, %v, want 0.5, nil", score, err)
	}
	if size, err := e.GetBlobSize(ctx, tag.TagID, "b1", blobID); err != nil || size != int64(len(payload)) {
		t.Fatalf("GetBlobSize = %v, %v, want %d, nil", size, err, len(payload))
	}
	buffers, err := e.GetBlobBuffers(ctx, tag.TagID, "b1", blobID)
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, b := range buffers {
		total += b.Size
	}
	if total < int64(len(payload)) {
		t.Fatalf("buffers sum to %d bytes, want at least %d", total, len(payload))
	}
}

func TestGetPastBlobSizeReturnsShortRead(t *testing.T) {
	e, tags, ctx := newTestEngine(t)
	tag, _, err := tags.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("abc")
	blobID, _, err := e.Put(ctx, tag.TagID, "b1", ids.BlobID{}, 0, int64(len(payload)), payload, 1.0, 0)
	if err != nil {
		t.Fatal(err)
	}

	out := make([]byte, 10)
	_, n, err := e.Get(ctx, tag.TagID, "b1", blobID, 0, 10, out, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("read %d bytes, want 3 (short read at blob end)", n)
	}
}

func TestTruncateShrinksBlobSize(t *testing.T) {
	e, tags, ctx := newTestEngine(t)
	tag, _, err := tags.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("0123456789")
	blobID, _, err := e.Put(ctx, tag.TagID, "b1", ids.BlobID{}, 0, int64(len(payload)), payload, 1.0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Truncate(ctx, tag.TagID, "b1", blobID, 4); err != nil {
		t.Fatal(err)
	}

	out := make([]byte, 10)
	_, n, err := e.Get(ctx, tag.TagID, "b1", blobID, 0, 10, out, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("read %d bytes after truncate, want 4", n)
	}
}
