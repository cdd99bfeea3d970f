package tagengine

import (
	"context"
	"testing"

	"github.com/hermes-cache/hermes/internal/ids"
	"github.com/hermes-cache/hermes/internal/lane"
	"github.com/hermes-cache/hermes/internal/stage"
	"github.com/hermes-cache/hermes/internal/types"
	"go.uber.org/zap"
)

func newTestTagEngine(t *testing.T) (*Engine, context.Context) {
	t.Helper()
	stagers, err := stage.NewRegistry(nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	l := lane.New(0, stagers)
	alloc := ids.NewAllocator(ids.NewNodeID())
	return New(l, alloc, zap.NewNop()), context.Background()
}

func TestGetOrCreateTagCreatesOnceThenReturnsExisting(t *testing.T) {
	e, ctx := newTestTagEngine(t)

	first, created, err := e.GetOrCreateTag(ctx, "models", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected first call to create the tag")
	}

	second, created, err := e.GetOrCreateTag(ctx, "models", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("expected second call to find the existing tag")
	}
	if second.TagID != first.TagID {
		t.Fatalf("got different tag id on re-lookup: %v vs %v", second.TagID, first.TagID)
	}
}

func TestTagAddBlobSkipsDuplicates(t *testing.T) {
	e, ctx := newTestTagEngine(t)
	tag, _, err := e.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	blob := ids.BlobID{NodeID: ids.NewNodeID(), Hash: ids.HashName("t1", "b1"), Unique: 1}
	if err := e.TagAddBlob(ctx, tag.TagID, blob); err != nil {
		t.Fatal(err)
	}
	if err := e.TagAddBlob(ctx, tag.TagID, blob); err != nil {
		t.Fatal(err)
	}

	blobs, err := e.TagGetContainedBlobIds(ctx, tag.TagID)
	if err != nil {
		t.Fatal(err)
	}
	if len(blobs) != 1 {
		t.Fatalf("got %d blobs, want 1 (duplicate should be skipped): %+v", len(blobs), blobs)
	}
}

func TestTagUpdateSizeAddAccumulatesAndCapTakesMax(t *testing.T) {
	e, ctx := newTestTagEngine(t)
	tag, _, err := e.GetOrCreateTag(ctx, "t1", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.TagUpdateSize(ctx, tag.TagID, 100, types.SizeAdd); err != nil {
		t.Fatal(err)
	}
	if err := e.TagUpdateSize(ctx, tag.TagID, 50, types.SizeAdd); err != nil {
		t.Fatal(err)
	}
	size, err := e.TagGetSize(ctx, tag.TagID)
	if err != nil {
		t.Fatal(err)
	}
	if size != 150 {
		t.Fatalf("internal_size = %d, want 150 after two adds", size)
	}

	// SizeCap only raises internal_size to max(current, delta); it never
	// lowers it (spec.md section 4.6).
	if err := e.TagUpdateSize(ctx, tag.TagID, 10, types.SizeCap); err != nil {
		t.Fatal(err)
	}
	size, err = e.TagGetSize(ctx, tag.TagID)
	if err != nil {
		t.Fatal(err)
	}
	if size != 150 {
		t.Fatalf("internal_size = %d after SizeCap below current, want unchanged 150", size)
	}

	if err := e.TagUpdateSize(ctx, tag.TagID, 500, types.SizeCap); err != nil {
		t.Fatal(err)
	}
	size, err = e.TagGetSize(ctx, tag.TagID)
	if err != nil {
		t.Fatal(err)
	}
	if size != 500 {
		t.Fatalf("internal_size = %d after SizeCap above current, want 500", size)
	}
}

func TestDestroyTagCascadesToOwnedBlobsOnly(t *testing.T) {
	e, ctx := newTestTagEngine(t)
	owner, _, err := e.GetOrCreateTag(ctx, "owner", true, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	borrower, _, err := e.GetOrCreateTag(ctx, "borrower", false, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	blob := ids.BlobID{NodeID: ids.NewNodeID(), Hash: ids.HashName("owner", "b1"), Unique: 1}
	if err := e.TagAddBlob(ctx, owner.TagID, blob); err != nil {
		t.Fatal(err)
	}
	if err := e.TagAddBlob(ctx, borrower.TagID, blob); err != nil {
		t.Fatal(err)
	}

	destroyed := make(chan ids.BlobID, 4)
	destroyBlob := func(id ids.BlobID) error {
		destroyed <- id
		return nil
	}

	// Destroying a non-owner tag must not cascade-destroy its blobs
	// (spec.md section 4.6: only an owner tag's DestroyTag destroys its
	// contained blobs).
	if err := e.DestroyTag(ctx, borrower.TagID, destroyBlob); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-destroyed:
		t.Fatalf("non-owner DestroyTag cascaded to blob %v, want no cascade", id)
	default:
	}
	if _, ok, _ := e.GetTagID(ctx, "borrower"); ok {
		t.Fatal("expected borrower tag to be gone after destroy")
	}

	if err := e.DestroyTag(ctx, owner.TagID, destroyBlob); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-destroyed:
		if id != blob {
			t.Fatalf("cascaded to blob %v, want %v", id, blob)
		}
	default:
		t.Fatal("expected owner DestroyTag to cascade-destroy its blob")
	}
	if _, ok, _ := e.GetTagID(ctx, "owner"); ok {
		t.Fatal("expected owner tag to be gone after destroy")
	}
}
