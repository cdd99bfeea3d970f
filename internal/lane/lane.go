// Package lane implements the Lane Shard (spec.md section 4.2): the unit
// of sharded ownership for tag/blob metadata. A node runs a fixed number
// of lanes; every tag and blob name hashes to exactly one lane, and that
// lane's maps are mutated only under its own locks. A lane has no goroutine
// of its own: operations run on the caller's goroutine, and calls on one
// lane from several goroutines are serialised only by those locks.
// Grounded on the teacher's internal/ingest.Pipeline, a per-partition owner
// of in-memory state with coarse locks around the maps it exposed to other
// goroutines.
package lane

import (
	"fmt"

	"github.com/hermes-cache/hermes/internal/coop"
	"github.com/hermes-cache/hermes/internal/ids"
	"github.com/hermes-cache/hermes/internal/stage"
	"github.com/hermes-cache/hermes/internal/types"
)

// Lane holds one shard's tag/blob maps and the locks protecting them
// (spec.md section 3: "Lane state holds four maps ... and three locks").
type Lane struct {
	Index int

	TagLock    *coop.RWMutex
	BlobLock   *coop.RWMutex
	StagerLock *coop.Mutex

	tagByName map[string]ids.TagID
	tagByID   map[ids.TagID]*types.TagInfo

	blobByName map[string]ids.BlobID // keyed by ids.BlobNameWithBucket(tag, name)
	blobByID   map[ids.BlobID]*types.BlobInfo

	Stagers *stage.Registry
}

// New creates an empty lane.
func New(index int, stagers *stage.Registry) *Lane {
	return &Lane{
		Index:      index,
		TagLock:    coop.NewRWMutex(),
		BlobLock:   coop.NewRWMutex(),
		StagerLock: coop.NewMutex(),
		tagByName:  make(map[string]ids.TagID),
		tagByID:    make(map[ids.TagID]*types.TagInfo),
		blobByName: make(map[string]ids.BlobID),
		blobByID:   make(map[ids.BlobID]*types.BlobInfo),
		Stagers:    stagers,
	}
}

// --- Tag map accessors. Callers must hold TagLock appropriately. ---

// LookupTagByName returns the tag id for name if this lane owns it
// (spec.md section 9 resolution: non-nil only when the shard already
// owns the entry). Ownership itself is decided upstream by
// internal/router.Router.Resolve before a lane is ever consulted, so
// this is a plain getter, not a reroute predicate.
func (l *Lane) LookupTagByName(name string) (ids.TagID, bool) {
	id, ok := l.tagByName[name]
	return id, ok
}

// TagByID returns the TagInfo for id, if present in this lane.
func (l *Lane) TagByID(id ids.TagID) (*types.TagInfo, bool) {
	t, ok := l.tagByID[id]
	return t, ok
}

// PutTag inserts or overwrites a tag's metadata and name index.
func (l *Lane) PutTag(info *types.TagInfo) {
	l.tagByName[info.Name] = info.TagID
	l.tagByID[info.TagID] = info
}

// DeleteTag removes a tag from both maps.
func (l *Lane) DeleteTag(info *types.TagInfo) {
	delete(l.tagByName, info.Name)
	delete(l.tagByID, info.TagID)
}

// AllTags returns a snapshot slice of every TagInfo currently owned by
// this lane. Callers should hold at least TagLock for reading.
func (l *Lane) AllTags() []*types.TagInfo {
	out := make([]*types.TagInfo, 0, len(l.tagByID))
	for _, t := range l.tagByID {
		out = append(out, t)
	}
	return out
}

// --- Blob map accessors. Callers must hold BlobLock appropriately. ---

// LookupBlobByName returns the blob id for the composite
// tag+name key, if present.
func (l *Lane) LookupBlobByName(tag ids.TagID, name string) (ids.BlobID, bool) {
	id, ok := l.blobByName[ids.BlobNameWithBucket(tag, name)]
	return id, ok
}

// BlobByID returns the BlobInfo for id, if present in this lane.
func (l *Lane) BlobByID(id ids.BlobID) (*types.BlobInfo, bool) {
	b, ok := l.blobByID[id]
	return b, ok
}

// PutBlob inserts or overwrites a blob's metadata and name index.
func (l *Lane) PutBlob(tag ids.TagID, info *types.BlobInfo) {
	if info.Name != "" {
		l.blobByName[ids.BlobNameWithBucket(tag, info.Name)] = info.BlobID
	}
	l.blobByID[info.BlobID] = info
}

// DeleteBlob removes a blob from both maps.
func (l *Lane) DeleteBlob(tag ids.TagID, info *types.BlobInfo) {
	if info.Name != "" {
		delete(l.blobByName, ids.BlobNameWithBucket(tag, info.Name))
	}
	delete(l.blobByID, info.BlobID)
}

// AllBlobs returns a snapshot slice of every BlobInfo currently owned by
// this lane. Callers should hold at least BlobLock for reading.
func (l *Lane) AllBlobs() []*types.BlobInfo {
	out := make([]*types.BlobInfo, 0, len(l.blobByID))
	for _, b := range l.blobByID {
		out = append(out, b)
	}
	return out
}

func (l *Lane) String() string {
	return fmt.Sprintf("lane[%d]", l.Index)
}
