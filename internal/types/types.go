// Package types holds the core data model shared across the cache's
// packages (spec.md section 3): tags, blobs, buffers, targets, and the
// access-pattern log record. Kept dependency-free (besides ids and coop) so
// every other package can import it without cycles.
package types

import (
	"context"

	"github.com/hermes-cache/hermes/internal/coop"
	"github.com/hermes-cache/hermes/internal/ids"
)

// Flags is a bitset carried on TagInfo and on individual Put/Get calls.
type Flags uint32

const (
	// FlagShouldStage marks a tag as staged to/from an external backing
	// store (spec.md section 3: TagInfo.flags including SHOULD_STAGE).
	FlagShouldStage Flags = 1 << iota
	// FlagDidCreate is set on a Put call when GetOrCreateBlobId created a
	// new blob, so downstream bookkeeping knows to register it with its tag.
	FlagDidCreate
	// FlagKeepInTag tells DestroyBlob not to remove the blob from its
	// tag's list, used when a tag is cascading destruction over all its
	// blobs and will clear the list itself (spec.md section 4.5, 4.6).
	FlagKeepInTag
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// TargetID identifies a storage target (spec.md section 3: TargetInfo).
type TargetID uint32

// TargetInfo is a storage target's live capacity/bandwidth/latency stats,
// as polled from its target client (spec.md section 3).
type TargetInfo struct {
	ID           TargetID
	Name         string
	Free         int64
	MaxCap       int64
	WriteBW      float64
	WriteLatency float64
	Score        float64
	Healthy      bool
}

// BufferInfo is one target byte range backing part of a blob (spec.md
// section 3). The concatenation of a blob's Buffers, in order, is the
// logical blob.
type BufferInfo struct {
	TargetID TargetID
	Offset   int64
	Size     int64
}

// IOOp identifies the kind of access-pattern record (spec.md section 4.9).
type IOOp int

const (
	IORead IOOp = iota
	IOWrite
)

func (op IOOp) String() string {
	if op == IORead {
		return "read"
	}
	return "write"
}

// IOStat is one record in the access-pattern ring (spec.md section 4.9).
type IOStat struct {
	ID     uint64
	Op     IOOp
	TagID  ids.TagID
	BlobID ids.BlobID
	Size   int64
}

// IOStats accumulates running read/write counters for a blob (spec.md
// section 3: BlobInfo "read/write running stats").
type IOStats struct {
	Count      uint64
	TotalBytes int64
}

// TagInfo is a named container of blobs (spec.md section 3).
type TagInfo struct {
	TagID        ids.TagID
	Name         string
	Owner        bool
	InternalSize int64
	Flags        Flags
	Blobs        []ids.BlobID
}

// ContainsBlob reports whether the given blob id is in this tag's list.
func (t *TagInfo) ContainsBlob(id ids.BlobID) bool {
	for _, b := range t.Blobs {
		if b == id {
			return true
		}
	}
	return false
}

// SizeUpdateMode selects TagUpdateSize's semantics (spec.md section 4.6).
type SizeUpdateMode int

const (
	SizeAdd SizeUpdateMode = iota
	SizeCap
)

// BlobInfo is a named byte range inside a tag (spec.md section 3).
//
// Lock protects Buffers/BlobSize/MaxBlobSize/Score and must be held across
// any suspension point that mutates them (spec.md section 4.2), which is
// why it is a cooperative RWMutex rather than sync.RWMutex.
type BlobInfo struct {
	BlobID      ids.BlobID
	TagID       ids.TagID
	Name        string
	Buffers     []BufferInfo
	BlobSize    int64
	MaxBlobSize int64
	Score       float64
	UserScore   float64
	ModCount    uint64
	LastFlush   uint64
	AccessFreq  uint64
	ReadStats   IOStats
	WriteStats  IOStats
	Tags        []string

	Lock *coop.RWMutex
}

// NewBlobInfo constructs a freshly-created blob's metadata per spec.md
// section 4.3 step 1: blob_size=0, max_blob_size=0, score=1, mod_count=0,
// last_flush=0.
func NewBlobInfo(id ids.BlobID, tag ids.TagID, name string) *BlobInfo {
	return &BlobInfo{
		BlobID:    id,
		TagID:     tag,
		Name:      name,
		Score:     1,
		UserScore: 1,
		Lock:      coop.NewRWMutex(),
	}
}

// Dirty reports whether the blob has been modified since its last flush
// (spec.md section 4.8: "if last_flush <= 0 or mod_count <= last_flush,
// skip" — so a blob that has never been staged in, last_flush == 0, is
// never eligible for flush).
func (b *BlobInfo) Dirty() bool {
	return b.LastFlush > 0 && b.ModCount > b.LastFlush
}

// NeverStaged reports last_flush == 0, i.e. "never staged in" (spec.md
// section 3).
func (b *BlobInfo) NeverStaged() bool {
	return b.LastFlush == 0
}

// Block is a single allocated chunk returned by Target.Allocate, analogous
// to the block-device driver's allocation unit (spec.md section 6).
type Block struct {
	Offset int64
	Size   int64
}

// TargetClient is the interface consumed from the block-device driver
// collaborator (spec.md section 6): Allocate/Write/Read/Free/PollStats.
// Treated as external; implementations live in package target.
type TargetClient interface {
	ID() TargetID
	Allocate(ctx context.Context, size int64) ([]Block, error)
	Write(ctx context.Context, buf []byte, off int64, length int64) (int, error)
	Read(ctx context.Context, buf []byte, off int64, length int64) (int, error)
	Free(ctx context.Context, blk Block) error
	PollStats(ctx context.Context) (TargetInfo, error)
}
