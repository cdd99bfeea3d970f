// Package ids mints and hashes the identifiers used throughout the cache:
// node identity, tag ids, and blob ids. Tag and blob ids are
// {node_id, hash, unique} triples so that the creating node can always be
// recovered from an id without a lookup; a node id is a single uint64.
package ids

import (
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// NodeID identifies a cache node. Minted once per process at Engine
// construction time.
type NodeID uint64

// NewNodeID derives a stable-within-process node id from a fresh UUID.
// The UUID is not retained; only its first 8 bytes seed the node id so that
// TagID/BlobID stay cheap value types.
func NewNodeID() NodeID {
	u := uuid.New()
	var v uint64
	for _, b := range u[:8] {
		v = v<<8 | uint64(b)
	}
	return NodeID(v)
}

// Allocator mints monotonically increasing "unique" components for ids
// minted by this node. It is the Go equivalent of the source's atomic
// id_alloc_.
type Allocator struct {
	node    NodeID
	counter atomic.Uint64
}

// NewAllocator creates an id allocator for the given node.
func NewAllocator(node NodeID) *Allocator {
	return &Allocator{node: node}
}

// Next returns the next unique component for this node.
func (a *Allocator) Next() uint64 {
	return a.counter.Add(1)
}

// Node returns the node this allocator mints ids for.
func (a *Allocator) Node() NodeID {
	return a.node
}

// TagID globally identifies a tag.
type TagID struct {
	NodeID NodeID
	Hash   uint64
	Unique uint64
}

// IsNull reports whether this is the zero/unset TagID.
func (t TagID) IsNull() bool { return t == TagID{} }

func (t TagID) String() string {
	return fmt.Sprintf("tag:%d:%x:%d", t.NodeID, t.Hash, t.Unique)
}

// BlobID globally identifies a blob.
type BlobID struct {
	NodeID NodeID
	Hash   uint64
	Unique uint64
}

// IsNull reports whether this is the zero/unset BlobID.
func (b BlobID) IsNull() bool { return b == BlobID{} }

func (b BlobID) String() string {
	return fmt.Sprintf("blob:%d:%x:%d", b.NodeID, b.Hash, b.Unique)
}

// HashName hashes a byte string into the routing/name-hash space used by
// both TagID.Hash and BlobID.Hash, and by the request router's direct-hash
// rewrite (spec.md 4.1: "hash(tag_id, blob_name)").
func HashName(parts ...string) uint64 {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	}
	return h.Sum64()
}

// BlobNameWithBucket builds the composite key used to look up a blob by
// name within a tag, modelled on the original's GetBlobNameWithBucket
// (tag.String() + "/" + name) so that two tags can each contain a
// blob of the same name without collision.
func BlobNameWithBucket(tag TagID, name string) string {
	return fmt.Sprintf("%s/%s", tag.String(), name)
}

// HashBlobNameOrID computes the routing key for a blob operation: by name
// when a name is present, else by id (spec.md 4.1).
func HashBlobNameOrID(tag TagID, name string, blob BlobID) uint64 {
	if name != "" {
		return HashName(tag.String(), name)
	}
	return HashName(blob.String())
}

// HashTagNameOrID computes the routing key for a tag operation.
func HashTagNameOrID(name string, tag TagID) uint64 {
	if name != "" {
		return HashName(name)
	}
	return HashName(tag.String())
}
