package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hermes-cache/hermes/internal/ids"
	"github.com/hermes-cache/hermes/internal/types"
)

// Op names one blob/tag operation a Request carries. Grounded on the
// teacher's pkg/nts sidecar subject scheme (one subject, an operation
// implied by the path) generalised to one subject, the operation named
// explicitly in the envelope.
type Op string

const (
	OpCreateTag  Op = "create_tag"
	OpPut        Op = "put"
	OpGet        Op = "get"
	OpDestroy    Op = "destroy"
	OpTruncate   Op = "truncate"
	OpReorganize Op = "reorganize"
	OpDestroyTag Op = "destroy_tag"
	// OpListBlobs lists a tag's contained blob ids (spec.md section 4.6
	// TagGetContainedBlobIds; supplemented onto the wire surface per
	// SPEC_FULL.md section 10).
	OpListBlobs Op = "list_blobs"
)

// Request is the wire envelope for one cache operation, carried either
// in-process (HTTP handler calling Dispatch directly) or over NATS (the
// pkg/hermes client and the front-door RPC subject).
type Request struct {
	Op        Op         `json:"op"`
	TagName   string     `json:"tag_name,omitempty"`
	TagID     ids.TagID  `json:"tag_id"`
	BlobName  string     `json:"blob_name,omitempty"`
	BlobID    ids.BlobID `json:"blob_id"`
	Offset    int64      `json:"offset,omitempty"`
	Size      int64      `json:"size,omitempty"`
	Payload   []byte     `json:"payload,omitempty"`
	Score     float64    `json:"score,omitempty"`
	Flags     uint32     `json:"flags,omitempty"`
	Owner     bool       `json:"owner,omitempty"`
	UserScore bool       `json:"user_score,omitempty"`
}

// Response is the wire envelope for a Request's result.
type Response struct {
	Error   string       `json:"error,omitempty"`
	TagID   ids.TagID    `json:"tag_id"`
	BlobID  ids.BlobID   `json:"blob_id"`
	N       int64        `json:"n,omitempty"`
	Payload []byte       `json:"payload,omitempty"`
	Size    int64        `json:"size,omitempty"`
	BlobIDs []ids.BlobID `json:"blob_ids,omitempty"`
}

// routingKey picks the hash that determines which lane owns a request,
// per spec.md section 4.1: blob operations hash (tag, blob-name-or-id),
// tag operations hash the tag name or id.
func (r Request) routingKey() (uint64, error) {
	switch r.Op {
	case OpCreateTag:
		return ids.HashTagNameOrID(r.TagName, ids.TagID{}), nil
	case OpDestroyTag:
		return ids.HashTagNameOrID(r.TagName, r.TagID), nil
	case OpListBlobs:
		return ids.HashTagNameOrID(r.TagName, r.TagID), nil
	case OpPut, OpGet, OpDestroy, OpTruncate, OpReorganize:
		tag := r.TagID
		if r.TagName != "" && tag.IsNull() {
			// Client supplied a name only; the owning lane resolves it, but
			// routing still needs a key. Hash on the tag name directly — blob
			// ops within the same tag share the tag's lane since TagID.Hash
			// seeds BlobID.Hash's routing input (ids.HashName(tag.String(), ...)
			// is stable once the tag exists, but a not-yet-created tag has no
			// TagID yet, so new blobs route by tag name at creation time).
			return ids.HashName(r.TagName), nil
		}
		return ids.HashBlobNameOrID(tag, r.BlobName, r.BlobID), nil
	default:
		return 0, fmt.Errorf("engine: unknown op %q", r.Op)
	}
}

// Dispatch resolves which lane owns req and executes it there, forwarding
// to the owning remote node over the cluster transport if necessary
// (spec.md section 4.1 steps 1-2).
func (n *Node) Dispatch(ctx context.Context, req Request) Response {
	key, err := req.routingKey()
	if err != nil {
		return Response{Error: err.Error()}
	}

	handle, target, local := n.LaneFor(key)
	if local {
		return n.execute(ctx, handle, req)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{Error: fmt.Sprintf("engine: encoding forwarded request: %v", err)}
	}
	raw, err := n.Router.Forward(ctx, target, payload)
	if err != nil {
		return Response{Error: err.Error()}
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{Error: fmt.Sprintf("engine: decoding forwarded response: %v", err)}
	}
	return resp
}

// HandleShardRequest decodes and executes a Request addressed directly at
// one of this node's local lanes (laneIdx already resolved by the sender
// via routingKey/Resolve) — the function router.Listen invokes per
// inbound shard subject message.
func (n *Node) HandleShardRequest(laneIdx int, payload []byte) []byte {
	var req Request
	resp := Response{}
	if err := json.Unmarshal(payload, &req); err != nil {
		resp.Error = fmt.Sprintf("engine: decoding shard request: %v", err)
	} else if laneIdx < 0 || laneIdx >= len(n.Lanes) {
		resp.Error = fmt.Sprintf("engine: lane %d out of range", laneIdx)
	} else {
		resp = n.execute(context.Background(), n.Lanes[laneIdx], req)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(Response{Error: err.Error()})
	}
	return out
}

func (n *Node) execute(ctx context.Context, h LaneHandle, req Request) Response {
	flags := types.Flags(req.Flags)

	switch req.Op {
	case OpCreateTag:
		tag, _, err := h.Tags.GetOrCreateTag(ctx, req.TagName, req.Owner, req.Size, flags)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{TagID: tag.TagID}

	case OpDestroyTag:
		tagID, err := n.resolveTagID(ctx, h, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		if err := h.Tags.DestroyTag(ctx, tagID, n.destroyBlobFunc(h, tagID)); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{}

	case OpListBlobs:
		tagID, err := n.resolveTagID(ctx, h, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		blobIDs, err := h.Tags.TagGetContainedBlobIds(ctx, tagID)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{TagID: tagID, BlobIDs: blobIDs}

	case OpPut:
		tagID, err := n.resolveTagID(ctx, h, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		blobID, n64, err := h.Blobs.Put(ctx, tagID, req.BlobName, req.BlobID, req.Offset, req.Size, req.Payload, req.Score, flags)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{BlobID: blobID, N: n64}

	case OpGet:
		tagID, err := n.resolveTagID(ctx, h, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		out := make([]byte, req.Size)
		blobID, n64, err := h.Blobs.Get(ctx, tagID, req.BlobName, req.BlobID, req.Offset, req.Size, out, flags)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{BlobID: blobID, N: n64, Payload: out[:n64]}

	case OpDestroy:
		tagID, err := n.resolveTagID(ctx, h, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		if err := h.Blobs.Destroy(ctx, tagID, req.BlobName, req.BlobID, flags); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{}

	case OpTruncate:
		tagID, err := n.resolveTagID(ctx, h, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		if err := h.Blobs.Truncate(ctx, tagID, req.BlobName, req.BlobID, req.Size); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{}

	case OpReorganize:
		tagID, err := n.resolveTagID(ctx, h, req)
		if err != nil {
			return Response{Error: err.Error()}
		}
		if err := h.Blobs.Reorganize(ctx, tagID, req.BlobName, req.BlobID, req.Score, req.UserScore); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{}

	default:
		return Response{Error: fmt.Sprintf("engine: unknown op %q", req.Op)}
	}
}

func (n *Node) resolveTagID(ctx context.Context, h LaneHandle, req Request) (ids.TagID, error) {
	if !req.TagID.IsNull() {
		return req.TagID, nil
	}
	id, ok, err := h.Tags.GetTagID(ctx, req.TagName)
	if err != nil {
		return ids.TagID{}, err
	}
	if !ok {
		return ids.TagID{}, fmt.Errorf("engine: tag %q not found", req.TagName)
	}
	return id, nil
}

func (n *Node) destroyBlobFunc(h LaneHandle, tag ids.TagID) func(ids.BlobID) error {
	return func(blob ids.BlobID) error {
		return h.Blobs.Destroy(context.Background(), tag, "", blob, types.FlagKeepInTag)
	}
}
