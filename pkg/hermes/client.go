package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hermes-cache/hermes/internal/engine"
	"github.com/hermes-cache/hermes/internal/ids"
	"github.com/hermes-cache/hermes/internal/types"
	"github.com/nats-io/nats.go"
)

// TagID and BlobID are the opaque identifiers the cache mints for tags
// and blobs, aliased here so callers never need to import an internal
// package to hold one.
type (
	TagID  = ids.TagID
	BlobID = ids.BlobID
)

// NullBlobID is the zero BlobID, meaning "resolve by name" to Put/Get/
// Destroy/Truncate/Reorganize.
var NullBlobID BlobID

// Config configures the Hermes client.
type Config struct {
	// NC is the NATS connection.
	NC *nats.Conn

	// SubjectPrefix matches the node cluster's configured
	// cluster.subject_prefix. Defaults to "hermes".
	SubjectPrefix string

	// Timeout for front-door requests. Defaults to 5s.
	Timeout time.Duration
}

// Client talks to the cache's NATS front door.
type Client struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

// New creates a Hermes client.
func New(cfg Config) (*Client, error) {
	if cfg.NC == nil {
		return nil, fmt.Errorf("hermes: NC (NATS connection) is required")
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "hermes"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{nc: cfg.NC, subject: prefix + ".request", timeout: timeout}, nil
}

func (c *Client) call(ctx context.Context, req engine.Request) (engine.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return engine.Response{}, fmt.Errorf("hermes: encoding request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	msg, err := c.nc.RequestWithContext(ctx, c.subject, payload)
	if err != nil {
		return engine.Response{}, fmt.Errorf("hermes: request: %w", err)
	}
	var resp engine.Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return engine.Response{}, fmt.Errorf("hermes: decoding response: %w", err)
	}
	if resp.Error != "" {
		return engine.Response{}, fmt.Errorf("hermes: %s", resp.Error)
	}
	return resp, nil
}

// CreateTag creates (or looks up, if it already exists) a tag by name.
func (c *Client) CreateTag(ctx context.Context, name string, owner bool, backendSize int64, flags uint32) (TagID, error) {
	resp, err := c.call(ctx, engine.Request{Op: engine.OpCreateTag, TagName: name, Owner: owner, Size: backendSize, Flags: flags})
	if err != nil {
		return TagID{}, err
	}
	return resp.TagID, nil
}

// DestroyTag destroys a tag and, if it owns its blobs, cascades to them.
func (c *Client) DestroyTag(ctx context.Context, name string) error {
	_, err := c.call(ctx, engine.Request{Op: engine.OpDestroyTag, TagName: name})
	return err
}

// Put writes payload at [offset, offset+len(payload)) into a blob, by
// name within tagName (blob is NullBlobID) or by existing id.
func (c *Client) Put(ctx context.Context, tagName, blobName string, blob BlobID, offset int64, payload []byte, score float64, flags uint32) (BlobID, int64, error) {
	resp, err := c.call(ctx, engine.Request{
		Op: engine.OpPut, TagName: tagName, BlobName: blobName, BlobID: blob,
		Offset: offset, Size: int64(len(payload)), Payload: payload, Score: score, Flags: flags,
	})
	if err != nil {
		return BlobID{}, 0, err
	}
	return resp.BlobID, resp.N, nil
}

// Get reads up to len(out) bytes starting at offset into out, returning
// the number of bytes actually read (short if the blob ends first).
func (c *Client) Get(ctx context.Context, tagName, blobName string, blob BlobID, offset int64, out []byte, flags uint32) (BlobID, int64, error) {
	resp, err := c.call(ctx, engine.Request{
		Op: engine.OpGet, TagName: tagName, BlobName: blobName, BlobID: blob,
		Offset: offset, Size: int64(len(out)), Flags: flags,
	})
	if err != nil {
		return BlobID{}, 0, err
	}
	n := copy(out, resp.Payload)
	return resp.BlobID, int64(n), nil
}

// Destroy frees a blob's buffers and removes it from its tag.
func (c *Client) Destroy(ctx context.Context, tagName, blobName string, blob BlobID) error {
	_, err := c.call(ctx, engine.Request{Op: engine.OpDestroy, TagName: tagName, BlobName: blobName, BlobID: blob})
	return err
}

// Truncate shrinks a blob's logical size.
func (c *Client) Truncate(ctx context.Context, tagName, blobName string, blob BlobID, newSize int64) error {
	_, err := c.call(ctx, engine.Request{Op: engine.OpTruncate, TagName: tagName, BlobName: blobName, BlobID: blob, Size: newSize})
	return err
}

// Reorganize re-scores a blob and writes it back under the new score;
// bytes already placed stay on their current targets.
func (c *Client) Reorganize(ctx context.Context, tagName, blobName string, blob BlobID, newScore float64, userFlag bool) error {
	_, err := c.call(ctx, engine.Request{
		Op: engine.OpReorganize, TagName: tagName, BlobName: blobName, BlobID: blob,
		Score: newScore, UserScore: userFlag,
	})
	return err
}

// Flags mirrors the cache's bitset so callers don't need internal/types.
const (
	FlagShouldStage = uint32(types.FlagShouldStage)
	FlagKeepInTag   = uint32(types.FlagKeepInTag)
)
