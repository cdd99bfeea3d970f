// Package hermes provides a client for the tiered buffering cache over
// its NATS front door: Put/Get/Destroy/Truncate/Reorganize on named
// blobs inside named tags, without the caller needing to know which
// node or lane owns a given tag.
//
// # Installation
//
//	go get github.com/hermes-cache/hermes/pkg/hermes
//
// # Basic Usage
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	client, _ := hermes.New(hermes.Config{NC: nc})
//
//	tagID, _ := client.CreateTag(ctx, "models", true, 0, 0)
//	_, _, _ = client.Put(ctx, "models", "weights.bin", hermes.NullBlobID, 0, data, 1.0, 0)
//	out := make([]byte, len(data))
//	_, n, _ := client.Get(ctx, "models", "weights.bin", hermes.NullBlobID, 0, out, 0)
//
// # Architecture
//
// Any node in the cluster accepts a request on its front-door subject
// and forwards it internally to the lane that actually owns the named
// tag/blob if that lane lives on a different node, so the client never
// needs cluster topology.
//
// # Front-door Subject
//
//	<prefix>.request   — JSON-encoded engine.Request / engine.Response envelope
package hermes
