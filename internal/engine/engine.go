// Package engine wires together one node's lanes, targets, placement
// engine, stager registry, and request router from config.Config — the
// construction glue the teacher's main.go inlined directly (building
// memStore/fileStore/blobStore/ctrl/pipeline per stream). Pulled out to
// its own package here because a node now owns a configurable number of
// lanes rather than one pipeline per stream, and every lane needs the
// same collaborators wired against it.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hermes-cache/hermes/internal/accesslog"
	"github.com/hermes-cache/hermes/internal/blobengine"
	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/dpe"
	"github.com/hermes-cache/hermes/internal/flush"
	"github.com/hermes-cache/hermes/internal/ids"
	"github.com/hermes-cache/hermes/internal/lane"
	"github.com/hermes-cache/hermes/internal/router"
	"github.com/hermes-cache/hermes/internal/stage"
	"github.com/hermes-cache/hermes/internal/tagengine"
	"github.com/hermes-cache/hermes/internal/target"
	"github.com/hermes-cache/hermes/internal/types"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// LaneHandle bundles one lane with the engines and ring bound to it, the
// unit every request-handling surface (HTTP, NATS responder, CLI) routes
// a request to once the router has resolved which lane owns it.
type LaneHandle struct {
	Lane  *lane.Lane
	Blobs *blobengine.Engine
	Tags  *tagengine.Engine
	Ring  *accesslog.Ring
}

// Node is one running cache node: its lanes, the shared target registry
// and placement engine every lane's blob engine draws on, the request
// router, and the flush loop.
type Node struct {
	ID      ids.NodeID
	Config  *config.Config
	Targets *target.Registry
	Placer  *dpe.Engine
	Stagers *stage.Registry
	Lanes   []LaneHandle
	Router  *router.Router
	Flush   *flush.Loop
	NATS    *nats.Conn
	logger  *zap.Logger
}

// New constructs a node from config: storage targets, the DPE, the
// stager registry, one lane (with bound blob/tag engines and an
// access-pattern ring) per cfg.Lanes, the request router, and the flush
// loop. nc may be nil for a single-process deployment with no cluster
// transport (spec.md section 4.1: single-node short-circuits to direct
// in-process dispatch).
func New(ctx context.Context, cfg *config.Config, nc *nats.Conn, logger *zap.Logger) (*Node, error) {
	node := ids.NewNodeID()
	alloc := ids.NewAllocator(node)

	targets := make([]target.Target, 0, len(cfg.Targets))
	for i, tc := range cfg.Targets {
		t, err := target.New(ctx, tc, types.TargetID(i), logger.Named("target").With(zap.String("name", tc.Name)))
		if err != nil {
			return nil, fmt.Errorf("constructing target %q: %w", tc.Name, err)
		}
		targets = append(targets, t)
	}
	registry, err := target.NewRegistry(ctx, targets, logger.Named("target"))
	if err != nil {
		return nil, fmt.Errorf("building target registry: %w", err)
	}

	var policy dpe.Policy
	switch cfg.DPE.Policy {
	case "", "greedy_score":
		policy = dpe.GreedyScorePolicy{}
	default:
		return nil, fmt.Errorf("unknown dpe policy %q", cfg.DPE.Policy)
	}
	placer := dpe.New(policy, cfg.FallbackIndex)

	stagers, err := stage.NewRegistry(cfg.Stagers, logger.Named("stage"))
	if err != nil {
		return nil, fmt.Errorf("building stager registry: %w", err)
	}

	lanes := make([]*lane.Lane, cfg.Lanes)
	handles := make([]LaneHandle, cfg.Lanes)
	laneEngines := make([]flush.LaneEngines, cfg.Lanes)
	for i := 0; i < cfg.Lanes; i++ {
		l := lane.New(i, stagers)
		ring := accesslog.New(cfg.RingDepth)
		tags := tagengine.New(l, alloc, logger.Named("tagengine").With(zap.Int("lane", i)))
		blobs := blobengine.New(l, alloc, registry, placer, tags, ring, logger.Named("blobengine").With(zap.Int("lane", i)))
		lanes[i] = l
		handles[i] = LaneHandle{Lane: l, Blobs: blobs, Tags: tags, Ring: ring}
		laneEngines[i] = flush.LaneEngines{Lane: l, Blobs: blobs, Tags: tags}
	}

	rtr := router.New(node, lanes, nc, cfg.Cluster.SubjectPrefix, logger.Named("router"))
	flushLoop := flush.New(laneEngines, cfg.FlushPeriod.Duration(), logger.Named("flush"))

	return &Node{
		ID:      node,
		Config:  cfg,
		Targets: registry,
		Placer:  placer,
		Stagers: stagers,
		Lanes:   handles,
		Router:  rtr,
		Flush:   flushLoop,
		NATS:    nc,
		logger:  logger,
	}, nil
}

// LaneFor resolves the routing key to a local lane handle (spec.md
// section 4.1). It does not forward: when the key is owned by a remote
// node it returns ok=false with a zero LaneHandle, so the caller can use
// router.Forward instead.
func (n *Node) LaneFor(key uint64) (LaneHandle, router.Target, bool) {
	target := n.Router.Resolve(key)
	if !target.Local {
		return LaneHandle{}, target, false
	}
	return n.Lanes[target.LaneIndex], target, true
}

// Close releases the node's collaborators.
func (n *Node) Close() error {
	return n.Stagers.Close()
}

// FrontDoorSubject is the subject external clients (pkg/hermes) send
// Requests to; any node in the cluster accepts one and internally
// forwards it to the owning lane if that lane lives elsewhere. Distinct
// from the per-(node,lane) shard subjects router.Listen owns, which are
// cluster-internal only.
func (n *Node) FrontDoorSubject() string {
	prefix := n.Config.Cluster.SubjectPrefix
	if prefix == "" {
		prefix = "hermes"
	}
	return prefix + ".request"
}

// ServeFrontDoor subscribes to FrontDoorSubject and answers every request
// via Dispatch until ctx is cancelled. Grounded on the teacher's
// RunNATSResponder subscribe-and-respond loop.
func (n *Node) ServeFrontDoor(ctx context.Context) error {
	if n.NATS == nil {
		return fmt.Errorf("engine: no cluster transport configured, cannot serve front door")
	}
	subject := n.FrontDoorSubject()
	sub, err := n.NATS.Subscribe(subject, func(msg *nats.Msg) {
		var req Request
		resp := Response{}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			resp.Error = fmt.Sprintf("engine: decoding request: %v", err)
		} else {
			resp = n.Dispatch(ctx, req)
		}
		out, err := json.Marshal(resp)
		if err != nil {
			out, _ = json.Marshal(Response{Error: err.Error()})
		}
		if msg.Reply != "" {
			_ = msg.Respond(out)
		}
	})
	if err != nil {
		return fmt.Errorf("engine: subscribing to %s: %w", subject, err)
	}
	n.logger.Info("front door listening", zap.String("subject", subject))
	<-ctx.Done()
	return sub.Unsubscribe()
}
