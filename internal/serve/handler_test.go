package serve

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/engine"
	"go.uber.org/zap"
)

func newTestNode(t *testing.T) *engine.Node {
	t.Helper()
	cfg := &config.Config{
		Lanes:         2,
		RingDepth:     64,
		FallbackIndex: 0,
		Targets: []config.TargetConfig{
			{Name: "dram", Kind: config.TargetKindMemory, Capacity: 1 << 20, Score: 2},
		},
		DPE: config.DPEConfig{Policy: "greedy_score"},
	}
	node, err := engine.New(t.Context(), cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return node
}

func TestHandlePutThenGetRoundTrip(t *testing.T) {
	node := newTestNode(t)
	h := &handler{node: node, logger: zap.NewNop()}

	createResp := node.Dispatch(t.Context(), engine.Request{Op: engine.OpCreateTag, TagName: "models", Owner: true})
	if createResp.Error != "" {
		t.Fatal(createResp.Error)
	}

	payload := []byte("weights go here")
	req := httptest.NewRequest("PUT", "/v1/tags/models/blobs/w.bin?offset=0", bytes.NewReader(payload))
	req.SetPathValue("tag", "models")
	req.SetPathValue("blob", "w.bin")
	rec := httptest.NewRecorder()
	h.handlePut(rec, req)
	if rec.Code != 200 {
		t.Fatalf("put status = %d, body = %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest("GET", "/v1/tags/models/blobs/w.bin?offset=0&size=32", nil)
	getReq.SetPathValue("tag", "models")
	getReq.SetPathValue("blob", "w.bin")
	getRec := httptest.NewRecorder()
	h.handleGet(getRec, getReq)
	if getRec.Code != 200 {
		t.Fatalf("get status = %d, body = %s", getRec.Code, getRec.Body.String())
	}
	if getRec.Body.String() != string(payload) {
		t.Fatalf("got %q, want %q", getRec.Body.String(), payload)
	}
}

func TestHandleCreateTagRejectsMalformedBody(t *testing.T) {
	node := newTestNode(t)
	h := &handler{node: node, logger: zap.NewNop()}

	req := httptest.NewRequest("POST", "/v1/tags/bogus", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("tag", "bogus")
	rec := httptest.NewRecorder()
	h.handleCreateTag(rec, req)
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStatusReportsLaneCount(t *testing.T) {
	node := newTestNode(t)
	h := &handler{node: node, logger: zap.NewNop()}

	req := httptest.NewRequest("GET", "/v1/status", nil)
	rec := httptest.NewRecorder()
	h.handleStatus(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if int(body["lanes"].(float64)) != 2 {
		t.Fatalf("lanes = %v, want 2", body["lanes"])
	}
}

func TestHandleGetOnMissingBlobCreatesEmptyBlob(t *testing.T) {
	// spec.md section 4.4 step 1 resolves a Get the same way as a Put
	// ("Resolve id as in Put"): a not-yet-existing named blob is created
	// empty rather than rejected, and Get returns zero bytes for it.
	node := newTestNode(t)
	h := &handler{node: node, logger: zap.NewNop()}

	node.Dispatch(t.Context(), engine.Request{Op: engine.OpCreateTag, TagName: "empty", Owner: true})

	req := httptest.NewRequest("GET", "/v1/tags/empty/blobs/nope?size=4", nil)
	req.SetPathValue("tag", "empty")
	req.SetPathValue("blob", "nope")
	rec := httptest.NewRecorder()
	h.handleGet(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Hermes-Bytes-Read") != "0" {
		t.Fatalf("bytes read = %s, want 0", rec.Header().Get("X-Hermes-Bytes-Read"))
	}
}

func TestHandleGetOnMissingTagReturnsNotFound(t *testing.T) {
	node := newTestNode(t)
	h := &handler{node: node, logger: zap.NewNop()}

	req := httptest.NewRequest("GET", "/v1/tags/nope/blobs/b?size=4", nil)
	req.SetPathValue("tag", "nope")
	req.SetPathValue("blob", "b")
	rec := httptest.NewRecorder()
	h.handleGet(rec, req)
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleListBlobsReturnsContainedIds(t *testing.T) {
	node := newTestNode(t)
	h := &handler{node: node, logger: zap.NewNop()}

	node.Dispatch(t.Context(), engine.Request{Op: engine.OpCreateTag, TagName: "models", Owner: true})
	putResp := node.Dispatch(t.Context(), engine.Request{
		Op: engine.OpPut, TagName: "models", BlobName: "w.bin", Size: 4, Payload: []byte("data"),
	})
	if putResp.Error != "" {
		t.Fatal(putResp.Error)
	}

	req := httptest.NewRequest("GET", "/v1/tags/models/blobs", nil)
	req.SetPathValue("tag", "models")
	rec := httptest.NewRecorder()
	h.handleListBlobs(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string][]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body["blob_ids"]) != 1 {
		t.Fatalf("blob_ids = %v, want exactly 1 entry", body["blob_ids"])
	}
}

func TestHandleDestroyTag(t *testing.T) {
	node := newTestNode(t)
	h := &handler{node: node, logger: zap.NewNop()}

	node.Dispatch(t.Context(), engine.Request{Op: engine.OpCreateTag, TagName: "temp", Owner: true})

	req := httptest.NewRequest("DELETE", "/v1/tags/temp", nil)
	req.SetPathValue("tag", "temp")
	rec := httptest.NewRecorder()
	h.handleDestroyTag(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := node.Dispatch(t.Context(), engine.Request{Op: engine.OpGet, TagName: "temp", BlobName: "x", Size: 1})
	if resp.Error == "" {
		t.Fatal("expected tag to be gone after destroy")
	}
}
