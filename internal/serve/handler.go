// Package serve exposes the cache over HTTP: a thin REST surface that
// decodes a request into an engine.Request, calls Node.Dispatch, and
// encodes the engine.Response — the same dispatch path the NATS front
// door and pkg/hermes client use, so HTTP and NATS clients see identical
// semantics. Grounded on the teacher's internal/serve.handler, which
// likewise wrapped one ingest.Pipeline-per-stream behind a ServeMux; here
// there's one engine.Node behind it instead.
package serve

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/engine"
	"github.com/hermes-cache/hermes/internal/types"
	"go.uber.org/zap"
)

type handler struct {
	node   *engine.Node
	logger *zap.Logger
}

// RunHTTP starts the HTTP API server.
func RunHTTP(ctx context.Context, cfg config.APIConfig, node *engine.Node, logger *zap.Logger) error {
	h := &handler{node: node, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("POST /v1/tags/{tag}", h.handleCreateTag)
	mux.HandleFunc("DELETE /v1/tags/{tag}", h.handleDestroyTag)
	mux.HandleFunc("GET /v1/tags/{tag}/blobs", h.handleListBlobs)
	mux.HandleFunc("GET /v1/tags/{tag}/blobs/{blob}", h.handleGet)
	mux.HandleFunc("PUT /v1/tags/{tag}/blobs/{blob}", h.handlePut)
	mux.HandleFunc("DELETE /v1/tags/{tag}/blobs/{blob}", h.handleDestroy)
	mux.HandleFunc("POST /v1/tags/{tag}/blobs/{blob}/truncate", h.handleTruncate)
	mux.HandleFunc("POST /v1/tags/{tag}/blobs/{blob}/reorganize", h.handleReorganize)
	mux.HandleFunc("GET /v1/lanes/{lane}/access-log", h.handleAccessLog)
	mux.HandleFunc("POST /v1/flush", h.handleFlush)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"node":   h.node.ID,
		"lanes":  len(h.node.Lanes),
	})
}

type createTagRequest struct {
	Owner       bool  `json:"owner"`
	BackendSize int64 `json:"backend_size"`
	ShouldStage bool  `json:"should_stage"`
}

func (h *handler) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var body createTagRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	var flags uint32
	if body.ShouldStage {
		flags |= uint32(types.FlagShouldStage)
	}
	resp := h.node.Dispatch(r.Context(), engine.Request{
		Op: engine.OpCreateTag, TagName: r.PathValue("tag"), Owner: body.Owner, Size: body.BackendSize, Flags: flags,
	})
	respondOrJSON(w, resp, http.StatusCreated)
}

func (h *handler) handleDestroyTag(w http.ResponseWriter, r *http.Request) {
	resp := h.node.Dispatch(r.Context(), engine.Request{Op: engine.OpDestroyTag, TagName: r.PathValue("tag")})
	respondOrJSON(w, resp, http.StatusOK)
}

// handleListBlobs lists the blob ids contained in a tag (spec.md section
// 4.6 TagGetContainedBlobIds, supplemented onto the HTTP surface per
// SPEC_FULL.md section 10).
func (h *handler) handleListBlobs(w http.ResponseWriter, r *http.Request) {
	resp := h.node.Dispatch(r.Context(), engine.Request{Op: engine.OpListBlobs, TagName: r.PathValue("tag")})
	if resp.Error != "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": resp.Error})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blob_ids": resp.BlobIDs})
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	offset, size := parseRange(r)
	resp := h.node.Dispatch(r.Context(), engine.Request{
		Op: engine.OpGet, TagName: r.PathValue("tag"), BlobName: r.PathValue("blob"), Offset: offset, Size: size,
	})
	if resp.Error != "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": resp.Error})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Hermes-Bytes-Read", strconv.FormatInt(resp.N, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Payload)
}

func (h *handler) handlePut(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	score := 1.0
	if s := r.URL.Query().Get("score"); s != "" {
		score, _ = strconv.ParseFloat(s, 64)
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	resp := h.node.Dispatch(r.Context(), engine.Request{
		Op: engine.OpPut, TagName: r.PathValue("tag"), BlobName: r.PathValue("blob"),
		Offset: offset, Size: int64(len(payload)), Payload: payload, Score: score,
	})
	respondOrJSON(w, resp, http.StatusOK)
}

func (h *handler) handleDestroy(w http.ResponseWriter, r *http.Request) {
	resp := h.node.Dispatch(r.Context(), engine.Request{Op: engine.OpDestroy, TagName: r.PathValue("tag"), BlobName: r.PathValue("blob")})
	respondOrJSON(w, resp, http.StatusOK)
}

func (h *handler) handleTruncate(w http.ResponseWriter, r *http.Request) {
	size, _ := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	resp := h.node.Dispatch(r.Context(), engine.Request{
		Op: engine.OpTruncate, TagName: r.PathValue("tag"), BlobName: r.PathValue("blob"), Size: size,
	})
	respondOrJSON(w, resp, http.StatusOK)
}

func (h *handler) handleReorganize(w http.ResponseWriter, r *http.Request) {
	score, _ := strconv.ParseFloat(r.URL.Query().Get("score"), 64)
	userFlag := r.URL.Query().Get("user") == "true"
	resp := h.node.Dispatch(r.Context(), engine.Request{
		Op: engine.OpReorganize, TagName: r.PathValue("tag"), BlobName: r.PathValue("blob"), Score: score, UserScore: userFlag,
	})
	respondOrJSON(w, resp, http.StatusOK)
}

func (h *handler) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	laneIdx, err := strconv.Atoi(r.PathValue("lane"))
	if err != nil || laneIdx < 0 || laneIdx >= len(h.node.Lanes) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "lane not found"})
		return
	}
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	entries := h.node.Lanes[laneIdx].Ring.PollAccessPattern(since)
	writeJSON(w, http.StatusOK, entries)
}

// handleFlush runs one flush cycle over every lane on demand (spec.md
// section 4.8's periodic Flush Loop, exposed here as an ad-hoc trigger
// for hermesctl per SPEC_FULL.md section 10).
func (h *handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	h.node.Flush.Cycle(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func parseRange(r *http.Request) (offset, size int64) {
	offset, _ = strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	size, _ = strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	return offset, size
}

func respondOrJSON(w http.ResponseWriter, resp engine.Response, okStatus int) {
	if resp.Error != "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": resp.Error})
		return
	}
	writeJSON(w, okStatus, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
