// Package metrics registers Prometheus counters/gauges/histograms named
// for the cache's hot paths, serves them on /metrics, and provides an HTTP
// health endpoint. No code path in this repository updates the collectors
// declared here, so /metrics reports them at their zero values; the
// access-log ring's depth is not exported. Grounded on the teacher's
// internal/metrics package,
// which likewise built promauto vectors for its ingest/tier/read paths
// over the same client_golang stack; the metric names and label sets
// below are renamed for tag/blob/target operations instead of
// stream/block tiering.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/hermes-cache/hermes/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PutOps counts blob Put calls, by lane.
	PutOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_put_ops_total",
		Help: "Total blob Put operations",
	}, []string{"lane"})

	GetOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_get_ops_total",
		Help: "Total blob Get operations",
	}, []string{"lane"})

	PutBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_put_bytes_total",
		Help: "Total bytes written via Put",
	}, []string{"lane"})

	GetBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_get_bytes_total",
		Help: "Total bytes read via Get",
	}, []string{"lane"})

	OpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hermes_op_latency_seconds",
		Help:    "Blob Put/Get latency",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"op"})

	// TargetBytesUsed/TargetFree describe a storage target's capacity;
	// target.Registry.Refresh does not set them.
	TargetBytesUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hermes_target_bytes_used",
		Help: "Bytes currently allocated on a storage target",
	}, []string{"target"})

	TargetFreeBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hermes_target_free_bytes",
		Help: "Bytes currently free on a storage target",
	}, []string{"target"})

	TargetHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hermes_target_healthy",
		Help: "1 if the target's last stats poll succeeded, else 0",
	}, []string{"target"})

	// RingDepth is the current number of live entries in a lane's
	// access-pattern ring (spec.md section 4.9).
	RingDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hermes_access_ring_depth",
		Help: "Live entries in the access-pattern ring buffer",
	}, []string{"lane"})

	StageInOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_stage_in_ops_total",
		Help: "Total StageIn calls issued to stagers",
	}, []string{"stager"})

	StageOutOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_stage_out_ops_total",
		Help: "Total StageOut calls issued by the flush loop",
	}, []string{"stager"})

	FlushCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hermes_flush_cycle_duration_seconds",
		Help:    "Time to walk and flush every dirty blob in one cycle",
		Buckets: prometheus.DefBuckets,
	})

	PendingFlushes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermes_pending_flushes",
		Help: "Flushes performed while the node is draining",
	})

	RouterForwards = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_router_forwards_total",
		Help: "Requests forwarded to a remote node's shard",
	}, []string{"node"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
