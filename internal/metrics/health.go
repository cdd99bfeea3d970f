package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/target"
	"github.com/nats-io/nats.go"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthChecker runs health probes against the cluster transport and the
// node's storage targets.
type HealthChecker struct {
	natsConn *nats.Conn
	targets  *target.Registry
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(nc *nats.Conn, targets *target.Registry) *HealthChecker {
	return &HealthChecker{natsConn: nc, targets: targets}
}

// Liveness checks if the process is alive.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness checks if the node can serve requests: the cluster transport
// is connected, and at least one storage target reports healthy.
func (h *HealthChecker) Readiness() HealthStatus {
	status := HealthStatus{OK: true}

	if h.natsConn != nil && !h.natsConn.IsConnected() {
		status.OK = false
		status.Checks = append(status.Checks, Check{Name: "nats", Status: "disconnected"})
	} else if h.natsConn != nil {
		status.Checks = append(status.Checks, Check{Name: "nats", Status: "connected"})
	}

	if h.targets != nil {
		h.targets.Refresh(context.Background())
		anyHealthy := false
		for _, st := range h.targets.Stats() {
			if st.Healthy {
				anyHealthy = true
				break
			}
		}
		if !anyHealthy {
			status.OK = false
			status.Checks = append(status.Checks, Check{Name: "targets", Status: "all targets unhealthy"})
		} else {
			status.Checks = append(status.Checks, Check{Name: "targets", Status: "ok"})
		}
	}

	return status
}

// RunHealthServer starts the health check HTTP server.
func RunHealthServer(ctx context.Context, cfg config.HealthConfig, checker *HealthChecker) error {
	mux := http.NewServeMux()

	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/healthz"
	}
	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/readyz"
	}

	mux.HandleFunc(livenessPath, func(w http.ResponseWriter, r *http.Request) {
		status := checker.Liveness()
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc(readinessPath, func(w http.ResponseWriter, r *http.Request) {
		status := checker.Readiness()
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

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
