package config

import "time"

// DefaultConfig returns the configuration defaults named throughout
// spec.md: 32 lanes, a 5 second flush period, and an 8192-entry
// access-pattern ring (spec.md section 6).
func DefaultConfig() *Config {
	return &Config{
		Lanes:       32,
		FlushPeriod: Duration(5 * time.Second),
		RingDepth:   8192,
		DPE: DPEConfig{
			Policy: "greedy_score",
		},
		Cluster: ClusterConfig{
			NATSURL:        "nats://localhost:4222",
			SubjectPrefix:  "hermes",
			ConnectionName: "hermes-node",
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
			RequestTimeout: Duration(5 * time.Second),
		},
		API: APIConfig{
			Enabled: true,
			Listen:  ":8080",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
