// Package config loads the node's YAML configuration: the target list,
// DPE policy, lane count, flush period, and ring depth (spec.md section 6
// "Consumed from collaborators: Config"). Loading YAML configuration is
// explicitly a peripheral concern per spec.md section 1 ("Deliberately out
// of scope: the YAML configuration loader") — the feature of parsing an
// arbitrary user-facing config grammar isn't part of the core engine — but
// a runnable node still needs this ambient plumbing, so it is carried the
// way the teacher repository carries its own internal/config package.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level node configuration.
type Config struct {
	NodeName      string              `yaml:"node_name"`
	Lanes         int                 `yaml:"lanes"`
	FlushPeriod   Duration            `yaml:"flush_period"`
	RingDepth     int                 `yaml:"ring_depth"`
	FallbackIndex int                 `yaml:"fallback_target_index"`
	Targets       []TargetConfig      `yaml:"targets"`
	Stagers       []StagerConfig      `yaml:"stagers"`
	DPE           DPEConfig           `yaml:"dpe"`
	Cluster       ClusterConfig       `yaml:"cluster"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TargetKind selects which target.Target implementation backs a configured
// target (spec.md section 9: "Target ... tagged variants with a common
// capability set; factory selection by tag name/params at registration
// time" — here selection happens once, at startup, from config).
type TargetKind string

const (
	TargetKindMemory TargetKind = "memory"
	TargetKindFile   TargetKind = "file"
	TargetKindBlob   TargetKind = "blob"
)

// TargetConfig describes one storage target (spec.md section 6: "target
// list with {name, mount_point, capacity, bandwidth, latency, slab_sizes}").
type TargetConfig struct {
	Name       string           `yaml:"name"`
	Kind       TargetKind       `yaml:"kind"`
	MountPoint string           `yaml:"mount_point"`
	Capacity   ByteSize         `yaml:"capacity"`
	Bandwidth  float64          `yaml:"bandwidth"`
	Latency    float64          `yaml:"latency"`
	SlabSizes  []ByteSize       `yaml:"slab_sizes"`
	Score      float64          `yaml:"score"`
	Blob       BlobTargetConfig `yaml:"blob"`
}

// BlobTargetConfig configures an S3-compatible remote/burst-buffer target.
type BlobTargetConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// StagerKind selects which stage.Stager implementation is registered for a
// tag name pattern (spec.md section 9: Stager is a second, distinct
// polymorphic capability set from Target).
type StagerKind string

const (
	StagerKindBinaryFile StagerKind = "binary_file"
	StagerKindFormatted  StagerKind = "formatted"
	StagerKindS3         StagerKind = "s3"
)

// StagerConfig describes one stager plugin registration. NamePattern is
// matched as a prefix against tag names (spec.md section 4.6: "chosen by
// tag name/parameters").
type StagerConfig struct {
	NamePattern string           `yaml:"name_pattern"`
	Kind        StagerKind       `yaml:"kind"`
	BinaryFile  BinaryFileConfig `yaml:"binary_file"`
	Formatted   FormattedConfig  `yaml:"formatted"`
	S3          BlobTargetConfig `yaml:"s3"`
}

type BinaryFileConfig struct {
	DataDir string `yaml:"data_dir"`
}

type FormattedConfig struct {
	Path string `yaml:"path"`
}

// DPEConfig configures the Data Placement Engine policy (spec.md section
// 4.7).
type DPEConfig struct {
	Policy string `yaml:"policy"` // "greedy_score" is the only built-in policy
}

// ClusterConfig configures the inter-node transport the request router
// uses for cross-shard dispatch (spec.md section 4.1, 6: "task framework
// ... treated as an external collaborator").
type ClusterConfig struct {
	NATSURL         string    `yaml:"nats_url"`
	SubjectPrefix   string    `yaml:"subject_prefix"`
	ConnectionName  string    `yaml:"connection_name"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
	RequestTimeout  Duration  `yaml:"request_timeout"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig configures mutual TLS to the NATS cluster.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and validates a YAML config file, filling in defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks invariants Load cannot repair with defaults.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target must be configured")
	}
	for i, tc := range c.Targets {
		if tc.Name == "" {
			return fmt.Errorf("targets[%d].name is required", i)
		}
		switch tc.Kind {
		case TargetKindMemory, TargetKindFile:
		case TargetKindBlob:
			if tc.Blob.Bucket == "" {
				return fmt.Errorf("targets[%d] (%s): blob target requires bucket", i, tc.Name)
			}
		default:
			return fmt.Errorf("targets[%d] (%s): unknown kind %q", i, tc.Name, tc.Kind)
		}
	}
	if c.FallbackIndex < 0 || c.FallbackIndex >= len(c.Targets) {
		return fmt.Errorf("fallback_target_index %d out of range for %d targets", c.FallbackIndex, len(c.Targets))
	}
	if c.Lanes <= 0 {
		return fmt.Errorf("lanes must be > 0")
	}
	return nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps int64 for YAML unmarshaling of strings like "256MB", "10GB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var n int64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

func parseByteSize(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty byte size")
	}

	var multiplier int64 = 1
	numStr := s

	switch {
	case len(s) >= 2 && s[len(s)-2:] == "KB":
		multiplier = 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "MB":
		multiplier = 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "GB":
		multiplier = 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case s[len(s)-1] == 'B':
		numStr = s[:len(s)-1]
	}

	var n int64
	_, err := fmt.Sscanf(numStr, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * multiplier, nil
}
