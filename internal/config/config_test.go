package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestByteSizeUnmarshal(t *testing.T) {
	cases := map[string]int64{
		"100":  100,
		"10B":  10,
		"4KB":  4 * 1024,
		"8MB":  8 * 1024 * 1024,
		"1GB":  1024 * 1024 * 1024,
		"1TB":  1024 * 1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := parseByteSize(in)
		if err != nil {
			t.Fatalf("parseByteSize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestLoadDefaultsAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
targets:
  - name: dram
    kind: memory
    capacity: 64MB
    score: 1.0
  - name: nvme
    kind: file
    mount_point: ` + dir + `
    capacity: 1GB
    score: 0.5
fallback_target_index: 1
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Lanes != 32 {
		t.Errorf("Lanes default = %d, want 32", cfg.Lanes)
	}
	if cfg.FlushPeriod.Duration() != 5*time.Second {
		t.Errorf("FlushPeriod default = %v, want 5s", cfg.FlushPeriod.Duration())
	}
	if cfg.RingDepth != 8192 {
		t.Errorf("RingDepth default = %d, want 8192", cfg.RingDepth)
	}
	if len(cfg.Targets) != 2 || cfg.Targets[0].Name != "dram" {
		t.Fatalf("unexpected targets: %+v", cfg.Targets)
	}
}

func TestValidateRejectsNoTargets(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for config with no targets")
	}
}

func TestValidateRejectsBadFallbackIndex(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Targets = []TargetConfig{{Name: "dram", Kind: TargetKindMemory}}
	cfg.FallbackIndex = 5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range fallback_target_index")
	}
}
