package stage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hermes-cache/hermes/internal/config"
	"go.uber.org/zap"
)

func TestBinaryFileStagerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBinaryFileStager(config.BinaryFileConfig{DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	data, err := s.StageIn(ctx, "t1", "b1", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if data != nil {
		t.Fatalf("expected nil for never-staged blob, got %v", data)
	}

	if err := s.StageOut(ctx, "t1", "b1", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	data, err = s.StageIn(ctx, "t1", "b1", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want %q", data, "hello")
	}
}

func TestFormattedStagerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFormattedStager(config.FormattedConfig{Path: filepath.Join(dir, "meta.db")}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.StageOut(ctx, "t1", "b1", []byte("payload")); err != nil {
		t.Fatal(err)
	}
	data, err := s.StageIn(ctx, "t1", "b1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Fatalf("got %q, want %q", data, "payload")
	}

	if err := s.UpdateSize(ctx, "t1", 100, 50); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSize(ctx, "t1", 0, 10); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryLookupLongestPrefix(t *testing.T) {
	r := &Registry{}
	generic := &BinaryFileStager{dataDir: t.TempDir()}
	specific := &BinaryFileStager{dataDir: t.TempDir()}
	r.Register("log", generic)
	r.Register("logs-priority", specific)

	got, ok := r.Lookup("logs-priority-7")
	if !ok || got != specific {
		t.Fatalf("expected longest-prefix match to win, got %v ok=%v", got, ok)
	}

	got, ok = r.Lookup("log-other")
	if !ok || got != generic {
		t.Fatalf("expected fallback prefix match, got %v ok=%v", got, ok)
	}

	_, ok = r.Lookup("unrelated")
	if ok {
		t.Fatal("expected no match for unrelated tag name")
	}
}
