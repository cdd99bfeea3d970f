package stage

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/hermes-cache/hermes/internal/config"
)

// BinaryFileStager is a file backing store with one directory per tag and
// one file per blob inside it, grounded on the teacher's internal/file.Store
// directory-per-namespace layout. Blob names are used directly (sanitised)
// as file names beneath the tag's directory; they are not decoded as
// <page>.<offset> positions within a shared backing file.
type BinaryFileStager struct {
	mu      sync.Mutex
	dataDir string
}

// NewBinaryFileStager creates a stager rooted at cfg.DataDir.
func NewBinaryFileStager(cfg config.BinaryFileConfig) (*BinaryFileStager, error) {
	if cfg.DataDir == "" {
		return nil, errConfigured("binary_file stager requires data_dir")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return &BinaryFileStager{dataDir: cfg.DataDir}, nil
}

func (s *BinaryFileStager) tagDir(tagName string) string {
	return filepath.Join(s.dataDir, sanitize(tagName))
}

func (s *BinaryFileStager) blobPath(tagName, blobName string) string {
	return filepath.Join(s.tagDir(tagName), sanitize(blobName))
}

func (s *BinaryFileStager) StageIn(_ context.Context, tagName, blobName string, _ float64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.blobPath(tagName, blobName))
	if os.IsNotExist(err) {
		// No backing data yet: an empty blob, not a failure (spec.md
		// section 7: StageIn failure means "proceed with empty blob").
		return nil, nil
	}
	return data, err
}

func (s *BinaryFileStager) StageOut(_ context.Context, tagName, blobName string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.tagDir(tagName), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.blobPath(tagName, blobName), data, 0o644)
}

func (s *BinaryFileStager) UpdateSize(_ context.Context, _ string, _, _ int64) error {
	// The binary-file backend has no separate size ledger; file length on
	// disk already reflects logical size after StageOut.
	return nil
}

func (s *BinaryFileStager) Close() error { return nil }

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '/', '\\', 0:
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfigured(msg string) error { return configError(msg) }
