// Package stage implements the Stager Registry (spec.md section 4.6/9):
// a second, distinct polymorphic capability set from target.Target. A
// Stager bridges one tag to an external backing store via StageIn (read
// from backing store into the cache) and StageOut (write the cache's
// current contents back to the backing store), plus UpdateSize for
// SHOULD_STAGE tags whose logical size is authoritative at the backing
// store rather than computed from blob sizes in-process.
package stage

import (
	"context"
	"fmt"

	"github.com/hermes-cache/hermes/internal/config"
	"go.uber.org/zap"
)

// Stager bridges a tag to an external backing store. Grounded on the
// teacher's three storage backends (file, bbolt, S3), repurposed here from
// whole-object Put/Get to the narrower StageIn/StageOut/UpdateSize
// contract spec.md section 6 names.
type Stager interface {
	// StageIn populates data for a (tag, blob) pair from the backing store,
	// scored by priority so a backend that supports tiered reads can use
	// the hint (spec.md section 4.3 step 2: "StageIn(tag_id, name, score)").
	StageIn(ctx context.Context, tagName, blobName string, score float64) ([]byte, error)
	// StageOut writes the given data for a (tag, blob) pair to the backing
	// store (spec.md section 4.6: "FlushBlob ... call StageOut(tag_id,
	// name, data, size)").
	StageOut(ctx context.Context, tagName, blobName string, data []byte) error
	// UpdateSize reports a byte-range write so a backend that tracks
	// logical tag size out-of-band (spec.md section 4.3 step 7: "let the
	// stager update the tag's logical size") can account for it.
	UpdateSize(ctx context.Context, tagName string, off, length int64) error
	// Close releases any resources (open files, handles, clients).
	Close() error
}

// Registry maps tag names to the Stager responsible for them, matched by
// longest NamePattern prefix (spec.md section 4.6: "chosen by tag
// name/parameters").
type Registry struct {
	entries []registryEntry
	logger  *zap.Logger
}

type registryEntry struct {
	pattern string
	stager  Stager
}

// NewRegistry builds a Stager registry from config, constructing one
// Stager instance per configured entry.
func NewRegistry(cfgs []config.StagerConfig, logger *zap.Logger) (*Registry, error) {
	r := &Registry{logger: logger}
	for _, c := range cfgs {
		var s Stager
		var err error
		switch c.Kind {
		case config.StagerKindBinaryFile:
			s, err = NewBinaryFileStager(c.BinaryFile)
		case config.StagerKindFormatted:
			s, err = NewFormattedStager(c.Formatted, logger)
		case config.StagerKindS3:
			s, err = NewS3Stager(context.Background(), c.S3)
		default:
			err = fmt.Errorf("unknown stager kind %q for pattern %q", c.Kind, c.NamePattern)
		}
		if err != nil {
			return nil, fmt.Errorf("constructing stager for pattern %q: %w", c.NamePattern, err)
		}
		r.entries = append(r.entries, registryEntry{pattern: c.NamePattern, stager: s})
	}
	return r, nil
}

// Lookup returns the Stager registered for tagName, or (nil, false) if
// SHOULD_STAGE was requested but no matching stager exists — the
// StagerMissing error case in spec.md section 7's error table ("log
// warning, skip stage, keep operating").
func (r *Registry) Lookup(tagName string) (Stager, bool) {
	best := -1
	var found Stager
	for _, e := range r.entries {
		if len(e.pattern) > best && hasPrefix(tagName, e.pattern) {
			best = len(e.pattern)
			found = e.stager
		}
	}
	return found, found != nil
}

// Register adds a stager at runtime to this node's registry. Its callers
// are tagengine.Engine.RegisterStager and tests; no message carries the
// registration to other nodes, so only the node where Register is called
// has a stager instance for the pattern.
func (r *Registry) Register(pattern string, s Stager) {
	r.entries = append(r.entries, registryEntry{pattern: pattern, stager: s})
}

// Close closes every registered stager.
func (r *Registry) Close() error {
	var firstErr error
	for _, e := range r.entries {
		if err := e.stager.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
