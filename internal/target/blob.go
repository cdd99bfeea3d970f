package target

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/internal/types"
	"github.com/hermes-cache/hermes/pkg/s3util"
	"go.uber.org/zap"
)

// S3API is the subset of *s3.Client this package calls, so tests can
// substitute a fake. Grounded on the teacher's internal/blob.Store, which
// depends on the same four operations.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// BlobTarget is a burst-buffer / parallel-file-system-speed remote target
// backed by an S3-compatible object store, grounded on the teacher's
// internal/blob.Store. Because object stores don't support in-place partial
// writes, the target's address space is split into slab-aligned,
// slab-sized ranges, each mirrored to one remote object; an allocated
// chunk that crosses a range boundary spans two objects, and a partial
// Write does a read-modify-write of every object it touches, same as the
// teacher's index-sidecar pattern of fetching before mutating cached state.
type BlobTarget struct {
	id       types.TargetID
	name     string
	score    float64
	s3       S3API
	bucket   string
	prefix   string
	slabSize int64
	cap      int64
	alloc    *slabAllocator
	logger   *zap.Logger
}

// NewBlobTarget creates a blob target from config, opening a shared S3
// client via pkg/s3util.
func NewBlobTarget(ctx context.Context, id types.TargetID, cfg config.TargetConfig, slabSize int64, logger *zap.Logger) (*BlobTarget, error) {
	client, err := s3util.NewClient(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("creating S3 client for target %q: %w", cfg.Name, err)
	}
	cap := int64(cfg.Capacity)
	if cap <= 0 {
		cap = 1 << 40 // object stores are effectively unlimited; default to 1TiB of addressable space
	}
	return &BlobTarget{
		id:       id,
		name:     cfg.Name,
		score:    cfg.Score,
		s3:       client.S3,
		bucket:   client.Bucket,
		prefix:   client.Prefix,
		slabSize: slabSize,
		cap:      cap,
		alloc:    newSlabAllocator(cap, slabSize),
		logger:   logger,
	}, nil
}

func (t *BlobTarget) ID() types.TargetID { return t.id }

func (t *BlobTarget) Allocate(_ context.Context, size int64) ([]types.Block, error) {
	return t.alloc.allocate(size), nil
}

func (t *BlobTarget) slabKey(slabOffset int64) string {
	if t.prefix != "" {
		return fmt.Sprintf("%s/%s/slab-%020d.bin", t.prefix, t.name, slabOffset)
	}
	return fmt.Sprintf("%s/slab-%020d.bin", t.name, slabOffset)
}

func (t *BlobTarget) slabBounds(off int64) (start int64, size int64) {
	start = (off / t.slabSize) * t.slabSize
	size = t.slabSize
	if start+size > t.cap {
		size = t.cap - start
	}
	return start, size
}

func (t *BlobTarget) fetchSlab(ctx context.Context, key string, size int64) ([]byte, error) {
	buf := make([]byte, size)
	resp, err := t.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: &t.bucket, Key: &key})
	if err != nil {
		// Treat a missing object as a zero-filled slab (never written yet).
		return buf, nil
	}
	defer resp.Body.Close()
	n, _ := io.ReadFull(resp.Body, buf)
	_ = n
	return buf, nil
}

func (t *BlobTarget) Write(ctx context.Context, buf []byte, off int64, length int64) (int, error) {
	if err := t.alloc.validateRange(off, length, t.cap); err != nil {
		return 0, err
	}
	if int64(len(buf)) < length {
		length = int64(len(buf))
	}

	written := int64(0)
	for written < length {
		cur := off + written
		slabStart, slabSize := t.slabBounds(cur)
		data, err := t.fetchSlab(ctx, t.slabKey(slabStart), slabSize)
		if err != nil {
			return int(written), err
		}

		relOff := cur - slabStart
		chunk := slabSize - relOff
		if remaining := length - written; chunk > remaining {
			chunk = remaining
		}
		copy(data[relOff:relOff+chunk], buf[written:written+chunk])

		key := t.slabKey(slabStart)
		if _, err := t.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      &t.bucket,
			Key:         &key,
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/octet-stream"),
		}); err != nil {
			return int(written), fmt.Errorf("uploading slab to S3: %w", err)
		}
		written += chunk
	}
	return int(written), nil
}

func (t *BlobTarget) Read(ctx context.Context, buf []byte, off int64, length int64) (int, error) {
	if err := t.alloc.validateRange(off, length, t.cap); err != nil {
		return 0, err
	}
	if int64(len(buf)) < length {
		length = int64(len(buf))
	}

	read := int64(0)
	for read < length {
		cur := off + read
		slabStart, slabSize := t.slabBounds(cur)
		data, err := t.fetchSlab(ctx, t.slabKey(slabStart), slabSize)
		if err != nil {
			return int(read), err
		}
		relOff := cur - slabStart
		chunk := slabSize - relOff
		if remaining := length - read; chunk > remaining {
			chunk = remaining
		}
		copy(buf[read:read+chunk], data[relOff:relOff+chunk])
		read += chunk
	}
	return int(read), nil
}

func (t *BlobTarget) Free(_ context.Context, blk types.Block) error {
	t.alloc.free_(blk)
	return nil
}

func (t *BlobTarget) PollStats(_ context.Context) (types.TargetInfo, error) {
	return types.TargetInfo{
		ID:      t.id,
		Name:    t.name,
		Free:    t.alloc.freeBytes(),
		MaxCap:  t.cap,
		Score:   t.score,
		Healthy: true,
	}, nil
}
