package stage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hermes-cache/hermes/internal/config"
	"github.com/hermes-cache/hermes/pkg/s3util"
)

// s3API is the subset of *s3.Client the S3 stager calls, matching
// target.S3API — grounded on the same gap in the teacher's internal/blob
// package (an S3API type was referenced but never defined there).
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Stager is an external object-store backing store, grounded on the
// teacher's internal/blob.Store PutObject/GetObject calls; metadata tags
// there are replaced here with the (tag, blob) identifier pair encoded
// into the object key.
type S3Stager struct {
	s3     s3API
	bucket string
	prefix string
}

// NewS3Stager opens an S3-compatible client from stager config.
func NewS3Stager(ctx context.Context, cfg config.BlobTargetConfig) (*S3Stager, error) {
	client, err := s3util.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating S3 client for stager: %w", err)
	}
	return &S3Stager{s3: client.S3, bucket: client.Bucket, prefix: client.Prefix}, nil
}

func (s *S3Stager) key(tagName, blobName string) string {
	if s.prefix != "" {
		return fmt.Sprintf("%s/%s/%s", s.prefix, tagName, blobName)
	}
	return fmt.Sprintf("%s/%s", tagName, blobName)
}

func (s *S3Stager) StageIn(ctx context.Context, tagName, blobName string, _ float64) ([]byte, error) {
	key := s.key(tagName, blobName)
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		// Treat a missing object as never-staged, not an error (spec.md
		// section 7: "StageIn: proceed with empty blob").
		return nil, nil
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *S3Stager) StageOut(ctx context.Context, tagName, blobName string, data []byte) error {
	key := s.key(tagName, blobName)
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	return err
}

func (s *S3Stager) UpdateSize(_ context.Context, _ string, _, _ int64) error {
	// Object size is authoritative from the PutObject call itself; no
	// separate ledger to update.
	return nil
}

func (s *S3Stager) Close() error { return nil }
