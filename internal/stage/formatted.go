package stage

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/hermes-cache/hermes/internal/config"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketTags = []byte("tags")
)

// formattedRecord is the gob-encoded value stored per (tag, blob) key,
// grounded on the teacher's meta.BoltStore encodeBlockEntry/decodeBlockEntry
// gob pattern.
type formattedRecord struct {
	Data []byte
	Size int64
}

// FormattedStager is a structured, queryable backing store keyed by
// (tag, blob), grounded on the teacher's internal/meta.BoltStore bucket
// layout: one top-level bucket, one sub-bucket per tag, gob-encoded
// values.
type FormattedStager struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewFormattedStager opens (creating if absent) a bbolt database at
// cfg.Path.
func NewFormattedStager(cfg config.FormattedConfig, logger *zap.Logger) (*FormattedStager, error) {
	if cfg.Path == "" {
		return nil, errConfigured("formatted stager requires path")
	}
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening formatted stager db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTags)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing formatted stager schema: %w", err)
	}
	return &FormattedStager{db: db, logger: logger}, nil
}

func (s *FormattedStager) StageIn(_ context.Context, tagName, blobName string, _ float64) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		tagBucket := tx.Bucket(bucketTags).Bucket([]byte(tagName))
		if tagBucket == nil {
			return nil
		}
		raw := tagBucket.Get([]byte(blobName))
		if raw == nil {
			return nil
		}
		var rec formattedRecord
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
			return err
		}
		data = rec.Data
		return nil
	})
	return data, err
}

func (s *FormattedStager) StageOut(_ context.Context, tagName, blobName string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		tagBucket, err := tx.Bucket(bucketTags).CreateBucketIfNotExists([]byte(tagName))
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		rec := formattedRecord{Data: data, Size: int64(len(data))}
		if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
			return err
		}
		return tagBucket.Put([]byte(blobName), buf.Bytes())
	})
}

func (s *FormattedStager) UpdateSize(_ context.Context, tagName string, off, length int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		tagBucket, err := tx.Bucket(bucketTags).CreateBucketIfNotExists([]byte(tagName))
		if err != nil {
			return err
		}
		raw := tagBucket.Get(sizeKey)
		var cur int64
		if raw != nil {
			var rec formattedRecord
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err == nil {
				cur = rec.Size
			}
		}
		if need := off + length; need > cur {
			cur = need
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(&formattedRecord{Size: cur}); err != nil {
			return err
		}
		return tagBucket.Put(sizeKey, buf.Bytes())
	})
}

var sizeKey = []byte("\x00size")

func (s *FormattedStager) Close() error {
	return s.db.Close()
}
