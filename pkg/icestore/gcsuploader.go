package icestore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Batchable is implemented by records that know which object they belong in.
type Batchable interface {
	GetBatchKey() string
}

// GCSBatchUploaderConfig holds configuration for the GCS uploader.
type GCSBatchUploaderConfig struct {
	BucketName   string
	ObjectPrefix string // e.g. "device-logs"
}

// GCSBatchUploader writes batches to Cloud Storage as gzipped JSON lines, one
// object per batch key. It satisfies batching.Flusher.
type GCSBatchUploader[T Batchable] struct {
	client GCSClient
	config GCSBatchUploaderConfig
	logger zerolog.Logger
}

// NewGCSBatchUploader creates an uploader for the configured bucket.
func NewGCSBatchUploader[T Batchable](client GCSClient, cfg GCSBatchUploaderConfig, logger zerolog.Logger) (*GCSBatchUploader[T], error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSBatchUploader[T]{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "GCSBatchUploader").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// Flush groups items by batch key and uploads one object per group.
// Items with an empty key are dropped. Groups are uploaded independently: when
// one fails the others are still written and the joined error is returned, so
// a caller that retries the whole batch writes the successful groups again
// under new object names. Archive readers must tolerate duplicate records.
func (u *GCSBatchUploader[T]) Flush(ctx context.Context, items []*T) error {
	groups := make(map[string][]*T)
	for _, item := range items {
		if item == nil {
			continue
		}
		key := (*item).GetBatchKey()
		if key == "" {
			u.logger.Warn().Msg("Record has an empty batch key, skipping.")
			continue
		}
		groups[key] = append(groups[key], item)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := u.upload(ctx, key, groups[key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (u *GCSBatchUploader[T]) upload(ctx context.Context, batchKey string, records []*T) error {
	objectName := path.Join(u.config.ObjectPrefix, batchKey, uuid.NewString()+".jsonl.gz")
	// Cancelling the writer's context before Close discards the upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := u.client.Bucket(u.config.BucketName).Object(objectName).NewWriter(ctx)

	gz := gzip.NewWriter(writer)
	enc := json.NewEncoder(gz)
	var encodeErr error
	for _, rec := range records {
		if encodeErr = enc.Encode(rec); encodeErr != nil {
			break
		}
	}
	if encodeErr == nil {
		encodeErr = gz.Close()
	}
	if encodeErr != nil {
		cancel()
	}
	closeErr := writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to write GCS object %s: %w", objectName, encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}
	u.logger.Info().Str("object_name", objectName).Int("record_count", len(records)).Msg("Uploaded batch to GCS")
	return nil
}

// Close is a no-op; uploads complete inside Flush.
func (u *GCSBatchUploader[T]) Close() error {
	return nil
}
