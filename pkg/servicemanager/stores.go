package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

// EnsureDatasets creates any of the given datasets that do not exist yet.
func EnsureDatasets(ctx context.Context, client *bigquery.Client, datasets []BigQueryDataset, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "BigQueryManager").Logger()
	for _, ds := range datasets {
		handle := client.Dataset(ds.Name)
		_, err := handle.Metadata(ctx)
		if err == nil {
			logger.Info().Str("dataset_id", ds.Name).Msg("Dataset already exists")
			continue
		}
		if !isHTTPNotFound(err) {
			return fmt.Errorf("failed to get metadata for dataset '%s': %w", ds.Name, err)
		}
		meta := &bigquery.DatasetMetadata{Location: ds.Location, Description: ds.Description, Labels: ds.Labels}
		if err := handle.Create(ctx, meta); err != nil {
			return fmt.Errorf("failed to create dataset '%s': %w", ds.Name, err)
		}
		logger.Info().Str("dataset_id", ds.Name).Msg("Dataset created")
	}
	return nil
}

// EnsureBuckets creates any of the given buckets that do not exist yet.
func EnsureBuckets(ctx context.Context, client *storage.Client, projectID string, buckets []GCSBucket, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "StorageManager").Logger()
	for _, b := range buckets {
		handle := client.Bucket(b.Name)
		_, err := handle.Attrs(ctx)
		if err == nil {
			logger.Info().Str("bucket", b.Name).Msg("Bucket already exists")
			continue
		}
		if !errors.Is(err, storage.ErrBucketNotExist) {
			return fmt.Errorf("failed to get attributes for bucket '%s': %w", b.Name, err)
		}
		if err := handle.Create(ctx, projectID, bucketAttrs(b)); err != nil {
			return fmt.Errorf("failed to create bucket '%s': %w", b.Name, err)
		}
		logger.Info().Str("bucket", b.Name).Msg("Bucket created")
	}
	return nil
}

func bucketAttrs(b GCSBucket) *storage.BucketAttrs {
	attrs := &storage.BucketAttrs{
		Location:          b.Location,
		StorageClass:      b.StorageClass,
		VersioningEnabled: b.VersioningEnabled,
		Labels:            b.Labels,
	}
	if b.DeleteAfterDays > 0 {
		attrs.Lifecycle = storage.Lifecycle{Rules: []storage.LifecycleRule{{
			Action:    storage.LifecycleAction{Type: storage.DeleteAction},
			Condition: storage.LifecycleCondition{AgeInDays: b.DeleteAfterDays},
		}}}
	}
	return attrs
}

func isHTTPNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
