package icestore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// GCSClient is the part of *storage.Client the archive uses.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle is the part of *storage.BucketHandle the archive uses.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle is the part of *storage.ObjectHandle the archive uses.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
}

// GCSWriter is an object upload. Close commits it.
type GCSWriter interface {
	io.WriteCloser
}

type gcsClientAdapter struct{ client *storage.Client }

// NewGCSClientAdapter wraps a storage client so it satisfies GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketAdapter{bucket: a.client.Bucket(name)}
}

type gcsBucketAdapter struct{ bucket *storage.BucketHandle }

func (a *gcsBucketAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectAdapter{object: a.bucket.Object(name)}
}

type gcsObjectAdapter struct{ object *storage.ObjectHandle }

func (a *gcsObjectAdapter) NewWriter(ctx context.Context) GCSWriter {
	w := a.object.NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.ContentEncoding = "gzip"
	return w
}

var (
	_ GCSClient       = (*gcsClientAdapter)(nil)
	_ GCSBucketHandle = (*gcsBucketAdapter)(nil)
	_ GCSObjectHandle = (*gcsObjectAdapter)(nil)
)
