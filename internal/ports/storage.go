// Package ports declares the storage contract the agent archives
// render receipts through. Implementations live under
// internal/adapters/storage.
package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is the key to read the object back with. For localfs
	// it equals the input key; for gdrive it is the real Drive fileId.
	ObjectKey string
	Size      int64
}

// StorageProvider is the archive backend contract (localfs, gdrive).
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
}
