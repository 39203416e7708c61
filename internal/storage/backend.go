package storage

import (
	"context"
)

// Backend is the object-store surface the persistence bridge writes
// partitions through. Implementations: local filesystem and S3/MinIO.
type Backend interface {
	// Write stores data under the given key, replacing any existing
	// object.
	Write(ctx context.Context, path string, data []byte) error

	// Read returns the object stored under the key.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all object keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at the key; deleting a missing object
	// is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object is stored under the key.
	Exists(ctx context.Context, path string) (bool, error)

	// Close releases any resources held by the backend.
	Close() error

	// Type returns the backend identifier ("local", "s3").
	Type() string
}
