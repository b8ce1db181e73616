package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Put writes body under key, replacing any existing object
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// Get reads the object stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the URL for accessing an object
	URL(key string) string
}
