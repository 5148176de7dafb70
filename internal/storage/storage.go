// Package storage defines where captured screenshots are persisted before
// they are read back and served.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and Delete for unknown keys.
var ErrNotFound = errors.New("object not found")

// BlobStore persists binary artifacts under slash-separated keys.
type BlobStore interface {
	// PutObject stores data under key and returns a backend-specific URI.
	PutObject(ctx context.Context, key string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}
