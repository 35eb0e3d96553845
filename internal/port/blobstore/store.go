// Package blobstore defines the port for raw uploaded file content.
package blobstore

import (
	"context"
	"io"
)

// Stat describes a stored blob.
type Stat struct {
	Path string // absolute path usable by child processes
	Size int64
}

// Store keeps blob bytes addressed by file id.
type Store interface {
	Write(ctx context.Context, id string, r io.Reader) (Stat, error)
	// Stat returns domain.ErrNotFound when the blob does not exist.
	Stat(ctx context.Context, id string) (Stat, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	// Delete is a no-op for missing blobs.
	Delete(ctx context.Context, id string) error
}
