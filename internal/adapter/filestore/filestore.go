// Package filestore keeps uploaded blobs as flat files in one directory.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Strob0t/stratos/internal/domain"
	"github.com/Strob0t/stratos/internal/port/blobstore"
)

var _ blobstore.Store = (*Store)(nil)

// Store implements blobstore.Store on the local filesystem. Blobs are
// named by file id.
type Store struct {
	dir string
}

// New creates the upload directory if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute upload directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("blob id %q: %w", id, domain.ErrValidation)
	}
	return filepath.Join(s.dir, id), nil
}

// Write streams r into a temp file and renames it into place, so readers
// never observe a partial blob.
func (s *Store) Write(ctx context.Context, id string, r io.Reader) (blobstore.Stat, error) {
	dst, err := s.path(id)
	if err != nil {
		return blobstore.Stat{}, err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return blobstore.Stat{}, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return blobstore.Stat{}, fmt.Errorf("write blob %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return blobstore.Stat{}, fmt.Errorf("commit blob %s: %w", id, err)
	}
	return blobstore.Stat{Path: dst, Size: n}, nil
}

func (s *Store) Stat(_ context.Context, id string) (blobstore.Stat, error) {
	p, err := s.path(id)
	if err != nil {
		return blobstore.Stat{}, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return blobstore.Stat{}, fmt.Errorf("blob %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return blobstore.Stat{}, fmt.Errorf("stat blob %s: %w", id, err)
	}
	return blobstore.Stat{Path: p, Size: info.Size()}, nil
}

func (s *Store) Open(_ context.Context, id string) (io.ReadCloser, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	return f, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
