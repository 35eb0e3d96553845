package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/stratos/internal/domain"
	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
	"github.com/Strob0t/stratos/internal/port/blobstore"
	"github.com/Strob0t/stratos/internal/port/database"
)

// MaxExtendHours caps a single expiry extension.
const MaxExtendHours = 168

// FileServiceConfig holds upload settings.
type FileServiceConfig struct {
	Retention   time.Duration
	MaxBytes    int64 // 0 = unlimited
	MaxPageSize int
}

// FileService manages uploaded input files.
type FileService struct {
	cfg   FileServiceConfig
	store database.Store
	blobs blobstore.Store
	now   func() time.Time
}

// NewFileService creates a FileService.
func NewFileService(cfg FileServiceConfig, store database.Store, blobs blobstore.Store) *FileService {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	return &FileService{cfg: cfg, store: store, blobs: blobs, now: time.Now}
}

// Upload stores r as a new file owned by owner. The file expires after the
// configured retention.
func (s *FileService) Upload(ctx context.Context, owner, name string, r io.Reader) (*file.File, error) {
	name = filepath.Base(filepath.Clean("/" + filepath.ToSlash(name)))
	if !file.SafeName(name) {
		return nil, fmt.Errorf("file name is required: %w", domain.ErrValidation)
	}

	id := uuid.NewString()
	src := r
	if s.cfg.MaxBytes > 0 {
		src = io.LimitReader(r, s.cfg.MaxBytes+1)
	}
	st, err := s.blobs.Write(ctx, id, src)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}
	if s.cfg.MaxBytes > 0 && st.Size > s.cfg.MaxBytes {
		s.discard(ctx, id)
		return nil, fmt.Errorf("file exceeds %d bytes: %w", s.cfg.MaxBytes, domain.ErrValidation)
	}

	now := s.now().UTC()
	f := &file.File{
		ID:         id,
		Owner:      owner,
		Name:       name,
		MimeType:   file.MimeType(name),
		Size:       st.Size,
		Path:       st.Path,
		UploadedAt: now,
		ExpiresAt:  now.Add(s.cfg.Retention),
	}
	if err := s.store.CreateFile(ctx, f); err != nil {
		s.discard(ctx, id)
		return nil, fmt.Errorf("record file: %w", err)
	}
	slog.InfoContext(ctx, "file uploaded", "file_id", id, "name", name, "size", st.Size)
	return f, nil
}

func (s *FileService) discard(ctx context.Context, id string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), id); err != nil {
		slog.WarnContext(ctx, "discard blob", "file_id", id, "error", err)
	}
}

// List returns one page of owner's files, newest first.
func (s *FileService) List(ctx context.Context, owner string, limit int, token string) (*file.Page, error) {
	cursor, err := task.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	return s.store.ListFilesByOwner(ctx, owner, clampLimit(limit, s.cfg.MaxPageSize), cursor)
}

// Get returns a file by id.
func (s *FileService) Get(ctx context.Context, id string) (*file.File, error) {
	return s.store.GetFile(ctx, id)
}

// Open returns the file and a reader over its content. The caller closes
// the reader.
func (s *FileService) Open(ctx context.Context, id string) (*file.File, io.ReadCloser, error) {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, rc, nil
}

// Delete removes the blob, then the record. A missing blob is not an error.
func (s *FileService) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetFile(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete blob: %w", err)
	}
	deleted, err := s.store.DeleteFile(ctx, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if !deleted {
		return fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	slog.InfoContext(ctx, "file deleted", "file_id", id)
	return nil
}

// ExtendExpiry moves the file's expiry to now + hours and applies the same
// expiry to every task that references it.
func (s *FileService) ExtendExpiry(ctx context.Context, id string, hours int) (*file.File, error) {
	if hours < 1 || hours > MaxExtendHours {
		return nil, fmt.Errorf("hours must be between 1 and %d: %w", MaxExtendHours, domain.ErrValidation)
	}
	expires := s.now().UTC().Add(time.Duration(hours) * time.Hour)
	if err := s.store.UpdateFileExpiry(ctx, id, expires); err != nil {
		return nil, err
	}
	if err := s.store.ExtendTaskExpiry(ctx, id, expires); err != nil {
		return nil, fmt.Errorf("extend task expiry: %w", err)
	}
	return s.store.GetFile(ctx, id)
}
