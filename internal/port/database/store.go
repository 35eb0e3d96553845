// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
)

// TaskStore is the port interface for task persistence.
//
// MarkProcessing only succeeds from pending and MarkCompleted only from
// processing. MarkFailed succeeds from pending or processing. Any other state
// yields domain.ErrConflict; an unknown id yields domain.ErrNotFound.
type TaskStore interface {
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	GetTaskFiles(ctx context.Context, id string) ([]file.File, error)
	ListTasksByOwner(ctx context.Context, owner string, limit int, cursor *task.Cursor) (*task.Page, error)
	ListTasksByStatus(ctx context.Context, status task.Status, limit int) ([]task.Task, error)
	// ListExpiredTasks only returns terminal tasks; queued and running ones
	// are never swept.
	ListExpiredTasks(ctx context.Context, now time.Time, limit int) ([]task.Task, error)

	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, resultPath string) error
	MarkFailed(ctx context.Context, id, message string) error
	SetPreview(ctx context.Context, id, previewPath string) error
	ExtendTaskExpiry(ctx context.Context, fileID string, expiresAt time.Time) error

	// DeleteTask reports whether a row was removed.
	DeleteTask(ctx context.Context, id string) (bool, error)
}

// FileStore is the port interface for uploaded file metadata.
type FileStore interface {
	CreateFile(ctx context.Context, f *file.File) error
	GetFile(ctx context.Context, id string) (*file.File, error)
	// MissingFiles returns the subset of ids with no file row, in input order.
	MissingFiles(ctx context.Context, ids []string) ([]string, error)
	ListFilesByOwner(ctx context.Context, owner string, limit int, cursor *task.Cursor) (*file.Page, error)
	ListExpiredFiles(ctx context.Context, now time.Time, limit int) ([]file.File, error)
	UpdateFileExpiry(ctx context.Context, id string, expiresAt time.Time) error
	DeleteFile(ctx context.Context, id string) (bool, error)
}

// Store combines every persistence port. Adapters implement all of it.
type Store interface {
	TaskStore
	FileStore
	Ping(ctx context.Context) error
}
