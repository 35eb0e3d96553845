package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/stratos/internal/domain"
	"github.com/Strob0t/stratos/internal/domain/task"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// nullIfEmpty returns nil for empty strings (for nullable text columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// deref returns the pointed-to string, or "" for NULL columns.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// pgTextArray converts a string slice to a pgx-compatible text array.
// nil slices become empty arrays to avoid SQL NULL.
func pgTextArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// notFoundWrap checks whether err is pgx.ErrNoRows and, if so, wraps
// domain.ErrNotFound with the given message. Otherwise it wraps the
// original error.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// cursorArgs splits an optional cursor into nullable query arguments.
func cursorArgs(c *task.Cursor) (ts *time.Time, id *string) {
	if c == nil {
		return nil, nil
	}
	return &c.CreatedAt, &c.ID
}

// guardedTransition interprets the result of a status-guarded UPDATE. Zero
// affected rows mean the task is missing (ErrNotFound) or in a state the
// transition does not start from (ErrConflict).
func (s *Store) guardedTransition(ctx context.Context, tag pgconn.CommandTag, err error, id, op string) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var status string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status); err != nil {
		return notFoundWrap(err, "%s %s", op, id)
	}
	return fmt.Errorf("%s %s: task is %s: %w", op, id, status, domain.ErrConflict)
}
