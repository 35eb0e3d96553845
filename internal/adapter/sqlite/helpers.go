package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/stratos/internal/domain"
)

// tsLayout is fixed-width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(tsLayout, s) }

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

type scannable interface {
	Scan(dest ...any) error
}

func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// guardedTransition maps a status-guarded UPDATE that touched no rows to
// ErrNotFound or ErrConflict.
func (s *Store) guardedTransition(ctx context.Context, res sql.Result, err error, id, op string) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status); err != nil {
		return notFoundWrap(err, "%s %s", op, id)
	}
	return fmt.Errorf("%s %s: task is %s: %w", op, id, status, domain.ErrConflict)
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
