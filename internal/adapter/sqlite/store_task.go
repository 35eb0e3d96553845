package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
)

const taskColumns = `id, owner, command, status, result_path, error, file_ids, preview_path, preview_generated, created_at, updated_at, expires_at`

func scanTask(row scannable) (task.Task, error) {
	var (
		t                task.Task
		status, fileIDs  string
		created, updated string
		expires          sql.NullString
	)
	err := row.Scan(&t.ID, &t.Owner, &t.Command, &status, &t.ResultPath, &t.Error, &fileIDs,
		&t.PreviewPath, &t.PreviewGenerated, &created, &updated, &expires)
	if err != nil {
		return t, err
	}
	t.Status = task.Status(status)
	if err := json.Unmarshal([]byte(fileIDs), &t.FileIDs); err != nil {
		return t, fmt.Errorf("decode file_ids: %w", err)
	}
	if t.FileIDs == nil {
		t.FileIDs = []string{}
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	if expires.Valid {
		exp, err := parseTime(expires.String)
		if err != nil {
			return t, err
		}
		t.ExpiresAt = &exp
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ids := req.FileIDs
	if ids == nil {
		ids = []string{}
	}
	fileIDs, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode file_ids: %w", err)
	}
	now := formatTime(time.Now())
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO tasks (id, owner, command, status, file_ids, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, 'pending', ?, ?, ?, ?)
		 RETURNING `+taskColumns,
		uuid.NewString(), req.Owner, req.Command, string(fileIDs), now, now, nullableTime(req.ExpiresAt))
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) GetTaskFiles(ctx context.Context, id string) ([]file.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE id IN (SELECT value FROM json_each((SELECT file_ids FROM tasks WHERE id = ?)))
		 ORDER BY uploaded_at`, id)
	if err != nil {
		return nil, fmt.Errorf("get task files %s: %w", id, err)
	}
	defer rows.Close()

	files := []file.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) ListTasksByOwner(ctx context.Context, owner string, limit int, cursor *task.Cursor) (*task.Page, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner = ?`
	args := []any{owner}
	if cursor != nil {
		ts := formatTime(cursor.CreatedAt)
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, ts, ts, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	items, err := s.queryTasks(ctx, "list tasks", query, args...)
	if err != nil {
		return nil, err
	}
	page := &task.Page{Items: items}
	if page.Items == nil {
		page.Items = []task.Task{}
	}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.HasMore = true
		page.NextCursor = task.CursorFor(&page.Items[limit-1]).Encode()
	}
	return page, nil
}

func (s *Store) ListTasksByStatus(ctx context.Context, status task.Status, limit int) ([]task.Task, error) {
	return s.queryTasks(ctx, "list tasks by status",
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		string(status), limit)
}

func (s *Store) ListExpiredTasks(ctx context.Context, now time.Time, limit int) ([]task.Task, error) {
	return s.queryTasks(ctx, "list expired tasks",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE expires_at IS NOT NULL AND expires_at < ? AND status IN ('completed', 'failed')
		 ORDER BY expires_at LIMIT ?`,
		formatTime(now), limit)
}

func (s *Store) queryTasks(ctx context.Context, op, query string, args ...any) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'processing', updated_at = ?
		 WHERE id = ? AND status = 'pending'`, formatTime(time.Now()), id)
	return s.guardedTransition(ctx, res, err, id, "mark processing")
}

func (s *Store) MarkCompleted(ctx context.Context, id, resultPath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'completed', result_path = ?, error = '', updated_at = ?
		 WHERE id = ? AND status = 'processing'`, resultPath, formatTime(time.Now()), id)
	return s.guardedTransition(ctx, res, err, id, "mark completed")
}

func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'failed', error = ?, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`, message, formatTime(time.Now()), id)
	return s.guardedTransition(ctx, res, err, id, "mark failed")
}

func (s *Store) SetPreview(ctx context.Context, id, previewPath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET preview_path = ?, preview_generated = 1, updated_at = ?
		 WHERE id = ?`, previewPath, formatTime(time.Now()), id)
	return s.guardedTransition(ctx, res, err, id, "set preview")
}

func (s *Store) ExtendTaskExpiry(ctx context.Context, fileID string, expiresAt time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET expires_at = ?, updated_at = ?
		 WHERE EXISTS (SELECT 1 FROM json_each(tasks.file_ids) WHERE value = ?)`,
		formatTime(expiresAt), formatTime(time.Now()), fileID); err != nil {
		return fmt.Errorf("extend task expiry for file %s: %w", fileID, err)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) (bool, error) {
	ok, err := affected(s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id))
	if err != nil {
		return false, fmt.Errorf("delete task %s: %w", id, err)
	}
	return ok, nil
}
