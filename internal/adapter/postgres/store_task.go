package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
)

const taskColumns = `id, owner, command, status, result_path, error, file_ids, preview_path, preview_generated, created_at, updated_at, expires_at`

func scanTask(row scannable) (task.Task, error) {
	var (
		t                       task.Task
		status                  string
		result, msg, previewPth *string
	)
	err := row.Scan(&t.ID, &t.Owner, &t.Command, &status, &result, &msg, &t.FileIDs,
		&previewPth, &t.PreviewGenerated, &t.CreatedAt, &t.UpdatedAt, &t.ExpiresAt)
	if err != nil {
		return t, err
	}
	t.Status = task.Status(status)
	t.ResultPath = deref(result)
	t.Error = deref(msg)
	t.PreviewPath = deref(previewPth)
	t.FileIDs = pgTextArray(t.FileIDs)
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (id, owner, command, status, file_ids, expires_at)
		 VALUES ($1, $2, $3, 'pending', $4, $5)
		 RETURNING `+taskColumns,
		uuid.NewString(), req.Owner, req.Command, pgTextArray(req.FileIDs), req.ExpiresAt)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) GetTaskFiles(ctx context.Context, id string) ([]file.File, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE id = ANY((SELECT file_ids FROM tasks WHERE id = $1))
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
	ts, cid := cursorArgs(cursor)
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE owner = $1
		   AND ($2::timestamptz IS NULL OR (created_at, id) < ($2::timestamptz, $3::uuid))
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`, owner, ts, cid, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	page := &task.Page{Items: []task.Task{}}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		page.Items = append(page.Items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
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
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at, id LIMIT $2`,
		string(status), limit)
}

func (s *Store) ListExpiredTasks(ctx context.Context, now time.Time, limit int) ([]task.Task, error) {
	return s.queryTasks(ctx, "list expired tasks",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE expires_at < $1 AND status IN ('completed', 'failed')
		 ORDER BY expires_at LIMIT $2`,
		now, limit)
}

func (s *Store) queryTasks(ctx context.Context, op, query string, args ...any) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'processing', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`, id)
	return s.guardedTransition(ctx, tag, err, id, "mark processing")
}

func (s *Store) MarkCompleted(ctx context.Context, id, resultPath string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'completed', result_path = $2, error = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'processing'`, id, nullIfEmpty(resultPath))
	return s.guardedTransition(ctx, tag, err, id, "mark completed")
}

func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'failed', error = $2, updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'processing')`, id, message)
	return s.guardedTransition(ctx, tag, err, id, "mark failed")
}

func (s *Store) SetPreview(ctx context.Context, id, previewPath string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET preview_path = $2, preview_generated = true, updated_at = now()
		 WHERE id = $1`, id, nullIfEmpty(previewPath))
	return s.guardedTransition(ctx, tag, err, id, "set preview")
}

func (s *Store) ExtendTaskExpiry(ctx context.Context, fileID string, expiresAt time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE tasks SET expires_at = $2, updated_at = now() WHERE $1::uuid = ANY(file_ids)`,
		fileID, expiresAt); err != nil {
		return fmt.Errorf("extend task expiry for file %s: %w", fileID, err)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete task %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
