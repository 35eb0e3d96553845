package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
)

const fileColumns = `id, owner, file_name, file_path, mime_type, file_size, uploaded_at, expires_at`

func scanFile(row scannable) (file.File, error) {
	var (
		f                 file.File
		uploaded, expires string
	)
	if err := row.Scan(&f.ID, &f.Owner, &f.Name, &f.Path, &f.MimeType, &f.Size, &uploaded, &expires); err != nil {
		return f, err
	}
	var err error
	if f.UploadedAt, err = parseTime(uploaded); err != nil {
		return f, err
	}
	f.ExpiresAt, err = parseTime(expires)
	return f, err
}

func (s *Store) CreateFile(ctx context.Context, f *file.File) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, owner, file_name, file_path, mime_type, file_size, uploaded_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Owner, f.Name, f.Path, f.MimeType, f.Size, formatTime(f.UploadedAt), formatTime(f.ExpiresAt))
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (*file.File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get file %s", id)
	}
	return &f, nil
}

func (s *Store) MissingFiles(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM files WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("check files: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("check files: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("check files: %w", err)
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Store) ListFilesByOwner(ctx context.Context, owner string, limit int, cursor *task.Cursor) (*file.Page, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner = ?`
	args := []any{owner}
	if cursor != nil {
		ts := formatTime(cursor.CreatedAt)
		query += ` AND (uploaded_at < ? OR (uploaded_at = ? AND id < ?))`
		args = append(args, ts, ts, cursor.ID)
	}
	query += ` ORDER BY uploaded_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	items, err := s.queryFiles(ctx, "list files", query, args...)
	if err != nil {
		return nil, err
	}
	page := &file.Page{Items: items}
	if page.Items == nil {
		page.Items = []file.File{}
	}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.HasMore = true
		last := page.Items[limit-1]
		page.NextCursor = task.Cursor{CreatedAt: last.UploadedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

func (s *Store) ListExpiredFiles(ctx context.Context, now time.Time, limit int) ([]file.File, error) {
	return s.queryFiles(ctx, "list expired files",
		`SELECT `+fileColumns+` FROM files WHERE expires_at < ? ORDER BY expires_at LIMIT ?`,
		formatTime(now), limit)
}

func (s *Store) queryFiles(ctx context.Context, op, query string, args ...any) ([]file.File, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var files []file.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) UpdateFileExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	ok, err := affected(s.db.ExecContext(ctx, `UPDATE files SET expires_at = ? WHERE id = ?`, formatTime(expiresAt), id))
	if err != nil {
		return fmt.Errorf("update file expiry %s: %w", id, err)
	}
	if !ok {
		return notFoundWrap(sql.ErrNoRows, "update file expiry %s", id)
	}
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, id string) (bool, error) {
	ok, err := affected(s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id))
	if err != nil {
		return false, fmt.Errorf("delete file %s: %w", id, err)
	}
	return ok, nil
}
