package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
)

const fileColumns = `id, owner, file_name, file_path, mime_type, file_size, uploaded_at, expires_at`

func scanFile(row scannable) (file.File, error) {
	var f file.File
	err := row.Scan(&f.ID, &f.Owner, &f.Name, &f.Path, &f.MimeType, &f.Size, &f.UploadedAt, &f.ExpiresAt)
	return f, err
}

func (s *Store) CreateFile(ctx context.Context, f *file.File) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (id, owner, file_name, file_path, mime_type, file_size, uploaded_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.Owner, f.Name, f.Path, f.MimeType, f.Size, f.UploadedAt, f.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (*file.File, error) {
	f, err := scanFile(s.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get file %s", id)
	}
	return &f, nil
}

func (s *Store) MissingFiles(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT want.id::text FROM unnest($1::uuid[]) WITH ORDINALITY AS want(id, ord)
		 WHERE NOT EXISTS (SELECT 1 FROM files f WHERE f.id = want.id)
		 ORDER BY want.ord`, ids)
	if err != nil {
		return nil, fmt.Errorf("check files: %w", err)
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("check files: %w", err)
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

func (s *Store) ListFilesByOwner(ctx context.Context, owner string, limit int, cursor *task.Cursor) (*file.Page, error) {
	ts, cid := cursorArgs(cursor)
	rows, err := s.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE owner = $1
		   AND ($2::timestamptz IS NULL OR (uploaded_at, id) < ($2::timestamptz, $3::uuid))
		 ORDER BY uploaded_at DESC, id DESC
		 LIMIT $4`, owner, ts, cid, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	page := &file.Page{Items: []file.File{}}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		page.Items = append(page.Items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
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
	rows, err := s.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files WHERE expires_at < $1 ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired files: %w", err)
	}
	defer rows.Close()

	var files []file.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) UpdateFileExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE files SET expires_at = $2 WHERE id = $1`, id, expiresAt)
	if err != nil {
		return fmt.Errorf("update file expiry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundWrap(pgx.ErrNoRows, "update file expiry %s", id)
	}
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete file %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
