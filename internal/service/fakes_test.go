package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/stratos/internal/domain"
	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
	"github.com/Strob0t/stratos/internal/port/blobstore"
	"github.com/Strob0t/stratos/internal/port/messagequeue"
)

// memStore is an in-memory database.Store with the same state guards as
// the SQL adapters.
type memStore struct {
	mu             sync.Mutex
	tasks          map[string]*task.Task
	files          map[string]*file.File
	terminalWrites map[string]int
	failNext       error // returned once by the next mutating call
	now            func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		tasks:          make(map[string]*task.Task),
		files:          make(map[string]*file.File),
		terminalWrites: make(map[string]int),
		now:            time.Now,
	}
}

func (m *memStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	now := m.now()
	t := &task.Task{
		ID:        uuid.NewString(),
		Owner:     req.Owner,
		Command:   req.Command,
		Status:    task.StatusPending,
		FileIDs:   append([]string{}, req.FileIDs...),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: req.ExpiresAt,
	}
	m.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

// putTask inserts t as-is, for tests that need fixed ids or states.
func (m *memStore) putTask(t task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = &t
}

func (m *memStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) GetTaskFiles(_ context.Context, id string) ([]file.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	var out []file.File
	for _, fid := range t.FileIDs {
		if f, ok := m.files[fid]; ok {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *memStore) ListTasksByOwner(_ context.Context, owner string, limit int, cursor *task.Cursor) (*task.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []task.Task
	for _, t := range m.tasks {
		if t.Owner == owner && (cursor == nil || cursor.Before(t)) {
			all = append(all, *t)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	page := &task.Page{Items: all}
	if len(all) > limit {
		page.Items = all[:limit]
		page.HasMore = true
		page.NextCursor = task.CursorFor(&page.Items[limit-1]).Encode()
	}
	return page, nil
}

func (m *memStore) ListTasksByStatus(_ context.Context, status task.Status, limit int) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListExpiredTasks(_ context.Context, now time.Time, limit int) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.ExpiresAt != nil && t.ExpiresAt.Before(now) && t.Status.IsTerminal() {
			out = append(out, *t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) transition(id string, from []task.Status, apply func(t *task.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	for _, s := range from {
		if t.Status == s {
			apply(t)
			t.UpdatedAt = m.now()
			return nil
		}
	}
	return fmt.Errorf("task %s is %s: %w", id, t.Status, domain.ErrConflict)
}

func (m *memStore) MarkProcessing(_ context.Context, id string) error {
	return m.transition(id, []task.Status{task.StatusPending}, func(t *task.Task) {
		t.Status = task.StatusProcessing
	})
}

func (m *memStore) MarkCompleted(_ context.Context, id, resultPath string) error {
	return m.transition(id, []task.Status{task.StatusProcessing}, func(t *task.Task) {
		t.Status = task.StatusCompleted
		t.ResultPath = resultPath
		m.terminalWrites[id]++
	})
}

func (m *memStore) MarkFailed(_ context.Context, id, message string) error {
	return m.transition(id, []task.Status{task.StatusPending, task.StatusProcessing}, func(t *task.Task) {
		t.Status = task.StatusFailed
		t.Error = message
		m.terminalWrites[id]++
	})
}

func (m *memStore) SetPreview(_ context.Context, id, previewPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.PreviewPath = previewPath
	t.PreviewGenerated = true
	return nil
}

func (m *memStore) ExtendTaskExpiry(_ context.Context, fileID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		for _, id := range t.FileIDs {
			if id == fileID {
				exp := expiresAt
				t.ExpiresAt = &exp
			}
		}
	}
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return false, err
	}
	_, ok := m.tasks[id]
	delete(m.tasks, id)
	return ok, nil
}

func (m *memStore) CreateFile(_ context.Context, f *file.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	cp := *f
	m.files[f.ID] = &cp
	return nil
}

func (m *memStore) GetFile(_ context.Context, id string) (*file.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

func (m *memStore) MissingFiles(_ context.Context, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []string
	for _, id := range ids {
		if _, ok := m.files[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (m *memStore) ListFilesByOwner(_ context.Context, owner string, limit int, _ *task.Cursor) (*file.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := &file.Page{Items: []file.File{}}
	for _, f := range m.files {
		if f.Owner == owner {
			page.Items = append(page.Items, *f)
		}
	}
	sort.Slice(page.Items, func(i, j int) bool { return page.Items[i].UploadedAt.After(page.Items[j].UploadedAt) })
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.HasMore = true
	}
	return page, nil
}

func (m *memStore) ListExpiredFiles(_ context.Context, now time.Time, limit int) ([]file.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []file.File
	for _, f := range m.files {
		if f.ExpiresAt.Before(now) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateFileExpiry(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return domain.ErrNotFound
	}
	f.ExpiresAt = expiresAt
	return nil
}

func (m *memStore) DeleteFile(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[id]
	delete(m.files, id)
	return ok, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) task(id string) task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

// dirBlobs is a blobstore.Store over a temp directory with injectable
// delete failures.
type dirBlobs struct {
	dir       string
	mu        sync.Mutex
	deleteErr map[string]error
	deleted   []string
}

func newDirBlobs(dir string) *dirBlobs {
	return &dirBlobs{dir: dir, deleteErr: make(map[string]error)}
}

func (b *dirBlobs) path(id string) string { return filepath.Join(b.dir, id) }

// put stores content under id using name as the on-disk file name.
func (b *dirBlobs) put(id, content string) string {
	p := b.path(id)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		panic(err)
	}
	return p
}

func (b *dirBlobs) Write(_ context.Context, id string, r io.Reader) (blobstore.Stat, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return blobstore.Stat{}, err
	}
	p := b.path(id)
	if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
		return blobstore.Stat{}, err
	}
	return blobstore.Stat{Path: p, Size: int64(buf.Len())}, nil
}

func (b *dirBlobs) Stat(_ context.Context, id string) (blobstore.Stat, error) {
	info, err := os.Stat(b.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return blobstore.Stat{}, fmt.Errorf("blob %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return blobstore.Stat{}, err
	}
	return blobstore.Stat{Path: b.path(id), Size: info.Size()}, nil
}

func (b *dirBlobs) Open(_ context.Context, id string) (io.ReadCloser, error) {
	return os.Open(b.path(id))
}

func (b *dirBlobs) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.deleteErr[id]; err != nil {
		return err
	}
	b.deleted = append(b.deleted, id)
	err := os.Remove(b.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// stubProber returns a fixed duration or error.
type stubProber struct {
	duration float64
	err      error
}

func (p stubProber) ProbeDuration(context.Context, string) (float64, error) {
	return p.duration, p.err
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
	handlers   map[string]messagequeue.Handler
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, p := range q.published {
		out[i] = p.subject
	}
	return out
}

// recordingBroadcaster captures WebSocket pushes.
type recordingBroadcaster struct {
	mu     sync.Mutex
	owners []string
	events []any
}

func (b *recordingBroadcaster) BroadcastToOwner(_ context.Context, owner, _ string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owners = append(b.owners, owner)
	b.events = append(b.events, payload)
}
