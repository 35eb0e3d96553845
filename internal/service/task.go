package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	cfotel "github.com/Strob0t/stratos/internal/adapter/otel"
	"github.com/Strob0t/stratos/internal/domain"
	"github.com/Strob0t/stratos/internal/domain/command"
	"github.com/Strob0t/stratos/internal/domain/event"
	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
	"github.com/Strob0t/stratos/internal/port/cache"
	"github.com/Strob0t/stratos/internal/port/database"
	"github.com/Strob0t/stratos/internal/port/messagequeue"
	"github.com/Strob0t/stratos/internal/resilience"
)

const (
	taskCachePrefix  = "task:"
	recoverBatchSize = 10000
)

// TaskServiceConfig holds task lifecycle settings.
type TaskServiceConfig struct {
	Retention   time.Duration // lifetime of a task record and its outputs
	CacheTTL    time.Duration
	MaxPageSize int
}

// TaskStatus is a task's state plus its latest progress while running.
type TaskStatus struct {
	ID         string          `json:"id"`
	Status     task.Status     `json:"status"`
	Progress   *event.Progress `json:"progress,omitempty"`
	ResultPath string          `json:"result_path,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// TaskService handles task submission, queries and deletion.
type TaskService struct {
	cfg      TaskServiceConfig
	store    database.Store
	resolver *command.Resolver
	queue    *Queue
	runner   *Runner
	cache    cache.Cache
	mq       messagequeue.Queue
	breaker  *resilience.Breaker
	metrics  *cfotel.Metrics
	now      func() time.Time
}

// NewTaskService creates a TaskService that admits tasks to queue and reads
// outputs and progress from runner.
func NewTaskService(cfg TaskServiceConfig, store database.Store, resolver *command.Resolver, queue *Queue, runner *Runner) *TaskService {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	return &TaskService{cfg: cfg, store: store, resolver: resolver, queue: queue, runner: runner, now: time.Now}
}

// SetCache enables caching of terminal task snapshots.
func (s *TaskService) SetCache(c cache.Cache) { s.cache = c }

// SetMessageQueue enables tasks.created messages and the tasks.submit intake.
func (s *TaskService) SetMessageQueue(q messagequeue.Queue, br *resilience.Breaker) {
	s.mq = q
	s.breaker = br
}

// SetMetrics enables the submitted-tasks counter.
func (s *TaskService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Resolver returns the command resolver used for submissions.
func (s *TaskService) Resolver() *command.Resolver { return s.resolver }

// Enqueue resolves raw, records a pending task and hands it to the queue.
// Resolution failures return a *command.ResolutionError and create nothing.
func (s *TaskService) Enqueue(ctx context.Context, raw, owner string) (*task.Task, error) {
	res, err := s.resolver.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}

	expires := s.now().Add(s.cfg.Retention)
	t, err := s.store.CreateTask(ctx, task.CreateRequest{
		Command:   res.Executable,
		FileIDs:   res.FileIDs,
		Owner:     owner,
		ExpiresAt: &expires,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if s.mq != nil {
		publishLifecycle(ctx, s.mq, s.breaker, messagequeue.SubjectTaskCreated, messagequeue.TaskCreatedPayload{
			TaskID: t.ID, Owner: t.Owner, Command: t.Command, FileIDs: t.FileIDs,
		})
	}
	s.queue.Submit(t.ID)
	if s.metrics != nil {
		s.metrics.TasksSubmitted.Add(ctx, 1)
	}
	slog.InfoContext(ctx, "task enqueued", "task_id", t.ID, "kind", res.Kind, "name", res.Name, "files", len(t.FileIDs))
	return t, nil
}

// Get returns a task by id.
func (s *TaskService) Get(ctx context.Context, id string) (*task.Task, error) {
	if t, ok := s.cached(ctx, id); ok {
		return t, nil
	}
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		s.remember(ctx, t)
	}
	return t, nil
}

func (s *TaskService) cached(ctx context.Context, id string) (*task.Task, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, taskCachePrefix+id)
	if err != nil || !ok {
		return nil, false
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, false
	}
	return &t, true
}

// remember caches a terminal snapshot. Only terminal tasks are cached; their
// status can no longer change.
func (s *TaskService) remember(ctx context.Context, t *task.Task) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, taskCachePrefix+t.ID, data, s.cfg.CacheTTL); err != nil {
		slog.DebugContext(ctx, "cache task snapshot", "task_id", t.ID, "error", err)
	}
}

// Invalidate drops the cached snapshot of id.
func (s *TaskService) Invalidate(id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(context.Background(), taskCachePrefix+id); err != nil {
		slog.Warn("invalidate task snapshot", "task_id", id, "error", err)
	}
}

// Status returns the task's state and, while it runs, its latest progress.
func (s *TaskService) Status(ctx context.Context, id string) (*TaskStatus, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &TaskStatus{ID: t.ID, Status: t.Status, ResultPath: t.ResultPath, Error: t.Error}
	if t.Status == task.StatusProcessing && s.runner != nil {
		if p, ok := s.runner.Progress(t.ID); ok {
			st.Progress = &p
		}
	}
	return st, nil
}

// List returns one page of owner's tasks, newest first. token is an opaque
// cursor from a previous page.
func (s *TaskService) List(ctx context.Context, owner string, limit int, token string) (*task.Page, error) {
	cursor, err := task.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	return s.store.ListTasksByOwner(ctx, owner, clampLimit(limit, s.cfg.MaxPageSize), cursor)
}

// Files lists the output files of a task. A task that has not written any
// output yet has none.
func (s *TaskService) Files(ctx context.Context, id string) ([]task.OutputFile, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	files, err := listOutputs(s.runner.TaskDir(id))
	if errors.Is(err, os.ErrNotExist) {
		return []task.OutputFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	return files, nil
}

// OutputPath returns the absolute path of one output file of a task.
func (s *TaskService) OutputPath(ctx context.Context, id, name string) (string, error) {
	if !file.SafeName(name) {
		return "", fmt.Errorf("file name %q: %w", name, domain.ErrValidation)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return "", err
	}
	path := filepath.Join(s.runner.TaskDir(id), name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("output %s: %w", name, domain.ErrNotFound)
	}
	return path, nil
}

// Delete removes a task record and its outputs. Running tasks cannot be
// deleted.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == task.StatusProcessing {
		return fmt.Errorf("task %s is running: %w", id, domain.ErrConflict)
	}

	if dir, ok := taskDirWithin(s.runner.OutputRoot(), id); ok {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove outputs: %w", err)
		}
	}
	deleted, err := s.store.DeleteTask(ctx, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.Invalidate(id)
	if !deleted {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	slog.InfoContext(ctx, "task deleted", "task_id", id)
	return nil
}

// Stats returns the queue's occupancy.
func (s *TaskService) Stats() QueueStats { return s.queue.Stats() }

// Recover reconciles tasks left over from a previous process. Processing
// tasks are failed when failStale is set; pending tasks are resubmitted when
// requeue is set.
func (s *TaskService) Recover(ctx context.Context, requeue, failStale bool) error {
	if failStale {
		stale, err := s.store.ListTasksByStatus(ctx, task.StatusProcessing, recoverBatchSize)
		if err != nil {
			return fmt.Errorf("list processing tasks: %w", err)
		}
		for i := range stale {
			if err := s.store.MarkFailed(ctx, stale[i].ID, "interrupted by restart"); err != nil {
				slog.WarnContext(ctx, "fail stale task", "task_id", stale[i].ID, "error", err)
			}
		}
		if len(stale) > 0 {
			slog.InfoContext(ctx, "failed tasks interrupted by restart", "count", len(stale))
		}
	}
	if requeue {
		pending, err := s.store.ListTasksByStatus(ctx, task.StatusPending, recoverBatchSize)
		if err != nil {
			return fmt.Errorf("list pending tasks: %w", err)
		}
		for i := range pending {
			s.queue.Submit(pending[i].ID)
		}
		if len(pending) > 0 {
			slog.InfoContext(ctx, "requeued pending tasks", "count", len(pending))
		}
	}
	return nil
}

// StartIntake consumes tasks.submit messages and enqueues them like API
// submissions. It is a no-op without a message queue.
func (s *TaskService) StartIntake(ctx context.Context) (cancel func(), err error) {
	if s.mq == nil {
		return func() {}, nil
	}
	return s.mq.Subscribe(ctx, messagequeue.SubjectTaskSubmit, s.handleSubmit)
}

func (s *TaskService) handleSubmit(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.TaskSubmitPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal submit: %w", err)
	}
	owner := p.Owner
	if owner == "" {
		owner = intakeOwner
	}
	if _, err := s.Enqueue(ctx, p.Command, owner); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			// redelivery cannot fix a bad command
			slog.WarnContext(ctx, "rejected submitted command", "owner", owner, "error", err)
			return nil
		}
		return err
	}
	return nil
}

// intakeOwner owns tasks submitted over the bus without an owner.
const intakeOwner = "intake"

func clampLimit(limit, maxLimit int) int {
	switch {
	case limit <= 0:
		return min(20, maxLimit)
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}
