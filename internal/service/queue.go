package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	cfotel "github.com/Strob0t/stratos/internal/adapter/otel"
)

// Executor runs one task to a terminal state.
type Executor interface {
	Execute(ctx context.Context, taskID string) error
}

// QueueStats is a point-in-time view of queue admission state.
type QueueStats struct {
	Running       int      `json:"running"`
	Queued        int      `json:"queued"`
	MaxConcurrent int      `json:"max_concurrent"`
	RunningTasks  []string `json:"running_tasks"`
}

// Queue admits task ids FIFO and runs at most maxConcurrent of them at a
// time, each on its own goroutine. State is in memory only.
type Queue struct {
	exec    Executor
	max     int
	ctx     context.Context
	metrics *cfotel.Metrics

	mu      sync.Mutex
	backlog []string
	running map[string]struct{}
	order   []string // running ids in admission order, for Stats
	wg      sync.WaitGroup
}

// NewQueue creates a queue running tasks through exec. ctx is the parent of
// every task execution; cancelling it cancels running tasks.
func NewQueue(ctx context.Context, exec Executor, maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		exec:    exec,
		max:     maxConcurrent,
		ctx:     ctx,
		running: make(map[string]struct{}),
	}
}

// SetMetrics enables the running-tasks gauge.
func (q *Queue) SetMetrics(m *cfotel.Metrics) { q.metrics = m }

// Submit appends taskID to the backlog and admits as capacity allows.
// It reports false when the id is already queued or running. A finished id
// may be submitted again; the store refuses to process a terminal task.
func (q *Queue) Submit(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, running := q.running[taskID]; running || slices.Contains(q.backlog, taskID) {
		slog.Warn("duplicate task submission ignored", "task_id", taskID)
		return false
	}
	q.backlog = append(q.backlog, taskID)
	q.admitLocked()
	return true
}

// admitLocked must be called with q.mu held.
func (q *Queue) admitLocked() {
	for len(q.running) < q.max && len(q.backlog) > 0 {
		id := q.backlog[0]
		q.backlog[0] = ""
		q.backlog = q.backlog[1:]
		q.running[id] = struct{}{}
		q.order = append(q.order, id)
		q.wg.Add(1)
		if q.metrics != nil {
			q.metrics.QueueRunning.Add(q.ctx, 1)
		}
		go q.run(id)
	}
}

func (q *Queue) run(taskID string) {
	defer q.wg.Done()
	defer q.finished(taskID)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("executor panic: %v", r)
			}
		}()
		return q.exec.Execute(q.ctx, taskID)
	}()
	if err != nil {
		slog.Error("task execution failed", "task_id", taskID, "error", err)
	}
}

func (q *Queue) finished(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.running, taskID)
	for i, id := range q.order {
		if id == taskID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if q.metrics != nil {
		q.metrics.QueueRunning.Add(q.ctx, -1)
	}
	q.admitLocked()
}

// Stats returns the current admission state.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Running:       len(q.running),
		Queued:        len(q.backlog),
		MaxConcurrent: q.max,
		RunningTasks:  append([]string{}, q.order...),
	}
}

// Wait blocks until the backlog is empty and every admitted task has
// finished. Once the parent context is cancelled, backlog tasks are still
// admitted and fail fast.
func (q *Queue) Wait() {
	q.wg.Wait()
}
