package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/stratos/internal/adapter/otel"
	"github.com/Strob0t/stratos/internal/port/blobstore"
	"github.com/Strob0t/stratos/internal/port/database"
)

// SweeperConfig holds cleanup settings.
type SweeperConfig struct {
	Interval   time.Duration
	BatchSize  int
	Workers    int
	OutputRoot string // absolute directory holding per-task output dirs
}

// Report summarizes one sweep.
type Report struct {
	FilesRemoved int `json:"files_removed"`
	TasksRemoved int `json:"tasks_removed"`
	Errors       int `json:"errors"`
}

// Sweeper removes expired uploads and tasks together with their on-disk data.
type Sweeper struct {
	cfg     SweeperConfig
	store   database.Store
	blobs   blobstore.Store
	metrics *cfotel.Metrics
	now     func() time.Time
}

// NewSweeper creates a Sweeper. Zero config values fall back to hourly
// sweeps of 500 items with 4 workers.
func NewSweeper(cfg SweeperConfig, store database.Store, blobs blobstore.Store) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Sweeper{cfg: cfg, store: store, blobs: blobs, now: time.Now}
}

// SetMetrics enables the removed-items counter.
func (s *Sweeper) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Start runs one sweep before returning, then sweeps every interval in the
// background until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.RunOnce(ctx)
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce removes everything that has expired by now. Per-item failures are
// logged and counted; they never stop the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (rep Report) {
	ctx, span := cfotel.StartSweepSpan(ctx)
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "cleanup sweep panicked", "panic", fmt.Sprint(p))
			rep.Errors++
		}
	}()

	now := s.now()
	var files, tasks, errs atomic.Int64

	expiredFiles, err := s.store.ListExpiredFiles(ctx, now, s.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "list expired files", "error", err)
		errs.Add(1)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range expiredFiles {
		f := expiredFiles[i]
		g.Go(func() error {
			defer recoverItem(gctx, "file", f.ID, &errs)
			if err := s.blobs.Delete(gctx, f.ID); err != nil {
				slog.WarnContext(gctx, "delete expired blob", "file_id", f.ID, "error", err)
				errs.Add(1)
			}
			if _, err := s.store.DeleteFile(gctx, f.ID); err != nil {
				slog.WarnContext(gctx, "delete expired file record", "file_id", f.ID, "error", err)
				errs.Add(1)
				return nil
			}
			files.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	expiredTasks, err := s.store.ListExpiredTasks(ctx, now, s.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "list expired tasks", "error", err)
		errs.Add(1)
	}
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range expiredTasks {
		id := expiredTasks[i].ID
		g.Go(func() error {
			defer recoverItem(gctx, "task", id, &errs)
			if err := s.removeTaskDir(id); err != nil {
				slog.WarnContext(gctx, "remove expired task outputs", "task_id", id, "error", err)
				errs.Add(1)
			}
			if _, err := s.store.DeleteTask(gctx, id); err != nil {
				slog.WarnContext(gctx, "delete expired task record", "task_id", id, "error", err)
				errs.Add(1)
				return nil
			}
			tasks.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	rep = Report{FilesRemoved: int(files.Load()), TasksRemoved: int(tasks.Load()), Errors: int(errs.Load())}
	if s.metrics != nil {
		s.metrics.SweepRemoved.Add(ctx, int64(rep.FilesRemoved), metric.WithAttributes(attribute.String("kind", "file")))
		s.metrics.SweepRemoved.Add(ctx, int64(rep.TasksRemoved), metric.WithAttributes(attribute.String("kind", "task")))
	}
	span.SetAttributes(
		attribute.Int("cleanup.files", rep.FilesRemoved),
		attribute.Int("cleanup.tasks", rep.TasksRemoved),
		attribute.Int("cleanup.errors", rep.Errors),
	)
	if rep.FilesRemoved+rep.TasksRemoved+rep.Errors > 0 {
		slog.InfoContext(ctx, "cleanup sweep finished",
			"files_removed", rep.FilesRemoved, "tasks_removed", rep.TasksRemoved, "errors", rep.Errors)
	}
	return rep
}

func recoverItem(ctx context.Context, kind, id string, errs *atomic.Int64) {
	if p := recover(); p != nil {
		slog.ErrorContext(ctx, "cleanup item panicked", "kind", kind, "id", id, "panic", fmt.Sprint(p))
		errs.Add(1)
	}
}

// removeTaskDir deletes <root>/<id>. Ids that would resolve outside the root
// are refused.
func (s *Sweeper) removeTaskDir(id string) error {
	if s.cfg.OutputRoot == "" {
		return nil
	}
	dir, ok := taskDirWithin(s.cfg.OutputRoot, id)
	if !ok {
		return fmt.Errorf("task dir for %q escapes output root", id)
	}
	return os.RemoveAll(dir)
}

// taskDirWithin joins root and id, reporting false unless the result is a
// direct child of root.
func taskDirWithin(root, id string) (string, bool) {
	root = filepath.Clean(root)
	dir := filepath.Join(root, id)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", false
	}
	return dir, true
}
