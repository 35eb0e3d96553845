package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/stratos/internal/adapter/otel"
	"github.com/Strob0t/stratos/internal/domain"
	"github.com/Strob0t/stratos/internal/domain/event"
	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
	"github.com/Strob0t/stratos/internal/logger"
	"github.com/Strob0t/stratos/internal/port/blobstore"
	"github.com/Strob0t/stratos/internal/port/broadcast"
	"github.com/Strob0t/stratos/internal/port/database"
	"github.com/Strob0t/stratos/internal/port/messagequeue"
	"github.com/Strob0t/stratos/internal/port/prober"
	"github.com/Strob0t/stratos/internal/resilience"
)

// timeMarker matches ffmpeg's "time=HH:MM:SS.ms" progress field.
var timeMarker = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// RunnerConfig holds process execution settings.
type RunnerConfig struct {
	OutputDir    string
	Shell        string
	Timeout      time.Duration // 0 = no limit
	ProbeTimeout time.Duration
}

// PreviewGenerator builds a browser-friendly preview of a completed result.
// Implementations must not block the caller.
type PreviewGenerator interface {
	Schedule(t *task.Task, resultPath string)
}

// Runner executes one task's command as a child process and drives the task
// to exactly one terminal state.
type Runner struct {
	cfg     RunnerConfig
	root    string // absolute output root
	store   database.TaskStore
	blobs   blobstore.Store
	prober  prober.Prober
	events  *Hub
	ws      broadcast.Broadcaster
	mq      messagequeue.Queue
	breaker *resilience.Breaker
	metrics *cfotel.Metrics
	preview PreviewGenerator

	mu       sync.Mutex
	progress map[string]event.Progress
}

// NewRunner creates a Runner writing outputs under cfg.OutputDir.
func NewRunner(cfg RunnerConfig, store database.TaskStore, blobs blobstore.Store, p prober.Prober, hub *Hub) (*Runner, error) {
	root, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	return &Runner{
		cfg:      cfg,
		root:     root,
		store:    store,
		blobs:    blobs,
		prober:   p,
		events:   hub,
		progress: make(map[string]event.Progress),
	}, nil
}

// SetBroadcaster enables WebSocket status pushes.
func (r *Runner) SetBroadcaster(b broadcast.Broadcaster) { r.ws = b }

// SetMessageQueue enables the lifecycle mirror. Publishes go through br.
func (r *Runner) SetMessageQueue(q messagequeue.Queue, br *resilience.Breaker) {
	r.mq = q
	r.breaker = br
}

// SetMetrics enables task counters and the duration histogram.
func (r *Runner) SetMetrics(m *cfotel.Metrics) { r.metrics = m }

// SetPreview enables preview generation for completed tasks.
func (r *Runner) SetPreview(p PreviewGenerator) { r.preview = p }

// OutputRoot returns the absolute directory holding per-task output dirs.
func (r *Runner) OutputRoot() string { return r.root }

// TaskDir returns the output directory of taskID.
func (r *Runner) TaskDir(taskID string) string { return filepath.Join(r.root, taskID) }

// Progress returns the latest progress of a running task.
func (r *Runner) Progress(taskID string) (event.Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.progress[taskID]
	return p, ok
}

// outcome is the terminal result of one execution.
type outcome struct {
	resultPath string
	files      []task.OutputFile
	err        error
}

// execution carries the state of one Execute call.
type execution struct {
	r     *Runner
	id    string
	owner string
	start time.Time
	once  sync.Once
}

// finish performs the terminal store write and publish. Only the first call
// has any effect.
func (x *execution) finish(ctx context.Context, o outcome) {
	x.once.Do(func() { x.r.terminate(ctx, x, o) })
}

// Execute runs taskID to completion. The returned error is for logging only;
// the task's terminal state has already been recorded.
func (r *Runner) Execute(ctx context.Context, taskID string) error {
	ctx = logger.WithTaskID(ctx, taskID)
	ctx, span := cfotel.StartTaskSpan(ctx, taskID, "")
	defer span.End()

	x := &execution{r: r, id: taskID, start: time.Now()}
	defer r.clearProgress(taskID)

	o := r.run(ctx, x)
	x.finish(ctx, o)

	span.SetAttributes(attribute.String("task.owner", x.owner))
	if o.err != nil {
		span.SetStatus(codes.Error, o.err.Error())
		return o.err
	}
	return nil
}

func (r *Runner) run(ctx context.Context, x *execution) outcome {
	if err := r.store.MarkProcessing(ctx, x.id); err != nil {
		return outcome{err: fmt.Errorf("mark processing: %w", err)}
	}

	t, err := r.store.GetTask(ctx, x.id)
	if err != nil {
		return outcome{err: fmt.Errorf("load task: %w", err)}
	}
	x.owner = t.Owner
	r.broadcast(ctx, t.Owner, broadcast.TaskStatusEvent{TaskID: t.ID, Status: string(task.StatusProcessing)})

	command, inputs, err := r.substitute(ctx, t)
	if err != nil {
		return outcome{err: err}
	}

	dir := r.TaskDir(t.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return outcome{err: fmt.Errorf("create task dir: %w", err)}
	}

	var total float64
	if len(inputs) > 0 {
		total = r.probe(ctx, inputs[0])
	}

	if err := r.spawn(ctx, t.ID, command, dir, total); err != nil {
		return outcome{err: err}
	}

	files, err := listOutputs(dir)
	if err != nil {
		return outcome{err: fmt.Errorf("list outputs: %w", err)}
	}
	var resultPath string
	if len(files) > 0 {
		resultPath = files[0].Path
	}
	return outcome{resultPath: resultPath, files: files}
}

// substitute swaps every referenced file id for the shell-quoted absolute
// path of its blob. It returns the paths in FileIDs order.
func (r *Runner) substitute(ctx context.Context, t *task.Task) (string, []string, error) {
	command := t.Command
	paths := make([]string, 0, len(t.FileIDs))
	for _, id := range t.FileIDs {
		st, err := r.blobs.Stat(ctx, id)
		if err != nil {
			return "", nil, fmt.Errorf("input file %s: %w", id, err)
		}
		pattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(id))
		command = pattern.ReplaceAllLiteralString(command, shellQuote(st.Path))
		paths = append(paths, st.Path)
	}
	return command, paths, nil
}

func (r *Runner) probe(ctx context.Context, path string) float64 {
	if r.prober == nil {
		return 0
	}
	if r.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		defer cancel()
	}
	d, err := r.prober.ProbeDuration(ctx, path)
	if err != nil {
		slog.WarnContext(ctx, "probe duration failed, progress disabled", "path", path, "error", err)
		return 0
	}
	return d
}

// spawn runs command under the shell and blocks until it exits and both
// output streams are drained.
func (r *Runner) spawn(ctx context.Context, taskID, command, dir string, total float64) error {
	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.cfg.Shell, "-c", command) //nolint:gosec // commands are resolved server side
	cmd.Dir = dir
	cmd.Stdin = nil
	cmd.WaitDelay = 5 * time.Second
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("process error: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("process error: %w", err)
	}

	slog.InfoContext(ctx, "task process starting", "dir", dir, "duration", total)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("process error: %w", err)
	}

	var (
		wg       sync.WaitGroup
		lastLine string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			slog.DebugContext(ctx, "task stdout", "line", sc.Text())
		}
		// a line longer than the scanner buffer stops Scan; drain the rest
		_, _ = io.Copy(io.Discard, stdout)
	}()
	go func() {
		defer wg.Done()
		lastLine = r.scanStderr(taskID, stderr, total)
	}()
	wg.Wait()

	err = cmd.Wait()
	switch {
	case err == nil:
		return nil
	case r.cfg.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("process timed out after %s", r.cfg.Timeout)
	case ctx.Err() != nil:
		return fmt.Errorf("process error: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		msg := fmt.Sprintf("process exited with code %d", exitErr.ExitCode())
		if lastLine != "" {
			msg += ": " + lastLine
		}
		return errors.New(msg)
	}
	return fmt.Errorf("process error: %w", err)
}

// scanStderr publishes progress for every time marker and returns the last
// non-empty line.
func (r *Runner) scanStderr(taskID string, rd io.Reader, total float64) string {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanLinesCR)

	var last string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		last = line
		if total <= 0 {
			continue
		}
		elapsed, ok := parseTimeMarker(line)
		if !ok {
			continue
		}
		p := event.Progress{
			TaskID:        taskID,
			Progress:      math.Min(1, round2(elapsed/total)),
			CurrentTime:   elapsed,
			TotalDuration: total,
		}
		r.mu.Lock()
		r.progress[taskID] = p
		r.mu.Unlock()
		r.events.Publish(p)
	}
	// keep draining so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, rd)
	return last
}

// terminate records o for x and publishes the matching terminal event.
func (r *Runner) terminate(ctx context.Context, x *execution, o outcome) {
	// terminal writes must land even when the execution context was cancelled
	ctx = context.WithoutCancel(ctx)
	elapsed := time.Since(x.start)

	if o.err == nil {
		if err := r.store.MarkCompleted(ctx, x.id, o.resultPath); err != nil {
			slog.ErrorContext(ctx, "mark completed failed", "error", err)
			if errors.Is(err, domain.ErrNotFound) {
				r.releaseRemoved(ctx, x, errTaskRemoved.Error())
				return
			}
			if errors.Is(err, domain.ErrConflict) {
				return
			}
			o = outcome{err: fmt.Errorf("record completion: %w", err)}
		} else {
			slog.InfoContext(ctx, "task completed", "result_path", o.resultPath, "files", len(o.files), "elapsed", elapsed)
			r.events.Publish(event.Complete{TaskID: x.id, Status: task.StatusCompleted, ResultPath: o.resultPath, Files: o.files})
			r.broadcast(ctx, x.owner, broadcast.TaskStatusEvent{TaskID: x.id, Status: string(task.StatusCompleted), ResultPath: o.resultPath})
			r.observe(ctx, task.StatusCompleted, elapsed)
			r.mirror(ctx, messagequeue.SubjectTaskCompleted, messagequeue.TaskCompletedPayload{
				TaskID: x.id, Owner: x.owner, ResultPath: o.resultPath, Files: outputNames(o.files), DurationMS: elapsed.Milliseconds(),
			})
			if r.preview != nil && o.resultPath != "" {
				if t, err := r.store.GetTask(ctx, x.id); err == nil {
					r.preview.Schedule(t, filepath.Join(r.root, x.id, filepath.Base(o.resultPath)))
				}
			}
			return
		}
	}

	msg := o.err.Error()
	if err := r.store.MarkFailed(ctx, x.id, msg); err != nil {
		slog.ErrorContext(ctx, "mark failed failed", "error", err, "task_error", msg)
		if errors.Is(err, domain.ErrNotFound) {
			r.releaseRemoved(ctx, x, msg)
			return
		}
		if errors.Is(err, domain.ErrConflict) {
			return
		}
	}
	slog.WarnContext(ctx, "task failed", "error", msg, "elapsed", elapsed)
	r.events.Publish(event.Failed{TaskID: x.id, Status: task.StatusFailed, Error: msg})
	r.broadcast(ctx, x.owner, broadcast.TaskStatusEvent{TaskID: x.id, Status: string(task.StatusFailed), Error: msg})
	r.observe(ctx, task.StatusFailed, elapsed)
	r.mirror(ctx, messagequeue.SubjectTaskFailed, messagequeue.TaskFailedPayload{
		TaskID: x.id, Owner: x.owner, Error: msg, DurationMS: elapsed.Milliseconds(),
	})
}

var errTaskRemoved = errors.New("task removed while running")

// releaseRemoved publishes a failed event for a task whose row no longer
// exists, so open progress streams still end.
func (r *Runner) releaseRemoved(ctx context.Context, x *execution, msg string) {
	slog.WarnContext(ctx, "task row gone at completion", "error", msg)
	r.events.Publish(event.Failed{TaskID: x.id, Status: task.StatusFailed, Error: msg})
	r.broadcast(ctx, x.owner, broadcast.TaskStatusEvent{TaskID: x.id, Status: string(task.StatusFailed), Error: msg})
}

func (r *Runner) observe(ctx context.Context, status task.Status, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	if status == task.StatusCompleted {
		r.metrics.TasksCompleted.Add(ctx, 1)
	} else {
		r.metrics.TasksFailed.Add(ctx, 1)
	}
	r.metrics.TaskDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("status", string(status))))
}

func (r *Runner) broadcast(ctx context.Context, owner string, ev broadcast.TaskStatusEvent) {
	if r.ws == nil || owner == "" {
		return
	}
	r.ws.BroadcastToOwner(ctx, owner, broadcast.EventTaskStatus, ev)
}

// mirror publishes a lifecycle message. Failures are logged; the broker is
// never on the critical path of a task.
func (r *Runner) mirror(ctx context.Context, subject string, payload any) {
	if r.mq == nil {
		return
	}
	publishLifecycle(ctx, r.mq, r.breaker, subject, payload)
}

func (r *Runner) clearProgress(taskID string) {
	r.mu.Lock()
	delete(r.progress, taskID)
	r.mu.Unlock()
}

// publishLifecycle marshals payload and publishes it through br.
func publishLifecycle(ctx context.Context, q messagequeue.Queue, br *resilience.Breaker, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal lifecycle message", "subject", subject, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	publish := func(ctx context.Context) error { return q.Publish(ctx, subject, data) }
	if br != nil {
		err = br.ExecuteContext(ctx, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		slog.WarnContext(ctx, "lifecycle publish failed", "subject", subject, "error", err)
	}
}

// listOutputs returns the regular files in dir sorted by name. Paths are
// relative to the output root's parent, e.g. "outputs/<task>/<name>".
func listOutputs(dir string) ([]task.OutputFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	taskID := filepath.Base(dir)
	rootName := filepath.Base(filepath.Dir(dir))
	files := make([]task.OutputFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, task.OutputFile{
			Name:     e.Name(),
			Path:     filepath.ToSlash(filepath.Join(rootName, taskID, e.Name())),
			Size:     info.Size(),
			MimeType: file.MimeType(e.Name()),
		})
	}
	return files, nil
}

func outputNames(files []task.OutputFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}

// parseTimeMarker returns the seconds encoded in the last time= marker of line.
func parseTimeMarker(line string) (float64, bool) {
	all := timeMarker.FindAllStringSubmatch(line, -1)
	if len(all) == 0 {
		return 0, false
	}
	m := all[len(all)-1]
	h, err1 := strconv.Atoi(m[1])
	mi, err2 := strconv.Atoi(m[2])
	s, err3 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(mi)*60 + s, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// scanLinesCR is bufio.ScanLines that also splits on a bare '\r', which
// ffmpeg uses to redraw its status line.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
