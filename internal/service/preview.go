package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/Strob0t/stratos/internal/adapter/otel"
	"github.com/Strob0t/stratos/internal/domain/file"
	"github.com/Strob0t/stratos/internal/domain/task"
	"github.com/Strob0t/stratos/internal/logger"
	"github.com/Strob0t/stratos/internal/port/database"
	"github.com/Strob0t/stratos/internal/port/prober"
	"github.com/Strob0t/stratos/internal/procpool"
)

const (
	previewDirName  = "previews"
	textPreviewSize = 10 << 10
)

// PreviewConfig holds preview generation settings.
type PreviewConfig struct {
	FFmpegBin    string
	MinSizeBytes int64 // results at or below this size are served as-is
	SizeLimit    int64 // a video preview above this size is re-encoded once more
	Timeout      time.Duration
}

// PreviewInfo describes the preview state of a task.
type PreviewInfo struct {
	Available    bool   `json:"available"`
	Generating   bool   `json:"generating"`
	Path         string `json:"path,omitempty"`
	OriginalPath string `json:"original_path,omitempty"`
}

// commandFunc runs an external tool to completion.
type commandFunc func(ctx context.Context, name string, args ...string) error

// PreviewService produces smaller browser-friendly copies of large results.
type PreviewService struct {
	cfg      PreviewConfig
	store    database.TaskStore
	prober   prober.Prober
	pool     *procpool.Pool
	run      commandFunc
	onUpdate func(taskID string)
	wg       sync.WaitGroup
}

// NewPreviewService creates a PreviewService. External tool invocations are
// bounded by pool.
func NewPreviewService(cfg PreviewConfig, store database.TaskStore, p prober.Prober, pool *procpool.Pool) *PreviewService {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.MinSizeBytes <= 0 {
		cfg.MinSizeBytes = 5 << 20
	}
	if cfg.SizeLimit <= 0 {
		cfg.SizeLimit = 500 << 20
	}
	return &PreviewService{cfg: cfg, store: store, prober: p, pool: pool, run: runTool}
}

// SetOnUpdate registers fn to be called after a task's preview state changes.
func (s *PreviewService) SetOnUpdate(fn func(taskID string)) { s.onUpdate = fn }

// Schedule generates the preview of t's result in the background.
func (s *PreviewService) Schedule(t *task.Task, resultPath string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := logger.WithTaskID(context.Background(), t.ID)
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		if _, err := s.Generate(ctx, t.ID, resultPath); err != nil {
			slog.WarnContext(ctx, "preview generation failed", "error", err)
		}
	}()
}

// Wait blocks until every scheduled preview has finished.
func (s *PreviewService) Wait() { s.wg.Wait() }

// Generate builds the preview for resultPath and records it on the task.
// It returns the preview path, or "" when the result is served as-is. A
// failed generation is recorded as generated without a path.
func (s *PreviewService) Generate(ctx context.Context, taskID, resultPath string) (string, error) {
	kind := file.KindOf(resultPath)
	ctx, span := cfotel.StartPreviewSpan(ctx, taskID, string(kind))
	defer span.End()

	path, err := s.generate(ctx, taskID, resultPath, kind)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		path = ""
	}
	if serr := s.store.SetPreview(context.WithoutCancel(ctx), taskID, path); serr != nil {
		return "", errors.Join(err, fmt.Errorf("record preview: %w", serr))
	}
	if s.onUpdate != nil {
		s.onUpdate(taskID)
	}
	if err == nil && path != "" {
		slog.InfoContext(ctx, "preview generated", "path", path)
	}
	return path, err
}

func (s *PreviewService) generate(ctx context.Context, taskID, resultPath string, kind file.Kind) (string, error) {
	info, err := os.Stat(resultPath)
	if err != nil {
		return "", err
	}
	if info.Size() <= s.cfg.MinSizeBytes || kind == file.KindUnknown {
		return "", nil
	}

	dir := filepath.Join(filepath.Dir(resultPath), previewDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create preview dir: %w", err)
	}
	out := filepath.Join(dir, "preview_"+filepath.Base(resultPath))

	switch kind {
	case file.KindVideo:
		err = s.video(ctx, resultPath, out, info.Size())
	case file.KindAudio:
		err = s.tool(ctx, "-y", "-i", resultPath, "-c:a", "aac", "-b:a", "128k", out)
	case file.KindImage:
		err = s.tool(ctx, "-y", "-i", resultPath, "-vf", "scale='min(1920,iw)':-2", out)
	case file.KindText:
		err = copyHead(resultPath, out, textPreviewSize)
	}
	if err != nil {
		_ = os.Remove(out)
		return "", err
	}
	return out, nil
}

// videoTier is the encoding profile for one source size range.
type videoTier struct {
	upTo    int64
	crf     int
	width   int
	maxSecs float64 // 0 = keep full length
}

var videoTiers = []videoTier{
	{upTo: 50 << 20, crf: 23, width: 1280},
	{upTo: 200 << 20, crf: 24, width: 1280, maxSecs: 1800},
	{upTo: 500 << 20, crf: 26, width: 1024, maxSecs: 900},
	{upTo: -1, crf: 28, width: 854, maxSecs: 600},
}

func tierFor(size int64) videoTier {
	for _, t := range videoTiers {
		if t.upTo < 0 || size <= t.upTo {
			return t
		}
	}
	return videoTiers[len(videoTiers)-1]
}

func (s *PreviewService) video(ctx context.Context, in, out string, size int64) error {
	var duration float64
	if s.prober != nil {
		if d, err := s.prober.ProbeDuration(ctx, in); err == nil {
			duration = d
		}
	}

	tier := tierFor(size)
	args := []string{"-y", "-i", in}
	if tier.maxSecs > 0 && duration > tier.maxSecs {
		args = append(args, "-t", strconv.FormatFloat(tier.maxSecs, 'f', -1, 64))
	}
	args = append(args, videoCodecArgs(out, tier.width, tier.crf, "128k")...)
	if err := s.tool(ctx, args...); err != nil {
		return err
	}

	info, err := os.Stat(out)
	if err != nil {
		return err
	}
	if info.Size() <= s.cfg.SizeLimit {
		return nil
	}

	slog.WarnContext(ctx, "preview above size limit, re-encoding", "size", info.Size())
	trim := 300.0
	if duration > 0 && duration < trim {
		trim = duration
	}
	args = append([]string{"-y", "-i", in, "-t", strconv.FormatFloat(trim, 'f', -1, 64)},
		videoCodecArgs(out, 640, 30, "64k")...)
	return s.tool(ctx, args...)
}

func videoCodecArgs(out string, width, crf int, audioRate string) []string {
	scale := fmt.Sprintf("scale=%d:-2", width)
	if filepath.Ext(out) == ".webm" {
		return []string{"-vf", scale, "-c:v", "libvpx-vp9", "-crf", strconv.Itoa(crf), "-b:v", "0",
			"-deadline", "good", "-c:a", "libopus", "-b:a", audioRate, out}
	}
	return []string{"-vf", scale, "-c:v", "libx264", "-crf", strconv.Itoa(crf), "-preset", "medium",
		"-c:a", "aac", "-b:a", audioRate, out}
}

func (s *PreviewService) tool(ctx context.Context, args ...string) error {
	return s.pool.Run(ctx, func() error { return s.run(ctx, s.cfg.FFmpegBin, args...) })
}

// Info reports the preview state of taskID.
func (s *PreviewService) Info(ctx context.Context, taskID string) (*PreviewInfo, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &PreviewInfo{
		Available:    t.PreviewPath != "",
		Generating:   !t.PreviewGenerated && t.ResultPath != "",
		Path:         t.PreviewPath,
		OriginalPath: t.ResultPath,
	}, nil
}

func runTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // arguments are built from fixed profiles
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := out
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		return fmt.Errorf("%s: %w: %s", filepath.Base(name), err, tail)
	}
	return nil
}

// copyHead copies at most n bytes of src to dst.
func copyHead(src, dst string, n int64) error {
	in, err := os.Open(src) //nolint:gosec // path is inside the output root
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst) //nolint:gosec // path is inside the output root
	if err != nil {
		return err
	}
	if _, err := io.CopyN(out, in, n); err != nil && !errors.Is(err, io.EOF) {
		_ = out.Close()
		return err
	}
	return out.Close()
}
