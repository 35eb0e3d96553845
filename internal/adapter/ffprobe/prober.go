// Package ffprobe implements the prober.Prober interface using the ffprobe CLI.
package ffprobe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/stratos/internal/port/prober"
	"github.com/Strob0t/stratos/internal/procpool"
)

var _ prober.Prober = (*Prober)(nil)

// Prober reads media durations via ffprobe.
type Prober struct {
	bin         string
	timeout     time.Duration
	pool        *procpool.Pool
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New creates a Prober that runs bin, bounding each probe by timeout and
// limiting concurrent probes via pool.
func New(bin string, timeout time.Duration, pool *procpool.Pool) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{bin: bin, timeout: timeout, pool: pool, execCommand: exec.CommandContext}
}

// ProbeDuration returns the container duration of path in seconds.
func (p *Prober) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var out []byte
	err := p.pool.Run(ctx, func() error {
		var runErr error
		out, runErr = p.run(ctx,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path)
		return runErr
	})
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseDuration(out)
}

func (p *Prober) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := p.execCommand(ctx, p.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// parseDuration reads the first line of ffprobe output. "N/A" (streams
// without a container duration) is an error.
func parseDuration(out []byte) (float64, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	line = strings.TrimSpace(line)
	d, err := strconv.ParseFloat(line, 64)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("ffprobe: unexpected duration %q", line)
	}
	return d, nil
}
