package ffprobe

import (
	"context"
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/Strob0t/stratos/internal/procpool"
)

// mockExecCommand runs echo with output instead of ffprobe and records the
// arguments it was called with.
func mockExecCommand(output string, got *[]string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		*got = append([]string{name}, args...)
		return exec.CommandContext(ctx, "echo", output) //nolint:gosec // test only
	}
}

func TestProbeDuration(t *testing.T) {
	var got []string
	p := New("", time.Second, procpool.New(1))
	p.execCommand = mockExecCommand("12.480000", &got)

	d, err := p.ProbeDuration(context.Background(), "/data/in.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if d != 12.48 {
		t.Fatalf("duration = %v", d)
	}
	want := []string{"ffprobe", "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", "/data/in.mp4"}
	if !slices.Equal(got, want) {
		t.Fatalf("args = %v", got)
	}
}

func TestProbeDurationFailure(t *testing.T) {
	p := New("ffprobe", 0, nil)
	p.execCommand = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "false")
	}
	if _, err := p.ProbeDuration(context.Background(), "x.mp4"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		out  string
		want float64
		ok   bool
	}{
		{"3.5\n", 3.5, true},
		{"  60.000000  \n", 60, true},
		{"7\n8\n", 7, true},
		{"N/A\n", 0, false},
		{"", 0, false},
		{"-1", 0, false},
	}
	for _, tt := range tests {
		got, err := parseDuration([]byte(tt.out))
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseDuration(%q) = %v, %v", tt.out, got, err)
		}
	}
}
