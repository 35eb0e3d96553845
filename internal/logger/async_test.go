package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// lockedBuffer lets several async workers write JSON lines into one buffer.
type lockedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	pause time.Duration
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	if b.pause > 0 {
		time.Sleep(b.pause)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func newAsyncJSON(buf *lockedBuffer, size, workers int) *AsyncHandler {
	return NewAsyncHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}), size, workers)
}

func TestAsyncHandlerWritesAfterClose(t *testing.T) {
	buf := &lockedBuffer{}
	h := newAsyncJSON(buf, 16, 1)
	slog.New(h).Info("task queued", "task_id", "t-1")
	h.Close()

	lines := buf.lines(t)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["msg"] != "task queued" || lines[0]["task_id"] != "t-1" {
		t.Errorf("line = %v", lines[0])
	}
}

func TestAsyncHandlerKeepsDerivedAttrs(t *testing.T) {
	buf := &lockedBuffer{}
	h := newAsyncJSON(buf, 16, 2)
	runnerLog := slog.New(h).With("component", "runner").WithGroup("proc")
	runnerLog.Debug("stderr", "line", "frame=42")
	slog.New(h).Info("plain")
	h.Close()

	lines := buf.lines(t)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var derived map[string]any
	for _, l := range lines {
		if l["msg"] == "stderr" {
			derived = l
		}
	}
	if derived == nil {
		t.Fatal("derived record missing")
	}
	if derived["component"] != "runner" {
		t.Errorf("component = %v, want runner", derived["component"])
	}
	proc, ok := derived["proc"].(map[string]any)
	if !ok || proc["line"] != "frame=42" {
		t.Errorf("proc group = %v", derived["proc"])
	}
}

func TestAsyncHandlerManyProducers(t *testing.T) {
	const producers, each = 20, 50
	buf := &lockedBuffer{}
	h := newAsyncJSON(buf, producers*each, 4)
	log := slog.New(h)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				log.Info("progress", "producer", p, "i", i)
			}
		}()
	}
	wg.Wait()
	h.Close()

	if got := len(buf.lines(t)); got != producers*each {
		t.Errorf("got %d lines, want %d", got, producers*each)
	}
	if d := h.DroppedCount(); d != 0 {
		t.Errorf("dropped %d with a buffer large enough for everything", d)
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	buf := &lockedBuffer{pause: 5 * time.Millisecond}
	h := newAsyncJSON(buf, 1, 1)
	log := slog.New(h)
	const sent = 40
	for range sent {
		log.Debug("stderr burst")
	}
	h.Close()

	dropped := h.DroppedCount()
	if dropped == 0 {
		t.Fatal("expected drops with a one-slot buffer and a slow writer")
	}
	if got := int64(len(buf.lines(t))); got+dropped != sent {
		t.Errorf("written %d + dropped %d != sent %d", got, dropped, sent)
	}
}

func TestAsyncHandlerClosedCountsDrops(t *testing.T) {
	buf := &lockedBuffer{}
	h := newAsyncJSON(buf, 4, 1)
	h.Close()
	h.Close()

	slog.New(h).Warn("too late")
	if got := h.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount = %d, want 1", got)
	}
	if got := len(buf.lines(t)); got != 0 {
		t.Errorf("got %d lines after close, want 0", got)
	}
}
