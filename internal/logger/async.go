package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncCore is shared by every AsyncHandler derived through WithAttrs or
// WithGroup so that they feed the same workers.
type asyncCore struct {
	mu      sync.RWMutex // guards closed against concurrent sends
	closed  bool
	ch      chan asyncRecord
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

type asyncRecord struct {
	h   slog.Handler
	ctx context.Context
	rec slog.Record
}

// AsyncHandler hands records to a buffered channel drained by a fixed number
// of workers. Records are dropped, and counted, when the buffer is full or
// the handler is closed. Runner stderr at debug level can be very chatty,
// which is what this exists for.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	if workers < 1 {
		workers = 1
	}
	core := &asyncCore{ch: make(chan asyncRecord, chanSize)}
	for range workers {
		core.wg.Add(1)
		go core.drain()
	}
	return &AsyncHandler{inner: inner, core: core}
}

func (c *asyncCore) drain() {
	defer c.wg.Done()
	for r := range c.ch {
		_ = r.h.Handle(r.ctx, r.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the channel is full or closed.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.core.mu.RLock()
	defer h.core.mu.RUnlock()
	if h.core.closed {
		h.core.dropped.Add(1)
		return nil
	}
	// Detach from cancellation; the record outlives the caller.
	r := asyncRecord{h: h.inner, ctx: context.WithoutCancel(ctx), rec: rec.Clone()}
	select {
	case h.core.ch <- r:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same workers around a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup returns a handler sharing the same workers around a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops accepting records and waits for the workers to drain the
// buffer. Safe to call more than once.
func (h *AsyncHandler) Close() {
	h.core.once.Do(func() {
		h.core.mu.Lock()
		h.core.closed = true
		close(h.core.ch)
		h.core.mu.Unlock()
		h.core.wg.Wait()
	})
}
