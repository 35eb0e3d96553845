package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/stratos/internal/domain/event"
	"github.com/Strob0t/stratos/internal/port/database"
)

// Signal names sent on a progress stream.
const (
	SignalHeartbeat = "heartbeat"
	SignalProgress  = "progress"
)

// Signal is one message on a progress stream.
type Signal struct {
	Event string
	Data  string
}

// Sink writes signals to a client connection. A session calls it from one
// goroutine at a time.
type Sink func(Signal) error

// StreamService opens progress stream sessions.
type StreamService struct {
	store     database.TaskStore
	hub       *Hub
	heartbeat time.Duration
}

// NewStreamService creates a StreamService. heartbeat is the liveness
// interval of open sessions.
func NewStreamService(store database.TaskStore, hub *Hub, heartbeat time.Duration) *StreamService {
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	return &StreamService{store: store, hub: hub, heartbeat: heartbeat}
}

// Session bridges one task's events to one client. It moves from open to
// closed exactly once.
type Session struct {
	taskID string
	sink   Sink

	events   chan Signal   // progress values, dropped when the client lags
	terminal chan struct{} // closed by the first complete or failed event
	termOnce sync.Once

	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
	unsubs    []func()
	done      chan struct{}
}

// Open starts a session for taskID writing to sink. The session ends when
// the task reaches a terminal state, ctx is done, the sink fails, or Close
// is called. A task that is already terminal gets a single final progress
// signal and a session that is already closed.
func (s *StreamService) Open(ctx context.Context, taskID string, sink Sink) (*Session, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		taskID:   taskID,
		sink:     sink,
		events:   make(chan Signal, 32),
		terminal: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if t.Status.IsTerminal() {
		sess.emit(Signal{Event: SignalProgress, Data: "1"})
		sess.closed.Store(true)
		close(sess.done)
		return sess, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel

	if err := sess.send(heartbeatSignal()); err != nil {
		cancel()
		close(sess.done)
		return nil, fmt.Errorf("stream write: %w", err)
	}

	sess.unsubs = []func(){
		s.hub.Subscribe(taskID, event.KindProgress, sess.onProgress),
		s.hub.Subscribe(taskID, event.KindComplete, sess.onTerminal),
		s.hub.Subscribe(taskID, event.KindFailed, sess.onTerminal),
	}

	// the task may have finished between the load and the subscriptions
	if latest, err := s.store.GetTask(ctx, taskID); err == nil && latest.Status.IsTerminal() {
		sess.onTerminal(nil)
	}

	go sess.loop(runCtx, s.heartbeat)
	return sess, nil
}

func heartbeatSignal() Signal {
	return Signal{Event: SignalHeartbeat, Data: strconv.FormatInt(time.Now().UnixMilli(), 10)}
}

func (sess *Session) onProgress(p event.Payload) {
	if sess.closed.Load() {
		return
	}
	pr, ok := p.(event.Progress)
	if !ok {
		return
	}
	select {
	case sess.events <- Signal{Event: SignalProgress, Data: strconv.FormatFloat(pr.Progress, 'f', -1, 64)}:
	default:
		// a newer value follows; the client only needs the latest
	}
}

func (sess *Session) onTerminal(event.Payload) {
	sess.termOnce.Do(func() { close(sess.terminal) })
}

// loop is the only writer to the sink once the session is open.
func (sess *Session) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		sess.Close()
		close(sess.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.terminal:
			sess.drainProgress()
			sess.emit(Signal{Event: SignalProgress, Data: "1"})
			return
		case sig := <-sess.events:
			if sess.send(sig) != nil {
				return
			}
		case <-ticker.C:
			if sess.send(heartbeatSignal()) != nil {
				return
			}
		}
	}
}

// drainProgress flushes buffered progress so the final signal comes last.
func (sess *Session) drainProgress() {
	for {
		select {
		case sig := <-sess.events:
			if sess.send(sig) != nil {
				return
			}
		default:
			return
		}
	}
}

// emit writes sig unless the session is closed, logging write failures.
func (sess *Session) emit(sig Signal) {
	if err := sess.send(sig); err != nil {
		slog.Debug("progress stream write failed", "task_id", sess.taskID, "error", err)
	}
}

func (sess *Session) send(sig Signal) error {
	if sess.closed.Load() {
		return nil
	}
	return sess.sink(sig)
}

// Close ends the session: listeners are removed and the heartbeat stops.
// It is safe to call concurrently and more than once. The task itself keeps
// running.
func (sess *Session) Close() {
	sess.closeOnce.Do(func() {
		sess.closed.Store(true)
		for _, unsub := range sess.unsubs {
			unsub()
		}
		if sess.cancel != nil {
			sess.cancel()
		}
	})
}

// Done is closed once the session has stopped writing to its sink.
func (sess *Session) Done() <-chan struct{} { return sess.done }

// Closed reports whether the session has been closed.
func (sess *Session) Closed() bool { return sess.closed.Load() }
