package service

import (
	"log/slog"
	"sync"

	"github.com/Strob0t/stratos/internal/domain/event"
)

// Listener receives events delivered by the Hub.
type Listener func(event.Payload)

type hubKey struct {
	taskID string
	kind   event.Kind
}

type hubEntry struct {
	id uint64
	fn Listener
}

// Hub is the in-process publish/subscribe point for task events. Delivery
// is synchronous on the publisher's goroutine, in registration order, to the
// listeners registered when Publish took its snapshot. Events are never
// replayed to later subscribers.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[hubKey][]hubEntry
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[hubKey][]hubEntry)}
}

// Subscribe registers fn for events of kind on taskID. The returned function
// removes exactly this registration and may be called any number of times.
func (h *Hub) Subscribe(taskID string, kind event.Kind, fn Listener) (unsubscribe func()) {
	key := hubKey{taskID: taskID, kind: kind}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[key] = append(h.subs[key], hubEntry{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(key, id) })
	}
}

func (h *Hub) remove(key hubKey, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.subs[key]
	for i, e := range entries {
		if e.id != id {
			continue
		}
		if len(entries) == 1 {
			delete(h.subs, key)
			return
		}
		// copy so snapshots held by in-flight publishes stay intact
		next := make([]hubEntry, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		h.subs[key] = append(next, entries[i+1:]...)
		return
	}
}

// Publish delivers p to the listeners currently registered for its task and
// kind. A panicking listener is logged and does not affect the others.
func (h *Hub) Publish(p event.Payload) {
	key := hubKey{taskID: p.Task(), kind: p.Kind()}

	h.mu.Lock()
	snapshot := h.subs[key]
	h.mu.Unlock()

	for _, e := range snapshot {
		deliver(e.fn, p)
	}
}

func deliver(fn Listener, p event.Payload) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked", "task_id", p.Task(), "kind", p.Kind().String(), "panic", r)
		}
	}()
	fn(p)
}

// SubscriberCount returns the number of listeners for taskID and kind.
func (h *Hub) SubscriberCount(taskID string, kind event.Kind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[hubKey{taskID: taskID, kind: kind}])
}

// Topics returns the number of (task, kind) pairs with at least one listener.
func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
