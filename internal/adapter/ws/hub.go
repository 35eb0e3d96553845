// Package ws implements the WebSocket adapter for the owner-scoped task
// status feed.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/stratos/internal/port/broadcast"
)

const writeTimeout = 5 * time.Second

var _ broadcast.Broadcaster = (*Hub)(nil)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	owner  string
}

// OwnerFunc extracts the owner a connection is scoped to.
type OwnerFunc func(r *http.Request) string

// Hub manages all active WebSocket connections and routes events to the
// connections of their owner.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*conn]struct{}
	ownerOf OwnerFunc
}

// NewHub creates a new WebSocket hub. ownerOf scopes each connection; a nil
// ownerOf puts every connection under the empty owner.
func NewHub(ownerOf OwnerFunc) *Hub {
	if ownerOf == nil {
		ownerOf = func(*http.Request) string { return "" }
	}
	return &Hub{
		conns:   make(map[*conn]struct{}),
		ownerOf: ownerOf,
	}
}

// HandleWS upgrades the request and serves the connection until the client
// goes away. The feed is server-to-client; incoming messages are discarded.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	owner := h.ownerOf(r)
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin policy is left to the deployment
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel, owner: owner}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "owner", owner)

	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()
	// Read loop detects disconnects and consumes pings.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

// BroadcastToOwner marshals payload into a typed message and sends it to
// every connection of owner.
func (h *Hub) BroadcastToOwner(ctx context.Context, owner, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.send(ctx, Message{Type: eventType, Payload: data}, func(c *conn) bool { return c.owner == owner })
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	h.send(ctx, msg, func(*conn) bool { return true })
}

func (h *Hub) send(ctx context.Context, msg Message, match func(*conn) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "owner", c.owner, "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "owner", c.owner)
	}
}
