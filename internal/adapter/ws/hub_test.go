package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/stratos/internal/port/broadcast"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub(nil)

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{Type: "test", Payload: []byte(`{"key":"value"}`)})
	hub.BroadcastToOwner(context.Background(), "alice", broadcast.EventTaskStatus, broadcast.TaskStatusEvent{
		TaskID: "t1",
		Status: "completed",
	})
}

func TestHubBroadcastMarshalError(t *testing.T) {
	hub := NewHub(nil)

	// A channel cannot be marshaled to JSON; should log error, not panic.
	hub.BroadcastToOwner(context.Background(), "alice", "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub(nil)

	// Removing a connection that was never added should not panic.
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel, owner: "alice"})
}

func dial(t *testing.T, srv *httptest.Server, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?owner=" + owner
	c, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", owner, err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func TestBroadcastToOwnerIsScoped(t *testing.T) {
	hub := NewHub(func(r *http.Request) string { return r.URL.Query().Get("owner") })
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d", hub.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastToOwner(context.Background(), "alice", broadcast.EventTaskStatus, broadcast.TaskStatusEvent{
		TaskID: "t1",
		Status: "completed",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := alice.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	var ev broadcast.TaskStatusEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if msg.Type != broadcast.EventTaskStatus || ev.TaskID != "t1" || ev.Status != "completed" {
		t.Fatalf("message = %s", data)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	if _, data, err := bob.Read(short); err == nil {
		t.Fatalf("bob received %s", data)
	}
}

func TestDisconnectRemovesConnection(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv, "alice")
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("connection not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
	for hub.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
