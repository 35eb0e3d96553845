// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Event types sent to WebSocket clients.
const (
	EventTaskStatus = "task.status"
)

// TaskStatusEvent is the payload of EventTaskStatus.
type TaskStatusEvent struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	ResultPath string `json:"result_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Broadcaster sends real-time events to connected clients.
type Broadcaster interface {
	// BroadcastToOwner sends a typed event to every client connected as owner.
	BroadcastToOwner(ctx context.Context, owner, eventType string, payload any)
}
