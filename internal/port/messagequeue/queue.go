// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects carried by the stratos stream.
const (
	SubjectTaskCreated   = "tasks.created"   // a task was persisted as pending
	SubjectTaskCompleted = "tasks.completed" // a task finished successfully
	SubjectTaskFailed    = "tasks.failed"    // a task finished with an error
	SubjectTaskSubmit    = "tasks.submit"    // external intake: enqueue a command
)

// DLQSuffix is appended to a subject to form its dead letter subject.
const DLQSuffix = ".dlq"
