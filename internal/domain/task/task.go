// Package task defines the Task domain entity: one resolved command
// execution and its lifecycle state.
package task

import (
	"fmt"
	"time"

	"github.com/Strob0t/stratos/internal/domain"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
// Only pending -> processing -> completed|failed is legal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Task represents a unit of work wrapping one resolved command.
type Task struct {
	ID               string     `json:"id"`
	Owner            string     `json:"owner"`
	Command          string     `json:"command"`
	Status           Status     `json:"status"`
	ResultPath       string     `json:"result_path,omitempty"`
	Error            string     `json:"error,omitempty"`
	FileIDs          []string   `json:"file_ids"`
	PreviewPath      string     `json:"preview_path,omitempty"`
	PreviewGenerated bool       `json:"preview_generated"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// CreateRequest holds the fields needed to persist a new pending task.
type CreateRequest struct {
	Command   string
	FileIDs   []string
	Owner     string
	ExpiresAt *time.Time
}

// Validate checks a CreateRequest before it reaches the store.
func (r *CreateRequest) Validate() error {
	if r.Command == "" {
		return fmt.Errorf("command is required: %w", domain.ErrValidation)
	}
	if r.Owner == "" {
		return fmt.Errorf("owner is required: %w", domain.ErrValidation)
	}
	return nil
}

// Page is one page of a cursor-paginated task listing.
type Page struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// OutputFile describes one file written into a task's output directory.
type OutputFile struct {
	Name     string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
}
