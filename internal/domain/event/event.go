// Package event defines the typed task events exchanged through the
// in-process event hub.
package event

import (
	"github.com/Strob0t/stratos/internal/domain/task"
)

// Kind identifies the kind of task event.
type Kind uint8

const (
	KindProgress Kind = iota + 1
	KindComplete
	KindFailed
)

// Kinds lists every event kind, in the order a stream subscribes to them.
var Kinds = [...]Kind{KindProgress, KindComplete, KindFailed}

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindComplete:
		return "complete"
	case KindFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the kind ends a task's event stream.
func (k Kind) Terminal() bool {
	return k == KindComplete || k == KindFailed
}

// Payload is implemented by every event body.
type Payload interface {
	Kind() Kind
	Task() string
}

// Progress reports the fraction of media processed so far.
type Progress struct {
	TaskID        string  `json:"task_id"`
	Progress      float64 `json:"progress"`
	CurrentTime   float64 `json:"current_time"`
	TotalDuration float64 `json:"total_duration"`
}

// Complete is published once a task's outputs are recorded.
type Complete struct {
	TaskID     string            `json:"task_id"`
	Status     task.Status       `json:"status"`
	ResultPath string            `json:"result_path,omitempty"`
	Files      []task.OutputFile `json:"files"`
}

// Failed is published once a task's failure is recorded.
type Failed struct {
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status"`
	Error  string      `json:"error"`
}

func (Progress) Kind() Kind { return KindProgress }
func (Complete) Kind() Kind { return KindComplete }
func (Failed) Kind() Kind   { return KindFailed }

func (p Progress) Task() string { return p.TaskID }
func (c Complete) Task() string { return c.TaskID }
func (f Failed) Task() string   { return f.TaskID }
