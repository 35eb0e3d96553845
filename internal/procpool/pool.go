// Package procpool bounds concurrent invocations of external media tools.
package procpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent ffprobe/ffmpeg helper processes using a weighted
// semaphore. Task executions do not go through it; the task queue already
// bounds those.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a Pool that allows at most limit concurrent processes.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot.
// Returns ctx.Err() if ctx is cancelled while waiting for a slot.
// A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
