package ports

import (
	"context"

	"gopade/domain/stats"
)

// Task computes the statistic vector of one resampling iteration.
type Task func(ctx context.Context) (*stats.Vector, error)

// Future is the pending result of a submitted task.
type Future interface {
	// Await blocks until the task finishes or ctx is done.
	Await(ctx context.Context) (*stats.Vector, error)
}

// TaskScheduler runs independent iterations. The in-process worker pool is
// the default; a queue-backed scheduler is a drop-in alternative.
type TaskScheduler interface {
	Submit(ctx context.Context, task Task) Future
	// Close waits for in-flight tasks and releases workers.
	Close() error
}
