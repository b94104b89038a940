// Package worker is the in-process TaskScheduler: a bounded pool of
// goroutines running resampling iterations.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"gopade/domain/stats"
	"gopade/ports"
)

// ErrPoolClosed is returned by futures submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs at most Size tasks at once.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

var _ ports.TaskScheduler = (*Pool)(nil)

// NewPool creates a pool of size workers; size <= 0 uses GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size is the number of concurrent workers.
func (p *Pool) Size() int { return int(p.size) }

// Submit schedules task and returns immediately. The task starts once a
// worker slot frees up; if ctx ends first the task never runs and its
// future reports ctx's error.
func (p *Pool) Submit(ctx context.Context, task ports.Task) ports.Future {
	f := &future{done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.finish(nil, ErrPoolClosed)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.finish(nil, err)
			return
		}
		defer p.sem.Release(1)
		f.finish(run(ctx, task))
	}()
	return f
}

// Close stops accepting tasks and waits for submitted ones to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func run(ctx context.Context, task ports.Task) (v *stats.Vector, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("worker: task panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return task(ctx)
}

type future struct {
	done chan struct{}
	v    *stats.Vector
	err  error
}

func (f *future) finish(v *stats.Vector, err error) {
	f.v, f.err = v, err
	close(f.done)
}

// Await waits for the task result or ctx.
func (f *future) Await(ctx context.Context) (*stats.Vector, error) {
	select {
	case <-f.done:
		return f.v, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
