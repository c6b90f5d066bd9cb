// Package pool implements the worker runtime's sole backpressure
// mechanism: a fixed-size worker pool backed by a counting semaphore
// (spec §4.2).
package pool

import (
	"context"
	"sync"

	"github.com/bitsbeam/cosmonauts/pkg/concurrency"
	"github.com/bitsbeam/cosmonauts/pkg/errors"
)

// Task is a unit of work submitted to the pool.
type Task func(ctx context.Context)

// Pool is a fixed-size worker pool of N permits. Post blocks the caller
// until a permit is free, then runs task in its own goroutine; the permit
// is released when task returns. This is intentionally the only admission
// control in the runtime — fetch loops never read ahead of it (spec §4.2
// "Rationale").
type Pool struct {
	sem  *concurrency.Semaphore
	size int64

	mu       sync.Mutex
	wg       sync.WaitGroup
	shutdown bool
}

// New creates a pool of the given size (spec §4.7 "Build pool of size
// concurrency (default 1)").
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: concurrency.NewSemaphore(int64(size)), size: int64(size)}
}

// Post blocks until a permit is available, then runs task on its own
// goroutine. Returns errors.ErrPoolShutDown() if the pool has already
// been shut down, without running task (spec §4.2).
func (p *Pool) Post(ctx context.Context, task Task) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return errors.ErrPoolShutDown()
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.sem.Release(1)
		return errors.ErrPoolShutDown()
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		task(ctx)
	}()

	return nil
}

// Shutdown forbids new submissions. In-flight tasks are unaffected (spec
// §4.2 "shutdown() forbids new submissions").
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = true
}

// WaitForTermination blocks until all active workers finish or timeout
// elapses, whichever comes first (spec §4.2: "joins active workers with a
// deadline. Cancellation beyond the deadline is not attempted").
func (p *Pool) WaitForTermination(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
