// Package worker runs background tasks on a fixed set of goroutines that
// share one queue.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/l1jgo/framecore/internal/core/task"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSize is max(2, NumCPU-2): two cores stay free for the scheduler and
// render goroutines.
func DefaultSize() int {
	return max(2, runtime.NumCPU()-2)
}

// Pool drains a shared task queue with a fixed number of goroutines.
//
// Workers stop when the queue is closed and empty, or when the context passed
// to Start is cancelled. A task panic is recovered and handed to the failure
// callback; the worker keeps running.
type Pool[C any] struct {
	size     int
	queue    *task.Queue[task.Task[C]]
	newCtx   func(ctx context.Context, id int) C
	failures func(error)
	log      *zap.Logger

	group   *errgroup.Group
	started atomic.Bool
	ran     atomic.Uint64
	failed  atomic.Uint64
}

// Option configures a Pool.
type Option[C any] func(*Pool[C])

// WithFailureHandler routes recovered task panics to fn.
func WithFailureHandler[C any](fn func(error)) Option[C] {
	return func(p *Pool[C]) { p.failures = fn }
}

// WithLogger sets the pool logger.
func WithLogger[C any](log *zap.Logger) Option[C] {
	return func(p *Pool[C]) { p.log = log }
}

// New creates a pool of size workers (DefaultSize when size <= 0). newCtx
// builds the per-worker context every task of that worker runs against.
func New[C any](size int, queue *task.Queue[task.Task[C]], newCtx func(ctx context.Context, id int) C, opts ...Option[C]) *Pool[C] {
	if size <= 0 {
		size = DefaultSize()
	}
	p := &Pool[C]{
		size:   size,
		queue:  queue,
		newCtx: newCtx,
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool[C]) Size() int { return p.size }

// Start spawns the workers. Calling it twice is a no-op.
func (p *Pool[C]) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.group = &errgroup.Group{}
	for i := 0; i < p.size; i++ {
		id := i + 1
		p.group.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	p.log.Debug("worker pool started", zap.Int("workers", p.size))
}

// Wait blocks until every worker has exited. Close the queue or cancel the
// Start context first.
func (p *Pool[C]) Wait() {
	if p.group == nil {
		return
	}
	_ = p.group.Wait()
	p.log.Debug("worker pool stopped",
		zap.Uint64("ran", p.ran.Load()),
		zap.Uint64("failed", p.failed.Load()),
	)
}

// Shutdown closes the queue and joins the workers. Tasks already queued still
// run.
func (p *Pool[C]) Shutdown() {
	p.queue.Close()
	p.Wait()
}

// Ran returns the number of tasks executed so far.
func (p *Pool[C]) Ran() uint64 { return p.ran.Load() }

// Failed returns the number of tasks that panicked.
func (p *Pool[C]) Failed() uint64 { return p.failed.Load() }

func (p *Pool[C]) loop(ctx context.Context, id int) {
	wctx := p.newCtx(ctx, id)
	for {
		t, err := p.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, task.ErrClosed) && !errors.Is(err, context.Canceled) {
				p.log.Warn("worker stopped", zap.Int("worker", id), zap.Error(err))
			}
			return
		}
		if err := task.Run("work", t, wctx); err != nil {
			p.failed.Add(1)
			if p.failures != nil {
				p.failures(err)
			} else {
				p.log.Error("work task failed", zap.Int("worker", id), zap.Error(err))
			}
		}
		p.ran.Add(1)
	}
}
