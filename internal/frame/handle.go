package frame

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/l1jgo/framecore/internal/core/task"
	"github.com/l1jgo/framecore/internal/core/worker"
	"github.com/l1jgo/framecore/internal/render"
	"go.uber.org/zap"
)

// ErrShutdown is returned by PushMain once shutdown was requested: the main
// queue is not drained after the final frame.
var ErrShutdown = errors.New("frame: shutdown requested")

// failureBuffer is how many task failures may wait for the next frame.
const failureBuffer = 64

// WorkTask runs on a worker goroutine.
type WorkTask = task.Task[*WorkContext]

// MainTask runs on the scheduler goroutine at the start of a frame.
type MainTask = task.Task[*SimContext]

// WorkContext is what worker tasks run against. It carries no simulation
// state; results go back through Handle.PushMain.
type WorkContext struct {
	Ctx     context.Context
	Worker  int
	Handle  *Handle
	Log     *zap.Logger
	Timeout time.Duration // per-task bound for I/O; 0 = none
}

// Bounded returns Ctx limited by Timeout.
func (w *WorkContext) Bounded() (context.Context, context.CancelFunc) {
	if w.Timeout <= 0 {
		return context.WithCancel(w.Ctx)
	}
	return context.WithTimeout(w.Ctx, w.Timeout)
}

// Handle is the goroutine-safe entry point into the frame pipeline. It owns
// the three task queues and is passed explicitly to whoever produces work.
type Handle struct {
	work   *task.Queue[WorkTask]
	main   *task.Queue[MainTask]
	render *render.Queue

	taskTimeout time.Duration

	shutdown atomic.Bool
	failures chan error
	lost     atomic.Uint64
	log      *zap.Logger
}

// NewHandle creates the queues.
func NewHandle(log *zap.Logger) *Handle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handle{
		work:     task.NewQueue[WorkTask](),
		main:     task.NewQueue[MainTask](),
		render:   render.NewQueue(),
		failures: make(chan error, failureBuffer),
		log:      log,
	}
}

// SetTaskTimeout sets WorkContext.Timeout for pools created afterwards.
func (h *Handle) SetTaskTimeout(d time.Duration) {
	h.taskTimeout = d
}

// PushWork queues a background task.
func (h *Handle) PushWork(t WorkTask) error {
	return h.work.Push(t)
}

// PushMain queues a continuation for the scheduler goroutine.
func (h *Handle) PushMain(t MainTask) error {
	if h.shutdown.Load() {
		return ErrShutdown
	}
	return h.main.Push(t)
}

// PushRender queues a task for the render goroutine.
func (h *Handle) PushRender(t render.Task) error {
	return h.render.Push(t)
}

// RequestShutdown asks the scheduler to stop after the current frame.
func (h *Handle) RequestShutdown() {
	if h.shutdown.CompareAndSwap(false, true) {
		h.log.Info("shutdown requested")
	}
}

// ShutdownRequested reports whether RequestShutdown was called.
func (h *Handle) ShutdownRequested() bool {
	return h.shutdown.Load()
}

// Report hands a task failure to the scheduler. It never blocks; failures
// beyond the buffer are logged and counted as lost.
func (h *Handle) Report(err error) {
	if err == nil {
		return
	}
	select {
	case h.failures <- err:
	default:
		h.lost.Add(1)
		h.log.Error("task failure dropped", zap.Error(err))
	}
}

// LostFailures returns how many reports did not fit the buffer.
func (h *Handle) LostFailures() uint64 {
	return h.lost.Load()
}

// RenderQueue is the queue the render thread drains.
func (h *Handle) RenderQueue() *render.Queue {
	return h.render
}

// Close closes every queue. Further pushes fail with task.ErrClosed; queued
// work tasks still run before the workers exit.
func (h *Handle) Close() {
	h.shutdown.Store(true)
	h.work.Close()
	h.main.Close()
	h.render.Close()
}

// NewWorkerPool builds a pool draining the handle's work queue. Task panics
// are reported to the scheduler.
func NewWorkerPool(h *Handle, size int, log *zap.Logger) *worker.Pool[*WorkContext] {
	if log == nil {
		log = zap.NewNop()
	}
	newCtx := func(ctx context.Context, id int) *WorkContext {
		return &WorkContext{
			Ctx:     ctx,
			Worker:  id,
			Handle:  h,
			Log:     log.With(zap.Int("worker", id)),
			Timeout: h.taskTimeout,
		}
	}
	return worker.New(size, h.work, newCtx,
		worker.WithFailureHandler[*WorkContext](h.Report),
		worker.WithLogger[*WorkContext](log),
	)
}
