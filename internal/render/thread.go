// Package render owns the graphics context and the render side of the
// frame handoff.
//
// One goroutine, locked to its OS thread, initializes the backend and then
// loops: run queued render tasks, wait (bounded) for a frame signal, flush
// the shared Buffer, signal back. The scheduler side of the handshake is
// Acquire/Present; together they keep the scheduler at most one frame ahead.
package render

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/framecore/internal/core/crash"
	"github.com/l1jgo/framecore/internal/core/task"
	"go.uber.org/zap"
)

var (
	// ErrFrameTimeout means the renderer did not finish the handed-off frame
	// in time. The frame stays with the renderer; the scheduler drops frames
	// until it comes back.
	ErrFrameTimeout = errors.New("render: frame handoff timed out")
	// ErrStopped means the render goroutine is not running.
	ErrStopped = errors.New("render: thread stopped")
	// ErrBusy means Present was called while a frame is still in flight.
	ErrBusy = errors.New("render: previous frame still in flight")
)

// DefaultWaitTimeout bounds both the render goroutine's idle wait and the
// scheduler's wait for a flushed frame.
const DefaultWaitTimeout = 100 * time.Millisecond

// Options configures a Thread.
type Options struct {
	WaitTimeout time.Duration
	// Report receives render task panics. Nil logs them.
	Report func(error)
	Log    *zap.Logger
}

// Thread is the render goroutine plus the handshake state.
type Thread struct {
	device      *Device
	queue       *Queue
	buf         *Buffer
	waitTimeout time.Duration
	report      func(error)
	log         *zap.Logger

	ready  chan struct{}
	done   chan struct{}
	quit   chan struct{}
	exited chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	startErr  error

	// scheduler goroutine only
	inFlight bool

	frames    atomic.Uint64
	idleWaits atomic.Uint64
	stale     atomic.Uint64
}

// NewThread prepares a render thread for backend. Nothing runs until Start.
func NewThread(backend Backend, queue *Queue, opts Options) *Thread {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	t := &Thread{
		device:      newDevice(backend),
		queue:       queue,
		buf:         NewBuffer(),
		waitTimeout: opts.WaitTimeout,
		report:      opts.Report,
		log:         opts.Log,
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
	if t.report == nil {
		t.report = func(err error) { t.log.Error("render task failed", zap.Error(err)) }
	}
	return t
}

// Start spawns the render goroutine and waits for backend initialization.
func (t *Thread) Start() error {
	t.startOnce.Do(func() {
		initErr := make(chan error, 1)
		t.started.Store(true)
		crash.Go(func() { t.loop(initErr) })
		t.startErr = <-initErr
	})
	return t.startErr
}

// Stop requests shutdown and joins the render goroutine. Closing quit is the
// flag and the wakeup in one step, so the render goroutine cannot miss it
// between checking and waiting.
func (t *Thread) Stop() {
	t.stopOnce.Do(func() {
		close(t.quit)
	})
	if t.started.Load() {
		<-t.exited
	}
}

// Done is closed when the render goroutine has exited.
func (t *Thread) Done() <-chan struct{} {
	return t.exited
}

// Frames returns the number of flushed frames.
func (t *Thread) Frames() uint64 { return t.frames.Load() }

// IdleWaits returns how many waits timed out without a frame.
func (t *Thread) IdleWaits() uint64 { return t.idleWaits.Load() }

// Stale returns how many handoffs the scheduler gave up waiting on.
func (t *Thread) Stale() uint64 { return t.stale.Load() }

// Buffer exposes the shared buffer for instrumentation.
func (t *Thread) Buffer() *Buffer { return t.buf }

// Acquire returns the draw buffer if the scheduler owns it, reclaiming a frame
// that finished after a timed-out Present. Scheduler goroutine only.
func (t *Thread) Acquire() (*Buffer, bool) {
	if t.inFlight {
		select {
		case <-t.done:
			t.inFlight = false
		default:
			return nil, false
		}
	}
	if t.stopped() {
		return nil, false
	}
	return t.buf, true
}

// Present hands the buffer to the render goroutine and waits up to timeout
// for it to come back. On ErrFrameTimeout the renderer keeps the buffer and
// the next Acquire fails until it is returned. Scheduler goroutine only.
func (t *Thread) Present(info FrameInfo, timeout time.Duration) error {
	if t.inFlight {
		return ErrBusy
	}
	if t.stopped() {
		return ErrStopped
	}
	if timeout <= 0 {
		timeout = t.waitTimeout
	}

	t.buf.setFrame(info)
	t.buf.handOff(OwnerScheduler, OwnerRenderer)
	t.inFlight = true
	t.ready <- struct{}{}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		t.inFlight = false
		return nil
	case <-timer.C:
		t.stale.Add(1)
		return ErrFrameTimeout
	case <-t.exited:
		return ErrStopped
	}
}

func (t *Thread) stopped() bool {
	select {
	case <-t.exited:
		return true
	default:
		return false
	}
}

func (t *Thread) loop(initErr chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.exited)

	t.device.guard.Bind()
	defer t.device.guard.Release()

	if err := t.device.backend.Init(); err != nil {
		initErr <- fmt.Errorf("render init: %w", err)
		return
	}
	initErr <- nil
	t.log.Debug("render thread started")

	rctx := &Context{Device: t.device, Log: t.log}
	timer := time.NewTimer(t.waitTimeout)
	defer timer.Stop()

	for {
		task.DrainAvailable("render", t.queue, rctx, t.report)

		timer.Reset(t.waitTimeout)
		signaled := false
		select {
		case <-t.ready:
			signaled = true
		case <-t.quit:
		case <-timer.C:
		}
		timer.Stop()

		select {
		case <-t.quit:
			if signaled {
				// Give the frame back unflushed so a waiting Present returns.
				t.buf.handOff(OwnerRenderer, OwnerScheduler)
				t.done <- struct{}{}
			}
			t.cleanup()
			return
		default:
		}

		if !signaled {
			t.idleWaits.Add(1)
			continue
		}
		t.flush(rctx)
	}
}

func (t *Thread) flush(rctx *Context) {
	info := t.buf.Frame()
	rctx.FrameID = info.ID
	rctx.Elapsed = info.Elapsed

	if err := t.device.Submit(info, t.buf.Commands()); err != nil {
		t.log.Warn("submit failed", zap.Uint64("frame", info.ID), zap.Error(err))
	}
	if err := t.device.Present(); err != nil {
		t.log.Warn("present failed", zap.Uint64("frame", info.ID), zap.Error(err))
	}
	t.buf.Reset()
	t.frames.Add(1)

	t.buf.handOff(OwnerRenderer, OwnerScheduler)
	t.done <- struct{}{}
}

func (t *Thread) cleanup() {
	if err := t.device.backend.Close(); err != nil {
		t.log.Warn("render backend close failed", zap.Error(err))
	}
	t.log.Debug("render thread stopped", zap.Uint64("frames", t.frames.Load()))
}
