package render

import (
	"errors"
	"testing"
	"time"

	"github.com/l1jgo/framecore/internal/core/affinity"
	"github.com/l1jgo/framecore/internal/core/crash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startThread(t *testing.T, b Backend, timeout time.Duration) (*Thread, *Queue) {
	t.Helper()
	q := NewQueue()
	th := NewThread(b, q, Options{WaitTimeout: timeout})
	require.NoError(t, th.Start())
	t.Cleanup(th.Stop)
	return th, q
}

func TestBufferOwnership(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, OwnerScheduler, b.Owner())

	b.Push(Command{Kind: CmdRect, W: 2, H: 2})
	assert.Equal(t, 1, b.Len())
	assert.Panics(t, func() { b.Commands() })
	assert.Equal(t, uint64(1), b.Violations())

	b.handOff(OwnerScheduler, OwnerRenderer)
	assert.Len(t, b.Commands(), 1)
	assert.Panics(t, func() { b.Push(Command{}) })
	assert.Panics(t, func() { b.handOff(OwnerScheduler, OwnerRenderer) })

	b.Reset()
	b.handOff(OwnerRenderer, OwnerScheduler)
	assert.Zero(t, b.Len())
	assert.Equal(t, uint64(3), b.Violations())
}

func TestThreadHandoff(t *testing.T) {
	h := NewHeadless()
	th, _ := startThread(t, h, 50*time.Millisecond)

	for frame := uint64(1); frame <= 20; frame++ {
		buf, ok := th.Acquire()
		require.True(t, ok)
		buf.Push(Command{Kind: CmdClear})
		buf.Push(Command{Kind: CmdText, Text: "frame", X: int(frame)})
		require.NoError(t, th.Present(FrameInfo{ID: frame, TickID: frame * 2, Elapsed: 1.0 / 60}, time.Second))

		info, cmds := h.LastFrame()
		assert.Equal(t, frame, info.ID)
		require.Len(t, cmds, 2)
		assert.Equal(t, int(frame), cmds[1].X)
		assert.Zero(t, buf.Len(), "buffer cleared by the renderer")
	}

	assert.Equal(t, uint64(20), th.Frames())
	assert.Equal(t, 20, h.Presents())
	assert.Zero(t, th.Buffer().Violations())
}

func TestThreadRunsRenderTasksOnRenderGoroutine(t *testing.T) {
	h := NewHeadless()
	th, q := startThread(t, h, 5*time.Millisecond)

	done := make(chan error, 1)
	require.NoError(t, q.Push(func(ctx *Context) {
		done <- ctx.Device.Upload("atlas.png", []byte{1, 2, 3})
	}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("render task never ran")
	}
	assert.Equal(t, []string{"atlas.png"}, h.Uploads())

	// The device is pinned to the render goroutine.
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = r.(error)
			}
		}()
		_ = th.device.Present()
		return nil
	}()
	assert.True(t, errors.Is(err, affinity.ErrWrongGoroutine))
}

func TestThreadRenderTaskPanicReported(t *testing.T) {
	q := NewQueue()
	reported := make(chan error, 1)
	th := NewThread(NewHeadless(), q, Options{WaitTimeout: 5 * time.Millisecond, Report: func(err error) { reported <- err }})
	require.NoError(t, th.Start())
	defer th.Stop()

	require.NoError(t, q.Push(func(*Context) { panic("bad texture") }))
	select {
	case err := <-reported:
		assert.Contains(t, err.Error(), "bad texture")
	case <-time.After(time.Second):
		t.Fatal("panic not reported")
	}

	// Still alive.
	buf, ok := th.Acquire()
	require.True(t, ok)
	buf.Push(Command{Kind: CmdClear})
	assert.NoError(t, th.Present(FrameInfo{ID: 1}, time.Second))
}

func TestThreadSlowRendererDropsFrames(t *testing.T) {
	h := NewHeadless()
	h.Delay = 80 * time.Millisecond
	th, _ := startThread(t, h, 10*time.Millisecond)

	buf, ok := th.Acquire()
	require.True(t, ok)
	buf.Push(Command{Kind: CmdClear})
	err := th.Present(FrameInfo{ID: 1}, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrFrameTimeout)
	assert.Equal(t, uint64(1), th.Stale())

	// Renderer still owns the buffer: the scheduler must skip this frame.
	_, ok = th.Acquire()
	assert.False(t, ok)
	assert.ErrorIs(t, th.Present(FrameInfo{ID: 2}, time.Millisecond), ErrBusy)

	require.Eventually(t, func() bool {
		_, ok := th.Acquire()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), th.Frames())
	assert.Zero(t, th.Buffer().Violations())
}

func TestThreadStopJoins(t *testing.T) {
	h := NewHeadless()
	q := NewQueue()
	th := NewThread(h, q, Options{WaitTimeout: 20 * time.Millisecond})
	require.NoError(t, th.Start())

	stopped := make(chan struct{})
	go func() {
		th.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("render thread not joined")
	}
	th.Stop()

	assert.True(t, h.Closed())
	_, ok := th.Acquire()
	assert.False(t, ok)
	assert.ErrorIs(t, th.Present(FrameInfo{}, time.Millisecond), ErrStopped)
}

func TestThreadIdleWaits(t *testing.T) {
	th, _ := startThread(t, NewHeadless(), 2*time.Millisecond)
	require.Eventually(t, func() bool { return th.IdleWaits() >= 3 }, time.Second, time.Millisecond)
}

type failingBackend struct{ Headless }

func (f *failingBackend) Init() error { return errors.New("no display") }

func TestThreadInitError(t *testing.T) {
	th := NewThread(&failingBackend{}, NewQueue(), Options{})
	err := th.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no display")
	th.Stop()
	<-th.Done()
}

type explodingBackend struct{ Headless }

func (e *explodingBackend) Present() error { panic("device lost") }

func TestThreadBackendPanicReachesCrashHandler(t *testing.T) {
	crashed := make(chan any, 1)
	crash.SetHandler(func(r any) { crashed <- r })
	t.Cleanup(func() { crash.SetHandler(nil) })

	th, _ := startThread(t, &explodingBackend{}, 10*time.Millisecond)
	buf, ok := th.Acquire()
	require.True(t, ok)
	buf.Push(Command{Kind: CmdClear})
	_ = th.Present(FrameInfo{ID: 1}, 200*time.Millisecond)

	select {
	case r := <-crashed:
		assert.Equal(t, "device lost", r)
	case <-time.After(time.Second):
		t.Fatal("render panic not handed to crash handler")
	}
	<-th.Done()
}
