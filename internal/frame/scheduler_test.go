package frame

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/l1jgo/framecore/internal/core/task"
	"github.com/l1jgo/framecore/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresenter struct {
	buf        *render.Buffer
	busy       bool
	presentErr error
	presented  []render.FrameInfo
	lens       []int
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{buf: render.NewBuffer()}
}

func (p *fakePresenter) Acquire() (*render.Buffer, bool) {
	if p.busy {
		return nil, false
	}
	return p.buf, true
}

func (p *fakePresenter) Done() <-chan struct{} { return nil }

func (p *fakePresenter) Present(info render.FrameInfo, _ time.Duration) error {
	p.presented = append(p.presented, info)
	p.lens = append(p.lens, p.buf.Len())
	p.buf.Discard()
	if p.presentErr != nil {
		p.busy = true
		err := p.presentErr
		p.presentErr = nil
		return err
	}
	return nil
}

func newTestScheduler(t *testing.T, p Presenter, cb Callbacks, opts Options) (*Scheduler, *ManualClock, *Handle) {
	t.Helper()
	clock := NewManualClock(time.Unix(1000, 0))
	opts.Clock = clock
	h := NewHandle(nil)
	t.Cleanup(h.Close)
	return NewScheduler(h, p, cb, opts), clock, h
}

func TestStepRunsFixedTicks(t *testing.T) {
	var ids []uint64
	s, clock, _ := newTestScheduler(t, nil, Callbacks{
		FixedUpdate: func(c *SimContext) { ids = append(ids, c.TickID) },
	}, Options{})

	clock.AdvanceSeconds(0.05)
	require.NoError(t, s.Step())

	assert.Equal(t, []uint64{1, 2, 3}, ids)
	assert.Equal(t, 3, s.Context().FrameTicks)
	assert.Equal(t, uint64(1), s.Context().FrameID)
	assert.Less(t, s.Accumulator(), s.step.Slop)
	assert.InDelta(t, 1.0/60, s.Context().FixedDT, 1e-12)
}

func TestStepCapsCatchUp(t *testing.T) {
	ticks := 0
	s, clock, _ := newTestScheduler(t, nil, Callbacks{
		FixedUpdate: func(*SimContext) { ticks++ },
	}, Options{MaxTicksPerFrame: 5})

	clock.Advance(10 * time.Second)
	require.NoError(t, s.Step())
	assert.Equal(t, 5, ticks)
	assert.Less(t, s.Accumulator(), s.step.Slop)

	require.NoError(t, s.Step())
	assert.Equal(t, 5, ticks, "no catch-up burst on the next frame")
}

func TestTickIDsMonotonic(t *testing.T) {
	var ids []uint64
	s, clock, _ := newTestScheduler(t, nil, Callbacks{
		FixedUpdate: func(c *SimContext) { ids = append(ids, c.TickID) },
	}, Options{})

	steps := []time.Duration{3 * time.Millisecond, 17 * time.Millisecond, 40 * time.Millisecond, time.Second, 0, 16 * time.Millisecond}
	for i := 0; i < 50; i++ {
		clock.Advance(steps[i%len(steps)])
		require.NoError(t, s.Step())
	}

	require.NotEmpty(t, ids)
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id)
	}
	assert.Equal(t, uint64(len(ids)), s.Counters().Ticks)
}

func TestMainTasksDrainedAtFrameStart(t *testing.T) {
	var order []string
	s, clock, h := newTestScheduler(t, nil, Callbacks{
		PollEvents: func(*SimContext) { order = append(order, "poll") },
		Update:     func(*SimContext) { order = append(order, "update") },
	}, Options{})

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, h.PushMain(func(c *SimContext) {
			order = append(order, name)
			if name == "b" {
				_ = c.Handle.PushMain(func(*SimContext) { order = append(order, "late") })
			}
		}))
	}

	clock.AdvanceSeconds(0.02)
	require.NoError(t, s.Step())
	assert.Equal(t, []string{"a", "b", "c", "poll", "update"}, order)

	order = nil
	require.NoError(t, s.Step())
	assert.Equal(t, []string{"late", "poll", "update"}, order)
	assert.Equal(t, uint64(4), s.Counters().MainTasks)
}

func TestRenderOnlyWhenTicked(t *testing.T) {
	p := newFakePresenter()
	renders := 0
	s, clock, _ := newTestScheduler(t, p, Callbacks{
		Render: func(c *SimContext) {
			renders++
			c.Draw().Push(render.Command{Kind: render.CmdClear})
			c.Draw().Push(render.Command{Kind: render.CmdText, Text: "hi"})
		},
	}, Options{})

	clock.Advance(5 * time.Millisecond)
	require.NoError(t, s.Step())
	assert.Zero(t, renders)
	assert.Empty(t, p.presented)

	clock.Advance(15 * time.Millisecond)
	require.NoError(t, s.Step())
	assert.Equal(t, 1, renders)
	require.Len(t, p.presented, 1)
	assert.Equal(t, uint64(2), p.presented[0].ID)
	assert.Equal(t, uint64(1), p.presented[0].TickID)
	assert.Equal(t, []int{2}, p.lens)
	assert.Equal(t, uint64(1), s.Counters().Rendered)
}

func TestDrawOutsideRenderPhasePanics(t *testing.T) {
	var updatePanicked, mainPanicked bool
	s, clock, h := newTestScheduler(t, nil, Callbacks{
		Update: func(c *SimContext) {
			updatePanicked = assert.Panics(t, func() { c.Draw() })
		},
	}, Options{})
	require.NoError(t, h.PushMain(func(c *SimContext) {
		mainPanicked = assert.Panics(t, func() { c.Draw() })
	}))

	clock.AdvanceSeconds(0.02)
	require.NoError(t, s.Step())
	assert.True(t, updatePanicked)
	assert.True(t, mainPanicked)
}

func TestStaleFrameDropsNext(t *testing.T) {
	p := newFakePresenter()
	p.presentErr = render.ErrFrameTimeout
	s, clock, _ := newTestScheduler(t, p, Callbacks{}, Options{})

	clock.AdvanceSeconds(0.02)
	require.NoError(t, s.Step())
	clock.AdvanceSeconds(0.02)
	require.NoError(t, s.Step())

	c := s.Counters()
	assert.Equal(t, uint64(1), c.Stale)
	assert.Equal(t, uint64(1), c.Dropped)
	assert.Zero(t, c.Rendered)
	assert.Len(t, p.presented, 1)
}

func TestPauseSkipsUpdatesButDrainsQueues(t *testing.T) {
	var polls, updates, fixed, renders int
	p := newFakePresenter()
	s, clock, h := newTestScheduler(t, p, Callbacks{
		PollEvents:  func(*SimContext) { polls++ },
		FixedUpdate: func(*SimContext) { fixed++ },
		Update:      func(*SimContext) { updates++ },
		Render:      func(*SimContext) { renders++ },
	}, Options{})

	require.NoError(t, h.PushMain(func(c *SimContext) { c.Pause() }))
	clock.AdvanceSeconds(0.05)
	require.NoError(t, s.Step())
	assert.True(t, s.Context().Paused())

	ran := false
	require.NoError(t, h.PushMain(func(*SimContext) { ran = true }))
	clock.Advance(time.Second)
	require.NoError(t, s.Step())

	assert.True(t, ran, "main queue drains while paused")
	assert.Equal(t, 2, polls)
	assert.Zero(t, updates)
	assert.Zero(t, fixed)
	assert.Zero(t, renders)
	assert.Zero(t, s.Context().TotalElapsed)

	s.Context().Resume()
	clock.AdvanceSeconds(0.02)
	require.NoError(t, s.Step())
	assert.Equal(t, 1, fixed, "paused time is not caught up")
	assert.Equal(t, 1, updates)
	assert.Equal(t, 1, renders)
}

func TestSpeedScalesElapsed(t *testing.T) {
	fixed := 0
	s, clock, _ := newTestScheduler(t, nil, Callbacks{
		FixedUpdate: func(*SimContext) { fixed++ },
	}, Options{})

	s.Context().SetSpeed(2)
	s.Context().SetSpeed(-1)
	assert.Equal(t, 2.0, s.Context().Speed())

	clock.Advance(25 * time.Millisecond)
	require.NoError(t, s.Step())
	assert.Equal(t, 3, fixed)
	assert.InDelta(t, 0.05, s.Context().Elapsed, 1e-9)
}

func TestTimersFireInUpdatePhase(t *testing.T) {
	s, clock, _ := newTestScheduler(t, nil, Callbacks{}, Options{})
	ctx := s.Context()

	var fired []string
	ctx.SetTimeout(90*time.Millisecond, 0, func(c *SimContext) bool {
		assert.Equal(t, PhaseUpdate, c.Phase())
		fired = append(fired, "once")
		return true // no interval: not re-armed
	})
	repeats := 0
	ctx.SetTimeout(40*time.Millisecond, 40*time.Millisecond, func(*SimContext) bool {
		repeats++
		fired = append(fired, "repeat")
		return repeats < 3
	})
	cleared := ctx.SetTimeout(10*time.Millisecond, 0, func(*SimContext) bool {
		fired = append(fired, "cleared")
		return false
	})
	assert.True(t, ctx.ClearTimeout(cleared))
	assert.False(t, ctx.ClearTimeout(cleared))

	for i := 0; i < 5; i++ {
		clock.Advance(50 * time.Millisecond)
		require.NoError(t, s.Step())
	}

	assert.Equal(t, []string{"repeat", "once", "repeat", "repeat"}, fired)
	assert.Zero(t, s.timers.pending())
	assert.Equal(t, uint64(4), s.Counters().Timers)
}

func TestClearTimeoutCancelsRepeaterFiredSameFrame(t *testing.T) {
	s, clock, _ := newTestScheduler(t, nil, Callbacks{}, Options{})
	ctx := s.Context()

	fires := 0
	repeater := ctx.SetTimeout(10*time.Millisecond, 10*time.Millisecond, func(*SimContext) bool {
		fires++
		return true
	})
	ctx.SetTimeout(10*time.Millisecond, 0, func(c *SimContext) bool {
		assert.True(t, c.ClearTimeout(repeater))
		return false
	})

	for i := 0; i < 4; i++ {
		clock.Advance(20 * time.Millisecond)
		require.NoError(t, s.Step())
	}

	assert.Equal(t, 1, fires)
	assert.Zero(t, s.timers.pending())
	assert.Empty(t, s.timers.heap)
}

func TestIsolatePolicyKeepsRunning(t *testing.T) {
	s, clock, h := newTestScheduler(t, nil, Callbacks{}, Options{})
	after := false
	require.NoError(t, h.PushMain(func(*SimContext) { panic("script blew up") }))
	require.NoError(t, h.PushMain(func(*SimContext) { after = true }))

	clock.AdvanceSeconds(0.02)
	require.NoError(t, s.Step())
	assert.True(t, after)
	assert.Equal(t, uint64(1), s.Counters().Failures)
}

func TestFatalPolicyStopsRun(t *testing.T) {
	s, _, h := newTestScheduler(t, nil, Callbacks{}, Options{PanicPolicy: PolicyFatal})
	require.NoError(t, h.PushMain(func(*SimContext) { panic(errors.New("corrupt save")) }))

	err := s.Run(context.Background())
	require.Error(t, err)
	var pe *task.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "main", pe.Queue)
	assert.Contains(t, err.Error(), "corrupt save")
	assert.Equal(t, uint64(1), s.Counters().Frames)
}

func TestShutdownWithinOneFrame(t *testing.T) {
	var begins, ends int
	var endFrame uint64
	s, _, _ := newTestScheduler(t, nil, Callbacks{
		Begin: func(c *SimContext) {
			assert.Equal(t, PhaseBegin, c.Phase())
			begins++
		},
		Update: func(c *SimContext) {
			if c.FrameID == 3 {
				c.Quit()
			}
		},
		End: func(c *SimContext) {
			ends++
			endFrame = c.FrameID
		},
	}, Options{})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, ends)
	assert.Equal(t, uint64(3), endFrame)
	assert.Equal(t, uint64(3), s.Counters().Frames)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ends := 0
	s, _, _ := newTestScheduler(t, nil, Callbacks{End: func(*SimContext) { ends++ }}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, ends)
	assert.Zero(t, s.Counters().Frames)
}

func TestMinFrameTimeLimiter(t *testing.T) {
	s, clock, _ := newTestScheduler(t, nil, Callbacks{
		Update: func(c *SimContext) {
			if c.FrameID == 4 {
				c.Quit()
			}
		},
	}, Options{MinFrameTime: 20 * time.Millisecond})
	start := clock.Now()

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 80*time.Millisecond, clock.Now().Sub(start))
}

func TestPushMainAfterShutdown(t *testing.T) {
	h := NewHandle(nil)
	h.RequestShutdown()
	assert.ErrorIs(t, h.PushMain(func(*SimContext) {}), ErrShutdown)
	assert.NoError(t, h.PushWork(func(*WorkContext) {}), "workers still accept until Close")

	h.Close()
	assert.ErrorIs(t, h.PushWork(func(*WorkContext) {}), task.ErrClosed)
	assert.ErrorIs(t, h.PushRender(func(*render.Context) {}), task.ErrClosed)
}

func TestHandleReportOverflow(t *testing.T) {
	h := NewHandle(nil)
	for i := 0; i < failureBuffer+3; i++ {
		h.Report(errors.New("boom"))
	}
	h.Report(nil)
	assert.Equal(t, uint64(3), h.LostFailures())
}

func TestParsePanicPolicy(t *testing.T) {
	p, err := ParsePanicPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyIsolate, p)
	p, err = ParsePanicPolicy("fatal")
	require.NoError(t, err)
	assert.Equal(t, PolicyFatal, p)
	_, err = ParsePanicPolicy("ignore")
	assert.Error(t, err)
}

type memSink struct {
	mu      sync.Mutex
	batches [][]Sample
	session string
}

func (m *memSink) Record(_ context.Context, session string, batch []Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session
	m.batches = append(m.batches, batch)
	return nil
}

func TestStatsBatchedThroughWorkers(t *testing.T) {
	sink := &memSink{}
	s, clock, h := newTestScheduler(t, nil, Callbacks{}, Options{
		Stats:         sink,
		StatsSession:  "s1",
		StatsInterval: 2,
	})
	pool := NewWorkerPool(h, 2, nil)
	pool.Start(context.Background())

	for i := 0; i < 5; i++ {
		clock.AdvanceSeconds(0.02)
		require.NoError(t, s.Step())
	}
	s.stats.flush()
	pool.Shutdown()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "s1", sink.session)
	require.Len(t, sink.batches, 3)
	total := 0
	for _, b := range sink.batches {
		total += len(b)
	}
	assert.Equal(t, 5, total)
}

func TestWorkerContinuationReachesScheduler(t *testing.T) {
	s, clock, h := newTestScheduler(t, nil, Callbacks{}, Options{})
	pool := NewWorkerPool(h, 2, nil)
	pool.Start(context.Background())
	defer pool.Shutdown()

	got := 0
	require.NoError(t, h.PushWork(func(w *WorkContext) {
		result := 21 * 2
		_ = w.Handle.PushMain(func(c *SimContext) { got = result })
	}))

	deadline := time.Now().Add(2 * time.Second)
	for got == 0 && time.Now().Before(deadline) {
		clock.AdvanceSeconds(0.01)
		require.NoError(t, s.Step())
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 42, got)
}

func TestWorkerPanicReportedToScheduler(t *testing.T) {
	s, clock, h := newTestScheduler(t, nil, Callbacks{}, Options{PanicPolicy: PolicyFatal})
	pool := NewWorkerPool(h, 1, nil)
	pool.Start(context.Background())
	require.NoError(t, h.PushWork(func(*WorkContext) { panic("decode failed") }))
	pool.Shutdown()

	clock.AdvanceSeconds(0.02)
	err := s.Step()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode failed")
}

func TestWorkContextBounded(t *testing.T) {
	h := NewHandle(nil)
	defer h.Close()
	h.SetTaskTimeout(50 * time.Millisecond)
	pool := NewWorkerPool(h, 1, nil)
	pool.Start(context.Background())

	got := make(chan bool, 1)
	require.NoError(t, h.PushWork(func(w *WorkContext) {
		ctx, cancel := w.Bounded()
		defer cancel()
		_, ok := ctx.Deadline()
		got <- ok
	}))
	pool.Shutdown()
	assert.True(t, <-got)
}
