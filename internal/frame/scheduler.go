// Package frame runs the fixed-timestep frame loop.
//
// Each frame the scheduler drains main-queue continuations, polls events,
// runs zero or more fixed ticks, one variable update, and, when at least one
// tick ran, records a frame and hands it to the render goroutine. The render
// side may lag at most one frame; when it falls behind, frames are dropped
// rather than queued.
package frame

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/l1jgo/framecore/internal/core/affinity"
	"github.com/l1jgo/framecore/internal/core/task"
	"github.com/l1jgo/framecore/internal/render"
	"go.uber.org/zap"
)

// PanicPolicy decides what a reported task panic does.
type PanicPolicy string

const (
	// PolicyIsolate logs the failure and keeps running.
	PolicyIsolate PanicPolicy = "isolate"
	// PolicyFatal stops Run with the failure.
	PolicyFatal PanicPolicy = "fatal"
)

// ParsePanicPolicy accepts "isolate" (or empty) and "fatal".
func ParsePanicPolicy(s string) (PanicPolicy, error) {
	switch PanicPolicy(s) {
	case "", PolicyIsolate:
		return PolicyIsolate, nil
	case PolicyFatal:
		return PolicyFatal, nil
	}
	return "", fmt.Errorf("unknown panic policy %q", s)
}

// Defaults.
const (
	DefaultFixedRate      = 60
	DefaultMaxTicks       = 5
	DefaultStatsInterval  = 300
	DefaultHandoffTimeout = render.DefaultWaitTimeout
)

// Options configures a Scheduler. Zero values take defaults.
type Options struct {
	FixedRate        float64
	MaxTicksPerFrame int
	Speed            float64
	MinFrameTime     time.Duration
	HandoffTimeout   time.Duration
	PanicPolicy      PanicPolicy
	Clock            Clock

	Stats         StatsSink
	StatsSession  string
	StatsInterval int

	Log *zap.Logger
}

// Callbacks are the application hooks, all called on the scheduler
// goroutine. Any of them may be nil.
type Callbacks struct {
	Begin       func(*SimContext)
	PollEvents  func(*SimContext)
	FixedUpdate func(*SimContext)
	Update      func(*SimContext)
	Render      func(*SimContext)
	End         func(*SimContext)
}

// Presenter is the scheduler side of the render handoff; *render.Thread
// implements it. Done is closed once the renderer is gone for good.
type Presenter interface {
	Acquire() (*render.Buffer, bool)
	Present(info render.FrameInfo, timeout time.Duration) error
	Done() <-chan struct{}
}

// Scheduler owns the frame loop. Step and Run must be called from one
// goroutine, the one that created the scheduler or called Run.
type Scheduler struct {
	handle    *Handle
	presenter Presenter
	cb        Callbacks
	clock     Clock
	log       *zap.Logger

	step           Timestep
	speed          float64
	minFrameTime   time.Duration
	handoffTimeout time.Duration
	policy         PanicPolicy

	ctx     *SimContext
	guard   *affinity.Guard
	timers  *timers
	stats   statsBatcher
	scratch *render.Buffer

	last      time.Time
	frameID   uint64
	tickID    uint64
	paused    bool
	lastTicks int
	counters  Counters
}

// NewScheduler builds a scheduler. presenter may be nil, in which case
// frames are recorded into a scratch buffer and discarded.
func NewScheduler(h *Handle, presenter Presenter, cb Callbacks, opts Options) *Scheduler {
	if opts.FixedRate <= 0 {
		opts.FixedRate = DefaultFixedRate
	}
	if opts.MaxTicksPerFrame <= 0 {
		opts.MaxTicksPerFrame = DefaultMaxTicks
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.HandoffTimeout <= 0 {
		opts.HandoffTimeout = DefaultHandoffTimeout
	}
	if opts.PanicPolicy == "" {
		opts.PanicPolicy = PolicyIsolate
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	s := &Scheduler{
		handle:         h,
		presenter:      presenter,
		cb:             cb,
		clock:          opts.Clock,
		log:            opts.Log,
		step:           NewTimestep(opts.FixedRate, opts.MaxTicksPerFrame),
		speed:          opts.Speed,
		minFrameTime:   opts.MinFrameTime,
		handoffTimeout: opts.HandoffTimeout,
		policy:         opts.PanicPolicy,
		guard:          affinity.New("simulation context"),
		timers:         newTimers(),
		stats: statsBatcher{
			sink:     opts.Stats,
			session:  opts.StatsSession,
			interval: opts.StatsInterval,
			handle:   h,
			log:      opts.Log,
		},
	}
	if presenter == nil {
		s.scratch = render.NewBuffer()
	}
	s.ctx = &SimContext{
		FixedDT: s.step.FixedDT,
		Handle:  h,
		Log:     opts.Log,
		sched:   s,
		guard:   s.guard,
	}
	s.guard.Bind()
	s.last = s.clock.Now()
	return s
}

// Context returns the simulation context. Scheduler goroutine only.
func (s *Scheduler) Context() *SimContext { return s.ctx }

// Counters returns the totals so far.
func (s *Scheduler) Counters() Counters { return s.counters }

// Accumulator returns the unconsumed time in seconds.
func (s *Scheduler) Accumulator() float64 { return s.step.Accumulator }

// Run binds the scheduler to the calling goroutine and steps frames until
// shutdown is requested, ctx is cancelled, or a task failure is fatal.
// Begin runs before the first frame and End after the last.
func (s *Scheduler) Run(ctx context.Context) error {
	s.guard.Bind()
	s.last = s.clock.Now()
	s.log.Info("frame loop started",
		zap.Float64("fixed_dt", s.step.FixedDT),
		zap.Int("max_ticks", s.step.MaxTicks),
	)

	s.ctx.phase = PhaseBegin
	if s.cb.Begin != nil {
		s.cb.Begin(s.ctx)
	}
	s.ctx.phase = PhaseInactive

	var runErr error
	for !s.handle.ShutdownRequested() {
		if err := ctx.Err(); err != nil {
			break
		}
		start := s.clock.Now()
		if err := s.Step(); err != nil {
			runErr = err
			break
		}
		s.pace(start)
	}

	s.ctx.phase = PhaseBegin
	if s.cb.End != nil {
		s.cb.End(s.ctx)
	}
	s.ctx.phase = PhaseInactive
	s.stats.flush()

	c := s.counters
	s.log.Info("frame loop stopped",
		zap.Uint64("frames", c.Frames),
		zap.Uint64("ticks", c.Ticks),
		zap.Uint64("rendered", c.Rendered),
		zap.Uint64("dropped", c.Dropped),
		zap.Uint64("stale", c.Stale),
		zap.Uint64("failures", c.Failures),
	)
	return runErr
}

// Step runs one frame.
func (s *Scheduler) Step() error {
	s.guard.Check()
	ctx := s.ctx

	now := s.clock.Now()
	raw := now.Sub(s.last).Seconds()
	s.last = now

	s.frameID++
	s.counters.Frames++
	ctx.FrameID = s.frameID
	ctx.FrameTicks = 0

	// Continuations first, so results from workers are visible to this
	// frame's events and updates.
	ctx.phase = PhaseUpdate
	ran := task.DrainAvailable("main", s.handle.main, ctx, s.handle.Report)
	s.counters.MainTasks += uint64(ran)
	if err := s.collectFailures(); err != nil {
		ctx.phase = PhaseInactive
		return err
	}

	if s.cb.PollEvents != nil {
		s.cb.PollEvents(ctx)
	}

	sample := Sample{FrameID: s.frameID, At: now}
	if s.paused {
		ctx.Elapsed = 0
		ctx.phase = PhaseInactive
		s.lastTicks = 0
		sample.Paused = true
		sample.Accumulator = s.step.Accumulator
		s.stats.add(sample)
		return nil
	}

	elapsed := raw * s.speed
	ctx.Elapsed = elapsed
	ctx.TotalElapsed += elapsed
	ticks := s.step.Advance(elapsed, func() {
		s.tickID++
		ctx.TickID = s.tickID
		ctx.FrameTicks++
		if s.cb.FixedUpdate != nil {
			s.cb.FixedUpdate(ctx)
		}
	})
	s.counters.Ticks += uint64(ticks)
	s.lastTicks = ticks

	s.counters.Timers += uint64(s.timers.fire(ctx))
	if s.cb.Update != nil {
		s.cb.Update(ctx)
	}

	if ticks > 0 {
		s.renderFrame(ctx, &sample)
	}
	ctx.phase = PhaseInactive

	sample.Ticks = ticks
	sample.Elapsed = elapsed
	sample.Accumulator = s.step.Accumulator
	s.stats.add(sample)

	return s.collectFailures()
}

func (s *Scheduler) renderFrame(ctx *SimContext, sample *Sample) {
	var buf *render.Buffer
	if s.presenter == nil {
		buf = s.scratch
	} else {
		b, ok := s.presenter.Acquire()
		if !ok {
			s.counters.Dropped++
			sample.Dropped = true
			select {
			case <-s.presenter.Done():
				s.log.Error("render thread gone, stopping")
				s.handle.RequestShutdown()
			default:
			}
			return
		}
		buf = b
	}

	ctx.buf = buf
	ctx.phase = PhaseRender
	if s.cb.Render != nil {
		s.cb.Render(ctx)
	}
	ctx.buf = nil
	ctx.phase = PhaseUpdate

	if s.presenter == nil {
		buf.Discard()
		s.counters.Rendered++
		sample.Rendered = true
		return
	}

	info := render.FrameInfo{ID: s.frameID, TickID: s.tickID, Elapsed: ctx.Elapsed}
	err := s.presenter.Present(info, s.handoffTimeout)
	switch {
	case err == nil:
		s.counters.Rendered++
		sample.Rendered = true
	case errors.Is(err, render.ErrFrameTimeout):
		s.counters.Stale++
		sample.Stale = true
		s.log.Debug("render handoff timed out", zap.Uint64("frame", s.frameID))
	case errors.Is(err, render.ErrStopped):
		s.log.Error("render thread gone, stopping", zap.Error(err))
		s.handle.RequestShutdown()
	default:
		s.log.Warn("present failed", zap.Uint64("frame", s.frameID), zap.Error(err))
	}
}

// collectFailures logs reported task failures. Under PolicyFatal the first
// one is returned.
func (s *Scheduler) collectFailures() error {
	for {
		select {
		case err := <-s.handle.failures:
			s.counters.Failures++
			fields := []zap.Field{zap.Error(err)}
			var pe *task.PanicError
			if errors.As(err, &pe) {
				fields = append(fields, zap.String("queue", pe.Queue), zap.ByteString("stack", pe.Stack))
			}
			s.log.Error("task failed", fields...)
			if s.policy == PolicyFatal {
				return fmt.Errorf("fatal task failure: %w", err)
			}
		default:
			return nil
		}
	}
}

// pace sleeps after a frame: up to the minimum frame time when one is set,
// otherwise until the next tick is due when this frame ran none.
func (s *Scheduler) pace(start time.Time) {
	if s.minFrameTime > 0 {
		if spent := s.clock.Now().Sub(start); spent < s.minFrameTime {
			s.clock.Sleep(s.minFrameTime - spent)
		}
		return
	}
	if s.lastTicks > 0 {
		return
	}
	wait := s.step.FixedDT
	if !s.paused {
		wait = s.step.UntilNextTick() / s.speed
	}
	if d := time.Duration(wait * float64(time.Second)); d > 0 {
		s.clock.Sleep(d)
	}
}

func (s *Scheduler) setPaused(p bool) {
	if s.paused == p {
		return
	}
	s.paused = p
	s.log.Info("pause toggled", zap.Bool("paused", p), zap.Uint64("frame", s.frameID))
}
