package frame

import (
	"time"

	"github.com/l1jgo/framecore/internal/core/affinity"
	"github.com/l1jgo/framecore/internal/render"
	"go.uber.org/zap"
)

// Phase is the part of the frame the scheduler is in.
type Phase uint8

const (
	PhaseInactive Phase = iota
	PhaseBegin
	PhaseUpdate
	PhaseRender
)

func (p Phase) String() string {
	switch p {
	case PhaseBegin:
		return "begin"
	case PhaseUpdate:
		return "update"
	case PhaseRender:
		return "render"
	}
	return "inactive"
}

// SimContext is the simulation-side state main tasks and callbacks run
// against. It belongs to the scheduler goroutine.
type SimContext struct {
	// Elapsed is the scaled time of this frame in seconds; FixedDT is the
	// length of one fixed tick.
	Elapsed float64
	FixedDT float64
	// FrameTicks is the number of fixed ticks run this frame so far.
	FrameTicks   int
	FrameID      uint64
	TickID       uint64
	TotalElapsed float64

	Handle *Handle
	Log    *zap.Logger

	phase Phase
	buf   *render.Buffer
	sched *Scheduler
	guard *affinity.Guard
}

// Phase returns the current frame phase.
func (c *SimContext) Phase() Phase { return c.phase }

// Draw returns the buffer to record commands into. Only valid in the render
// phase; anywhere else it panics.
func (c *SimContext) Draw() *render.Buffer {
	c.guard.Check()
	if c.phase != PhaseRender || c.buf == nil {
		panic("frame: Draw called outside the render phase (phase=" + c.phase.String() + ")")
	}
	return c.buf
}

// SetTimeout runs fn once delay of simulation time has passed. If fn returns
// true and interval is positive the timer is re-armed interval later.
// Timers follow scaled time and stand still while paused.
func (c *SimContext) SetTimeout(delay, interval time.Duration, fn func(*SimContext) bool) TimerID {
	c.guard.Check()
	return c.sched.timers.add(c.TotalElapsed+delay.Seconds(), interval.Seconds(), fn)
}

// ClearTimeout cancels a pending timer. It reports whether one was removed.
func (c *SimContext) ClearTimeout(id TimerID) bool {
	c.guard.Check()
	return c.sched.timers.remove(id)
}

// Paused reports whether updates are suspended.
func (c *SimContext) Paused() bool { return c.sched.paused }

// Pause suspends fixed and variable updates and rendering. Queues still drain
// and events are still polled.
func (c *SimContext) Pause() {
	c.guard.Check()
	c.sched.setPaused(true)
}

// Resume undoes Pause.
func (c *SimContext) Resume() {
	c.guard.Check()
	c.sched.setPaused(false)
}

// Speed returns the time scale.
func (c *SimContext) Speed() float64 { return c.sched.speed }

// SetSpeed scales simulation time; non-positive values are ignored.
func (c *SimContext) SetSpeed(speed float64) {
	c.guard.Check()
	if speed > 0 {
		c.sched.speed = speed
	}
}

// Counters returns the scheduler totals.
func (c *SimContext) Counters() Counters { return c.sched.counters }

// Quit asks the scheduler to stop after this frame.
func (c *SimContext) Quit() {
	c.Handle.RequestShutdown()
}
