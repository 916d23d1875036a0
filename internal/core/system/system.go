package system

import "github.com/l1jgo/framecore/internal/frame"

// Phase defines execution ordering within a single fixed tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: once per frame, from the event poll
	PhasePreUpdate               // 1: timers, scripted triggers
	PhaseUpdate                  // 2: simulation
	PhasePostUpdate              // 3: derived state
	PhaseCleanup                 // 4: destroy queued objects
)

// System is one unit of per-tick simulation logic.
type System interface {
	Phase() Phase
	Update(ctx *frame.SimContext)
}

// Func adapts a function to System.
type Func struct {
	P  Phase
	Fn func(ctx *frame.SimContext)
}

func (f Func) Phase() Phase                 { return f.P }
func (f Func) Update(ctx *frame.SimContext) { f.Fn(ctx) }
