package system

import (
	"sort"

	"github.com/l1jgo/framecore/internal/frame"
)

// Runner executes systems in phase order each tick. Systems of the same
// phase keep registration order.
type Runner struct {
	systems []System
	sorted  bool
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Len returns the number of registered systems.
func (r *Runner) Len() int { return len(r.systems) }

// Tick runs every per-tick system, skipping PhaseInput. Wire it as the
// scheduler's FixedUpdate.
func (r *Runner) Tick(ctx *frame.SimContext) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() != PhaseInput {
			s.Update(ctx)
		}
	}
}

// PollInput runs the PhaseInput systems. Wire it as the scheduler's
// PollEvents.
func (r *Runner) PollInput(ctx *frame.SimContext) {
	r.TickPhase(PhaseInput, ctx)
}

// TickPhase 只執行指定 Phase 的 System。
// 用於每幀的輸入處理：不論這幀跑了幾個 fixed tick，輸入只消化一次。
func (r *Runner) TickPhase(phase Phase, ctx *frame.SimContext) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(ctx)
		}
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
