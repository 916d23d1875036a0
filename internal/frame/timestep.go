package frame

import "math"

// Timestep is the fixed-step accumulator.
//
// Ticks run while the accumulator holds at least Slop seconds, where Slop is
// the step for rate+1 Hz. Accepting a slightly short step keeps a display
// refreshing at the tick rate from alternating between zero and two ticks per
// frame on jitter.
type Timestep struct {
	FixedDT     float64
	Slop        float64
	MaxTicks    int
	Accumulator float64
}

// NewTimestep returns a timestep for rate ticks per second, capped at
// maxTicks per frame.
func NewTimestep(rate float64, maxTicks int) Timestep {
	return Timestep{
		FixedDT:  1 / rate,
		Slop:     1 / (rate + 1),
		MaxTicks: maxTicks,
	}
}

// Advance adds elapsed seconds and runs tick once per due step, at most
// MaxTicks times. Time left over after hitting the cap is folded back under
// Slop so a long stall does not turn into a burst of catch-up frames.
func (ts *Timestep) Advance(elapsed float64, tick func()) int {
	if elapsed > 0 {
		ts.Accumulator += elapsed
	}
	ticks := 0
	for ts.Accumulator >= ts.Slop && ticks < ts.MaxTicks {
		ts.Accumulator -= ts.FixedDT
		if ts.Accumulator < 0 {
			ts.Accumulator = 0
		}
		ticks++
		if tick != nil {
			tick()
		}
	}
	if ts.Accumulator >= ts.Slop {
		ts.Accumulator = math.Mod(ts.Accumulator, ts.Slop)
	}
	return ticks
}

// UntilNextTick returns the seconds of elapsed time still needed before
// Advance would tick.
func (ts *Timestep) UntilNextTick() float64 {
	return max(ts.Slop-ts.Accumulator, 0)
}
