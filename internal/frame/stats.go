package frame

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sample is one frame's pacing record.
type Sample struct {
	FrameID     uint64
	At          time.Time
	Ticks       int
	Elapsed     float64
	Accumulator float64
	Rendered    bool
	Dropped     bool
	Stale       bool
	Paused      bool
}

// StatsSink persists sample batches. Record is called on a worker goroutine.
type StatsSink interface {
	Record(ctx context.Context, session string, batch []Sample) error
}

// Counters are the scheduler totals since start.
type Counters struct {
	Frames    uint64
	Ticks     uint64
	Rendered  uint64
	Dropped   uint64 // frames skipped because the renderer still held the buffer
	Stale     uint64 // handoffs that timed out
	MainTasks uint64
	Failures  uint64
	Timers    uint64
}

// statsBatcher collects samples on the scheduler goroutine and ships full
// batches to a worker.
type statsBatcher struct {
	sink     StatsSink
	session  string
	interval int
	pending  []Sample
	handle   *Handle
	log      *zap.Logger
}

func (b *statsBatcher) add(s Sample) {
	if b.sink == nil {
		return
	}
	b.pending = append(b.pending, s)
	if len(b.pending) >= b.interval {
		b.flush()
	}
}

func (b *statsBatcher) flush() {
	if b.sink == nil || len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = make([]Sample, 0, b.interval)
	sink, session := b.sink, b.session
	err := b.handle.PushWork(func(w *WorkContext) {
		ctx, cancel := w.Bounded()
		defer cancel()
		if err := sink.Record(ctx, session, batch); err != nil {
			w.Log.Warn("frame stats not recorded", zap.Int("samples", len(batch)), zap.Error(err))
		}
	})
	if err != nil {
		b.log.Warn("frame stats dropped", zap.Int("samples", len(batch)), zap.Error(err))
	}
}
