// Package task holds the unit of cross-goroutine work and the queues that
// carry it.
//
// A Task is an owned closure executed exactly once against the context of the
// goroutine that drains its queue: the scheduler's SimContext, a worker's
// WorkContext or the render goroutine's Context. Whatever the closure needs
// beyond that context must be captured by value.
package task

import (
	"fmt"
	"runtime/debug"
)

// Task is a unit of work run against a context of kind C.
type Task[C any] func(C)

// PanicError describes a task that panicked. It is produced by Run so a
// failing task cannot take its queue's consumer down with it.
type PanicError struct {
	Queue string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panic on %s queue: %v", e.Queue, e.Value)
}

// Unwrap exposes an error panic value to errors.Is/As.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Run executes t against c, converting a panic into a *PanicError.
func Run[C any](queue string, t Task[C], c C) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Queue: queue, Value: r, Stack: debug.Stack()}
		}
	}()
	t(c)
	return nil
}

// DrainAvailable runs the tasks queued at the moment of the call and returns
// how many ran. Tasks pushed while draining, including by the drained tasks
// themselves, wait for the next call; this bounds per-frame work when
// producers outpace the single consumer. Failures go to report, which may be
// nil.
func DrainAvailable[C any](queue string, q *Queue[Task[C]], c C, report func(error)) int {
	n := q.Len()
	ran := 0
	for ; ran < n; ran++ {
		t, ok := q.TryPop()
		if !ok {
			break
		}
		if err := Run(queue, t, c); err != nil && report != nil {
			report(err)
		}
	}
	return ran
}
