package frame

import "container/heap"

// TimerID identifies a pending timer. Zero is never issued.
type TimerID uint64

type timer struct {
	id       TimerID
	due      float64
	interval float64
	seq      uint64
	fn       func(*SimContext) bool
	index    int
}

// timerHeap orders by due time, then by insertion.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

type timers struct {
	heap   timerHeap
	byID   map[TimerID]*timer
	nextID TimerID
	seq    uint64
}

func newTimers() *timers {
	return &timers{byID: make(map[TimerID]*timer)}
}

func (ts *timers) add(due, interval float64, fn func(*SimContext) bool) TimerID {
	ts.nextID++
	ts.seq++
	t := &timer{id: ts.nextID, due: due, interval: interval, seq: ts.seq, fn: fn}
	heap.Push(&ts.heap, t)
	ts.byID[t.id] = t
	return t.id
}

func (ts *timers) remove(id TimerID) bool {
	t, ok := ts.byID[id]
	if !ok {
		return false
	}
	delete(ts.byID, id)
	if t.index >= 0 {
		heap.Remove(&ts.heap, t.index)
	}
	return true
}

func (ts *timers) pending() int { return len(ts.byID) }

// fire runs every timer due at ctx.TotalElapsed in due order. Timers added
// by a callback with zero delay wait for the next frame.
func (ts *timers) fire(ctx *SimContext) int {
	now := ctx.TotalElapsed
	limit := ts.seq
	fired := 0
	var rearm []*timer
	for len(ts.heap) > 0 {
		t := ts.heap[0]
		if t.due > now || t.seq > limit {
			break
		}
		heap.Pop(&ts.heap)
		fired++
		again := t.fn(ctx)
		if _, live := ts.byID[t.id]; !live {
			continue // cleared by its own callback
		}
		if again && t.interval > 0 {
			t.due = max(t.due+t.interval, now+t.interval)
			rearm = append(rearm, t)
			continue
		}
		delete(ts.byID, t.id)
	}
	for _, t := range rearm {
		if _, live := ts.byID[t.id]; !live {
			continue // cleared by a later callback in this pass
		}
		heap.Push(&ts.heap, t)
	}
	return fired
}
