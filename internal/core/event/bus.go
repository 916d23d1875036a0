package event

import "sync"

// Bus is a double-buffered event bus. Events emitted during frame N are
// readable in frame N+1: SwapBuffers runs once at the start of the event
// poll, then DispatchAll delivers the front buffer.
//
// Everything runs on the scheduler goroutine. Subscribers register during
// setup; the lock only keeps concurrent registrations consistent.
type Bus struct {
	mu     sync.Mutex // only protects topic registration
	topics map[any]dispatcher
	order  []dispatcher
}

type dispatcher interface {
	swap()
	dispatch() int
	pending() int
}

// topic holds the buffers and handlers of one event type.
type topic[T any] struct {
	front    []T
	back     []T
	handlers []func(T)
}

func (t *topic[T]) swap() {
	t.front, t.back = t.back, t.front
	clear(t.back)
	t.back = t.back[:0]
}

func (t *topic[T]) dispatch() int {
	for _, ev := range t.front {
		for _, h := range t.handlers {
			h(ev)
		}
	}
	return len(t.front)
}

func (t *topic[T]) pending() int { return len(t.back) }

func NewBus() *Bus {
	return &Bus{topics: make(map[any]dispatcher)}
}

// key is a typed nil pointer: distinct per T and comparable.
func key[T any]() any { return (*T)(nil) }

func topicOf[T any](b *Bus) *topic[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key[T]()
	if d, ok := b.topics[k]; ok {
		return d.(*topic[T])
	}
	t := &topic[T]{}
	b.topics[k] = t
	b.order = append(b.order, t)
	return t
}

// Emit queues an event into the back buffer (readable next frame).
func Emit[T any](b *Bus, event T) {
	t := topicOf[T](b)
	t.back = append(t.back, event)
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	t := topicOf[T](b)
	b.mu.Lock()
	t.handlers = append(t.handlers, fn)
	b.mu.Unlock()
}

// SwapBuffers rotates back→front and clears the new back buffer.
func (b *Bus) SwapBuffers() {
	for _, d := range b.snapshot() {
		d.swap()
	}
}

// DispatchAll delivers front-buffer events, topics in registration order,
// events in emit order. Returns how many events were delivered.
func (b *Bus) DispatchAll() int {
	n := 0
	for _, d := range b.snapshot() {
		n += d.dispatch()
	}
	return n
}

// Pending returns the number of events waiting for the next swap.
func (b *Bus) Pending() int {
	n := 0
	for _, d := range b.snapshot() {
		n += d.pending()
	}
	return n
}

func (b *Bus) snapshot() []dispatcher {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order[:len(b.order):len(b.order)]
}
