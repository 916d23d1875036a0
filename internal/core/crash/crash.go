// Package crash starts goroutines whose panics reach one process-wide
// handler, so the terminal can be restored before the process exits.
package crash

import "sync/atomic"

var handler atomic.Pointer[func(any)]

// SetHandler installs fn for panics in goroutines started with Go. Nil
// removes it.
func SetHandler(fn func(any)) {
	if fn == nil {
		handler.Store(nil)
		return
	}
	handler.Store(&fn)
}

// Go runs fn in a new goroutine. A panic is passed to the installed handler;
// without one it is re-raised.
func Go(fn func()) {
	go func() {
		defer Recover()
		fn()
	}()
}

// Recover must be deferred directly. It hands a recovered panic to the
// handler.
func Recover() {
	r := recover()
	if r == nil {
		return
	}
	h := handler.Load()
	if h == nil {
		panic(r)
	}
	(*h)(r)
}
