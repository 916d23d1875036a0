// Package affinity pins a resource to the goroutine that owns it.
//
// Graphics contexts and the Lua VM are not safe to touch from arbitrary
// goroutines. A Guard records the owning goroutine once and every guarded
// call site checks it, so cross-goroutine misuse fails immediately instead of
// racing silently.
package affinity

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
)

// ErrWrongGoroutine is the panic value (wrapped) raised by Check.
var ErrWrongGoroutine = errors.New("affinity: called from non-owner goroutine")

// Guard records the goroutine that owns a resource. The zero value is unbound.
type Guard struct {
	name  string
	owner atomic.Uint64
}

// New returns an unbound guard; name shows up in panic messages.
func New(name string) *Guard {
	return &Guard{name: name}
}

// Bind makes the calling goroutine the owner. Rebinding is allowed so a
// resource can be handed over during startup, before the loops run.
func (g *Guard) Bind() {
	g.owner.Store(goroutineID())
}

// Release clears the owner.
func (g *Guard) Release() {
	g.owner.Store(0)
}

// Bound reports whether an owner has been recorded.
func (g *Guard) Bound() bool {
	return g.owner.Load() != 0
}

// Owned reports whether the calling goroutine is the owner.
func (g *Guard) Owned() bool {
	id := g.owner.Load()
	return id != 0 && id == goroutineID()
}

// Check panics unless the calling goroutine owns the resource. An unbound
// guard panics too.
func (g *Guard) Check() {
	if g.Owned() {
		return
	}
	panic(fmt.Errorf("%w: %s (owner=%d, caller=%d)", ErrWrongGoroutine, g.name, g.owner.Load(), goroutineID()))
}

// goroutineID parses the id out of the "goroutine N [...]" stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
