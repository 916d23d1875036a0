package render

import (
	"fmt"
	"sync/atomic"
)

// Owner says which side may touch a Buffer.
type Owner int32

const (
	OwnerScheduler Owner = iota
	OwnerRenderer
)

func (o Owner) String() string {
	if o == OwnerRenderer {
		return "renderer"
	}
	return "scheduler"
}

// Buffer is the draw-command buffer shared by the scheduler and the render
// goroutine. Exactly one side owns it at a time. The handoff moves the owner
// tag before signalling the other side; every access checks the tag, counts a
// violation and panics when the caller is not the owner.
type Buffer struct {
	owner      atomic.Int32
	violations atomic.Uint64

	frame FrameInfo
	cmds  []Command
}

// NewBuffer returns an empty buffer owned by the scheduler.
func NewBuffer() *Buffer {
	return &Buffer{cmds: make([]Command, 0, 256)}
}

// Owner returns the current owner tag.
func (b *Buffer) Owner() Owner {
	return Owner(b.owner.Load())
}

// Violations returns how many ownership checks failed.
func (b *Buffer) Violations() uint64 {
	return b.violations.Load()
}

// Push records a command. Scheduler side.
func (b *Buffer) Push(cmd Command) {
	b.expect(OwnerScheduler)
	b.cmds = append(b.cmds, cmd)
}

// Len returns the number of recorded commands. Scheduler side.
func (b *Buffer) Len() int {
	b.expect(OwnerScheduler)
	return len(b.cmds)
}

// Commands returns the recorded commands for flushing. Renderer side. The
// slice is only valid until Reset.
func (b *Buffer) Commands() []Command {
	b.expect(OwnerRenderer)
	return b.cmds
}

// Frame returns the header written by the scheduler. Renderer side.
func (b *Buffer) Frame() FrameInfo {
	b.expect(OwnerRenderer)
	return b.frame
}

// Reset clears the commands after a flush. Renderer side.
func (b *Buffer) Reset() {
	b.expect(OwnerRenderer)
	clear(b.cmds)
	b.cmds = b.cmds[:0]
}

// Discard clears the commands without flushing. Scheduler side; used when a
// built frame cannot be handed off.
func (b *Buffer) Discard() {
	b.expect(OwnerScheduler)
	clear(b.cmds)
	b.cmds = b.cmds[:0]
}

func (b *Buffer) setFrame(info FrameInfo) {
	b.expect(OwnerScheduler)
	b.frame = info
}

// handOff moves ownership from -> to. Publishing happens through the
// channel operation that follows it.
func (b *Buffer) handOff(from, to Owner) {
	if !b.owner.CompareAndSwap(int32(from), int32(to)) {
		b.violations.Add(1)
		panic(fmt.Sprintf("render: buffer handoff %s->%s while owned by %s", from, to, b.Owner()))
	}
}

func (b *Buffer) expect(o Owner) {
	if cur := b.Owner(); cur != o {
		b.violations.Add(1)
		panic(fmt.Sprintf("render: buffer accessed by %s while owned by %s", o, cur))
	}
}
