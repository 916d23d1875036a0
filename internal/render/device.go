package render

import (
	"github.com/l1jgo/framecore/internal/core/affinity"
	"github.com/l1jgo/framecore/internal/core/task"
	"go.uber.org/zap"
)

// Backend is the graphics context. Every method is called from the render
// goroutine only; Device enforces that.
type Backend interface {
	Init() error
	Submit(frame FrameInfo, cmds []Command) error
	Present() error
	Upload(name string, data []byte) error
	Close() error
}

// Device is the goroutine-pinned handle to a Backend. Calls from any
// goroutine other than the render goroutine panic with
// affinity.ErrWrongGoroutine.
type Device struct {
	backend Backend
	guard   *affinity.Guard
}

func newDevice(b Backend) *Device {
	return &Device{backend: b, guard: affinity.New("graphics device")}
}

func (d *Device) Submit(frame FrameInfo, cmds []Command) error {
	d.guard.Check()
	return d.backend.Submit(frame, cmds)
}

func (d *Device) Present() error {
	d.guard.Check()
	return d.backend.Present()
}

// Upload hands resource data (textures, glyph atlases) to the backend.
func (d *Device) Upload(name string, data []byte) error {
	d.guard.Check()
	return d.backend.Upload(name, data)
}

// Context is what render tasks run against.
type Context struct {
	FrameID uint64
	Elapsed float64
	Device  *Device
	Log     *zap.Logger
}

// Task is a one-off job that must run on the render goroutine.
type Task = task.Task[*Context]

// Queue carries render tasks.
type Queue = task.Queue[Task]

// NewQueue returns an empty render task queue.
func NewQueue() *Queue {
	return task.NewQueue[Task]()
}
