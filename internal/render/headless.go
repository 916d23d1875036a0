package render

import (
	"sync"
	"time"
)

// Headless is a Backend that draws nowhere. It keeps the last submitted frame
// and upload names, which is what tests and the "headless" render mode need.
type Headless struct {
	// Delay is slept in Present to emulate a slow device.
	Delay time.Duration

	mu        sync.Mutex
	inits     int
	presents  int
	closed    bool
	lastFrame FrameInfo
	lastCmds  []Command
	uploads   []string
}

// NewHeadless returns a headless backend.
func NewHeadless() *Headless {
	return &Headless{}
}

func (h *Headless) Init() error {
	h.mu.Lock()
	h.inits++
	h.mu.Unlock()
	return nil
}

func (h *Headless) Submit(frame FrameInfo, cmds []Command) error {
	h.mu.Lock()
	h.lastFrame = frame
	h.lastCmds = append(h.lastCmds[:0], cmds...)
	h.mu.Unlock()
	return nil
}

func (h *Headless) Present() error {
	if h.Delay > 0 {
		time.Sleep(h.Delay)
	}
	h.mu.Lock()
	h.presents++
	h.mu.Unlock()
	return nil
}

func (h *Headless) Upload(name string, _ []byte) error {
	h.mu.Lock()
	h.uploads = append(h.uploads, name)
	h.mu.Unlock()
	return nil
}

func (h *Headless) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Presents returns the number of presented frames.
func (h *Headless) Presents() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presents
}

// LastFrame returns a copy of the last submitted frame.
func (h *Headless) LastFrame() (FrameInfo, []Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastFrame, append([]Command(nil), h.lastCmds...)
}

// Uploads returns the uploaded resource names in order.
func (h *Headless) Uploads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.uploads...)
}

// Closed reports whether Close ran.
func (h *Headless) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
