package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/l1jgo/framecore/internal/core/event"
	"github.com/l1jgo/framecore/internal/core/system"
	"github.com/l1jgo/framecore/internal/frame"
	"github.com/l1jgo/framecore/internal/render"
)

const (
	hudBackground = 0x202840
	hudForeground = 0xC0C8E0
)

// hud draws a status line on the bottom row: frame and tick ids, measured
// tick and frame rates, speed and pause state. 'h' toggles it.
type hud struct {
	width, height int
	hidden        bool

	// rates over the last second of simulation time
	windowStart float64
	ticks       int
	frames      int
	tickRate    float64
	frameRate   float64

	notice string
}

func newHUD(bus *event.Bus) *hud {
	h := &hud{width: 80, height: 24}
	event.Subscribe(bus, func(ev event.Resized) {
		h.width, h.height = ev.Width, ev.Height
	})
	event.Subscribe(bus, func(ev event.KeyPressed) {
		if tcell.Key(ev.Key) == tcell.KeyRune && ev.Rune == 'h' {
			h.hidden = !h.hidden
		}
	})
	event.Subscribe(bus, func(ev event.PauseToggled) {
		if ev.Paused {
			h.notice = "PAUSED"
		} else {
			h.notice = ""
		}
	})
	return h
}

// system counts fixed ticks; it runs last in each tick.
func (h *hud) system() system.System {
	return system.Func{P: system.PhaseCleanup, Fn: func(*frame.SimContext) { h.ticks++ }}
}

func (h *hud) update(ctx *frame.SimContext) {
	h.frames++
	span := ctx.TotalElapsed - h.windowStart
	if span >= 1 {
		h.tickRate = float64(h.ticks) / span
		h.frameRate = float64(h.frames) / span
		h.ticks, h.frames = 0, 0
		h.windowStart = ctx.TotalElapsed
	}
}

func (h *hud) render(ctx *frame.SimContext) {
	if h.hidden || h.height <= 0 {
		return
	}
	y := h.height - 1
	line := fmt.Sprintf(" frame %d  tick %d  %.0f tps  %.0f fps  x%.2f  %s",
		ctx.FrameID, ctx.TickID, h.tickRate, h.frameRate, ctx.Speed(), h.notice)
	buf := ctx.Draw()
	buf.Push(render.Command{Kind: render.CmdRect, X: 0, Y: y, W: h.width, H: 1, Color: hudBackground})
	buf.Push(render.Command{Kind: render.CmdText, X: 0, Y: y, Text: line, Color: hudForeground})
}
