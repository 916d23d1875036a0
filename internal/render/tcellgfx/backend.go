// Package tcellgfx rasterizes draw commands into a terminal screen.
//
// The tcell screen plays the graphics context: it is initialized, drawn and
// shown only on the render goroutine. Input events are read by a separate
// goroutine and handed out over a channel for the scheduler's event poll.
package tcellgfx

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/l1jgo/framecore/internal/core/crash"
	"github.com/l1jgo/framecore/internal/render"
	"go.uber.org/zap"
)

// Backend implements render.Backend on a tcell.Screen.
type Backend struct {
	screen  tcell.Screen
	events  chan<- tcell.Event
	sprites map[string][]string
	log     *zap.Logger
}

// New wraps screen. Events, if not nil, receives input events once Init ran;
// sends never block, so a full channel drops events.
func New(screen tcell.Screen, events chan<- tcell.Event, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		screen:  screen,
		events:  events,
		sprites: make(map[string][]string),
		log:     log,
	}
}

// NewTerminal creates a backend for the controlling terminal.
func NewTerminal(events chan<- tcell.Event, log *zap.Logger) (*Backend, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("tcell screen: %w", err)
	}
	return New(screen, events, log), nil
}

func (b *Backend) Init() error {
	if err := b.screen.Init(); err != nil {
		return fmt.Errorf("tcell init: %w", err)
	}
	b.screen.HideCursor()
	b.screen.Clear()
	if b.events != nil {
		crash.Go(b.pollEvents)
	}
	return nil
}

// pollEvents ends when Fini makes PollEvent return nil.
func (b *Backend) pollEvents() {
	for {
		ev := b.screen.PollEvent()
		if ev == nil {
			return
		}
		select {
		case b.events <- ev:
		default:
			b.log.Debug("input event dropped")
		}
	}
}

func (b *Backend) Submit(_ render.FrameInfo, cmds []render.Command) error {
	w, h := b.screen.Size()
	for i := range cmds {
		c := &cmds[i]
		switch c.Kind {
		case render.CmdClear:
			b.screen.Fill(' ', tcell.StyleDefault.Background(toColor(c.Color)))
		case render.CmdRect:
			style := tcell.StyleDefault.Background(toColor(c.Color))
			for y := max(c.Y, 0); y < min(c.Y+c.H, h); y++ {
				for x := max(c.X, 0); x < min(c.X+c.W, w); x++ {
					b.screen.SetContent(x, y, ' ', nil, style)
				}
			}
		case render.CmdText:
			b.putString(c.X, c.Y, c.Text, fg(c.Color))
		case render.CmdGlyph:
			b.screen.SetContent(c.X, c.Y, c.Glyph, nil, fg(c.Color))
		case render.CmdSprite:
			lines, ok := b.sprites[c.Text]
			if !ok {
				continue
			}
			for dy, line := range lines {
				b.putString(c.X, c.Y+dy, line, fg(c.Color))
			}
		}
	}
	return nil
}

func (b *Backend) Present() error {
	b.screen.Show()
	return nil
}

// Upload stores text art that CmdSprite commands draw by name.
func (b *Backend) Upload(name string, data []byte) error {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	b.sprites[name] = strings.Split(strings.TrimRight(text, "\n"), "\n")
	return nil
}

func (b *Backend) Close() error {
	b.screen.Fini()
	return nil
}

func (b *Backend) putString(x, y int, s string, style tcell.Style) {
	for _, r := range s {
		b.screen.SetContent(x, y, r, nil, style)
		x++
	}
}

func fg(c render.Color) tcell.Style {
	return tcell.StyleDefault.Foreground(toColor(c))
}

func toColor(c render.Color) tcell.Color {
	r, g, bl := c.RGB()
	return tcell.NewRGBColor(int32(r), int32(g), int32(bl))
}
