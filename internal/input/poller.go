// Package input turns terminal events and remote console lines into bus
// events during the scheduler's event poll, and applies the frame controls
// they ask for.
package input

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/l1jgo/framecore/internal/core/event"
	"github.com/l1jgo/framecore/internal/frame"
	consolenet "github.com/l1jgo/framecore/internal/net"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Options configures a Poller. Every source is optional.
type Options struct {
	Terminal     <-chan tcell.Event
	Console      *consolenet.Hub
	PasswordHash string // bcrypt; console sessions start as guests when set
	Log          *zap.Logger
}

// Poller is the PollEvents callback. Each call drains the sources into the
// bus, swaps it and dispatches, so handlers see this frame's input and
// whatever the previous frame emitted.
type Poller struct {
	bus      *event.Bus
	reg      *Registry
	terminal <-chan tcell.Event
	hub      *consolenet.Hub
	hash     []byte
	states   map[uint64]SessionState
	log      *zap.Logger

	ctx *frame.SimContext // set during Poll
}

// NewPoller subscribes the poller's own handlers to bus.
func NewPoller(bus *event.Bus, reg *Registry, opts Options) *Poller {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	p := &Poller{
		bus:      bus,
		reg:      reg,
		terminal: opts.Terminal,
		hub:      opts.Console,
		states:   make(map[uint64]SessionState),
		log:      opts.Log,
	}
	if opts.PasswordHash != "" {
		p.hash = []byte(opts.PasswordHash)
	}
	event.Subscribe(bus, p.onKey)
	event.Subscribe(bus, p.onCommand)
	return p
}

// Poll runs one event poll. Scheduler goroutine only.
func (p *Poller) Poll(ctx *frame.SimContext) {
	p.ctx = ctx
	defer func() { p.ctx = nil }()

	p.drainTerminal()
	if p.hub != nil {
		p.hub.Poll(p.onLine)
		p.prune()
	}

	p.bus.SwapBuffers()
	p.bus.DispatchAll()

	if p.hub != nil {
		p.hub.Flush()
	}
}

func (p *Poller) drainTerminal() {
	for {
		select {
		case ev, ok := <-p.terminal:
			if !ok {
				p.terminal = nil
				return
			}
			p.translate(ev)
		default:
			return
		}
	}
}

func (p *Poller) translate(ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		event.Emit(p.bus, event.KeyPressed{
			Key:  int16(ev.Key()),
			Rune: ev.Rune(),
			Mod:  int16(ev.Modifiers()),
			At:   ev.When(),
		})
	case *tcell.EventResize:
		w, h := ev.Size()
		event.Emit(p.bus, event.Resized{Width: w, Height: h})
	}
}

func (p *Poller) onLine(sess *consolenet.Session, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	if _, ok := p.states[sess.ID]; !ok {
		p.states[sess.ID] = p.initialState()
	}
	event.Emit(p.bus, event.ConsoleCommand{
		SessionID: sess.ID,
		Name:      strings.ToLower(fields[0]),
		Args:      fields[1:],
		Reply:     sess.Send,
	})
}

func (p *Poller) initialState() SessionState {
	if p.hash != nil {
		return StateGuest
	}
	return StateOperator
}

// prune forgets sessions the hub has reaped.
func (p *Poller) prune() {
	for id := range p.states {
		if !p.hub.Has(id) {
			delete(p.states, id)
		}
	}
}

func (p *Poller) onKey(k event.KeyPressed) {
	if p.ctx != nil {
		HandleKey(p.ctx, p.bus, k)
	}
}

func (p *Poller) onCommand(cmd event.ConsoleCommand) {
	if p.ctx == nil {
		return
	}
	state, ok := p.states[cmd.SessionID]
	if !ok {
		state = p.initialState()
	}

	var reply string
	if cmd.Name == "auth" {
		reply = p.auth(cmd)
	} else {
		r, err := p.reg.Dispatch(p.ctx, state, cmd)
		if err != nil {
			r = "error: " + err.Error()
		}
		reply = r
	}
	if cmd.Reply != nil && reply != "" {
		cmd.Reply(reply)
	}
}

func (p *Poller) auth(cmd event.ConsoleCommand) string {
	if p.hash == nil {
		return "ok"
	}
	if len(cmd.Args) != 1 {
		return "usage: auth <password>"
	}
	if err := bcrypt.CompareHashAndPassword(p.hash, []byte(cmd.Args[0])); err != nil {
		p.log.Warn("控制台驗證失敗", zap.Uint64("session", cmd.SessionID))
		return "denied"
	}
	p.states[cmd.SessionID] = StateOperator
	p.log.Info("控制台驗證成功", zap.Uint64("session", cmd.SessionID))
	return "ok"
}
