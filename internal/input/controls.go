package input

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/l1jgo/framecore/internal/core/event"
	"github.com/l1jgo/framecore/internal/frame"
)

var operator = []SessionState{StateOperator}

// RegisterControls installs the frame-control commands: help, pause, resume,
// speed, stats and quit. Control changes are announced on bus.
func RegisterControls(reg *Registry, bus *event.Bus) {
	reg.Register("help", "- list commands", []SessionState{StateGuest, StateOperator},
		func(_ *frame.SimContext, _ event.ConsoleCommand) (string, error) {
			return strings.Join(reg.Usage(StateOperator), "\n"), nil
		})

	reg.Register("pause", "- suspend updates and rendering", operator,
		func(ctx *frame.SimContext, _ event.ConsoleCommand) (string, error) {
			if !ctx.Paused() {
				ctx.Pause()
				event.Emit(bus, event.PauseToggled{Paused: true})
			}
			return "paused", nil
		})

	reg.Register("resume", "- resume after pause", operator,
		func(ctx *frame.SimContext, _ event.ConsoleCommand) (string, error) {
			if ctx.Paused() {
				ctx.Resume()
				event.Emit(bus, event.PauseToggled{Paused: false})
			}
			return "running", nil
		})

	reg.Register("speed", "<factor> - scale simulation time", operator,
		func(ctx *frame.SimContext, cmd event.ConsoleCommand) (string, error) {
			if len(cmd.Args) == 0 {
				return fmt.Sprintf("speed %.2f", ctx.Speed()), nil
			}
			v, err := strconv.ParseFloat(cmd.Args[0], 64)
			if err != nil || v <= 0 {
				return "", fmt.Errorf("invalid speed %q", cmd.Args[0])
			}
			setSpeed(ctx, bus, v)
			return fmt.Sprintf("speed %.2f", v), nil
		})

	reg.Register("stats", "- frame counters", operator,
		func(ctx *frame.SimContext, _ event.ConsoleCommand) (string, error) {
			return FormatStats(ctx), nil
		})

	reg.Register("quit", "- stop the frame loop", operator,
		func(ctx *frame.SimContext, cmd event.ConsoleCommand) (string, error) {
			ctx.Quit()
			event.Emit(bus, event.QuitRequested{Reason: fmt.Sprintf("console session %d", cmd.SessionID)})
			return "bye", nil
		})
}

// FormatStats renders the scheduler counters as one line.
func FormatStats(ctx *frame.SimContext) string {
	c := ctx.Counters()
	return fmt.Sprintf("frame=%d tick=%d total=%.2fs speed=%.2f paused=%t frames=%d ticks=%d rendered=%d dropped=%d stale=%d tasks=%d failures=%d timers=%d",
		ctx.FrameID, ctx.TickID, ctx.TotalElapsed, ctx.Speed(), ctx.Paused(),
		c.Frames, c.Ticks, c.Rendered, c.Dropped, c.Stale, c.MainTasks, c.Failures, c.Timers)
}

func setSpeed(ctx *frame.SimContext, bus *event.Bus, v float64) {
	ctx.SetSpeed(v)
	event.Emit(bus, event.SpeedChanged{Speed: ctx.Speed()})
}

// HandleKey applies the terminal key bindings: p toggles pause, +/- change
// speed, q, Esc and Ctrl-C quit. It reports whether the key was bound.
func HandleKey(ctx *frame.SimContext, bus *event.Bus, k event.KeyPressed) bool {
	key := tcell.Key(k.Key)
	switch {
	case key == tcell.KeyEscape || key == tcell.KeyCtrlC:
		ctx.Quit()
		event.Emit(bus, event.QuitRequested{Reason: "key"})
	case key != tcell.KeyRune:
		return false
	case k.Rune == 'q':
		ctx.Quit()
		event.Emit(bus, event.QuitRequested{Reason: "key"})
	case k.Rune == 'p':
		if ctx.Paused() {
			ctx.Resume()
		} else {
			ctx.Pause()
		}
		event.Emit(bus, event.PauseToggled{Paused: ctx.Paused()})
	case k.Rune == '+':
		setSpeed(ctx, bus, ctx.Speed()*2)
	case k.Rune == '-':
		setSpeed(ctx, bus, ctx.Speed()/2)
	default:
		return false
	}
	return true
}
