package input

import (
	stdnet "net"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/l1jgo/framecore/internal/core/event"
	"github.com/l1jgo/framecore/internal/frame"
	consolenet "github.com/l1jgo/framecore/internal/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type rig struct {
	bus    *event.Bus
	reg    *Registry
	poller *Poller
	sched  *frame.Scheduler
	clock  *frame.ManualClock
	handle *frame.Handle
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	h := frame.NewHandle(nil)
	t.Cleanup(h.Close)
	bus := event.NewBus()
	reg := NewRegistry(nil)
	RegisterControls(reg, bus)
	p := NewPoller(bus, reg, opts)
	clock := frame.NewManualClock(time.Unix(0, 0))
	s := frame.NewScheduler(h, nil, frame.Callbacks{PollEvents: p.Poll}, frame.Options{Clock: clock})
	return &rig{bus: bus, reg: reg, poller: p, sched: s, clock: clock, handle: h}
}

func (r *rig) step(t *testing.T) {
	t.Helper()
	r.clock.AdvanceSeconds(0.02)
	require.NoError(t, r.sched.Step())
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("echo", "<text>", []SessionState{StateGuest},
		func(_ *frame.SimContext, cmd event.ConsoleCommand) (string, error) {
			return cmd.Args[0], nil
		})
	reg.Register("boom", "", []SessionState{StateOperator},
		func(*frame.SimContext, event.ConsoleCommand) (string, error) {
			panic("bad handler")
		})

	got, err := reg.Dispatch(nil, StateGuest, event.ConsoleCommand{Name: "echo", Args: []string{"hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	_, err = reg.Dispatch(nil, StateGuest, event.ConsoleCommand{Name: "boom"})
	assert.ErrorContains(t, err, "not allowed")

	_, err = reg.Dispatch(nil, StateOperator, event.ConsoleCommand{Name: "boom"})
	assert.ErrorContains(t, err, "panicked")

	_, err = reg.Dispatch(nil, StateOperator, event.ConsoleCommand{Name: "nope"})
	assert.ErrorContains(t, err, "unknown command")

	assert.Equal(t, []string{"echo <text>"}, reg.Usage(StateGuest))
}

func TestTerminalKeysControlFrames(t *testing.T) {
	keys := make(chan tcell.Event, 8)
	r := newRig(t, Options{Terminal: keys})

	var resized []event.Resized
	event.Subscribe(r.bus, func(ev event.Resized) { resized = append(resized, ev) })
	var toggles []bool
	event.Subscribe(r.bus, func(ev event.PauseToggled) { toggles = append(toggles, ev.Paused) })

	keys <- tcell.NewEventResize(80, 24)
	keys <- tcell.NewEventKey(tcell.KeyRune, 'p', tcell.ModNone)
	r.step(t)
	ctx := r.sched.Context()
	assert.True(t, ctx.Paused())
	assert.Equal(t, []event.Resized{{Width: 80, Height: 24}}, resized)
	assert.Equal(t, uint64(0), r.sched.Counters().Ticks, "paused in the poll, no ticks this frame")

	keys <- tcell.NewEventKey(tcell.KeyRune, '+', tcell.ModNone)
	r.step(t)
	assert.Equal(t, []bool{true}, toggles, "announced one frame later")
	assert.Equal(t, 2.0, ctx.Speed())

	keys <- tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)
	keys <- tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)
	r.step(t)
	assert.True(t, r.handle.ShutdownRequested())
}

func TestCommandsNeedAuthWhenPasswordSet(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	r := newRig(t, Options{PasswordHash: string(hash)})

	var replies []string
	send := func(name string, args ...string) {
		event.Emit(r.bus, event.ConsoleCommand{
			SessionID: 7,
			Name:      name,
			Args:      args,
			Reply:     func(s string) { replies = append(replies, s) },
		})
		r.step(t)
	}

	send("pause")
	assert.False(t, r.sched.Context().Paused())
	send("auth", "wrong")
	send("auth", "secret")
	send("pause")
	assert.True(t, r.sched.Context().Paused())

	require.Len(t, replies, 4)
	assert.Contains(t, replies[0], "not allowed")
	assert.Equal(t, "denied", replies[1])
	assert.Equal(t, "ok", replies[2])
	assert.Equal(t, "paused", replies[3])
}

func TestConsoleSessionDrivesScheduler(t *testing.T) {
	srv, err := consolenet.NewServer("127.0.0.1:0", consolenet.Options{}, nil)
	require.NoError(t, err)
	go srv.AcceptLoop()
	hub := consolenet.NewHub(srv, 8, nil)
	t.Cleanup(hub.Close)

	r := newRig(t, Options{Console: hub})
	conn, err := stdnet.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, consolenet.WriteFrame(conn, []byte("SPEED 0.5")))
	require.NoError(t, consolenet.WriteFrame(conn, []byte("stats")))
	require.NoError(t, consolenet.WriteFrame(conn, []byte("speed fast")))

	ctx := r.sched.Context()
	deadline := time.Now().Add(2 * time.Second)
	for ctx.Speed() != 0.5 && time.Now().Before(deadline) {
		r.step(t)
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, 0.5, ctx.Speed())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var replies []string
	for len(replies) < 3 {
		r.step(t)
		reply, err := consolenet.ReadFrame(conn)
		require.NoError(t, err)
		replies = append(replies, string(reply))
	}
	assert.Equal(t, "speed 0.50", replies[0])
	assert.Contains(t, replies[1], "speed=0.50")
	assert.Contains(t, replies[2], "invalid speed")
	assert.Equal(t, 0.5, ctx.Speed())

	require.NoError(t, consolenet.WriteFrame(conn, []byte("quit")))
	deadline = time.Now().Add(2 * time.Second)
	for !r.handle.ShutdownRequested() && time.Now().Before(deadline) {
		r.step(t)
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, r.handle.ShutdownRequested())
}
