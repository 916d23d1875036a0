package input

import (
	"fmt"
	"sort"

	"github.com/l1jgo/framecore/internal/core/event"
	"github.com/l1jgo/framecore/internal/frame"
	"go.uber.org/zap"
)

// SessionState is the access level of a command source.
type SessionState int

const (
	StateGuest    SessionState = iota // connected, not authenticated
	StateOperator                     // local terminal or authenticated console
)

func (s SessionState) String() string {
	switch s {
	case StateGuest:
		return "Guest"
	case StateOperator:
		return "Operator"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// HandlerFunc runs a command on the scheduler goroutine and returns the reply.
type HandlerFunc func(ctx *frame.SimContext, cmd event.ConsoleCommand) (string, error)

type handlerEntry struct {
	fn            HandlerFunc
	usage         string
	allowedStates map[SessionState]bool
}

// Registry maps command names to handlers with state-based access control.
type Registry struct {
	handlers map[string]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string]*handlerEntry),
		log:      log,
	}
}

// Register maps a command name to a handler, restricted to the given states.
func (reg *Registry) Register(name, usage string, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[name] = &handlerEntry{
		fn:            fn,
		usage:         usage,
		allowedStates: allowed,
	}
}

// Usage lists "name usage" lines for the commands allowed in state.
func (reg *Registry) Usage(state SessionState) []string {
	lines := make([]string, 0, len(reg.handlers))
	for name, e := range reg.handlers {
		if e.allowedStates[state] {
			lines = append(lines, name+" "+e.usage)
		}
	}
	sort.Strings(lines)
	return lines
}

// Dispatch validates the state and runs the handler for cmd.Name.
func (reg *Registry) Dispatch(ctx *frame.SimContext, state SessionState, cmd event.ConsoleCommand) (string, error) {
	reg.log.Debug("收到指令",
		zap.String("name", cmd.Name),
		zap.Int("args", len(cmd.Args)),
		zap.String("state", state.String()),
	)

	entry, ok := reg.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("unknown command %q (try help)", cmd.Name)
	}
	if !entry.allowedStates[state] {
		reg.log.Warn("指令在此狀態下不允許",
			zap.String("name", cmd.Name),
			zap.String("state", state.String()),
		)
		return "", fmt.Errorf("command %s not allowed in state %s", cmd.Name, state)
	}
	return reg.safeCall(entry.fn, ctx, cmd)
}

// safeCall runs a handler with panic recovery so a bad command cannot take
// down the frame loop.
func (reg *Registry) safeCall(fn HandlerFunc, ctx *frame.SimContext, cmd event.ConsoleCommand) (reply string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("指令處理 panic 已恢復",
				zap.String("name", cmd.Name),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("command %s panicked: %v", cmd.Name, rec)
		}
	}()
	return fn(ctx, cmd)
}
