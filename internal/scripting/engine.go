package scripting

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/l1jgo/framecore/internal/assets"
	"github.com/l1jgo/framecore/internal/core/affinity"
	"github.com/l1jgo/framecore/internal/core/event"
	"github.com/l1jgo/framecore/internal/frame"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// AssetLoader is the part of assets.Loader the engine uses.
type AssetLoader interface {
	Load(ctx *frame.SimContext, name string, done assets.Callback)
	Data(name string) ([]byte, bool)
}

// Options configures an Engine.
type Options struct {
	Dir          string // script directory; lib/ is loaded first, then Main
	Main         string
	Handle       *frame.Handle
	Assets       AssetLoader // nil disables load_asset and asset_data
	HTTPClient   *http.Client
	FetchTimeout time.Duration
	Log          *zap.Logger
}

// Engine wraps a single gopher-lua VM holding the script state.
// It belongs to the scheduler goroutine: every entry point checks that.
type Engine struct {
	vm           *lua.LState
	guard        *affinity.Guard
	handle       *frame.Handle
	assets       AssetLoader
	client       *http.Client
	fetchTimeout time.Duration
	log          *zap.Logger

	ctx *frame.SimContext // set while a hook or continuation runs

	// hooks resolved after loading; nil when the script does not define them
	onBegin, fixedUpdate, update, render, onEnd, onKey *lua.LFunction
}

// NewEngine creates the VM, installs the builtins and loads the scripts.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Main == "" {
		opts.Main = "main.lua"
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{
		vm:           vm,
		guard:        affinity.New("lua vm"),
		handle:       opts.Handle,
		assets:       opts.Assets,
		client:       opts.HTTPClient,
		fetchTimeout: opts.FetchTimeout,
		log:          opts.Log,
	}
	e.guard.Bind()
	e.installBuiltins()

	if err := e.loadDir(filepath.Join(opts.Dir, "lib")); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load lib scripts: %w", err)
	}
	mainPath := filepath.Join(opts.Dir, opts.Main)
	if err := vm.DoFile(mainPath); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load %s: %w", mainPath, err)
	}
	e.log.Debug("loaded lua script", zap.String("file", mainPath))

	e.onBegin = e.hook("on_begin")
	e.fixedUpdate = e.hook("fixed_update")
	e.update = e.hook("update")
	e.render = e.hook("render")
	e.onEnd = e.hook("on_end")
	e.onKey = e.hook("on_key")
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

func (e *Engine) hook(name string) *lua.LFunction {
	fn, _ := e.vm.GetGlobal(name).(*lua.LFunction)
	return fn
}

// Callbacks returns frame callbacks that run the script hooks. poll, if not
// nil, is used as PollEvents.
func (e *Engine) Callbacks(poll func(*frame.SimContext)) frame.Callbacks {
	return frame.Callbacks{
		Begin:       e.Begin,
		PollEvents:  poll,
		FixedUpdate: e.FixedUpdate,
		Update:      e.Update,
		Render:      e.Render,
		End:         e.End,
	}
}

// Begin calls on_begin().
func (e *Engine) Begin(ctx *frame.SimContext) {
	e.callHook(ctx, "on_begin", e.onBegin)
}

// FixedUpdate calls fixed_update(dt, tick_id).
func (e *Engine) FixedUpdate(ctx *frame.SimContext) {
	e.callHook(ctx, "fixed_update", e.fixedUpdate, lua.LNumber(ctx.FixedDT), lua.LNumber(ctx.TickID))
}

// Update calls update(elapsed).
func (e *Engine) Update(ctx *frame.SimContext) {
	e.callHook(ctx, "update", e.update, lua.LNumber(ctx.Elapsed))
}

// Render calls render(); draw.* builtins record into the frame buffer.
func (e *Engine) Render(ctx *frame.SimContext) {
	e.callHook(ctx, "render", e.render)
}

// End calls on_end().
func (e *Engine) End(ctx *frame.SimContext) {
	e.callHook(ctx, "on_end", e.onEnd)
}

// KeyPressed calls on_key(key, char) for a terminal key event; char is the
// typed character or nil for special keys.
func (e *Engine) KeyPressed(ctx *frame.SimContext, k event.KeyPressed) {
	var char lua.LValue = lua.LNil
	if k.Rune != 0 {
		char = lua.LString(string(k.Rune))
	}
	e.callHook(ctx, "on_key", e.onKey, lua.LNumber(k.Key), char)
}

// Call invokes a global Lua function by name and returns its first result.
func (e *Engine) Call(ctx *frame.SimContext, name string, args ...lua.LValue) (lua.LValue, error) {
	e.guard.Check()
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return lua.LNil, fmt.Errorf("lua function %s not found", name)
	}
	return e.invoke(ctx, fn, 1, args...)
}

func (e *Engine) callHook(ctx *frame.SimContext, name string, fn *lua.LFunction, args ...lua.LValue) {
	if fn == nil {
		return
	}
	e.guard.Check()
	if _, err := e.invoke(ctx, fn, 0, args...); err != nil {
		e.fail(name, err)
	}
}

// invoke runs fn in protected mode with ctx as the current context.
func (e *Engine) invoke(ctx *frame.SimContext, fn lua.LValue, nret int, args ...lua.LValue) (lua.LValue, error) {
	prev := e.ctx
	e.ctx = ctx
	defer func() { e.ctx = prev }()

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...); err != nil {
		return lua.LNil, err
	}
	if nret == 0 {
		return lua.LNil, nil
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return result, nil
}

// fail reports a script error as a task failure so the panic policy
// applies to it.
func (e *Engine) fail(where string, err error) {
	if e.handle == nil {
		e.log.Error("lua error", zap.String("func", where), zap.Error(err))
		return
	}
	e.handle.Report(fmt.Errorf("lua %s: %w", where, err))
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
