package scripting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/l1jgo/framecore/internal/frame"
	"github.com/l1jgo/framecore/internal/render"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// maxFetchBody caps how much of a response fetch hands to the script.
const maxFetchBody = 4 << 20

const defaultColor = 0xFFFFFF

func (e *Engine) installBuiltins() {
	L := e.vm

	draw := L.NewTable()
	L.SetFuncs(draw, map[string]lua.LGFunction{
		"clear":  e.drawClear,
		"rect":   e.drawRect,
		"text":   e.drawText,
		"glyph":  e.drawGlyph,
		"sprite": e.drawSprite,
	})
	L.SetGlobal("draw", draw)

	for name, fn := range map[string]lua.LGFunction{
		"fetch":         e.luaFetch,
		"load_asset":    e.luaLoadAsset,
		"asset_data":    e.luaAssetData,
		"set_timeout":   e.luaSetTimeout,
		"clear_timeout": e.luaClearTimeout,
		"quit":          e.luaQuit,
		"pause":         e.luaPause,
		"resume":        e.luaResume,
		"set_speed":     e.luaSetSpeed,
		"frame_info":    e.luaFrameInfo,
		"log":           e.luaLog,
	} {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

// sim returns the current context or raises a Lua error when a builtin is
// used outside a hook (e.g. at script load time).
func (e *Engine) sim(L *lua.LState, builtin string) *frame.SimContext {
	if e.ctx == nil {
		L.RaiseError("%s is only available inside hooks and callbacks", builtin)
	}
	return e.ctx
}

// ── draw.* ──

func (e *Engine) buffer(L *lua.LState, builtin string) *render.Buffer {
	ctx := e.sim(L, builtin)
	if ctx.Phase() != frame.PhaseRender {
		L.RaiseError("%s called outside render() (phase=%s)", builtin, ctx.Phase())
	}
	return ctx.Draw()
}

func optColor(L *lua.LState, n int) render.Color {
	return render.Color(uint32(L.OptInt(n, defaultColor)))
}

func (e *Engine) drawClear(L *lua.LState) int {
	e.buffer(L, "draw.clear").Push(render.Command{
		Kind:  render.CmdClear,
		Color: render.Color(uint32(L.OptInt(1, 0))),
	})
	return 0
}

func (e *Engine) drawRect(L *lua.LState) int {
	e.buffer(L, "draw.rect").Push(render.Command{
		Kind:  render.CmdRect,
		X:     L.CheckInt(1),
		Y:     L.CheckInt(2),
		W:     L.CheckInt(3),
		H:     L.CheckInt(4),
		Color: optColor(L, 5),
	})
	return 0
}

func (e *Engine) drawText(L *lua.LState) int {
	e.buffer(L, "draw.text").Push(render.Command{
		Kind:  render.CmdText,
		X:     L.CheckInt(1),
		Y:     L.CheckInt(2),
		Text:  L.CheckString(3),
		Color: optColor(L, 4),
	})
	return 0
}

func (e *Engine) drawGlyph(L *lua.LState) int {
	s := L.CheckString(3)
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || (r == utf8.RuneError && size == 1) {
		L.ArgError(3, "glyph must be a non-empty UTF-8 string")
	}
	e.buffer(L, "draw.glyph").Push(render.Command{
		Kind:  render.CmdGlyph,
		X:     L.CheckInt(1),
		Y:     L.CheckInt(2),
		Glyph: r,
		Color: optColor(L, 4),
	})
	return 0
}

func (e *Engine) drawSprite(L *lua.LState) int {
	e.buffer(L, "draw.sprite").Push(render.Command{
		Kind:  render.CmdSprite,
		Text:  L.CheckString(1),
		X:     L.CheckInt(2),
		Y:     L.CheckInt(3),
		Color: optColor(L, 4),
	})
	return 0
}

// ── async ──

// luaFetch implements fetch(url, callback). The request runs on a worker;
// callback(ok, body_or_error) runs on the scheduler goroutine in a later
// frame. Returns true when the request was queued.
func (e *Engine) luaFetch(L *lua.LState) int {
	url := L.CheckString(1)
	cb := L.CheckFunction(2)
	if e.handle == nil {
		L.RaiseError("fetch unavailable: no frame handle")
	}

	client, timeout := e.client, e.fetchTimeout
	err := e.handle.PushWork(func(w *frame.WorkContext) {
		bctx, cancel := w.Bounded()
		body, err := httpGet(bctx, client, url, timeout)
		cancel()
		if err != nil {
			w.Log.Debug("fetch failed", zap.String("url", url), zap.Error(err))
		}
		pushErr := w.Handle.PushMain(func(ctx *frame.SimContext) {
			if err != nil {
				e.callback(ctx, "fetch", cb, lua.LFalse, lua.LString(err.Error()))
				return
			}
			e.callback(ctx, "fetch", cb, lua.LTrue, lua.LString(body))
		})
		if pushErr != nil {
			w.Log.Warn("fetch result dropped", zap.String("url", url), zap.Error(pushErr))
		}
	})
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func httpGet(ctx context.Context, client *http.Client, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return body, nil
}

// luaLoadAsset implements load_asset(name [, callback]). callback(ok, err)
// runs once the asset is ready or failed.
func (e *Engine) luaLoadAsset(L *lua.LState) int {
	name := L.CheckString(1)
	cb := L.OptFunction(2, nil)
	ctx := e.sim(L, "load_asset")
	if e.assets == nil {
		L.RaiseError("load_asset unavailable: no asset manifest")
	}
	e.assets.Load(ctx, name, func(c *frame.SimContext, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			e.callback(c, "load_asset", cb, lua.LFalse, lua.LString(err.Error()))
			return
		}
		e.callback(c, "load_asset", cb, lua.LTrue, lua.LNil)
	})
	return 0
}

// luaAssetData implements asset_data(name): the contents of a loaded data
// asset, or nil while it is not ready.
func (e *Engine) luaAssetData(L *lua.LState) int {
	name := L.CheckString(1)
	e.sim(L, "asset_data")
	if e.assets == nil {
		L.RaiseError("asset_data unavailable: no asset manifest")
	}
	data, ok := e.assets.Data(name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(data))
	return 1
}

// luaSetTimeout implements set_timeout(delay_ms, fn [, interval_ms]). fn is
// re-armed while it returns true and an interval was given.
func (e *Engine) luaSetTimeout(L *lua.LState) int {
	delay := time.Duration(L.CheckNumber(1) * lua.LNumber(time.Millisecond))
	fn := L.CheckFunction(2)
	interval := time.Duration(L.OptNumber(3, 0) * lua.LNumber(time.Millisecond))
	ctx := e.sim(L, "set_timeout")

	id := ctx.SetTimeout(delay, interval, func(c *frame.SimContext) bool {
		v, err := e.invoke(c, fn, 1)
		if err != nil {
			e.fail("set_timeout callback", err)
			return false
		}
		return lua.LVAsBool(v)
	})
	L.Push(lua.LNumber(id))
	return 1
}

func (e *Engine) luaClearTimeout(L *lua.LState) int {
	id := frame.TimerID(L.CheckInt64(1))
	L.Push(lua.LBool(e.sim(L, "clear_timeout").ClearTimeout(id)))
	return 1
}

// ── control ──

func (e *Engine) luaQuit(L *lua.LState) int {
	e.sim(L, "quit").Quit()
	return 0
}

func (e *Engine) luaPause(L *lua.LState) int {
	e.sim(L, "pause").Pause()
	return 0
}

func (e *Engine) luaResume(L *lua.LState) int {
	e.sim(L, "resume").Resume()
	return 0
}

func (e *Engine) luaSetSpeed(L *lua.LState) int {
	speed := float64(L.CheckNumber(1))
	if speed <= 0 {
		L.ArgError(1, "speed must be positive")
	}
	e.sim(L, "set_speed").SetSpeed(speed)
	return 0
}

func (e *Engine) luaFrameInfo(L *lua.LState) int {
	ctx := e.sim(L, "frame_info")
	t := L.NewTable()
	t.RawSetString("frame_id", lua.LNumber(ctx.FrameID))
	t.RawSetString("tick_id", lua.LNumber(ctx.TickID))
	t.RawSetString("ticks", lua.LNumber(ctx.FrameTicks))
	t.RawSetString("elapsed", lua.LNumber(ctx.Elapsed))
	t.RawSetString("total", lua.LNumber(ctx.TotalElapsed))
	t.RawSetString("fixed_dt", lua.LNumber(ctx.FixedDT))
	t.RawSetString("speed", lua.LNumber(ctx.Speed()))
	t.RawSetString("paused", lua.LBool(ctx.Paused()))
	L.Push(t)
	return 1
}

func (e *Engine) luaLog(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	e.log.Info("lua: " + fmt.Sprint(parts...))
	return 0
}

// callback runs a Lua continuation on the scheduler goroutine.
func (e *Engine) callback(ctx *frame.SimContext, name string, fn *lua.LFunction, args ...lua.LValue) {
	e.guard.Check()
	if _, err := e.invoke(ctx, fn, 0, args...); err != nil {
		e.fail(name+" callback", err)
	}
}
