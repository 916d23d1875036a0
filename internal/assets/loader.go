package assets

import (
	"fmt"
	"os"

	"github.com/l1jgo/framecore/internal/frame"
	"github.com/l1jgo/framecore/internal/render"
	"go.uber.org/zap"
)

// State of a cached asset.
type State int

const (
	StateUnknown State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Callback receives the outcome of a load on the scheduler goroutine.
type Callback func(ctx *frame.SimContext, err error)

type record struct {
	state   State
	err     error
	data    []byte // KindData only
	waiters []Callback
}

// Loader owns the asset cache. Every method belongs to the scheduler
// goroutine; the I/O happens on workers and the render goroutine.
type Loader struct {
	handle   *frame.Handle
	manifest *Manifest
	cache    map[string]*record
	log      *zap.Logger
}

func NewLoader(h *frame.Handle, m *Manifest, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{handle: h, manifest: m, cache: make(map[string]*record), log: log}
}

// Load starts loading name, or joins a load in progress. done may be nil.
// If the asset is already settled, done runs immediately.
func (l *Loader) Load(ctx *frame.SimContext, name string, done Callback) {
	rec, ok := l.cache[name]
	if ok {
		switch rec.state {
		case StateReady, StateFailed:
			if done != nil {
				done(ctx, rec.err)
			}
		default:
			if done != nil {
				rec.waiters = append(rec.waiters, done)
			}
		}
		return
	}

	rec = &record{state: StateLoading}
	if done != nil {
		rec.waiters = append(rec.waiters, done)
	}
	l.cache[name] = rec

	entry, ok := l.manifest.Lookup(name)
	if !ok {
		l.settle(ctx, name, nil, fmt.Errorf("asset %q not in manifest", name))
		return
	}
	path := l.manifest.Resolve(entry)
	err := l.handle.PushWork(func(w *frame.WorkContext) {
		data, err := os.ReadFile(path)
		if err == nil {
			err = Verify(data, entry.Checksum)
		}
		if err != nil {
			l.finish(w.Log, name, nil, err)
			return
		}
		if entry.Kind != KindSprite {
			l.finish(w.Log, name, data, nil)
			return
		}
		pushErr := w.Handle.PushRender(func(rc *render.Context) {
			l.finish(rc.Log, name, nil, rc.Device.Upload(name, data))
		})
		if pushErr != nil {
			l.finish(w.Log, name, nil, pushErr)
		}
	})
	if err != nil {
		l.settle(ctx, name, nil, err)
	}
}

// LoadAll loads every manifest entry; done runs once with the first error.
func (l *Loader) LoadAll(ctx *frame.SimContext, done Callback) {
	remaining := len(l.manifest.Assets)
	if remaining == 0 {
		if done != nil {
			done(ctx, nil)
		}
		return
	}
	var first error
	for _, e := range l.manifest.Assets {
		l.Load(ctx, e.Name, func(c *frame.SimContext, err error) {
			if err != nil && first == nil {
				first = err
			}
			remaining--
			if remaining == 0 && done != nil {
				done(c, first)
			}
		})
	}
}

// State returns the state of name.
func (l *Loader) State(name string) State {
	if rec, ok := l.cache[name]; ok {
		return rec.state
	}
	return StateUnknown
}

// Data returns the bytes of a ready KindData asset.
func (l *Loader) Data(name string) ([]byte, bool) {
	rec, ok := l.cache[name]
	if !ok || rec.state != StateReady || rec.data == nil {
		return nil, false
	}
	return rec.data, true
}

// finish runs off the scheduler goroutine and carries the result back.
func (l *Loader) finish(log *zap.Logger, name string, data []byte, err error) {
	pushErr := l.handle.PushMain(func(ctx *frame.SimContext) {
		l.settle(ctx, name, data, err)
	})
	if pushErr != nil {
		log.Warn("asset result dropped", zap.String("asset", name), zap.Error(pushErr))
	}
}

func (l *Loader) settle(ctx *frame.SimContext, name string, data []byte, err error) {
	rec := l.cache[name]
	if err != nil {
		rec.state = StateFailed
		rec.err = err
		l.log.Warn("資源載入失敗", zap.String("asset", name), zap.Error(err))
	} else {
		rec.state = StateReady
		rec.data = data
		l.log.Debug("asset ready", zap.String("asset", name))
	}
	waiters := rec.waiters
	rec.waiters = nil
	for _, w := range waiters {
		w(ctx, err)
	}
}
