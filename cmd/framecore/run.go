package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"
	"github.com/l1jgo/framecore/internal/assets"
	"github.com/l1jgo/framecore/internal/config"
	"github.com/l1jgo/framecore/internal/core/crash"
	"github.com/l1jgo/framecore/internal/core/event"
	"github.com/l1jgo/framecore/internal/core/system"
	"github.com/l1jgo/framecore/internal/frame"
	"github.com/l1jgo/framecore/internal/input"
	consolenet "github.com/l1jgo/framecore/internal/net"
	"github.com/l1jgo/framecore/internal/persist"
	"github.com/l1jgo/framecore/internal/render"
	"github.com/l1jgo/framecore/internal/render/tcellgfx"
	"github.com/l1jgo/framecore/internal/scripting"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the frame loop",
	Long: `Run the frame loop until the script calls quit(), a quit key or console
command arrives, or SIGINT/SIGTERM is received.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(flagConfig)
	},
}

func run(cfgFlag string) error {
	// 1. Load config
	cfgPath := config.ResolvePath(cfgFlag)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fullscreen := cfg.Render.Backend == "tcell"

	// 2. Init logger
	log, err := newLogger(cfg.Logging, fullscreen)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Render.Backend)

	h := frame.NewHandle(log.Named("frame"))
	h.SetTaskTimeout(cfg.Workers.TaskTimeout)

	// 3. Frame statistics storage
	printSection("資料庫")
	stats, session, closeDB, err := openStats(cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()
	fmt.Println()

	// 4. Scripts and assets
	printSection("腳本與資源")
	var loader *assets.Loader
	var manifest *assets.Manifest
	manifest, err = assets.LoadManifest(cfg.Assets.Manifest)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn("找不到資源清單，停用 load_asset", zap.String("path", cfg.Assets.Manifest))
		manifest = nil
	case err != nil:
		return fmt.Errorf("asset manifest: %w", err)
	default:
		loader = assets.NewLoader(h, manifest, log.Named("assets"))
		printStat("資源清單", fmt.Sprintf("%d", len(manifest.Assets)))
	}

	var assetLoader scripting.AssetLoader
	if loader != nil {
		assetLoader = loader
	}
	engine, err := scripting.NewEngine(scripting.Options{
		Dir:          cfg.Scripting.Dir,
		Main:         cfg.Scripting.Main,
		Handle:       h,
		Assets:       assetLoader,
		FetchTimeout: cfg.Scripting.FetchTimeout,
		Log:          log.Named("lua"),
	})
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer engine.Close()
	printOK(fmt.Sprintf("Lua 腳本載入完成 (%s)", cfg.Scripting.Dir))

	// 5. Remote console
	var hub *consolenet.Hub
	if cfg.Console.Enabled {
		srv, err := consolenet.NewServer(cfg.Console.BindAddress, consolenet.Options{
			InQueueSize:  cfg.Console.InQueueSize,
			OutQueueSize: cfg.Console.OutQueueSize,
			CmdPerSec:    cfg.Console.CommandsPerSecond,
		}, log.Named("console"))
		if err != nil {
			return fmt.Errorf("console server: %w", err)
		}
		go srv.AcceptLoop()
		hub = consolenet.NewHub(srv, cfg.Console.MaxCommandsPerFrame, log.Named("console"))
		defer hub.Close()
		printOK(fmt.Sprintf("遠端控制台監聽 %s", srv.Addr()))
	}
	fmt.Println()

	// 6. Render goroutine
	var terminal chan tcell.Event
	var backend render.Backend
	restore := func() {}
	if fullscreen {
		terminal = make(chan tcell.Event, 64)
		b, err := tcellgfx.NewTerminal(terminal, log.Named("tcell"))
		if err != nil {
			return err
		}
		backend = b
		restore = func() { _ = b.Close() }
	} else {
		backend = render.NewHeadless()
	}
	// Panics on the render and input goroutines restore the terminal and exit.
	crash.SetHandler(func(r any) { handleCrash(r, restore) })
	defer crash.SetHandler(nil)
	th := render.NewThread(backend, h.RenderQueue(), render.Options{
		WaitTimeout: cfg.Render.WaitTimeout,
		Report:      h.Report,
		Log:         log.Named("render"),
	})

	// 7. Input, systems and scheduler
	bus := event.NewBus()
	reg := input.NewRegistry(log.Named("input"))
	input.RegisterControls(reg, bus)
	poller := input.NewPoller(bus, reg, input.Options{
		Terminal:     terminal,
		Console:      hub,
		PasswordHash: cfg.Console.PasswordHash,
		Log:          log.Named("input"),
	})
	status := newHUD(bus)

	runner := system.NewRunner()
	runner.Register(system.Func{P: system.PhaseInput, Fn: poller.Poll})
	runner.Register(system.Func{P: system.PhaseUpdate, Fn: engine.FixedUpdate})
	runner.Register(status.system())

	policy, err := frame.ParsePanicPolicy(cfg.Scheduler.PanicPolicy)
	if err != nil {
		return err
	}
	sched := frame.NewScheduler(h, th, frame.Callbacks{
		Begin: func(ctx *frame.SimContext) {
			engine.Begin(ctx)
			if loader != nil {
				loader.LoadAll(ctx, func(_ *frame.SimContext, err error) {
					if err != nil {
						log.Warn("資源載入失敗", zap.Error(err))
						return
					}
					log.Info("資源載入完成", zap.Int("count", len(manifest.Assets)))
				})
			}
		},
		PollEvents:  runner.PollInput,
		FixedUpdate: runner.Tick,
		Update: func(ctx *frame.SimContext) {
			engine.Update(ctx)
			status.update(ctx)
		},
		Render: func(ctx *frame.SimContext) {
			engine.Render(ctx)
			status.render(ctx)
		},
		End: engine.End,
	}, frame.Options{
		FixedRate:        cfg.Scheduler.FixedRate,
		MaxTicksPerFrame: cfg.Scheduler.MaxTicksPerFrame,
		Speed:            cfg.Scheduler.Speed,
		MinFrameTime:     cfg.Scheduler.MinFrameTime,
		HandoffTimeout:   cfg.Scheduler.HandoffTimeout,
		PanicPolicy:      policy,
		Stats:            stats,
		StatsSession:     session,
		StatsInterval:    cfg.Scheduler.StatsInterval,
		Log:              log.Named("scheduler"),
	})
	event.Subscribe(bus, func(k event.KeyPressed) {
		engine.KeyPressed(sched.Context(), k)
	})

	printSection("幀迴圈就緒")
	printStat("系統", fmt.Sprintf("%d", runner.Len()))
	printReady(fmt.Sprintf("固定步長 %.0f Hz，每幀最多 %d 次", cfg.Scheduler.FixedRate, cfg.Scheduler.MaxTicksPerFrame))
	fmt.Println()

	if err := th.Start(); err != nil {
		return fmt.Errorf("render thread: %w", err)
	}
	defer func() { handleCrash(recover(), th.Stop) }()

	pool := frame.NewWorkerPool(h, cfg.Workers.WorkerCount, log.Named("worker"))
	pool.Start(context.Background())

	// 8. Signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	stopSignals := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			h.RequestShutdown()
		case <-stopSignals:
		}
	}()

	// 9. Run until shutdown, then tear down in order: workers flush the last
	// stats batch, the render goroutine releases the terminal, queues close.
	runErr := sched.Run(context.Background())
	close(stopSignals)
	if hub != nil {
		hub.Broadcast("framecore stopping")
		hub.Flush()
	}
	pool.Shutdown()
	th.Stop()
	h.Close()

	c := sched.Counters()
	printSection("幀迴圈結束")
	printStat("幀數", fmt.Sprintf("%d", c.Frames))
	printStat("固定步數", fmt.Sprintf("%d", c.Ticks))
	printStat("已繪製", fmt.Sprintf("%d", c.Rendered))
	printStat("丟棄", fmt.Sprintf("%d", c.Dropped+c.Stale))
	printStat("任務失敗", fmt.Sprintf("%d", c.Failures))
	if session != "" {
		printReady("framecore report --session " + session)
	}
	log.Info("framecore 已停止", zap.Uint64("workers_ran", pool.Ran()))
	return runErr
}

// openStats connects the configured database and starts a stats session.
// With no driver configured it returns a nil sink.
func openStats(cfg *config.Config, log *zap.Logger) (frame.StatsSink, string, func(), error) {
	noop := func() {}
	if cfg.Database.Driver == "" {
		printOK("未設定資料庫，停用幀統計")
		return nil, "", noop, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.Open(ctx, cfg.Database, log.Named("persist"))
	if err != nil {
		return nil, "", noop, fmt.Errorf("database: %w", err)
	}
	printOK(fmt.Sprintf("%s 連線成功", db.Dialect))

	if err := persist.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, "", noop, fmt.Errorf("migrations: %w", err)
	}
	printOK("資料庫遷移完成")

	repo := persist.NewStatsRepo(db)
	session := uuid.NewString()
	if err := repo.StartSession(ctx, session, cfg.Scheduler.FixedRate, time.Now()); err != nil {
		db.Close()
		return nil, "", noop, err
	}
	printStat("統計工作階段", session)
	return repo, session, db.Close, nil
}
