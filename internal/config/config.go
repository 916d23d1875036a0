package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "FRAMECORE_CONFIG"

// DefaultPath is used when neither a flag nor EnvPath is given.
const DefaultPath = "config/framecore.toml"

type Config struct {
	Scheduler SchedulerConfig `toml:"scheduler"`
	Workers   WorkersConfig   `toml:"workers"`
	Render    RenderConfig    `toml:"render"`
	Scripting ScriptingConfig `toml:"scripting"`
	Assets    AssetsConfig    `toml:"assets"`
	Console   ConsoleConfig   `toml:"console"`
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`

	StartTime int64 `toml:"-"` // set at boot, not from config
}

type SchedulerConfig struct {
	FixedRate        float64       `toml:"fixed_rate"`          // fixed ticks per second
	MaxTicksPerFrame int           `toml:"max_ticks_per_frame"` // catch-up cap
	Speed            float64       `toml:"speed"`
	MinFrameTime     time.Duration `toml:"min_frame_time"` // 0 = pace on the tick rate
	HandoffTimeout   time.Duration `toml:"handoff_timeout"`
	PanicPolicy      string        `toml:"panic_policy"`   // "isolate" or "fatal"
	StatsInterval    int           `toml:"stats_interval"` // frames per persisted batch
}

type WorkersConfig struct {
	WorkerCount int           `toml:"worker_count"` // 0 = max(2, NumCPU-2)
	TaskTimeout time.Duration `toml:"task_timeout"`
}

type RenderConfig struct {
	WaitTimeout time.Duration `toml:"wait_timeout"`
	Backend     string        `toml:"backend"` // "tcell" or "headless"
}

type ScriptingConfig struct {
	Dir          string        `toml:"dir"`
	Main         string        `toml:"main"`
	FetchTimeout time.Duration `toml:"fetch_timeout"`
}

type AssetsConfig struct {
	Manifest string `toml:"manifest"`
}

type ConsoleConfig struct {
	Enabled             bool   `toml:"enabled"`
	BindAddress         string `toml:"bind_address"`
	MaxCommandsPerFrame int    `toml:"max_commands_per_frame"`
	CommandsPerSecond   int    `toml:"commands_per_second"`
	InQueueSize         int    `toml:"in_queue_size"`
	OutQueueSize        int    `toml:"out_queue_size"`
	PasswordHash        string `toml:"password_hash"` // bcrypt; empty = no auth
}

type DatabaseConfig struct {
	Driver          string        `toml:"driver"` // "sqlite", "postgres" or "" (disabled)
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
	File   string `toml:"file"`   // optional; needed with the tcell backend
}

// ResolvePath picks the config path: flag, then EnvPath, then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path over the defaults. A missing file at DefaultPath is not an
// error; an explicitly named missing file is.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.StartTime = time.Now().Unix()
	return cfg, nil
}

// Validate rejects settings the frame loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.FixedRate <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.fixed_rate must be positive, got %v", c.Scheduler.FixedRate))
	}
	if c.Scheduler.MaxTicksPerFrame <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_ticks_per_frame must be positive, got %d", c.Scheduler.MaxTicksPerFrame))
	}
	if c.Scheduler.Speed <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.speed must be positive, got %v", c.Scheduler.Speed))
	}
	if c.Scheduler.MinFrameTime < 0 {
		errs = append(errs, errors.New("scheduler.min_frame_time must not be negative"))
	}
	switch c.Scheduler.PanicPolicy {
	case "isolate", "fatal":
	default:
		errs = append(errs, fmt.Errorf("scheduler.panic_policy must be isolate or fatal, got %q", c.Scheduler.PanicPolicy))
	}
	if c.Workers.WorkerCount < 0 {
		errs = append(errs, fmt.Errorf("workers.worker_count must not be negative, got %d", c.Workers.WorkerCount))
	}
	switch c.Render.Backend {
	case "tcell", "headless":
	default:
		errs = append(errs, fmt.Errorf("render.backend must be tcell or headless, got %q", c.Render.Backend))
	}
	if c.Console.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.Console.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("console.password_hash: %w", err))
		}
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite, postgres or empty, got %q", c.Database.Driver))
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required when a driver is set"))
	}
	return errors.Join(errs...)
}

func defaults() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			FixedRate:        60,
			MaxTicksPerFrame: 5,
			Speed:            1.0,
			HandoffTimeout:   100 * time.Millisecond,
			PanicPolicy:      "isolate",
			StatsInterval:    300,
		},
		Workers: WorkersConfig{
			TaskTimeout: 30 * time.Second,
		},
		Render: RenderConfig{
			WaitTimeout: 100 * time.Millisecond,
			Backend:     "tcell",
		},
		Scripting: ScriptingConfig{
			Dir:          "scripts",
			Main:         "main.lua",
			FetchTimeout: 10 * time.Second,
		},
		Assets: AssetsConfig{
			Manifest: "assets/manifest.yaml",
		},
		Console: ConsoleConfig{
			BindAddress:         "127.0.0.1:7070",
			MaxCommandsPerFrame: 32,
			CommandsPerSecond:   20,
			InQueueSize:         16,
			OutQueueSize:        64,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
