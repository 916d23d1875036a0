package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/l1jgo/framecore/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// defaultTUILog receives log output while the terminal backend owns the
// screen and no logging.file is configured.
const defaultTUILog = "logs/framecore.log"

func newLogger(cfg config.LoggingConfig, fullscreen bool) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	file := cfg.File
	if file == "" && fullscreen {
		file = defaultTUILog
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if file != "" {
			zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
		zapCfg.OutputPaths = []string{file}
		zapCfg.ErrorOutputPaths = []string{file}
	}

	return zapCfg.Build()
}
