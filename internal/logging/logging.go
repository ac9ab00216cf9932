// Package logging wires up the structured logger shared by the master
// and reader binaries: zap for structured output, lumberjack for
// rolling the log file on disk.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"kvmesh/internal/config"
)

// New builds a zap.Logger from a [logging] config section. An empty
// File falls back to stderr; otherwise output is split between the
// rolling file and stderr.
func New(cfg config.LoggingSection) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
	if cfg.File != "" {
		rolling := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		}
		core = zapcore.NewTee(core, zapcore.NewCore(encoder, zapcore.AddSync(rolling), level))
	}

	return zap.New(core, zap.AddCaller()), nil
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging: invalid level %q: %w", s, err)
	}
	return lvl, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
