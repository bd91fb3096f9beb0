// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables a rotating JSON log file next to stdout. An empty Path
// disables it. Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
	defaultMaxAgeDays = 14
)

// New builds a zap.Logger configured for development or production.
func New(development bool, file FileConfig) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err = cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
	} else {
		cfg := zap.NewProductionConfig()
		cfg.DisableStacktrace = false
		cfg.EncoderConfig.TimeKey = "ts"
		logger, err = cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build prod logger: %w", err)
		}
	}
	if file.Path == "" {
		return logger, nil
	}
	fileCore := newFileCore(file, development)
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})), nil
}

func newFileCore(file FileConfig, development bool) zapcore.Core {
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    valOr(file.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: valOr(file.MaxBackups, defaultMaxBackups),
		MaxAge:     valOr(file.MaxAgeDays, defaultMaxAgeDays),
		Compress:   file.Compress,
	})
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	level := zap.InfoLevel
	if development {
		level = zap.DebugLevel
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, level)
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
