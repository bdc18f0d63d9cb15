// Package logger builds zap loggers from OpenPose-style verbosity levels and
// holds the process-wide logger used by the CLI and server.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Silent disables logging entirely.
const Silent = 255

var (
	logMu sync.RWMutex
	log   *zap.Logger
)

// Level maps a verbosity integer to a zap level: 0-1 debug, 2 info, 3 warn,
// 4-254 error. ok is false for Silent.
func Level(verbosity int) (level zapcore.Level, ok bool, err error) {
	switch {
	case verbosity < 0 || verbosity > Silent:
		return 0, false, fmt.Errorf("log level %d outside [0, %d]", verbosity, Silent)
	case verbosity == Silent:
		return 0, false, nil
	case verbosity <= 1:
		return zapcore.DebugLevel, true, nil
	case verbosity == 2:
		return zapcore.InfoLevel, true, nil
	case verbosity == 3:
		return zapcore.WarnLevel, true, nil
	default:
		return zapcore.ErrorLevel, true, nil
	}
}

// New returns a console logger for the verbosity level, or a no-op logger
// for Silent.
func New(verbosity int) (*zap.Logger, error) {
	level, ok, err := Level(verbosity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return zap.NewNop(), nil
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = level > zapcore.DebugLevel
	return cfg.Build()
}

// NewProduction returns a JSON logger at the verbosity level, for the server.
func NewProduction(verbosity int) (*zap.Logger, error) {
	level, ok, err := Level(verbosity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Set replaces the process-wide logger and zap's globals.
func Set(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
}

// Log returns the process-wide logger (never nil).
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	return zap.L()
}

// Sync flushes the process-wide logger.
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
