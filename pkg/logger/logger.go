// Package logger holds the process-wide zap logger used as the default sink.
// Components take a *zap.Logger explicitly; this package only builds it.
package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger = zap.NewNop()
	mu           sync.Mutex
)

// Options selects log level and encoding.
type Options struct {
	Level  string // debug, info, warn, error (default info)
	Format string // json or console (default json)
}

// New builds a zap logger writing to the given output paths.
// Paths are zap sinks: file paths, "stdout" or "stderr".
func New(opts Options, outputs ...string) (*zap.Logger, error) {
	var zapCfg zap.Config
	if strings.EqualFold(opts.Format, "console") {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zapCfg.Sampling = nil

	switch strings.ToLower(opts.Level) {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if len(outputs) > 0 {
		zapCfg.OutputPaths = outputs
		zapCfg.ErrorOutputPaths = outputs
	}

	return zapCfg.Build()
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string, opts Options) error {
	l, err := New(opts, logPath)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	Set(l)
	return nil
}

// Set replaces the global logger. The previous logger is flushed.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()

	_ = globalLogger.Sync()
	if l == nil {
		l = zap.NewNop()
	}
	globalLogger = l
}

// L returns the global logger. It is a no-op logger until Init or Set.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// Named returns a child of the global logger.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Close flushes the global logger and resets it to a no-op logger.
func Close() {
	Set(nil)
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	L().Sugar().Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	L().Sugar().Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	L().Sugar().Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	L().Sugar().Warnf(format, v...)
}
