// Package log wraps go.uber.org/zap in the single global logger the rest
// of the tree pulls from, so segment code, protocol handlers, and CLI
// commands all emit the same structured format. There is exactly one
// process-wide logger (see Init), matching Design Notes §9's
// direction to fold global mutable state into a value passed at process
// entry.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	global *zap.SugaredLogger
)

// Init builds the global logger at the given level ("debug", "info",
// "warn", "error"). Safe to call once at process entry; later calls
// replace the logger (used by tests).
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		// Fallback: no-op logger plus one line on stderr; never fail process
		// start over logging.
		logger = zap.NewNop()
		os.Stderr.WriteString("log: falling back to no-op logger: " + err.Error() + "\n")
	}
	global = logger.Sugar()
}

func logger() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = zap.NewNop().Sugar()
	}
	return global
}

func Debugw(msg string, kv ...any) { logger().Debugw(msg, kv...) }
func Infow(msg string, kv ...any)  { logger().Infow(msg, kv...) }
func Warnw(msg string, kv ...any)  { logger().Warnw(msg, kv...) }

// Errorw logs at error level. Critical (segment-failing) conditions use
// this with a "critical": true field per spec §7.
func Errorw(msg string, kv ...any) { logger().Errorw(msg, kv...) }

// Sync flushes buffered log entries; call before process exit.
func Sync() { _ = logger().Sync() }
