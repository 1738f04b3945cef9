package logger

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Package logger is a thin facade over zap used by every service. Call sites
// pass an event name plus a flat field map; output is one JSON line per event.

var (
	mu   sync.RWMutex
	base *zap.Logger
)

func init() {
	base = newDefault()
}

func newDefault() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "event"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stderr), zap.InfoLevel)
	return zap.New(core)
}

// SetLogger replaces the process-wide logger (tests, custom sinks).
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	base = l
	mu.Unlock()
}

// Sync flushes buffered entries. Best effort; stderr sync errors are ignored.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}

func fieldsOf(kv map[string]any) []zap.Field {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, kv[k]))
	}
	return out
}

func InfoJ(event string, kv map[string]any) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Info(event, fieldsOf(kv)...)
}

func ErrorJ(event string, kv map[string]any) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Error(event, fieldsOf(kv)...)
}

func DebugJ(event string, kv map[string]any) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Debug(event, fieldsOf(kv)...)
}
