package engine

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// loggerPtr holds the active logger. SetLogger may run concurrently with
// calls that log.
var loggerPtr atomic.Pointer[zap.Logger]

func init() {
	loggerPtr.Store(zap.NewNop())
}

// Logger returns the engine's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	return loggerPtr.Load()
}

// SetLogger replaces the engine's logger. Passing nil restores the no-op
// logger. Engines created earlier pick up the new logger on their next log
// line.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerPtr.Store(l)
}

// debugf is a no-op debug helper. Enable by setting debug = true.
var debug = false

func debugf(format string, args ...any) {
	if debug {
		Logger().Sugar().Debugf(format, args...)
	}
}
