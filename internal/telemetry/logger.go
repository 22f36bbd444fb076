// Package telemetry provides the toolkit's shared structured logger: one
// *zap.Logger, lazily constructed on first use and reused everywhere a
// decode/parse/resolve/validate pass wants to log without threading a
// logger argument through every call.
package telemetry

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	logger *zap.Logger
)

// Logger returns the process-wide logger, building it on first call.
func Logger() *zap.Logger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.TimeKey = ""
		built, err := cfg.Build()
		if err != nil {
			logger = zap.NewNop()
			return
		}
		logger = built
	})
	return logger
}

// SetLogger overrides the process-wide logger, for tests and for embedders
// that want to route toolkit logs into their own sink.
func SetLogger(l *zap.Logger) {
	once.Do(func() {})
	logger = l
}

// Sync flushes any buffered log entries. Call it before process exit.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
