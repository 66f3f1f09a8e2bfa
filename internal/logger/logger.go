// Package logger provides the process-wide structured logger.
//
// partitup has no per-request or per-goroutine logging context: a single
// zap.SugaredLogger is built once at startup and shared, matching the
// process-wide logging global the teacher codebase uses throughout
// (shell.go, imageconvert.go, rawmaker.go all call logger.Logger()).
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once  sync.Once
	log   *zap.SugaredLogger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// SetDebug switches the shared logger between info and debug level. Unlike
// a build-time config choice, this works no matter when it is called
// relative to the logger's first use: many packages hold a package-level
// "var log = logger.Logger()", which runs during Go's init phase, well
// before main() has parsed "-d/--debug" — an atomic level lets SetDebug
// still take effect on every logger already handed out.
func SetDebug(enabled bool) {
	if enabled {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Logger returns the shared logger, building it on first use.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.Encoding = "console"
		cfg.EncoderConfig.TimeKey = ""
		cfg.EncoderConfig.CallerKey = ""
		l, err := cfg.Build()
		if err != nil {
			// Logging setup failing is unrecoverable; fall back to a no-op
			// logger rather than crash before argv has even been parsed.
			l = zap.NewNop()
		}
		log = l.Sugar()
	})
	return log
}
