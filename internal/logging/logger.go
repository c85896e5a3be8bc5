// Package logging wraps zap behind a handle threaded through constructors
// instead of a package-level global.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the application-wide structured logger handle. Components
// receive one (or a child scoped with With) via constructor injection.
type Logger struct {
	*zap.SugaredLogger
}

// New builds a Logger at the given level ("debug", "info", "warn", "error").
// Production defaults to JSON output; anything else uses console encoding,
// mirroring the corpus's dev/prod split.
func New(level string, production bool) (*Logger, error) {
	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zl.Sugar()}, nil
}

// WithCorrelation returns a child logger tagged with a per-attempt
// correlation ID and component name.
func (l *Logger) WithCorrelation(correlationID, component string) *Logger {
	return &Logger{SugaredLogger: l.With("correlationId", correlationID, "component", component)}
}

// Sync flushes any buffered log entries; callers defer this from main.
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}

// Noop returns a Logger that discards everything, useful for tests that
// don't want to assert on log output.
func Noop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}
