// Package logging wraps zap the way jkilzi-assisted-migration-agent wires it:
// a process-wide *zap.Logger installed with zap.ReplaceGlobals, accessed
// through zap.S().Named(component) sugared loggers.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

// Logger is a thin wrapper around zap.SugaredLogger so call sites in this
// module depend on this package, not directly on zap.
type Logger struct {
	s *zap.SugaredLogger
}

var (
	mu       sync.Mutex
	replaced bool
)

// Init installs a process-wide zap logger. debug selects zap's development
// config (console-friendly, DebugLevel and above); otherwise production JSON
// logging at InfoLevel is used.
func Init(debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	var z *zap.Logger
	var err error
	if debug {
		z, err = zap.NewDevelopment()
	} else {
		z, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(z)
	replaced = true
	return nil
}

// Default returns a Logger over zap's global sugared logger, lazily falling
// back to zap.NewNop if Init was never called (e.g. in unit tests).
func Default() *Logger {
	mu.Lock()
	defer mu.Unlock()
	if !replaced {
		zap.ReplaceGlobals(zap.NewNop())
		replaced = true
	}
	return &Logger{s: zap.S()}
}

// Named returns a child logger scoped to component, mirroring
// zap.S().Named("console_service") in the teacher's console service.
func (l *Logger) Named(component string) *Logger {
	return &Logger{s: l.s.Named(component)}
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{s: l.s.With(args...)}
}

func (l *Logger) Debugw(msg string, keysAndValues ...any) { l.s.Debugw(msg, keysAndValues...) }
func (l *Logger) Infow(msg string, keysAndValues ...any)  { l.s.Infow(msg, keysAndValues...) }
func (l *Logger) Warnw(msg string, keysAndValues ...any)  { l.s.Warnw(msg, keysAndValues...) }
func (l *Logger) Errorw(msg string, keysAndValues ...any) { l.s.Errorw(msg, keysAndValues...) }

func (l *Logger) Debug(args ...any) { l.s.Debug(args...) }
func (l *Logger) Info(args ...any)  { l.s.Info(args...) }
func (l *Logger) Warn(args ...any)  { l.s.Warn(args...) }
func (l *Logger) Error(args ...any) { l.s.Error(args...) }

// Sync flushes buffered log entries; call before process exit.
func (l *Logger) Sync() error { return l.s.Sync() }
