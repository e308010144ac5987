package ptrace

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for ptrace and its sub-packages.
// By default ptrace produces no log output. Pass nil to restore the
// silent default.
//
// Log levels used by ptrace:
//   - [slog.LevelDebug]: buffer allocations, uploads, dispatch grids
//   - [slog.LevelInfo]: enable/disable, device selection
//   - [slog.LevelWarn]: skipped frames, release failures
//   - [slog.LevelError]: frames that failed and were not presented
//
// Example:
//
//	ptrace.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	tracersMu.Lock()
	for t := range tracers {
		t.propagateLogger(l)
	}
	tracersMu.Unlock()
}

// Logger returns the current logger used by ptrace.
// Sub-packages (gpu/, backend/native/) call this to share the same
// configuration without introducing import cycles.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by components that keep their own logger,
// such as gpucore.BufferSync.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(v any, l *slog.Logger) {
	if ls, ok := v.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
