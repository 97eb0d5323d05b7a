package compositor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

// sinks are live components that keep their own logger: the compositor
// thread, schedulers and backends.
var (
	sinksMu sync.Mutex
	sinks   = make(map[loggerSetter]struct{})
)

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for the compositor and all its
// sub-packages. By default nothing is logged.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log levels used:
//   - [slog.LevelDebug]: per-frame diagnostics (skipped composites, clamped
//     vsync timestamps, deferred plugin updates)
//   - [slog.LevelInfo]: lifecycle (core created or stopped, bridge
//     connected or disconnected, backend selected)
//   - [slog.LevelWarn]: degradation (resume failed, backend errors,
//     evicted trees)
//
// Example:
//
//	compositor.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	sinksMu.Lock()
	targets := make([]loggerSetter, 0, len(sinks))
	for s := range sinks {
		targets = append(targets, s)
	}
	sinksMu.Unlock()
	for _, s := range targets {
		s.SetLogger(l)
	}
}

// Logger returns the current logger.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by components that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger hands the current logger to v if it accepts one and keeps
// it updated until forgetLogger is called.
func propagateLogger(v any) {
	ls, ok := v.(loggerSetter)
	if !ok {
		return
	}
	ls.SetLogger(Logger())
	sinksMu.Lock()
	sinks[ls] = struct{}{}
	sinksMu.Unlock()
}

// forgetLogger stops propagating logger changes to v.
func forgetLogger(v any) {
	ls, ok := v.(loggerSetter)
	if !ok {
		return
	}
	sinksMu.Lock()
	delete(sinks, ls)
	sinksMu.Unlock()
}
