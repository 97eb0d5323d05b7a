package compositor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/gpucontext"
	"golang.org/x/sync/errgroup"
)

func TestNopHandlerDiscards(t *testing.T) {
	h := nopHandler{}
	ctx := context.Background()
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(ctx, level) {
			t.Errorf("Enabled(%v) = true", level)
		}
	}
	if err := h.Handle(ctx, slog.Record{}); err != nil {
		t.Errorf("Handle() = %v", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("tree", "1")}).(nopHandler); !ok {
		t.Error("WithAttrs() left the nop handler")
	}
	if _, ok := h.WithGroup("core").(nopHandler); !ok {
		t.Error("WithGroup() left the nop handler")
	}
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	if Logger().Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("default logger is enabled")
	}

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)
	if Logger() != custom {
		t.Fatal("Logger() did not return the logger passed to SetLogger")
	}
	Logger().Info("compositor: probe", "tree", 7)
	if !strings.Contains(buf.String(), "tree=7") {
		t.Errorf("output = %q, want tree=7", buf.String())
	}

	SetLogger(nil)
	if l := Logger(); l == nil || l.Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) did not restore a silent logger")
	}
}

type mockSink struct {
	mu     sync.Mutex
	logger *slog.Logger
}

func (m *mockSink) SetLogger(l *slog.Logger) {
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

func (m *mockSink) current() *slog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}

func TestSetLoggerPropagatesToSinks(t *testing.T) {
	orig := Logger()
	sink := &mockSink{}
	propagateLogger(sink)
	t.Cleanup(func() {
		forgetLogger(sink)
		SetLogger(orig)
	})

	if sink.current() != orig {
		t.Error("propagateLogger did not hand over the current logger")
	}

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(custom)

	if sink.current() != custom {
		t.Error("SetLogger did not propagate to a registered sink")
	}
}

func TestForgetLoggerStopsPropagation(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	sink := &mockSink{}
	propagateLogger(sink)
	forgetLogger(sink)

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(custom)

	if sink.current() == custom {
		t.Error("forgotten sink still received the logger")
	}
}

func TestPropagateLoggerIgnoresNonSetters(t *testing.T) {
	propagateLogger(struct{}{})
	forgetLogger(struct{}{})
}

func TestCoreLogsLifecycle(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	SetLogger(slog.New(slog.NewTextHandler(&lockedWriter{mu: &mu, w: &buf}, &slog.HandlerOptions{Level: slog.LevelInfo})))

	h, _ := newTestHost(t)
	c, _, _ := newTestCore(t, h)
	c.Stop()
	<-c.Done()

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	for _, want := range []string{"compositor: core created", "compositor: core destroyed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// TestSetLoggerWhileCompositing swaps loggers while cores are created and
// composite on the loop. Run with -race.
func TestSetLoggerWhileCompositing(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	h, _ := newTestHost(t)
	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			c, err := h.NewCore(gpucontext.NullWindowProvider{W: 8, H: 8, SF: 1})
			if err != nil {
				return err
			}
			c.ScheduleComposition()
			c.Stop()
			<-c.Done()
			return nil
		})
	}
	for range 50 {
		SetLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
		SetLogger(nil)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	settle(h)

	sinksMu.Lock()
	n := len(sinks)
	sinksMu.Unlock()
	if n != 1 {
		t.Errorf("%d logger sinks after cores were destroyed, want 1 (the loop)", n)
	}
}
