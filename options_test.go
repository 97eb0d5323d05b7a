package compositor

import (
	"testing"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/compositor/backend"
	"github.com/gogpu/compositor/vsync"
)

// TestDefaultOptions tests the host defaults.
func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.unobserveThreshold != vsync.DefaultUnobserveThreshold {
		t.Errorf("unobserveThreshold = %d, want %d", o.unobserveThreshold, vsync.DefaultUnobserveThreshold)
	}
	if o.hiddenTreeLimit != DefaultHiddenTreeLimit {
		t.Errorf("hiddenTreeLimit = %d, want %d", o.hiddenTreeLimit, DefaultHiddenTreeLimit)
	}
	if _, ok := o.clock.(vsync.SystemClock); !ok {
		t.Errorf("clock = %T, want vsync.SystemClock", o.clock)
	}
	if o.asap || o.pluginWindows || o.orientationDelay != 0 {
		t.Errorf("unexpected defaults: %+v", o)
	}
}

// TestHostOptions tests that each option reaches the options struct.
func TestHostOptions(t *testing.T) {
	clock := newFakeClock()
	o := defaultOptions()
	for _, opt := range []Option{
		WithUnobserveThreshold(3),
		WithAsapMode(true),
		WithOrientationSyncDelay(time.Second),
		WithHiddenTreeLimit(2),
		WithClock(clock),
		WithPluginWindows(true),
	} {
		opt(&o)
	}

	if o.unobserveThreshold != 3 || !o.asap || o.orientationDelay != time.Second ||
		o.hiddenTreeLimit != 2 || o.clock != clock || !o.pluginWindows {
		t.Errorf("options not applied: %+v", o)
	}
}

// TestHostOptionsIgnoreInvalid tests that invalid values keep the defaults.
func TestHostOptionsIgnoreInvalid(t *testing.T) {
	o := defaultOptions()
	WithUnobserveThreshold(0)(&o)
	WithUnobserveThreshold(-1)(&o)
	WithClock(nil)(&o)

	if o.unobserveThreshold != vsync.DefaultUnobserveThreshold {
		t.Errorf("unobserveThreshold = %d, want default", o.unobserveThreshold)
	}
	if o.clock == nil {
		t.Error("WithClock(nil) cleared the clock")
	}
}

// TestNewCoreWithBackend tests dependency injection of a custom backend.
func TestNewCoreWithBackend(t *testing.T) {
	h, _ := newTestHost(t)
	c, be, _ := newTestCore(t, h, WithSurfaceSize(32, 24))

	if c.BackendName() != "fake" {
		t.Errorf("BackendName() = %q, want fake", c.BackendName())
	}
	be.mu.Lock()
	defer be.mu.Unlock()
	if be.surfaceSize.X != 32 || be.surfaceSize.Y != 24 {
		t.Errorf("surface size = %v, want 32x24", be.surfaceSize)
	}
}

// TestNewCoreDefaultBackend tests that NewCore opens the software backend
// without a GPU device.
func TestNewCoreDefaultBackend(t *testing.T) {
	h, _ := newTestHost(t)
	c, err := h.NewCore(gpucontext.NullWindowProvider{W: 4, H: 4, SF: 1})
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	if c.BackendName() != backend.NameSoftware {
		t.Errorf("BackendName() = %q, want %q", c.BackendName(), backend.NameSoftware)
	}
}

// TestNewCoreUnknownBackend tests that a failing backend leaves no core
// behind.
func TestNewCoreUnknownBackend(t *testing.T) {
	h, _ := newTestHost(t)
	if _, err := h.NewCore(gpucontext.NullWindowProvider{W: 4, H: 4, SF: 1}, WithBackendName("no-such-backend")); err == nil {
		t.Fatal("NewCore() with unknown backend succeeded")
	}
	if n := len(h.Compositors()); n != 0 {
		t.Errorf("Compositors() = %d after failed NewCore, want 0", n)
	}
	if n := h.Registry().Len(); n != 0 {
		t.Errorf("registry holds %d trees after failed NewCore", n)
	}
}
