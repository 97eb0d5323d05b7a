package backend

import (
	"errors"
	"image"
	"image/color"
	"slices"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/compositor/layers"
	"github.com/gogpu/compositor/render"
)

// mockWindow implements gpucontext.WindowProvider for testing.
type mockWindow struct {
	w, h    int
	redraws int
}

func (m *mockWindow) Size() (int, int)     { return m.w, m.h }
func (m *mockWindow) ScaleFactor() float64 { return 1 }
func (m *mockWindow) RequestRedraw()       { m.redraws++ }

// mockDevice implements gpucontext.DeviceProvider for testing.
type mockDevice struct {
	format gputypes.TextureFormat
	kind   gpucontext.AdapterType
}

func (m *mockDevice) Device() gpucontext.Device             { return nil }
func (m *mockDevice) Queue() gpucontext.Queue               { return nil }
func (m *mockDevice) Adapter() gpucontext.Adapter           { return nil }
func (m *mockDevice) SurfaceFormat() gputypes.TextureFormat { return m.format }
func (m *mockDevice) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "mock", Type: m.kind}
}

func newInitialized(t *testing.T, w, h int) (*Software, *mockWindow) {
	t.Helper()
	win := &mockWindow{w: w, h: h}
	b := NewSoftware()
	if err := b.Init(win, nil); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return b, win
}

func TestSoftwareName(t *testing.T) {
	b := NewSoftware()
	if b.Name() != "software" {
		t.Errorf("Name() = %q, want %q", b.Name(), "software")
	}
}

func TestSoftwareInit(t *testing.T) {
	b := NewSoftware()
	if err := b.Init(nil, nil); !errors.Is(err, ErrNoWindow) {
		t.Errorf("Init(nil) error = %v, want %v", err, ErrNoWindow)
	}

	dev := &mockDevice{format: gputypes.TextureFormatBGRA8Unorm, kind: gpucontext.AdapterTypeSoftware}
	if err := b.Init(&mockWindow{w: 10, h: 10}, dev); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if b.Surface() == nil {
		t.Fatal("Surface() = nil after Init")
	}
	if b.Surface().Format() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("surface format = %v, want device surface format", b.Surface().Format())
	}
}

func TestSoftwareCompositeBeforeInit(t *testing.T) {
	b := NewSoftware()
	if err := b.Composite(&Frame{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Composite() error = %v, want %v", err, ErrNotInitialized)
	}
}

func TestSoftwareComposite(t *testing.T) {
	b, win := newInitialized(t, 8, 8)

	frame := &Frame{Layers: []FrameLayer{
		{Tree: 1, Root: &layers.ColorLayer{Rect: image.Rect(0, 0, 8, 8), Color: color.RGBA{255, 0, 0, 255}}},
		{Tree: 2, Root: &layers.ColorLayer{Rect: image.Rect(0, 0, 8, 8), Color: color.RGBA{0, 0, 255, 255}}, Clip: image.Rect(0, 0, 4, 8)},
	}}
	if err := b.Composite(frame); err != nil {
		t.Fatalf("Composite() error = %v", err)
	}

	img := b.Surface().Image()
	if got := img.RGBAAt(1, 1); got != (color.RGBA{0, 0, 255, 255}) {
		t.Errorf("pixel(1,1) = %v, want blue", got)
	}
	if got := img.RGBAAt(6, 1); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("pixel(6,1) = %v, want red", got)
	}
	if win.redraws != 1 {
		t.Errorf("RequestRedraw() called %d times, want 1", win.redraws)
	}
	// 64 + 32 pixels drawn on a 64 pixel surface.
	if got := b.FillRatio(); got != 150 {
		t.Errorf("FillRatio() = %v, want 150", got)
	}
}

func TestSoftwareCompositeToTarget(t *testing.T) {
	b, win := newInitialized(t, 4, 4)
	target := render.NewPixmapTarget(4, 4)

	frame := &Frame{
		Layers:      []FrameLayer{{Tree: 1, Root: &layers.ColorLayer{Rect: image.Rect(0, 0, 4, 4), Color: color.White}}},
		Target:      target,
		ClearRegion: []image.Rectangle{image.Rect(0, 0, 1, 1)},
	}
	if err := b.Composite(frame); err != nil {
		t.Fatalf("Composite() error = %v", err)
	}
	if got := target.Image().RGBAAt(2, 2); got.A != 255 {
		t.Errorf("target pixel(2,2) = %v, want white", got)
	}
	if got := target.Image().RGBAAt(0, 0); got.A != 0 {
		t.Errorf("target pixel(0,0) = %v, want cleared", got)
	}
	if win.redraws != 0 || b.Frames() != 0 {
		t.Error("offscreen composite was presented")
	}
}

func TestSoftwarePauseResume(t *testing.T) {
	b, win := newInitialized(t, 4, 4)

	b.Pause()
	if err := b.Composite(&Frame{}); !errors.Is(err, ErrSurfaceLost) {
		t.Errorf("Composite() while paused error = %v, want %v", err, ErrSurfaceLost)
	}

	win.w, win.h = 0, 0
	if b.Resume() {
		t.Error("Resume() = true with empty window")
	}

	win.w, win.h = 6, 3
	if !b.Resume() {
		t.Fatal("Resume() = false with sized window")
	}
	if b.Surface().Width() != 6 || b.Surface().Height() != 3 {
		t.Errorf("surface size = (%d, %d), want (6, 3)", b.Surface().Width(), b.Surface().Height())
	}

	b.SetSurfaceSize(10, 12)
	if b.Surface().Width() != 10 || b.Surface().Height() != 12 {
		t.Errorf("surface size after override = (%d, %d), want (10, 12)", b.Surface().Width(), b.Surface().Height())
	}
}

func TestSoftwareClearCachedResources(t *testing.T) {
	b, _ := newInitialized(t, 4, 4)
	frame := &Frame{Layers: []FrameLayer{{Tree: 7, Root: &layers.ColorLayer{Rect: image.Rect(0, 0, 4, 4), Color: color.White}}}}
	if err := b.Composite(frame); err != nil {
		t.Fatalf("Composite() error = %v", err)
	}

	b.ClearCachedResources(7)
	if _, ok := b.Surface().Plane(7); ok {
		t.Error("plane of tree 7 survived ClearCachedResources")
	}
}

func TestRegistry(t *testing.T) {
	if !IsRegistered(NameSoftware) {
		t.Fatal("software backend not registered")
	}
	if !slices.Contains(Available(), NameSoftware) {
		t.Errorf("Available() = %v, want it to contain %q", Available(), NameSoftware)
	}
	if b := Get("missing"); b != nil {
		t.Errorf("Get(missing) = %v, want nil", b)
	}
	if b := Select(&mockDevice{kind: gpucontext.AdapterTypeSoftware}); b == nil || b.Name() != NameSoftware {
		t.Errorf("Select(software adapter) = %v, want software", b)
	}
}

func TestOpen(t *testing.T) {
	if _, err := Open("missing", &mockWindow{w: 1, h: 1}, nil); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(missing) error = %v, want %v", err, ErrBackendNotAvailable)
	}
	if _, err := Open("", nil, nil); !errors.Is(err, ErrNoWindow) {
		t.Errorf("Open() without window error = %v, want %v", err, ErrNoWindow)
	}

	b, err := Open("", gpucontext.NullWindowProvider{W: 2, H: 2}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if b.Name() != NameSoftware {
		t.Errorf("Open() picked %q, want software", b.Name())
	}
}
