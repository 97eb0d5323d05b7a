package backend

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/compositor/layers"
	"github.com/gogpu/compositor/render"
)

// NameSoftware is the name of the CPU compositing backend.
const NameSoftware = "software"

// Software composites on the CPU into a render.LayeredTarget with one plane
// per layer tree.
type Software struct {
	window gpucontext.WindowProvider
	format gputypes.TextureFormat

	surface *render.LayeredTarget // nil while paused

	// Size override; zero uses the window size.
	width  int
	height int

	initialized bool
	background  color.Color
	fillRatio   float64
	frames      uint64

	logger atomic.Pointer[slog.Logger]
}

// init registers the software backend on package import.
func init() {
	Register(NameSoftware, func() Backend {
		return NewSoftware()
	})
}

// NewSoftware creates a software backend with a transparent background.
func NewSoftware() *Software {
	b := &Software{background: color.Transparent}
	b.SetLogger(nil)
	return b
}

// SetLogger sets the logger used for diagnostics. Nil disables logging.
func (b *Software) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	b.logger.Store(l)
}

// SetBackground sets the color under all planes.
func (b *Software) SetBackground(c color.Color) {
	b.background = c
}

// Name returns the backend identifier.
func (b *Software) Name() string {
	return NameSoftware
}

// Init binds the backend to window and acquires the surface.
func (b *Software) Init(window gpucontext.WindowProvider, device gpucontext.DeviceProvider) error {
	if window == nil {
		return ErrNoWindow
	}
	b.window = window
	b.format = gputypes.TextureFormatRGBA8Unorm
	if device != nil {
		if f := device.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
			b.format = f
		}
		info := device.AdapterInfo()
		b.logger.Load().Info("backend: software compositing", "adapter", info.Name, "type", info.Type.String())
	}
	b.initialized = true
	if !b.Resume() {
		b.logger.Load().Warn("backend: window has no surface yet")
	}
	return nil
}

// size returns the surface size to use.
func (b *Software) size() (int, int) {
	w, h := b.window.Size()
	if b.width > 0 && b.height > 0 {
		w, h = b.width, b.height
	}
	return w, h
}

// Composite draws every frame layer into its plane and blends the planes.
func (b *Software) Composite(frame *Frame) error {
	if !b.initialized {
		return ErrNotInitialized
	}
	if b.surface == nil {
		return ErrSurfaceLost
	}

	bounds := b.surface.Image().Bounds()
	seen := make(map[layers.ID]bool, len(frame.Layers))
	var drawn int
	for z, fl := range frame.Layers {
		seen[fl.Tree] = true
		plane := b.surface.EnsurePlane(fl.Tree, z)
		b.surface.SetPlaneVisible(fl.Tree, true)
		plane.Clear(color.Transparent)
		if fl.Root == nil {
			continue
		}
		clip := bounds
		if !fl.Clip.Empty() {
			clip = clip.Intersect(fl.Clip)
		}
		fl.Root.Draw(plane.Image(), clip)
		drawn += area(fl.Root.Bounds().Intersect(clip))
	}
	// Planes of trees missing from this frame keep their cache but are
	// not shown.
	for _, id := range b.surface.Planes() {
		if !seen[id] {
			b.surface.SetPlaneVisible(id, false)
		}
	}

	if total := area(bounds); total > 0 {
		b.fillRatio = 100 * float64(drawn) / float64(total)
	}

	if frame.Target != nil {
		dst := frame.Target.Image()
		b.surface.CompositeInto(dst, b.background)
		clearRegion(dst, frame.ClearRegion)
		return nil
	}

	b.surface.Composite(b.background)
	clearRegion(b.surface.Image(), frame.ClearRegion)
	b.frames++
	b.window.RequestRedraw()
	return nil
}

// Pause releases the surface.
func (b *Software) Pause() {
	b.surface = nil
}

// Resume reacquires the surface at the current size. It fails while the
// window reports an empty size.
func (b *Software) Resume() bool {
	if !b.initialized {
		return false
	}
	w, h := b.size()
	if w <= 0 || h <= 0 {
		return false
	}
	if b.surface == nil || b.surface.Width() != w || b.surface.Height() != h {
		b.surface = render.NewLayeredTarget(w, h, b.format)
	}
	return true
}

// SetSurfaceSize overrides the window size.
func (b *Software) SetSurfaceSize(width, height int) {
	b.width, b.height = width, height
	if b.surface == nil || b.window == nil {
		return
	}
	if w, h := b.size(); w > 0 && h > 0 && (w != b.surface.Width() || h != b.surface.Height()) {
		b.surface.Resize(w, h)
	}
}

// FillRatio returns the overfill of the last frame in percent.
func (b *Software) FillRatio() float64 {
	return b.fillRatio
}

// ClearCachedResources drops the plane of tree.
func (b *Software) ClearCachedResources(tree layers.ID) {
	if b.surface == nil {
		return
	}
	if err := b.surface.RemovePlane(tree); err == nil {
		b.logger.Load().Debug("backend: dropped plane", "tree", tree)
	}
}

// Destroy releases the surface.
func (b *Software) Destroy() {
	b.surface = nil
	b.initialized = false
}

// Surface returns the presentation surface, or nil while paused.
func (b *Software) Surface() *render.LayeredTarget {
	return b.surface
}

// Frames returns the number of frames presented.
func (b *Software) Frames() uint64 {
	return b.frames
}

func area(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy()
}

func clearRegion(dst *image.RGBA, region []image.Rectangle) {
	if len(region) > 0 {
		render.NewPixmapTargetFromImage(dst).ClearRegion(region)
	}
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Ensure Software implements Backend.
var _ Backend = (*Software)(nil)
