package backend

import (
	"errors"
	"image"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/compositor/layers"
	"github.com/gogpu/compositor/render"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")

	// ErrSurfaceLost is returned by Composite while the backend is paused or
	// its surface could not be acquired.
	ErrSurfaceLost = errors.New("backend: surface lost")

	// ErrNoWindow is returned by Init without a window.
	ErrNoWindow = errors.New("backend: no window")
)

// Backend draws composited frames for one native window.
//
// All methods except Name are called on the compositor thread only.
type Backend interface {
	// Name returns the backend identifier (e.g., "software").
	Name() string

	// Init binds the backend to a window. Device may be nil when the host
	// has no GPU device to share.
	Init(window gpucontext.WindowProvider, device gpucontext.DeviceProvider) error

	// Composite draws frame. A frame without Target is presented to the
	// window surface.
	Composite(frame *Frame) error

	// Pause releases the window surface.
	Pause()

	// Resume reacquires the window surface. It returns false if the surface
	// is not available yet; the backend then stays paused.
	Resume() bool

	// SetSurfaceSize overrides the window size. Zero values restore it.
	SetSurfaceSize(width, height int)

	// FillRatio returns the pixels drawn by the last frame as a percentage
	// of the surface area.
	FillRatio() float64

	// ClearCachedResources drops everything cached for tree.
	ClearCachedResources(tree layers.ID)

	// Destroy releases all resources. The backend is unusable afterwards.
	Destroy()
}

// FrameLayer is the content of one layer tree in a frame.
type FrameLayer struct {
	Tree layers.ID
	Root layers.Layer

	// Clip bounds the tree. Empty means the whole surface.
	Clip image.Rectangle
}

// Frame is one composite request.
type Frame struct {
	// Timestamp is the vsync or request time the frame is composed for.
	Timestamp time.Time

	// Layers are drawn bottom to top.
	Layers []FrameLayer

	// Target receives the frame instead of the window surface when set.
	Target render.Target

	// ClearRegion is left transparent in the output.
	ClearRegion []image.Rectangle

	// Damage is the area invalidated since the previous frame. It is a
	// hint; backends may redraw more.
	Damage []image.Rectangle
}
