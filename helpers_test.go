package compositor

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/compositor/backend"
	"github.com/gogpu/compositor/layers"
)

// fakeClock is a settable vsync.Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(5000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBackend records what the core asks of it. Resume succeeds unless
// failResume is set, and panics while panicResume is set.
type fakeBackend struct {
	failResume  atomic.Bool
	panicResume atomic.Bool

	mu          sync.Mutex
	frames      []*backend.Frame
	pauses      int
	resumes     int
	cleared     []layers.ID
	surfaceSize image.Point
	destroyed   bool
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Init(gpucontext.WindowProvider, gpucontext.DeviceProvider) error {
	return nil
}

func (b *fakeBackend) Composite(frame *backend.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame)
	if frame.Target != nil {
		for _, fl := range frame.Layers {
			if fl.Root != nil {
				fl.Root.Draw(frame.Target.Image(), frame.Target.Image().Bounds())
			}
		}
	}
	return nil
}

func (b *fakeBackend) Pause() {
	b.mu.Lock()
	b.pauses++
	b.mu.Unlock()
}

func (b *fakeBackend) Resume() bool {
	b.mu.Lock()
	b.resumes++
	b.mu.Unlock()
	if b.panicResume.Load() {
		panic("fake: surface exploded")
	}
	return !b.failResume.Load()
}

func (b *fakeBackend) SetSurfaceSize(width, height int) {
	b.mu.Lock()
	b.surfaceSize = image.Pt(width, height)
	b.mu.Unlock()
}

func (b *fakeBackend) FillRatio() float64 { return 42 }

func (b *fakeBackend) ClearCachedResources(tree layers.ID) {
	b.mu.Lock()
	b.cleared = append(b.cleared, tree)
	b.mu.Unlock()
}

func (b *fakeBackend) Destroy() {
	b.mu.Lock()
	b.destroyed = true
	b.mu.Unlock()
}

func (b *fakeBackend) frameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func (b *fakeBackend) lastFrame() *backend.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil
	}
	return b.frames[len(b.frames)-1]
}

func (b *fakeBackend) clearedTrees() []layers.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]layers.ID(nil), b.cleared...)
}

// recPeer records every message sent to a content process.
type recPeer struct {
	mu          sync.Mutex
	completions []layers.Completion
	remotePaint int
	overfill    []uint32
	hideAll     int
	pluginSets  [][]layers.PluginWindow
	cleared     []layers.ID
}

func (p *recPeer) DidComposite(c layers.Completion) {
	p.mu.Lock()
	p.completions = append(p.completions, c)
	p.mu.Unlock()
}

func (p *recPeer) RemotePaintIsReady() {
	p.mu.Lock()
	p.remotePaint++
	p.mu.Unlock()
}

func (p *recPeer) Overfill(ratio uint32) {
	p.mu.Lock()
	p.overfill = append(p.overfill, ratio)
	p.mu.Unlock()
}

func (p *recPeer) HideAllPlugins() {
	p.mu.Lock()
	p.hideAll++
	p.mu.Unlock()
}

func (p *recPeer) UpdatePluginConfigurations(plugins []layers.PluginWindow) {
	p.mu.Lock()
	p.pluginSets = append(p.pluginSets, plugins)
	p.mu.Unlock()
}

func (p *recPeer) ClearCachedResources(tree layers.ID) {
	p.mu.Lock()
	p.cleared = append(p.cleared, tree)
	p.mu.Unlock()
}

func (p *recPeer) Completions() []layers.Completion {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]layers.Completion(nil), p.completions...)
}

func (p *recPeer) RemotePaints() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remotePaint
}

func (p *recPeer) reset() {
	p.mu.Lock()
	p.completions = nil
	p.mu.Unlock()
}

// fakeComposition is a CompositionManager with switchable answers.
type fakeComposition struct {
	ready       atomic.Bool
	reorient    atomic.Bool
	nextFrame   atomic.Bool
	mu          sync.Mutex
	transformAt []time.Time
}

func (m *fakeComposition) Updated(bool, layers.TargetConfig) {}
func (m *fakeComposition) IsFirstPaint() bool                 { return false }

func (m *fakeComposition) RequiresReorientation(layers.Orientation) bool {
	return m.reorient.Load()
}

func (m *fakeComposition) ReadyForCompose() bool { return m.ready.Load() }

func (m *fakeComposition) TransformShadowTree(t time.Time) bool {
	m.mu.Lock()
	m.transformAt = append(m.transformAt, t)
	m.mu.Unlock()
	return m.nextFrame.Load()
}

func (m *fakeComposition) transforms() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.transformAt...)
}

// newTestHost returns an asap host on a fake clock that is shut down when
// the test ends.
func newTestHost(t *testing.T, opts ...Option) (*Host, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithAsapMode(true), WithClock(clock)}, opts...)
	h := NewHost(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h, clock
}

// newTestCore creates a core on a fake backend.
func newTestCore(t *testing.T, h *Host, opts ...CoreOption) (*Core, *fakeBackend, *recPeer) {
	t.Helper()
	be := &fakeBackend{}
	peer := &recPeer{}
	opts = append([]CoreOption{WithBackend(be), WithPeer(peer)}, opts...)
	c, err := h.NewCore(gpucontext.NullWindowProvider{W: 16, H: 16, SF: 1}, opts...)
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	return c, be, peer
}

// solid returns a layer filling r with c.
func solid(r image.Rectangle, c color.Color) layers.Layer {
	return &layers.ColorLayer{Rect: r, Color: c}
}

// blockLoop parks the compositor thread until the returned func is called.
func blockLoop(t *testing.T, h *Host) (release func()) {
	t.Helper()
	started := make(chan struct{})
	ch := make(chan struct{})
	h.Post(func() {
		close(started)
		<-ch
	})
	<-started
	var once sync.Once
	release = func() { once.Do(func() { close(ch) }) }
	t.Cleanup(release)
	return release
}
