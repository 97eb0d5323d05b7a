package compositor

import (
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/compositor/backend"
	"github.com/gogpu/compositor/vsync"
)

// DefaultHiddenTreeLimit is the number of hidden layer trees that keep
// their cached resources before the least recently hidden one is evicted.
const DefaultHiddenTreeLimit = 10

// Option configures a Host during creation.
//
// Example:
//
//	host := compositor.NewHost(
//	    compositor.WithAsapMode(true),
//	    compositor.WithHiddenTreeLimit(4),
//	)
type Option func(*options)

// options holds optional configuration for Host creation.
type options struct {
	unobserveThreshold int
	asap               bool
	orientationDelay   time.Duration
	hiddenTreeLimit    int
	clock              vsync.Clock
	registerer         prometheus.Registerer
	onPanic            func(any)
	pluginWindows      bool
}

// defaultOptions returns the default host options.
func defaultOptions() options {
	return options{
		unobserveThreshold: vsync.DefaultUnobserveThreshold,
		hiddenTreeLimit:    DefaultHiddenTreeLimit,
		clock:              vsync.SystemClock{},
	}
}

// WithUnobserveThreshold sets the number of consecutive idle vsync ticks
// after which a core stops observing vsync.
func WithUnobserveThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.unobserveThreshold = n
		}
	}
}

// WithAsapMode makes every core composite as soon as a composite is
// requested instead of waiting for vsync.
func WithAsapMode(asap bool) Option {
	return func(o *options) {
		o.asap = asap
	}
}

// WithOrientationSyncDelay holds composition back for up to d after a
// transaction changes screen orientation, giving content time to send a
// reoriented frame. Zero disables the delay.
func WithOrientationSyncDelay(d time.Duration) Option {
	return func(o *options) {
		o.orientationDelay = d
	}
}

// WithHiddenTreeLimit sets how many hidden layer trees keep their cached
// resources. A value <= 0 disables eviction.
func WithHiddenTreeLimit(n int) Option {
	return func(o *options) {
		o.hiddenTreeLimit = n
	}
}

// WithClock replaces the clock used for composite timestamps.
func WithClock(c vsync.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetrics registers the compositor collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithPanicHandler sets the function called when a task on the compositor
// thread panics. The thread keeps running.
func WithPanicHandler(fn func(any)) Option {
	return func(o *options) {
		o.onPanic = fn
	}
}

// WithPluginWindows enables native plugin window management.
func WithPluginWindows(enabled bool) Option {
	return func(o *options) {
		o.pluginWindows = enabled
	}
}

// CoreOption configures a Core during creation.
//
// Example:
//
//	core, err := host.NewCore(window,
//	    compositor.WithVsyncDispatcher(source),
//	    compositor.WithPeer(peer),
//	)
type CoreOption func(*coreOptions)

// coreOptions holds optional configuration for Core creation.
type coreOptions struct {
	backend     backend.Backend
	backendName string
	device      gpucontext.DeviceProvider
	dispatcher  vsync.Dispatcher
	apz         APZ
	composition CompositionManager
	width       int
	height      int
	peer        Peer
}

// WithBackend uses b instead of a registered backend. The core calls
// b.Init.
func WithBackend(b backend.Backend) CoreOption {
	return func(o *coreOptions) {
		o.backend = b
	}
}

// WithBackendName selects a registered backend by name. Without it the
// backend is chosen from the device.
func WithBackendName(name string) CoreOption {
	return func(o *coreOptions) {
		o.backendName = name
	}
}

// WithDevice shares a GPU device with the backend.
func WithDevice(d gpucontext.DeviceProvider) CoreOption {
	return func(o *coreOptions) {
		o.device = d
	}
}

// WithVsyncDispatcher sets the vsync source that paces the core.
func WithVsyncDispatcher(d vsync.Dispatcher) CoreOption {
	return func(o *coreOptions) {
		o.dispatcher = d
	}
}

// WithAPZ sets the asynchronous pan/zoom collaborator.
func WithAPZ(apz APZ) CoreOption {
	return func(o *coreOptions) {
		o.apz = apz
	}
}

// WithCompositionManager sets the async transform collaborator.
func WithCompositionManager(m CompositionManager) CoreOption {
	return func(o *coreOptions) {
		o.composition = m
	}
}

// WithSurfaceSize overrides the window size of the backend surface.
func WithSurfaceSize(width, height int) CoreOption {
	return func(o *coreOptions) {
		o.width, o.height = width, height
	}
}

// WithPeer sets the receiver of the root tree's completions.
func WithPeer(p Peer) CoreOption {
	return func(o *coreOptions) {
		o.peer = p
	}
}
