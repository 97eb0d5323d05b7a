package compositor

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/gogpu/compositor/internal/evict"
	"github.com/gogpu/compositor/internal/metrics"
	"github.com/gogpu/compositor/internal/taskloop"
	"github.com/gogpu/compositor/layers"
)

// hiddenTree identifies a layer tree of one bridge in the hidden-tree LRU.
type hiddenTree struct {
	session uuid.UUID
	tree    layers.ID
}

// Host is the process-wide compositing service. It owns the compositor
// thread shared by all cores and bridges, the layer tree registry, the
// compositor id table and the hidden-tree LRU.
//
// A process normally creates one Host at startup and calls Shutdown when it
// exits. All methods are safe for concurrent use.
type Host struct {
	opts     options
	loop     *taskloop.Loop
	registry *Registry
	ids      layers.Allocator
	hidden   *evict.LRU[hiddenTree]

	mu          sync.Mutex
	compositors map[layers.ID]*Core
	live        map[*Core]struct{}
	bridges     map[uuid.UUID]*Bridge

	// holders counts cores and bridges whose deferred destroy has not run.
	holders sync.WaitGroup
	closed  atomic.Bool
}

// NewHost starts the compositor thread.
func NewHost(opts ...Option) *Host {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.registerer != nil {
		metrics.Register(o.registerer)
	}

	h := &Host{
		opts:        o,
		registry:    NewRegistry(),
		compositors: make(map[layers.ID]*Core),
		live:        make(map[*Core]struct{}),
		bridges:     make(map[uuid.UUID]*Bridge),
	}
	h.loop = taskloop.New("compositor", taskloop.WithPanicHandler(o.onPanic))
	propagateLogger(h.loop)
	h.hidden = evict.New(o.hiddenTreeLimit, func(key hiddenTree) {
		h.loop.Post(func() { h.evictHidden(key) })
	})
	return h
}

// Registry returns the layer tree registry.
func (h *Host) Registry() *Registry {
	return h.registry
}

// IsCompositorThread reports whether the caller runs on the compositor
// thread.
func (h *Host) IsCompositorThread() bool {
	return h.loop.IsCurrent()
}

// Post runs fn on the compositor thread. It reports false after Shutdown.
func (h *Host) Post(fn func()) bool {
	return !h.loop.Post(fn).Canceled()
}

// Flush waits until every task posted to the compositor thread before the
// call has run.
func (h *Host) Flush() {
	h.loop.Flush()
}

// dispatch runs fn on the compositor thread: inline when already there,
// posted otherwise.
func (h *Host) dispatch(fn func()) {
	if h.loop.IsCurrent() {
		fn()
		return
	}
	h.loop.Post(fn)
}

// call runs fn on the compositor thread and waits for it.
func (h *Host) call(fn func()) error {
	if h.loop.IsCurrent() {
		fn()
		return nil
	}
	if err := h.loop.RunSync(fn); err != nil {
		return ErrHostClosed
	}
	return nil
}

// assertCompositorThread panics when called off the compositor thread.
func (h *Host) assertCompositorThread(op string) {
	if !h.loop.IsCurrent() {
		panic("compositor: " + op + " called off the compositor thread")
	}
}

// AllocateLayerTreeID returns a new process-unique layer tree id.
func (h *Host) AllocateLayerTreeID() layers.ID {
	return h.ids.Next()
}

// DeallocateLayerTreeID erases the registry entry of id on the compositor
// thread, after messages already queued for it.
func (h *Host) DeallocateLayerTreeID(id layers.ID) {
	if h.loop.Post(func() { h.registry.Erase(id) }).Canceled() {
		h.registry.Erase(id)
	}
}

// Compositor returns the live core whose root tree is id.
func (h *Host) Compositor(id layers.ID) (*Core, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.compositors[id]
	return c, ok
}

// Compositors returns the live cores ordered by root id.
func (h *Host) Compositors() []*Core {
	h.mu.Lock()
	out := make([]*Core, 0, len(h.compositors))
	for _, c := range h.compositors {
		out = append(out, c)
	}
	h.mu.Unlock()
	slices.SortFunc(out, func(a, b *Core) int {
		return cmp.Compare(a.rootID, b.rootID)
	})
	return out
}

func (h *Host) addCompositor(c *Core) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.compositors[c.rootID]; ok {
		panic(fmt.Sprintf("compositor: compositor id %v added twice", c.rootID))
	}
	h.compositors[c.rootID] = c
}

func (h *Host) removeCompositor(id layers.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.compositors, id)
}

// addLive tracks c until its deferred destroy has run.
func (h *Host) addLive(c *Core) {
	h.mu.Lock()
	h.live[c] = struct{}{}
	h.mu.Unlock()
	h.holders.Add(1)
}

func (h *Host) removeLive(c *Core) {
	h.mu.Lock()
	_, ok := h.live[c]
	delete(h.live, c)
	h.mu.Unlock()
	if ok {
		h.holders.Done()
	}
}

func (h *Host) bridge(session uuid.UUID) (*Bridge, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bridges[session]
	return b, ok
}

// RequestNotifyLayerTreeReady makes obs fire once after the next
// transaction on tree has been applied.
func (h *Host) RequestNotifyLayerTreeReady(tree layers.ID, obs layers.UpdateObserver) {
	h.registry.upsert(tree, func(st *LayerTreeState) {
		st.ReadyObserver = obs
	})
}

// RequestNotifyLayerTreeCleared makes obs fire once after the cached
// resources of tree have been cleared.
func (h *Host) RequestNotifyLayerTreeCleared(tree layers.ID, obs layers.UpdateObserver) {
	h.registry.upsert(tree, func(st *LayerTreeState) {
		st.ClearedObserver = obs
	})
}

// SwapLayerTreeObservers exchanges the ready observers of two trees.
func (h *Host) SwapLayerTreeObservers(a, b layers.ID) error {
	return h.registry.SwapReadyObservers(a, b)
}

// RecordAPZTestData stores one key/value for paint paintSequence of tree.
func (h *Host) RecordAPZTestData(tree layers.ID, paintSequence uint32, key, value string) {
	h.registry.upsert(tree, func(st *LayerTreeState) {
		st.TestData.Record(paintSequence, key, value)
	})
}

// notifyCleared fires and clears the cleared observer of tree.
func (h *Host) notifyCleared(tree layers.ID) {
	var obs layers.UpdateObserver
	h.registry.update(tree, func(st *LayerTreeState) {
		obs, st.ClearedObserver = st.ClearedObserver, nil
	})
	if obs != nil {
		obs.ObserveUpdate(tree, false)
	}
}

// Registration keeps an auxiliary layer tree registered until Release.
type Registration struct {
	host *Host
	tree layers.ID
	once sync.Once
}

// RegisterLayerTree registers a layer tree that is painted outside any
// content channel, such as an out-of-band video layer. Registering an id
// twice panics.
//
//	reg := host.RegisterLayerTree(id, root)
//	defer reg.Release()
func (h *Host) RegisterLayerTree(tree layers.ID, root layers.Layer) *Registration {
	h.registry.Register(tree, LayerTreeState{Root: root})
	return &Registration{host: h, tree: tree}
}

// Tree returns the registered id.
func (r *Registration) Tree() layers.ID {
	return r.tree
}

// Release erases the registry entry. It is safe to call more than once.
func (r *Registration) Release() {
	r.once.Do(func() {
		r.host.registry.Erase(r.tree)
	})
}

// evictHidden drops the cached resources of a tree that stayed hidden for
// too long. It runs on the compositor thread.
func (h *Host) evictHidden(key hiddenTree) {
	st, ok := h.registry.Lookup(key.tree)
	if !ok {
		return
	}
	metrics.RecordEviction()
	Logger().Warn("compositor: evicting hidden layer tree", "tree", key.tree, "session", key.session)
	if st.Owner != nil {
		st.Owner.clearCachedResources(key.tree)
	}
	if b, ok := h.bridge(key.session); ok {
		if cc, ok := b.peer.(CacheClearer); ok {
			cc.ClearCachedResources(key.tree)
		}
	}
}

// Shutdown stops every core and disconnects every bridge, waits for their
// deferred destruction and stops the compositor thread. Calls after the
// first return ErrHostClosed. Shutdown must not be called on the
// compositor thread.
func (h *Host) Shutdown(ctx context.Context) error {
	if h.loop.IsCurrent() {
		panic("compositor: Shutdown called on the compositor thread")
	}
	if !h.closed.CompareAndSwap(false, true) {
		return ErrHostClosed
	}

	h.mu.Lock()
	cores := make([]*Core, 0, len(h.live))
	for c := range h.live {
		cores = append(cores, c)
	}
	bridges := make([]*Bridge, 0, len(h.bridges))
	for _, b := range h.bridges {
		bridges = append(bridges, b)
	}
	h.mu.Unlock()

	for _, b := range bridges {
		b.Disconnect()
	}
	for _, c := range cores {
		c.Stop()
	}

	var err error
	done := make(chan struct{})
	go func() {
		h.holders.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("compositor: waiting for deferred destroy: %w", ctx.Err()))
	}

	err = multierr.Append(err, h.loop.Close())
	for _, c := range cores {
		c.wakeWaiters()
	}
	forgetLogger(h.loop)
	h.hidden.Purge()
	h.registry.close()
	Logger().Info("compositor: host shut down", "cores", len(cores), "bridges", len(bridges))
	return err
}

// Closed reports whether Shutdown was called.
func (h *Host) Closed() bool {
	return h.closed.Load()
}
