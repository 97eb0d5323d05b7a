package compositor

import (
	"cmp"
	"fmt"
	"image"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/compositor/backend"
	"github.com/gogpu/compositor/internal/metrics"
	"github.com/gogpu/compositor/layers"
	"github.com/gogpu/compositor/render"
	"github.com/gogpu/compositor/vsync"
)

// Core owns the compositing pipeline of one native window: its backend,
// its layer manager and its vsync scheduler. It composites its own root
// layer tree and every layer tree that tree references.
//
// Core methods may be called from any goroutine unless documented as
// compositor-thread only. Messages are executed on the compositor thread
// in the order they were sent.
type Core struct {
	host   *Host
	rootID layers.ID
	window gpucontext.WindowProvider
	peer   Peer
	apz    APZ

	// Owned by the compositor thread.
	backend       backend.Backend
	manager       *layers.Manager
	composition   CompositionManager
	scheduler     *vsync.Scheduler
	pendingTxn    layers.TransactionID
	paintStart    time.Time
	overrideReady bool
	isTesting     bool
	testTime      time.Time
	drew          bool
	stopping      bool
	destroyed     bool
	plugins       pluginState

	// paused is written on the compositor thread only.
	paused  atomic.Bool
	stopped atomic.Bool

	pauseRV  rendezvous
	resumeRV rendezvous
	done     chan struct{}
}

// NewCore creates the compositing pipeline for window and registers its
// root layer tree.
func (h *Host) NewCore(window gpucontext.WindowProvider, opts ...CoreOption) (*Core, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}
	var o coreOptions
	for _, opt := range opts {
		opt(&o)
	}

	c := &Core{
		host:        h,
		rootID:      h.AllocateLayerTreeID(),
		window:      window,
		peer:        o.peer,
		apz:         o.apz,
		manager:     layers.NewManager(),
		composition: o.composition,
		done:        make(chan struct{}),
	}
	if c.composition == nil {
		c.composition = &staticComposition{}
	}
	c.pauseRV.init()
	c.resumeRV.init()
	c.scheduler = vsync.NewScheduler(vsync.Config{
		Loop:               h.loop,
		Compose:            c.compositeToTarget,
		Dispatcher:         o.dispatcher,
		Clock:              h.opts.clock,
		Asap:               h.opts.asap,
		UnobserveThreshold: h.opts.unobserveThreshold,
		Logger:             Logger(),
	})

	var initErr error
	if err := h.call(func() { initErr = c.initBackend(o) }); err != nil {
		return nil, err
	}
	if initErr != nil {
		return nil, fmt.Errorf("compositor: core %v: %w", c.rootID, initErr)
	}

	h.registry.Register(c.rootID, LayerTreeState{Owner: c, Manager: c.manager})
	h.addCompositor(c)
	h.addLive(c)
	propagateLogger(c.scheduler)
	propagateLogger(c.backend)
	Logger().Info("compositor: core created", "compositor", c.rootID, "backend", c.backend.Name())
	return c, nil
}

// initBackend opens and binds the backend. Compositor thread only.
func (c *Core) initBackend(o coreOptions) error {
	be := o.backend
	if be == nil {
		b, err := backend.Open(o.backendName, c.window, o.device)
		if err != nil {
			return err
		}
		be = b
	} else if err := be.Init(c.window, o.device); err != nil {
		return fmt.Errorf("init %s backend: %w", be.Name(), err)
	}
	if o.width > 0 && o.height > 0 {
		be.SetSurfaceSize(o.width, o.height)
	}
	c.backend = be
	return nil
}

// RootID returns the id of the core's own layer tree.
func (c *Core) RootID() layers.ID {
	return c.rootID
}

// BackendName returns the name of the backend in use.
func (c *Core) BackendName() string {
	return c.backend.Name()
}

// Scheduler returns the vsync scheduler of the core.
func (c *Core) Scheduler() *vsync.Scheduler {
	return c.scheduler
}

// Paused reports whether composition is paused.
func (c *Core) Paused() bool {
	return c.paused.Load()
}

// Stopped reports whether WillStop or Stop was received.
func (c *Core) Stopped() bool {
	return c.stopped.Load()
}

// Done is closed once the core has been destroyed.
func (c *Core) Done() <-chan struct{} {
	return c.done
}

func (c *Core) now() time.Time {
	return c.host.opts.clock.Now()
}

// ScheduleComposition requests a composite unless composition is paused.
func (c *Core) ScheduleComposition() {
	if c.paused.Load() || c.stopped.Load() {
		return
	}
	c.scheduler.ScheduleComposition()
}

// ScheduleRenderOnCompositorThread posts a composite request to the
// compositor thread.
func (c *Core) ScheduleRenderOnCompositorThread() {
	c.host.loop.Post(c.ScheduleComposition)
}

// canComposite reports whether a frame can be drawn and, if not, why.
func (c *Core) canComposite() (string, bool) {
	switch {
	case c.paused.Load():
		return metrics.SkipPaused, false
	case c.manager.Destroyed() || c.manager.Root() == nil:
		return metrics.SkipNoRoot, false
	}
	return "", true
}

// compositeToTarget draws one frame. It is the compose func of the
// scheduler and runs on the compositor thread.
func (c *Core) compositeToTarget(ts time.Time, target render.Target, rect image.Rectangle) {
	start := c.now()
	c.drew = false

	if reason, ok := c.canComposite(); !ok {
		metrics.RecordSkipped(reason)
		Logger().Debug("compositor: composite skipped", "compositor", c.rootID, "reason", reason)
		c.didComposite(start, c.now())
		return
	}

	if c.host.opts.pluginWindows && c.plugins.responsePending {
		return
	}

	frame, refs := c.buildFrame(ts, target, rect)

	if c.host.opts.pluginWindows {
		if c.updatePluginWindows(refs) {
			c.plugins.responsePending = true
			return
		}
		if len(refs) == 0 && len(c.plugins.cached) > 0 {
			// Plugins only live in remote content.
			c.plugins.cached = nil
			if c.hideAllPlugins() {
				c.plugins.responsePending = true
				return
			}
		}
	}

	if err := c.manager.BeginTransaction(); err != nil {
		Logger().Debug("compositor: begin transaction", "compositor", c.rootID, "err", err)
		return
	}

	if c.scheduler.ForcedCompositionPending() && !c.overrideReady {
		if !c.composition.ReadyForCompose() {
			c.manager.AbortTransaction()
			metrics.RecordSkipped(metrics.SkipNotReady)
			return
		}
		c.scheduler.CancelForcedComposition()
	}

	t := c.scheduler.LastComposeTime()
	if c.isTesting {
		t = c.testTime
	}
	if c.composition.TransformShadowTree(t) {
		c.ScheduleComposition()
	}

	frame.Damage = c.manager.TakeInvalidRegion()
	if err := c.backend.Composite(frame); err != nil {
		Logger().Warn("compositor: backend composite failed", "compositor", c.rootID, "err", err)
	} else {
		c.drew = true
	}

	end := c.now()
	c.manager.EndTransaction(end)
	if target == nil {
		c.didComposite(start, end)
	}
}

// buildFrame collects the root tree and every tree it references. It
// returns the referenced trees that resolved to content.
func (c *Core) buildFrame(ts time.Time, target render.Target, rect image.Rectangle) (*backend.Frame, []layers.ID) {
	root := c.manager.Root()
	frame := &backend.Frame{
		Timestamp:   ts,
		Target:      target,
		ClearRegion: c.manager.RegionToClear(),
		Layers:      []backend.FrameLayer{{Tree: c.rootID, Root: root}},
	}
	resolve := func(id layers.ID) layers.Layer { return c.host.registry.root(id) }

	var refs []layers.ID
	layers.Walk(root, func(l layers.Layer) {
		ref, ok := l.(*layers.RefLayer)
		if !ok {
			return
		}
		content := resolve(ref.Tree)
		if content == nil {
			return
		}
		refs = append(refs, ref.Tree)
		frame.Layers = append(frame.Layers, backend.FrameLayer{
			Tree: ref.Tree,
			Root: layers.Resolve(content, resolve),
			Clip: ref.Clip,
		})
	})

	if target != nil && !rect.Empty() {
		clipped := frame.Layers[:0]
		for _, fl := range frame.Layers {
			if fl.Clip.Empty() {
				fl.Clip = rect
			} else {
				fl.Clip = fl.Clip.Intersect(rect)
			}
			if !fl.Clip.Empty() {
				clipped = append(clipped, fl)
			}
		}
		frame.Layers = clipped
	}
	return frame, refs
}

// bridgeCompletion is a completion owed to a bridge, collected under the
// registry lock and delivered after it is released.
type bridgeCompletion struct {
	bridge     *Bridge
	completion layers.Completion
	paintStart time.Time
}

// didComposite reports the pending transaction of the root tree and of
// every bridged tree composited by this core. Compositor thread only.
func (c *Core) didComposite(start, end time.Time) {
	if c.pendingTxn != 0 {
		metrics.RecordFrameRoundtrip(c.paintStart, end)
		if c.peer != nil {
			c.peer.DidComposite(layers.Completion{
				Tree:        c.rootID,
				Transaction: c.pendingTxn,
				Start:       start,
				End:         end,
			})
		}
	}
	c.pendingTxn = 0
	c.paintStart = time.Time{}

	var owed []bridgeCompletion
	c.host.registry.scan(func(id layers.ID, st *LayerTreeState) {
		if st.Owner != c || st.Bridge == nil || st.PendingTransaction == 0 {
			return
		}
		owed = append(owed, bridgeCompletion{
			bridge:     st.Bridge,
			completion: layers.Completion{Tree: id, Transaction: st.PendingTransaction, Start: start, End: end},
			paintStart: st.PaintStart,
		})
		st.PendingTransaction = 0
		st.PaintStart = time.Time{}
	})
	slices.SortFunc(owed, func(a, b bridgeCompletion) int {
		return cmp.Compare(a.completion.Tree, b.completion.Tree)
	})
	for _, o := range owed {
		metrics.RecordFrameRoundtrip(o.paintStart, end)
		o.bridge.didComposite(o.completion)
	}
}

// setPendingTransaction records id as the transaction to acknowledge next.
// Ids grow while a transaction is pending, except for the reset to 1 after
// a navigation.
func (c *Core) setPendingTransaction(id layers.TransactionID, paintStart time.Time) {
	if id != 0 && id != 1 && id <= c.pendingTxn {
		panic(fmt.Sprintf("compositor: transaction %d does not follow pending transaction %d", id, c.pendingTxn))
	}
	c.pendingTxn = id
	c.paintStart = paintStart
}

// PendingTransaction returns the root tree transaction awaiting a
// completion, or 0. Compositor thread only.
func (c *Core) PendingTransaction() layers.TransactionID {
	c.host.assertCompositorThread("PendingTransaction")
	return c.pendingTxn
}

// ShadowLayersUpdated applies a transaction of the root tree. Tree must be
// 0 or the root id.
func (c *Core) ShadowLayersUpdated(txn layers.Transaction) {
	if txn.Tree != 0 && txn.Tree != c.rootID {
		panic(fmt.Sprintf("compositor: core %v received a transaction for tree %v", c.rootID, txn.Tree))
	}
	c.host.dispatch(func() { c.shadowLayersUpdated(txn) })
}

func (c *Core) shadowLayersUpdated(txn layers.Transaction) {
	if c.stopping {
		return
	}
	c.scheduleRotation(txn.Target, txn.FirstPaint)

	c.manager.UpdateRenderBounds(txn.Target.NaturalBounds)
	c.manager.SetRegionToClear(txn.Target.ClearRegion)
	c.manager.SetTargetConfig(txn.Target)
	c.composition.Updated(txn.FirstPaint, txn.Target)
	c.manager.SetRoot(txn.Root)
	c.host.registry.update(c.rootID, func(st *LayerTreeState) {
		st.Root = txn.Root
		st.Target = txn.Target.Clone()
	})

	if !txn.Repeat {
		c.updateHitTestingTree(c.rootID, txn.FirstPaint, txn.PaintSequence)
	}

	c.setPendingTransaction(txn.ID, txn.PaintStart)

	if txn.ScheduleComposite {
		c.ScheduleComposition()
		if c.paused.Load() {
			now := c.now()
			c.didComposite(now, now)
		}
	}
}

// notifyShadowTreeTransaction is called by a bridge after it applied a
// transaction of a tree composited by this core. Compositor thread only.
func (c *Core) notifyShadowTreeTransaction(tree layers.ID, firstPaint, schedule bool, paintSequence uint32, repeat bool) {
	if !repeat && c.host.registry.root(tree) != nil {
		c.updateHitTestingTree(tree, firstPaint, paintSequence)
	}
	if schedule {
		c.ScheduleComposition()
		if c.paused.Load() {
			now := c.now()
			c.didComposite(now, now)
		}
	}
}

func (c *Core) updateHitTestingTree(tree layers.ID, firstPaint bool, paintSequence uint32) {
	if c.apz == nil {
		return
	}
	c.host.registry.update(tree, func(st *LayerTreeState) {
		st.TestData.StartNewPaint(paintSequence)
	})
	c.apz.UpdateHitTestingTree(c.rootID, c.manager.Root(), firstPaint, tree, paintSequence)
}

// scheduleRotation holds composition back after an orientation change
// until content has caught up or the orientation sync delay expired.
func (c *Core) scheduleRotation(target layers.TargetConfig, firstPaint bool) {
	delay := c.host.opts.orientationDelay
	if delay <= 0 {
		return
	}
	if !firstPaint && !c.composition.IsFirstPaint() && c.composition.RequiresReorientation(target.Orientation) {
		c.scheduler.ScheduleForcedComposition(delay)
	}
}

// ForceComposite requests a composite for tree.
func (c *Core) ForceComposite(layers.ID) {
	c.ScheduleComposition()
}

// NotifyClearCachedResources drops what the backend caches for tree and
// fires the tree's cleared observer.
func (c *Core) NotifyClearCachedResources(tree layers.ID) {
	c.host.dispatch(func() {
		c.clearCachedResources(tree)
		c.host.notifyCleared(tree)
	})
}

// clearCachedResources is compositor-thread only.
func (c *Core) clearCachedResources(tree layers.ID) {
	if c.destroyed {
		return
	}
	c.backend.ClearCachedResources(tree)
	c.manager.ClearCachedResources(tree)
}

// NotifyChildCreated makes the core composite tree.
func (c *Core) NotifyChildCreated(tree layers.ID) error {
	if c.stopped.Load() {
		return ErrCompositorStopped
	}
	c.host.registry.upsert(tree, func(st *LayerTreeState) {
		st.Owner = c
		st.Manager = c.manager
	})
	return nil
}

// AdoptChild moves tree from the core that composites it to c. The tree
// keeps its bridge.
func (c *Core) AdoptChild(tree layers.ID) {
	c.host.dispatch(func() {
		if c.stopping {
			return
		}
		var previous *Core
		c.host.registry.upsert(tree, func(st *LayerTreeState) {
			previous = st.Owner
			st.Owner = c
			st.Manager = c.manager
		})
		if previous != nil && previous != c {
			previous.clearCachedResources(tree)
			if previous.apz != nil {
				previous.apz.NotifyLayerTreeRemoved(tree)
			}
		}
		if c.apz != nil {
			c.apz.NotifyLayerTreeAdopted(tree, previous)
		}
	})
}

// MakeSnapshot composes the current scene into an offscreen target and
// returns the part inside rect. An empty rect returns the whole surface.
// It blocks until the snapshot is taken.
func (c *Core) MakeSnapshot(rect image.Rectangle) (*image.RGBA, error) {
	var (
		img *image.RGBA
		err error
	)
	if cerr := c.host.call(func() { img, err = c.makeSnapshot(rect) }); cerr != nil {
		return nil, cerr
	}
	return img, err
}

func (c *Core) makeSnapshot(rect image.Rectangle) (*image.RGBA, error) {
	if c.stopping {
		return nil, ErrCompositorStopped
	}
	w, h := c.window.Size()
	if b := c.manager.RenderBounds(); !b.Empty() {
		w, h = b.Dx(), b.Dy()
	}
	if w <= 0 || h <= 0 {
		return nil, ErrSnapshotUnavailable
	}
	target := render.NewPixmapTarget(w, h)
	c.forceComposeToTarget(target, rect)
	if !c.drew {
		return nil, ErrSnapshotUnavailable
	}
	if rect.Empty() {
		return target.Image(), nil
	}
	return target.Crop(rect), nil
}

// forceComposeToTarget composes now, ignoring a pending readiness gate.
func (c *Core) forceComposeToTarget(target render.Target, rect image.Rectangle) {
	c.overrideReady = true
	defer func() { c.overrideReady = false }()
	c.scheduler.ForceComposite(target, rect)
}

// FlushRendering composes immediately if a composite is pending.
func (c *Core) FlushRendering() error {
	return c.host.call(func() {
		if c.stopping {
			return
		}
		if c.scheduler.NeedsComposite() > 0 || c.scheduler.CompositePending() {
			c.scheduler.CancelCurrentCompositeTask()
			c.forceComposeToTarget(nil, image.Rectangle{})
		}
	})
}

// RequestOverfill replies to the peer with the backend fill ratio.
func (c *Core) RequestOverfill() {
	c.host.dispatch(func() {
		if c.destroyed {
			return
		}
		if r, ok := c.peer.(OverfillReceiver); ok {
			r.Overfill(uint32(c.backend.FillRatio()))
		}
	})
}

// SetSurfaceSize overrides the backend surface size.
func (c *Core) SetSurfaceSize(width, height int) {
	c.host.dispatch(func() {
		if !c.destroyed {
			c.backend.SetSurfaceSize(width, height)
		}
	})
}

// NotifyRegionInvalidated marks region for repaint.
func (c *Core) NotifyRegionInvalidated(region ...image.Rectangle) {
	c.host.dispatch(func() { c.manager.AddInvalidRegion(region...) })
}

// Invalidate marks the whole render area for repaint.
func (c *Core) Invalidate() {
	c.host.dispatch(c.manager.Invalidate)
}

// StartFrameTimeRecording starts recording frame intervals and returns the
// start index for StopFrameTimeRecording.
func (c *Core) StartFrameTimeRecording(bufferSize int) uint32 {
	var start uint32
	_ = c.host.call(func() {
		if !c.manager.Destroyed() {
			start = c.manager.StartFrameTimeRecording(bufferSize)
		}
	})
	return start
}

// StopFrameTimeRecording returns the frame intervals recorded since start.
func (c *Core) StopFrameTimeRecording(start uint32) []time.Duration {
	var out []time.Duration
	_ = c.host.call(func() {
		if !c.manager.Destroyed() {
			out = c.manager.StopFrameTimeRecording(start)
		}
	})
	return out
}

// SetTestSampleTime enters test mode: async transforms are sampled at t
// instead of the composite time. A zero t is rejected.
func (c *Core) SetTestSampleTime(_ layers.ID, t time.Time) bool {
	if t.IsZero() {
		return false
	}
	var ok bool
	_ = c.host.call(func() {
		if c.stopping {
			return
		}
		c.isTesting = true
		c.testTime = t
		if c.scheduler.NeedsComposite() > 0 || c.scheduler.CompositePending() {
			if !c.composition.TransformShadowTree(t) {
				c.scheduler.CancelCurrentCompositeTask()
				now := c.now()
				c.didComposite(now, now)
			}
		}
		ok = true
	})
	return ok
}

// LeaveTestMode returns to sampling transforms at composite time.
func (c *Core) LeaveTestMode(layers.ID) {
	c.host.dispatch(func() { c.isTesting = false })
}

// ApplyAsyncProperties samples async transforms without composing.
func (c *Core) ApplyAsyncProperties(layers.ID) {
	c.host.dispatch(func() {
		if c.stopping || c.manager.Root() == nil {
			return
		}
		t := c.scheduler.LastComposeTime()
		if c.isTesting {
			t = c.testTime
		}
		if !c.composition.TransformShadowTree(t) {
			c.scheduler.CancelCurrentCompositeTask()
			now := c.now()
			c.didComposite(now, now)
		}
	})
}

// FlushApzRepaints flushes APZ repaint requests for tree; 0 is the root
// tree.
func (c *Core) FlushApzRepaints(tree layers.ID) {
	if tree == 0 {
		tree = c.rootID
	}
	c.host.dispatch(func() {
		if c.apz != nil {
			c.apz.FlushRepaints(tree)
		}
	})
}

// GetAPZTestData returns the APZ test data of tree; 0 is the root tree.
// A tree not composited by the core has no data.
func (c *Core) GetAPZTestData(tree layers.ID) layers.TestData {
	if tree == 0 {
		tree = c.rootID
	}
	st, ok := c.host.registry.Lookup(tree)
	if !ok || (tree != c.rootID && st.Owner != c) {
		return layers.TestData{}
	}
	return st.TestData
}

// SetConfirmedTargetAPZC confirms the scroll targets of an input block.
func (c *Core) SetConfirmedTargetAPZC(_ layers.ID, inputBlockID uint64, targets []layers.ScrollableLayerGuid) {
	targets = slices.Clone(targets)
	c.host.dispatch(func() {
		if c.apz != nil {
			c.apz.SetConfirmedTargetAPZC(inputBlockID, targets)
		}
	})
}

// WillStop is the first half of the shutdown handshake: composition stops
// and every layer tree composited by the core is detached.
func (c *Core) WillStop() {
	c.host.dispatch(c.willStop)
}

// Stop tears the core down. Destruction completes in a later task on the
// compositor thread, after which Done is closed. Stop is also the
// response to a failed channel.
func (c *Core) Stop() {
	c.host.dispatch(func() {
		c.willStop()
		c.destroy()
	})
}

func (c *Core) willStop() {
	if c.stopping {
		return
	}
	c.stopping = true
	c.stopped.Store(true)
	c.paused.Store(true)
	c.host.removeCompositor(c.rootID)

	c.host.registry.scan(func(id layers.ID, st *LayerTreeState) {
		if st.Owner != c {
			return
		}
		c.manager.ClearCachedResources(id)
		st.Manager = nil
		st.Owner = nil
	})
	c.manager.Destroy()
	Logger().Info("compositor: core stopping", "compositor", c.rootID)
}

func (c *Core) destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.scheduler.Destroy()
	c.backend.Destroy()
	c.host.registry.Erase(c.rootID)
	forgetLogger(c.scheduler)
	forgetLogger(c.backend)
	if c.host.loop.Post(c.deferredDestroy).Canceled() {
		c.deferredDestroy()
	}
}

func (c *Core) deferredDestroy() {
	Logger().Info("compositor: core destroyed", "compositor", c.rootID)
	close(c.done)
	c.host.removeLive(c)
}
