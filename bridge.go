package compositor

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/compositor/layers"
)

// Bridge is the compositing channel of one content process. It owns no
// compositing state: every message is resolved through the registry to the
// Core that composites the layer tree and forwarded to it.
type Bridge struct {
	host    *Host
	session uuid.UUID
	peer    Peer

	notifyAfterRemotePaint atomic.Bool
	disconnected           atomic.Bool
	done                   chan struct{}
}

// NewBridge connects a content process whose completions go to peer.
func (h *Host) NewBridge(peer Peer) (*Bridge, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}
	b := &Bridge{
		host:    h,
		session: uuid.New(),
		peer:    peer,
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.bridges[b.session] = b
	h.mu.Unlock()
	h.holders.Add(1)
	Logger().Info("compositor: bridge connected", "session", b.session)
	return b, nil
}

// Session returns the id of the channel.
func (b *Bridge) Session() uuid.UUID {
	return b.session
}

// Done is closed once the bridge has been destroyed after Disconnect.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func validTree(tree layers.ID) {
	if !tree.Valid() {
		panic("compositor: bridge message for layer tree 0")
	}
}

// owner returns the core that composites tree.
func (b *Bridge) owner(tree layers.ID) (*Core, error) {
	validTree(tree)
	var owner *Core
	if !b.host.registry.update(tree, func(st *LayerTreeState) { owner = st.Owner }) {
		return nil, fmt.Errorf("tree %v: %w", tree, ErrUnknownLayerTree)
	}
	if owner == nil {
		return nil, fmt.Errorf("tree %v: %w", tree, ErrNoOwner)
	}
	return owner, nil
}

// AllocLayerTransaction opens the transaction channel of tree. The tree
// must already be composited by a core.
func (b *Bridge) AllocLayerTransaction(tree layers.ID) error {
	validTree(tree)
	if b.disconnected.Load() {
		return ErrBridgeDisconnected
	}
	attached := false
	b.host.registry.update(tree, func(st *LayerTreeState) {
		if st.Manager != nil {
			st.Bridge = b
			attached = true
		}
	})
	if !attached {
		Logger().Warn("compositor: layer transaction without a compositor", "tree", tree, "session", b.session)
		return fmt.Errorf("alloc layer transaction for tree %v: %w", tree, ErrNoOwner)
	}
	return nil
}

// DeallocLayerTransaction closes the transaction channel of tree and
// erases its registry entry after queued messages ran.
func (b *Bridge) DeallocLayerTransaction(tree layers.ID) {
	validTree(tree)
	b.host.dispatch(func() { b.host.registry.Erase(tree) })
}

// NotifyChildCreated attaches tree to the core that composites this
// bridge's trees. When they are split across cores, the owner of the
// lowest tree id is the parent.
func (b *Bridge) NotifyChildCreated(tree layers.ID) error {
	var (
		parent *Core
		first  layers.ID
	)
	b.host.registry.scan(func(id layers.ID, st *LayerTreeState) {
		if st.Owner == nil || st.Bridge != b {
			return
		}
		if parent == nil || id < first {
			parent, first = st.Owner, id
		}
	})
	if parent == nil {
		return fmt.Errorf("child %v: %w", tree, ErrNoOwner)
	}
	return parent.NotifyChildCreated(tree)
}

// ShadowLayersUpdated applies a transaction of one of the bridge's trees.
func (b *Bridge) ShadowLayersUpdated(txn layers.Transaction) {
	validTree(txn.Tree)
	b.host.dispatch(func() { b.shadowLayersUpdated(txn) })
}

func (b *Bridge) shadowLayersUpdated(txn layers.Transaction) {
	owner, err := b.owner(txn.Tree)
	if err != nil {
		Logger().Debug("compositor: dropped transaction", "tree", txn.Tree, "txn", txn.ID, "session", b.session, "err", err)
		return
	}
	owner.scheduleRotation(txn.Target, txn.FirstPaint)

	var ready layers.UpdateObserver
	b.host.registry.update(txn.Tree, func(st *LayerTreeState) {
		st.Bridge = b
		st.Root = txn.Root
		st.Target = txn.Target.Clone()
		st.Plugins = layers.ClonePlugins(txn.Plugins)
		st.PluginsUpdated = true
		st.PendingTransaction = txn.ID
		st.PaintStart = txn.PaintStart
		ready, st.ReadyObserver = st.ReadyObserver, nil
	})

	owner.notifyShadowTreeTransaction(txn.Tree, txn.FirstPaint, txn.ScheduleComposite, txn.PaintSequence, txn.Repeat)

	if ready != nil {
		ready.ObserveUpdate(txn.Tree, true)
	}
}

// didComposite delivers a completion. Compositor thread only.
func (b *Bridge) didComposite(c layers.Completion) {
	if b.disconnected.Load() {
		return
	}
	if b.peer != nil {
		b.peer.DidComposite(c)
	}
	if b.notifyAfterRemotePaint.CompareAndSwap(true, false) {
		if r, ok := b.peer.(RemotePaintReceiver); ok {
			r.RemotePaintIsReady()
		}
	}
}

// RequestNotifyAfterRemotePaint makes the next completion also send
// RemotePaintIsReady.
func (b *Bridge) RequestNotifyAfterRemotePaint() {
	b.notifyAfterRemotePaint.Store(true)
}

// ForceComposite requests a composite of the core that composites tree.
func (b *Bridge) ForceComposite(tree layers.ID) {
	if owner, err := b.owner(tree); err == nil {
		owner.ForceComposite(tree)
	}
}

// NotifyClearCachedResources drops the cached resources of tree and fires
// its cleared observer.
func (b *Bridge) NotifyClearCachedResources(tree layers.ID) {
	validTree(tree)
	b.host.dispatch(func() {
		if owner, err := b.owner(tree); err == nil {
			owner.clearCachedResources(tree)
		}
		b.host.notifyCleared(tree)
	})
}

// SetTestSampleTime forwards to the core that composites tree.
func (b *Bridge) SetTestSampleTime(tree layers.ID, t time.Time) bool {
	owner, err := b.owner(tree)
	if err != nil {
		return false
	}
	return owner.SetTestSampleTime(tree, t)
}

// LeaveTestMode forwards to the core that composites tree.
func (b *Bridge) LeaveTestMode(tree layers.ID) {
	if owner, err := b.owner(tree); err == nil {
		owner.LeaveTestMode(tree)
	}
}

// ApplyAsyncProperties forwards to the core that composites tree.
func (b *Bridge) ApplyAsyncProperties(tree layers.ID) {
	if owner, err := b.owner(tree); err == nil {
		owner.ApplyAsyncProperties(tree)
	}
}

// FlushApzRepaints forwards to the core that composites tree.
func (b *Bridge) FlushApzRepaints(tree layers.ID) {
	if owner, err := b.owner(tree); err == nil {
		owner.FlushApzRepaints(tree)
	}
}

// GetAPZTestData returns the APZ test data of tree.
func (b *Bridge) GetAPZTestData(tree layers.ID) layers.TestData {
	validTree(tree)
	st, _ := b.host.registry.Lookup(tree)
	return st.TestData
}

// SetConfirmedTargetAPZC forwards to the core that composites tree.
func (b *Bridge) SetConfirmedTargetAPZC(tree layers.ID, inputBlockID uint64, targets []layers.ScrollableLayerGuid) {
	if owner, err := b.owner(tree); err == nil {
		owner.SetConfirmedTargetAPZC(tree, inputBlockID, slices.Clone(targets))
	}
}

// NotifyHidden marks tree as a candidate for eviction.
func (b *Bridge) NotifyHidden(tree layers.ID) {
	validTree(tree)
	if b.disconnected.Load() {
		return
	}
	b.host.hidden.Add(hiddenTree{session: b.session, tree: tree})
}

// NotifyVisible removes tree from the eviction candidates.
func (b *Bridge) NotifyVisible(tree layers.ID) {
	validTree(tree)
	b.host.hidden.Remove(hiddenTree{session: b.session, tree: tree})
}

// Disconnect tears the channel down after the content process went away.
// The bridge stops receiving completions at once and is destroyed in a
// later task on the compositor thread, so replies to messages already
// queued can still be handled.
func (b *Bridge) Disconnect() {
	if !b.disconnected.CompareAndSwap(false, true) {
		return
	}
	b.host.hidden.RemoveFunc(func(k hiddenTree) bool { return k.session == b.session })
	task := b.host.loop.Post(func() {
		b.host.registry.scan(func(_ layers.ID, st *LayerTreeState) {
			if st.Bridge == b {
				st.Bridge = nil
				st.PendingTransaction = 0
			}
		})
		b.host.loop.Post(b.deferredDestroy)
	})
	if task.Canceled() {
		b.deferredDestroy()
	}
}

func (b *Bridge) deferredDestroy() {
	b.host.mu.Lock()
	delete(b.host.bridges, b.session)
	b.host.mu.Unlock()
	Logger().Info("compositor: bridge disconnected", "session", b.session)
	close(b.done)
	b.host.holders.Done()
}
