package compositor

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/compositor/internal/metrics"
	"github.com/gogpu/compositor/layers"
)

// LayerTreeState is the compositing state of one layer tree.
//
// The registry owns every LayerTreeState. Lookup returns a copy; the
// registry's own entries are only touched under its lock.
type LayerTreeState struct {
	// Owner is the core that composites the tree, or nil.
	Owner *Core

	// Manager is the owner's layer manager, or nil once the owner stopped.
	Manager *layers.Manager

	// Bridge is the content channel that sends the tree's transactions, or
	// nil for trees painted in the compositing process.
	Bridge *Bridge

	// Root and Target are taken from the last applied transaction.
	Root   layers.Layer
	Target layers.TargetConfig

	// Plugins is the plugin window list of the last transaction;
	// PluginsUpdated is set until the owner has processed it.
	Plugins        []layers.PluginWindow
	PluginsUpdated bool

	// ReadyObserver fires once after the next transaction is applied.
	// ClearedObserver fires once after the tree's cached resources are
	// cleared.
	ReadyObserver   layers.UpdateObserver
	ClearedObserver layers.UpdateObserver

	TestData layers.TestData

	// PendingTransaction is the transaction awaiting a completion.
	PendingTransaction layers.TransactionID
	PaintStart         time.Time
}

func (s LayerTreeState) clone() LayerTreeState {
	s.Target = s.Target.Clone()
	s.Plugins = layers.ClonePlugins(s.Plugins)
	s.TestData = s.TestData.Clone()
	return s
}

// Registry maps layer tree ids to their state. It is the only structure
// shared between the compositor thread and other goroutines without an
// owning thread; every access holds its mutex for the whole access.
type Registry struct {
	mu     sync.Mutex
	trees  map[layers.ID]*LayerTreeState
	closed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{trees: make(map[layers.ID]*LayerTreeState)}
}

// Register adds the state of id. Registering an id twice is a programming
// error and panics.
func (r *Registry) Register(id layers.ID, st LayerTreeState) {
	if !id.Valid() {
		panic("compositor: register of layer tree 0")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trees[id]; ok {
		panic(fmt.Sprintf("compositor: layer tree %v registered twice", id))
	}
	st = st.clone()
	r.trees[id] = &st
	metrics.SetLayerTrees(len(r.trees))
}

// Lookup returns a copy of the state of id.
func (r *Registry) Lookup(id layers.ID) (LayerTreeState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.trees[id]
	if !ok {
		return LayerTreeState{}, false
	}
	return st.clone(), true
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id layers.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.trees[id]
	return ok
}

// Erase removes id. It reports whether id was registered.
func (r *Registry) Erase(id layers.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trees[id]; !ok {
		return false
	}
	delete(r.trees, id)
	metrics.SetLayerTrees(len(r.trees))
	return true
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []layers.ID {
	r.mu.Lock()
	ids := make([]layers.ID, 0, len(r.trees))
	for id := range r.trees {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered trees.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trees)
}

// SwapReadyObservers exchanges the ready observers of a and b in one step.
// Both trees must be registered; otherwise nothing changes and
// ErrUnknownLayerTree is returned.
func (r *Registry) SwapReadyObservers(a, b layers.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa, oka := r.trees[a]
	sb, okb := r.trees[b]
	if !oka || !okb {
		return fmt.Errorf("swap observers of %v and %v: %w", a, b, ErrUnknownLayerTree)
	}
	sa.ReadyObserver, sb.ReadyObserver = sb.ReadyObserver, sa.ReadyObserver
	return nil
}

// root returns the root layer of id, or nil.
func (r *Registry) root(id layers.ID) layers.Layer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.trees[id]; ok {
		return st.Root
	}
	return nil
}

// update runs fn on the state of id under the lock. fn must not retain the
// pointer. It reports whether id was registered.
func (r *Registry) update(id layers.ID, fn func(*LayerTreeState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.trees[id]
	if !ok {
		return false
	}
	fn(st)
	return true
}

// upsert is update that first creates an empty entry for an unknown id.
// After close it does nothing.
func (r *Registry) upsert(id layers.ID, fn func(*LayerTreeState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	st, ok := r.trees[id]
	if !ok {
		st = &LayerTreeState{}
		r.trees[id] = st
		metrics.SetLayerTrees(len(r.trees))
	}
	fn(st)
}

// scan calls fn for every entry under the lock.
func (r *Registry) scan(fn func(id layers.ID, st *LayerTreeState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.trees {
		fn(id, st)
	}
}

// close drops every entry. Later upserts are ignored.
func (r *Registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	clear(r.trees)
	metrics.SetLayerTrees(0)
}
