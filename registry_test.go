package compositor

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/compositor/layers"
)

func TestRegistryRegisterLookupErase(t *testing.T) {
	r := NewRegistry()
	root := solid(image.Rect(0, 0, 4, 4), color.White)
	r.Register(7, LayerTreeState{Root: root, PendingTransaction: 3})

	if !r.Contains(7) {
		t.Fatal("Contains(7) = false after Register")
	}
	st, ok := r.Lookup(7)
	if !ok {
		t.Fatal("Lookup(7) not found")
	}
	if st.Root != root || st.PendingTransaction != 3 {
		t.Errorf("Lookup(7) = %+v", st)
	}
	if _, ok := r.Lookup(8); ok {
		t.Error("Lookup(8) found an unregistered tree")
	}

	if !r.Erase(7) {
		t.Error("Erase(7) = false, want true")
	}
	if r.Erase(7) {
		t.Error("second Erase(7) = true, want false")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after Erase, want 0", r.Len())
	}
}

func TestRegistryRegisterPanics(t *testing.T) {
	tests := []struct {
		name string
		run  func(r *Registry)
	}{
		{"tree 0", func(r *Registry) { r.Register(0, LayerTreeState{}) }},
		{"twice", func(r *Registry) {
			r.Register(1, LayerTreeState{})
			r.Register(1, LayerTreeState{})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.run(NewRegistry())
		})
	}
}

func TestRegistryLookupReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register(1, LayerTreeState{
		Plugins: []layers.PluginWindow{{ID: 1, Clip: []image.Rectangle{image.Rect(0, 0, 1, 1)}}},
	})
	r.update(1, func(st *LayerTreeState) { st.TestData.Record(1, "k", "v") })

	st, _ := r.Lookup(1)
	st.Plugins[0].Clip[0] = image.Rect(5, 5, 6, 6)
	st.TestData.Record(1, "k", "changed")
	st.PendingTransaction = 9

	again, _ := r.Lookup(1)
	want := LayerTreeState{
		Plugins:  []layers.PluginWindow{{ID: 1, Clip: []image.Rectangle{image.Rect(0, 0, 1, 1)}}},
		TestData: layers.TestData{Paints: map[uint32]map[string]string{1: {"k": "v"}}},
	}
	if diff := cmp.Diff(want, again, cmp.Comparer(func(a, b *Core) bool { return a == b }),
		cmp.Comparer(func(a, b *Bridge) bool { return a == b }),
		cmp.Comparer(func(a, b *layers.Manager) bool { return a == b })); diff != "" {
		t.Errorf("registry entry changed through a copy (-want +got):\n%s", diff)
	}
}

func TestRegistryIDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []layers.ID{9, 2, 5} {
		r.Register(id, LayerTreeState{})
	}
	if diff := cmp.Diff([]layers.ID{2, 5, 9}, r.IDs()); diff != "" {
		t.Errorf("IDs() (-want +got):\n%s", diff)
	}
}

func TestRegistrySwapReadyObservers(t *testing.T) {
	r := NewRegistry()
	var fired []string
	a := layers.ObserverFunc(func(layers.ID, bool) { fired = append(fired, "a") })
	b := layers.ObserverFunc(func(layers.ID, bool) { fired = append(fired, "b") })
	r.Register(1, LayerTreeState{ReadyObserver: a})
	r.Register(2, LayerTreeState{ReadyObserver: b})

	if err := r.SwapReadyObservers(1, 2); err != nil {
		t.Fatalf("SwapReadyObservers() error = %v", err)
	}
	st1, _ := r.Lookup(1)
	st2, _ := r.Lookup(2)
	st1.ReadyObserver.ObserveUpdate(1, true)
	st2.ReadyObserver.ObserveUpdate(2, true)
	if diff := cmp.Diff([]string{"b", "a"}, fired); diff != "" {
		t.Errorf("observers after swap (-want +got):\n%s", diff)
	}

	err := r.SwapReadyObservers(1, 3)
	if !errors.Is(err, ErrUnknownLayerTree) {
		t.Errorf("SwapReadyObservers(1, 3) error = %v, want ErrUnknownLayerTree", err)
	}
	st1, _ = r.Lookup(1)
	st1.ReadyObserver.ObserveUpdate(1, true)
	if fired[len(fired)-1] != "b" {
		t.Error("failed swap changed the observer of tree 1")
	}
}

func TestRegistryUpsertAfterClose(t *testing.T) {
	r := NewRegistry()
	r.upsert(4, func(st *LayerTreeState) { st.PendingTransaction = 1 })
	if !r.Contains(4) {
		t.Fatal("upsert did not create the entry")
	}
	r.close()
	r.upsert(5, func(st *LayerTreeState) { st.PendingTransaction = 1 })
	if r.Len() != 0 {
		t.Errorf("Len() = %d after close and upsert, want 0", r.Len())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var g errgroup.Group
	for i := 1; i <= 50; i++ {
		id := layers.ID(i)
		g.Go(func() error {
			r.Register(id, LayerTreeState{})
			r.update(id, func(st *LayerTreeState) { st.PendingTransaction++ })
			if _, ok := r.Lookup(id); !ok {
				return errors.New("lookup after register failed")
			}
			_ = r.IDs()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 50 {
		t.Errorf("Len() = %d, want 50", r.Len())
	}
}

func TestRegistrationRelease(t *testing.T) {
	h, _ := newTestHost(t)
	id := h.AllocateLayerTreeID()
	reg := h.RegisterLayerTree(id, solid(image.Rect(0, 0, 2, 2), color.Black))
	if reg.Tree() != id {
		t.Errorf("Tree() = %v, want %v", reg.Tree(), id)
	}
	if !h.Registry().Contains(id) {
		t.Fatal("registered tree missing")
	}
	reg.Release()
	reg.Release()
	if h.Registry().Contains(id) {
		t.Error("tree still registered after Release")
	}

	defer func() {
		if recover() == nil {
			t.Error("registering a live id twice did not panic")
		}
	}()
	h.RegisterLayerTree(id, nil)
	h.RegisterLayerTree(id, nil)
}
