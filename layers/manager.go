// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package layers

import (
	"errors"
	"image"
	"slices"
	"time"
)

// Manager errors.
var (
	// ErrManagerDestroyed is returned by transaction calls after Destroy.
	ErrManagerDestroyed = errors.New("layers: manager destroyed")

	// ErrTransactionOpen is returned by BeginTransaction when a transaction
	// is already open.
	ErrTransactionOpen = errors.New("layers: transaction already open")
)

// Manager holds the composited state of one compositing pipeline: the root
// layer, render bounds, invalidation and frame timing.
//
// A Manager is owned by the compositor thread and is not safe for
// concurrent use.
type Manager struct {
	root          Layer
	renderBounds  image.Rectangle
	regionToClear []image.Rectangle
	invalid       []image.Rectangle
	target        TargetConfig

	inTransaction bool
	destroyed     bool

	// generations counts ClearCachedResources calls per tree.
	generations map[ID]uint64

	frames   frameRecorder
	composed uint64
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{generations: make(map[ID]uint64)}
}

// SetRoot replaces the root layer.
func (m *Manager) SetRoot(root Layer) {
	m.root = root
}

// Root returns the root layer or nil.
func (m *Manager) Root() Layer {
	return m.root
}

// UpdateRenderBounds sets the area composited into.
func (m *Manager) UpdateRenderBounds(r image.Rectangle) {
	m.renderBounds = r
}

// RenderBounds returns the area composited into.
func (m *Manager) RenderBounds() image.Rectangle {
	return m.renderBounds
}

// SetTargetConfig stores the target configuration of the last transaction.
func (m *Manager) SetTargetConfig(c TargetConfig) {
	m.target = c.Clone()
}

// TargetConfig returns the target configuration of the last transaction.
func (m *Manager) TargetConfig() TargetConfig {
	return m.target.Clone()
}

// SetRegionToClear sets the region cleared before drawing.
func (m *Manager) SetRegionToClear(rs []image.Rectangle) {
	m.regionToClear = slices.Clone(rs)
}

// RegionToClear returns the region cleared before drawing.
func (m *Manager) RegionToClear() []image.Rectangle {
	return slices.Clone(m.regionToClear)
}

// AddInvalidRegion marks rectangles as needing a repaint.
func (m *Manager) AddInvalidRegion(rs ...image.Rectangle) {
	for _, r := range rs {
		if !r.Empty() {
			m.invalid = append(m.invalid, r)
		}
	}
}

// Invalidate marks the whole render area as needing a repaint.
func (m *Manager) Invalidate() {
	m.invalid = append(m.invalid[:0], m.renderBounds)
}

// TakeInvalidRegion returns and clears the accumulated invalid region.
func (m *Manager) TakeInvalidRegion() []image.Rectangle {
	r := m.invalid
	m.invalid = nil
	return r
}

// BeginTransaction opens a composite.
func (m *Manager) BeginTransaction() error {
	if m.destroyed {
		return ErrManagerDestroyed
	}
	if m.inTransaction {
		return ErrTransactionOpen
	}
	m.inTransaction = true
	return nil
}

// EndTransaction closes a composite that finished at now.
func (m *Manager) EndTransaction(now time.Time) {
	if !m.inTransaction {
		return
	}
	m.inTransaction = false
	m.composed++
	m.frames.record(now)
}

// AbortTransaction closes a composite without counting it.
func (m *Manager) AbortTransaction() {
	m.inTransaction = false
}

// Composed returns the number of finished composites.
func (m *Manager) Composed() uint64 {
	return m.composed
}

// ClearCachedResources drops state cached for tree.
func (m *Manager) ClearCachedResources(tree ID) {
	m.generations[tree]++
	m.Invalidate()
}

// CacheGeneration returns how often the cache of tree was cleared.
func (m *Manager) CacheGeneration(tree ID) uint64 {
	return m.generations[tree]
}

// Destroy releases the manager. Subsequent transactions fail.
func (m *Manager) Destroy() {
	m.destroyed = true
	m.root = nil
	m.inTransaction = false
}

// Destroyed reports whether Destroy was called.
func (m *Manager) Destroyed() bool {
	return m.destroyed
}

// StartFrameTimeRecording starts collecting frame intervals into a ring of
// bufferSize entries and returns the start index for
// StopFrameTimeRecording.
func (m *Manager) StartFrameTimeRecording(bufferSize int) uint32 {
	return m.frames.start(bufferSize)
}

// StopFrameTimeRecording returns the intervals recorded since start that
// are still in the ring.
func (m *Manager) StopFrameTimeRecording(start uint32) []time.Duration {
	return m.frames.stop(start)
}

// frameRecorder is a ring of frame intervals shared by overlapping
// recordings.
type frameRecorder struct {
	ring   []time.Duration
	next   uint32
	active int
	last   time.Time
}

func (r *frameRecorder) start(size int) uint32 {
	if size <= 0 {
		size = 1
	}
	if r.active == 0 || len(r.ring) < size {
		grown := make([]time.Duration, size)
		if r.active > 0 {
			// Keep entries visible to recordings already running.
			n := min(uint32(len(r.ring)), r.next)
			for i := r.next - n; i < r.next; i++ {
				grown[int(i)%size] = r.ring[int(i)%len(r.ring)]
			}
		}
		r.ring = grown
	}
	r.active++
	return r.next
}

func (r *frameRecorder) record(now time.Time) {
	if r.active == 0 {
		return
	}
	if !r.last.IsZero() {
		r.ring[int(r.next)%len(r.ring)] = now.Sub(r.last)
		r.next++
	}
	r.last = now
}

func (r *frameRecorder) stop(start uint32) []time.Duration {
	if r.active == 0 {
		return nil
	}
	if start > r.next {
		start = r.next
	}
	if size := uint32(len(r.ring)); r.next-start > size {
		start = r.next - size
	}
	out := make([]time.Duration, 0, r.next-start)
	for i := start; i < r.next; i++ {
		out = append(out, r.ring[int(i)%len(r.ring)])
	}
	r.active--
	if r.active == 0 {
		r.last = time.Time{}
	}
	return out
}
