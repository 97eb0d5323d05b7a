// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package layers

import (
	"image"
	"slices"
	"time"
)

// Rotation is the screen rotation of a target, clockwise.
type Rotation int

// Supported rotations.
const (
	Rotation0 Rotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// Degrees returns the rotation in degrees.
func (r Rotation) Degrees() int {
	return int(r) * 90
}

// Orientation is the screen orientation reported by the content side.
type Orientation int

// Screen orientations.
const (
	OrientationNone Orientation = iota
	OrientationPortraitPrimary
	OrientationPortraitSecondary
	OrientationLandscapePrimary
	OrientationLandscapeSecondary
)

// TargetConfig describes the surface a transaction was built for.
type TargetConfig struct {
	// NaturalBounds is the unrotated target size.
	NaturalBounds image.Rectangle

	Rotation    Rotation
	Orientation Orientation

	// ClearRegion is left transparent in the composited output.
	ClearRegion []image.Rectangle
}

// Clone returns a deep copy of c.
func (c TargetConfig) Clone() TargetConfig {
	c.ClearRegion = slices.Clone(c.ClearRegion)
	return c
}

// PluginWindow is the geometry of one native plugin window.
type PluginWindow struct {
	ID      uint64
	Bounds  image.Rectangle
	Clip    []image.Rectangle
	Visible bool
}

// ClonePlugins returns a deep copy of ps.
func ClonePlugins(ps []PluginWindow) []PluginWindow {
	if ps == nil {
		return nil
	}
	out := make([]PluginWindow, len(ps))
	for i, p := range ps {
		p.Clip = slices.Clone(p.Clip)
		out[i] = p
	}
	return out
}

// Transaction is one batch of layer tree updates sent by a content process.
type Transaction struct {
	// Tree is the layer tree the transaction applies to.
	Tree ID

	// ID is acknowledged in the Completion for this transaction.
	ID TransactionID

	Target TargetConfig
	Root   Layer

	Plugins []PluginWindow

	// FirstPaint is set on the first transaction after a navigation.
	FirstPaint bool

	// ScheduleComposite requests a composite once the tree is applied.
	ScheduleComposite bool

	PaintSequence uint32

	// Repeat marks a transaction that re-sends already applied content.
	Repeat bool

	PaintSyncID uint64

	// PaintStart is when the content side started painting. It is used to
	// measure frame round trips and may be zero.
	PaintStart time.Time
}

// Completion reports that a transaction has reached the screen.
type Completion struct {
	Tree        ID
	Transaction TransactionID
	Start       time.Time
	End         time.Time
}

// UpdateObserver is notified about layer tree readiness. Active is true
// when the tree has painted and false when its cached resources were
// cleared.
type UpdateObserver interface {
	ObserveUpdate(tree ID, active bool)
}

// ObserverFunc adapts a function to UpdateObserver.
type ObserverFunc func(tree ID, active bool)

// ObserveUpdate calls f.
func (f ObserverFunc) ObserveUpdate(tree ID, active bool) {
	f(tree, active)
}
