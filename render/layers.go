// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"slices"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/gogpu/compositor/layers"
)

// Plane errors.
var (
	// ErrPlaneExists is returned when a plane for the tree already exists.
	ErrPlaneExists = errors.New("render: plane already exists")

	// ErrNoPlane is returned when the tree has no plane.
	ErrNoPlane = errors.New("render: no such plane")
)

// plane is the cached rendering of one layer tree.
type plane struct {
	target  *PixmapTarget
	z       int
	visible bool
}

// LayeredTarget is a CPU surface made of one plane per layer tree.
//
// Each tree renders into its own plane; Composite blends the visible planes
// onto the base image in ascending z-order, ties broken by tree id. A plane
// is the cached resource of its tree and can be dropped with RemovePlane
// without touching the others.
type LayeredTarget struct {
	base   *PixmapTarget
	planes map[layers.ID]*plane
	order  []layers.ID // cached render order, nil when stale
}

// NewLayeredTarget creates a layered target presented as format.
func NewLayeredTarget(width, height int, format gputypes.TextureFormat) *LayeredTarget {
	return &LayeredTarget{
		base:   NewPixmapTargetWithFormat(width, height, format),
		planes: make(map[layers.ID]*plane),
	}
}

// Width returns the target width in pixels.
func (t *LayeredTarget) Width() int {
	return t.base.Width()
}

// Height returns the target height in pixels.
func (t *LayeredTarget) Height() int {
	return t.base.Height()
}

// Format returns the presentation format.
func (t *LayeredTarget) Format() gputypes.TextureFormat {
	return t.base.Format()
}

// Image returns the base image. It holds the composited result after
// Composite.
func (t *LayeredTarget) Image() *image.RGBA {
	return t.base.Image()
}

// CreatePlane creates a plane for tree at z-order z.
func (t *LayeredTarget) CreatePlane(tree layers.ID, z int) (*PixmapTarget, error) {
	if _, exists := t.planes[tree]; exists {
		return nil, fmt.Errorf("%w: tree %d", ErrPlaneExists, tree)
	}
	p := &plane{
		target:  NewPixmapTargetWithFormat(t.Width(), t.Height(), t.Format()),
		z:       z,
		visible: true,
	}
	t.planes[tree] = p
	t.order = nil
	return p.target, nil
}

// EnsurePlane returns the plane for tree, creating it at z if missing, and
// moves an existing plane to z.
func (t *LayeredTarget) EnsurePlane(tree layers.ID, z int) *PixmapTarget {
	if p, ok := t.planes[tree]; ok {
		if p.z != z {
			p.z = z
			t.order = nil
		}
		return p.target
	}
	target, _ := t.CreatePlane(tree, z)
	return target
}

// Plane returns the plane of tree.
func (t *LayeredTarget) Plane(tree layers.ID) (*PixmapTarget, bool) {
	p, ok := t.planes[tree]
	if !ok {
		return nil, false
	}
	return p.target, true
}

// RemovePlane drops the plane of tree.
func (t *LayeredTarget) RemovePlane(tree layers.ID) error {
	if _, exists := t.planes[tree]; !exists {
		return fmt.Errorf("%w: tree %d", ErrNoPlane, tree)
	}
	delete(t.planes, tree)
	t.order = nil
	return nil
}

// SetPlaneVisible controls whether the plane of tree is composited.
// Invisible planes keep their content.
func (t *LayeredTarget) SetPlaneVisible(tree layers.ID, visible bool) {
	if p, ok := t.planes[tree]; ok {
		p.visible = visible
	}
}

// PlaneVisible reports whether tree has a visible plane.
func (t *LayeredTarget) PlaneVisible(tree layers.ID) bool {
	p, ok := t.planes[tree]
	return ok && p.visible
}

// Planes returns the trees with planes in render order.
func (t *LayeredTarget) Planes() []layers.ID {
	if t.order == nil {
		t.order = make([]layers.ID, 0, len(t.planes))
		for id := range t.planes {
			t.order = append(t.order, id)
		}
		slices.SortFunc(t.order, func(a, b layers.ID) int {
			if d := t.planes[a].z - t.planes[b].z; d != 0 {
				return d
			}
			return int(a) - int(b)
		})
	}
	return slices.Clone(t.order)
}

// Composite clears the base image to background and blends all visible
// planes onto it.
func (t *LayeredTarget) Composite(background color.Color) {
	t.CompositeInto(t.base.Image(), background)
}

// CompositeInto blends all visible planes onto dst instead of the base
// image. Planes are aligned at the origin of dst.
func (t *LayeredTarget) CompositeInto(dst *image.RGBA, background color.Color) {
	if background == nil {
		background = color.Transparent
	}
	fill(dst, dst.Bounds(), background)
	for _, id := range t.Planes() {
		p := t.planes[id]
		if !p.visible {
			continue
		}
		src := p.target.Image()
		draw.Draw(dst, dst.Bounds(), src, dst.Bounds().Min, draw.Over)
	}
}

// Resize changes the surface size and drops every plane.
func (t *LayeredTarget) Resize(width, height int) {
	t.base.Resize(width, height)
	clear(t.planes)
	t.order = nil
}

// Ensure LayeredTarget implements Target.
var _ Target = (*LayeredTarget)(nil)
