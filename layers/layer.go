// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package layers

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Layer is one node of a composited layer tree.
//
// Draw renders the layer into dst, touching only pixels inside clip.
// Layers are drawn on the compositor thread and must not be mutated by the
// content side after they were sent in a Transaction.
type Layer interface {
	Bounds() image.Rectangle
	Draw(dst draw.Image, clip image.Rectangle)
}

// ImageLayer draws Src scaled into Dest.
type ImageLayer struct {
	Src  image.Image
	Dest image.Rectangle

	// Opacity in [0,1]. Zero is treated as fully opaque so that the zero
	// value of a literal draws.
	Opacity float64
}

// Bounds returns the destination rectangle.
func (l *ImageLayer) Bounds() image.Rectangle {
	return l.Dest
}

// Draw scales the source into the destination rectangle.
func (l *ImageLayer) Draw(dst draw.Image, clip image.Rectangle) {
	if l.Src == nil {
		return
	}
	r := l.Dest.Intersect(clip).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}

	mask := opacityMask(l.Opacity)
	if r == l.Dest {
		var opts *draw.Options
		if mask != nil {
			opts = &draw.Options{DstMask: mask}
		}
		draw.ApproxBiLinear.Scale(dst, l.Dest, l.Src, l.Src.Bounds(), draw.Over, opts)
		return
	}

	// Partially clipped: scale once into a scratch image, then blit the
	// visible part.
	scratch := image.NewRGBA(l.Dest)
	draw.ApproxBiLinear.Scale(scratch, l.Dest, l.Src, l.Src.Bounds(), draw.Src, nil)
	if mask != nil {
		draw.DrawMask(dst, r, scratch, r.Min, mask, r.Min, draw.Over)
		return
	}
	draw.Draw(dst, r, scratch, r.Min, draw.Over)
}

// ColorLayer fills Rect with a solid color.
type ColorLayer struct {
	Rect  image.Rectangle
	Color color.Color
}

// Bounds returns the filled rectangle.
func (l *ColorLayer) Bounds() image.Rectangle {
	return l.Rect
}

// Draw fills the visible part of the rectangle.
func (l *ColorLayer) Draw(dst draw.Image, clip image.Rectangle) {
	r := l.Rect.Intersect(clip).Intersect(dst.Bounds())
	if r.Empty() || l.Color == nil {
		return
	}
	draw.Draw(dst, r, image.NewUniform(l.Color), image.Point{}, draw.Over)
}

// ContainerLayer draws its children in order, optionally clipped.
type ContainerLayer struct {
	Children []Layer

	// Clip restricts drawing of all children when non-empty.
	Clip image.Rectangle
}

// Bounds returns the union of the children bounds, clipped.
func (l *ContainerLayer) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, c := range l.Children {
		b = b.Union(c.Bounds())
	}
	if !l.Clip.Empty() {
		b = b.Intersect(l.Clip)
	}
	return b
}

// Draw draws every child.
func (l *ContainerLayer) Draw(dst draw.Image, clip image.Rectangle) {
	if !l.Clip.Empty() {
		clip = clip.Intersect(l.Clip)
	}
	if clip.Empty() {
		return
	}
	for _, c := range l.Children {
		c.Draw(dst, clip)
	}
}

// opacityMask returns a uniform alpha mask, or nil when fully opaque.
func opacityMask(opacity float64) image.Image {
	if opacity <= 0 || opacity >= 1 {
		return nil
	}
	return image.NewUniform(color.Alpha16{A: uint16(opacity * 0xffff)})
}
