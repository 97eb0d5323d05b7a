// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import (
	"image"
	"image/color"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"
)

// Target is a CPU-accessible surface a composite is drawn into.
//
// Targets are either the presentation surface owned by a backend or an
// offscreen target supplied for a single composite (snapshots).
type Target interface {
	// Width returns the target width in pixels.
	Width() int

	// Height returns the target height in pixels.
	Height() int

	// Format returns the pixel format the target is presented in.
	Format() gputypes.TextureFormat

	// Image returns the pixels. The image is always RGBA in memory;
	// Format only describes the presentation surface.
	Image() *image.RGBA
}

// PixmapTarget is a CPU-backed Target using *image.RGBA.
//
// Example:
//
//	target := render.NewPixmapTarget(800, 600)
//	root.Draw(target.Image(), target.Image().Bounds())
type PixmapTarget struct {
	img    *image.RGBA
	format gputypes.TextureFormat
}

// NewPixmapTarget creates a CPU-backed target in RGBA8 format.
func NewPixmapTarget(width, height int) *PixmapTarget {
	return NewPixmapTargetWithFormat(width, height, gputypes.TextureFormatRGBA8Unorm)
}

// NewPixmapTargetWithFormat creates a CPU-backed target presented as format.
// An undefined format falls back to RGBA8.
func NewPixmapTargetWithFormat(width, height int, format gputypes.TextureFormat) *PixmapTarget {
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatRGBA8Unorm
	}
	return &PixmapTarget{
		img:    image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0))),
		format: format,
	}
}

// NewPixmapTargetFromImage wraps an existing *image.RGBA as a target.
// The image is used directly without copying.
func NewPixmapTargetFromImage(img *image.RGBA) *PixmapTarget {
	return &PixmapTarget{img: img, format: gputypes.TextureFormatRGBA8Unorm}
}

// Width returns the target width in pixels.
func (t *PixmapTarget) Width() int {
	return t.img.Bounds().Dx()
}

// Height returns the target height in pixels.
func (t *PixmapTarget) Height() int {
	return t.img.Bounds().Dy()
}

// Format returns the presentation format.
func (t *PixmapTarget) Format() gputypes.TextureFormat {
	return t.format
}

// Image returns the underlying *image.RGBA.
// The returned image shares memory with the target.
func (t *PixmapTarget) Image() *image.RGBA {
	return t.img
}

// Clear fills the whole target with c.
func (t *PixmapTarget) Clear(c color.Color) {
	fill(t.img, t.img.Bounds(), c)
}

// ClearRegion fills each rectangle of region with transparent black.
func (t *PixmapTarget) ClearRegion(region []image.Rectangle) {
	for _, r := range region {
		fill(t.img, r, color.Transparent)
	}
}

// Resize replaces the pixels with a new image of the given size.
// The contents are not preserved.
func (t *PixmapTarget) Resize(width, height int) {
	t.img = image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))
}

// Crop copies rect out of the target into a new image whose bounds start
// at the origin. Parts of rect outside the target stay transparent.
func (t *PixmapTarget) Crop(rect image.Rectangle) *image.RGBA {
	return Crop(t.img, rect)
}

// Crop copies rect out of src into a new image positioned at the origin.
func Crop(src image.Image, rect image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	sr := rect.Intersect(src.Bounds())
	if sr.Empty() {
		return out
	}
	draw.Copy(out, sr.Min.Sub(rect.Min), src, sr, draw.Src, nil)
	return out
}

// fill paints r with c using the Src operator.
func fill(dst *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// Ensure PixmapTarget implements Target.
var _ Target = (*PixmapTarget)(nil)
