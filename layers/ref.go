// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package layers

import (
	"image"

	"golang.org/x/image/draw"
)

// RefLayer is a placeholder for the root of another layer tree, typically
// one painted by a content process. It draws nothing until resolved.
type RefLayer struct {
	Tree ID

	// Clip bounds the referenced content.
	Clip image.Rectangle
}

// Bounds returns the clip rectangle.
func (l *RefLayer) Bounds() image.Rectangle {
	return l.Clip
}

// Draw is a no-op for an unresolved reference.
func (l *RefLayer) Draw(draw.Image, image.Rectangle) {}

// Resolver returns the current root of a layer tree, or nil.
type Resolver func(ID) Layer

// Resolve returns a copy of the layer tree rooted at root in which every
// RefLayer is replaced by the root resolve returns for it. A reference
// that is unknown or that refers back to a tree already being resolved
// draws nothing. Containers are copied; other layers are shared.
func Resolve(root Layer, resolve Resolver) Layer {
	return resolveLayer(root, resolve, make(map[ID]bool))
}

func resolveLayer(l Layer, resolve Resolver, active map[ID]bool) Layer {
	switch v := l.(type) {
	case *RefLayer:
		if active[v.Tree] {
			return v
		}
		target := resolve(v.Tree)
		if target == nil {
			return v
		}
		active[v.Tree] = true
		target = resolveLayer(target, resolve, active)
		delete(active, v.Tree)
		return &ContainerLayer{Children: []Layer{target}, Clip: v.Clip}
	case *ContainerLayer:
		out := &ContainerLayer{Clip: v.Clip, Children: make([]Layer, len(v.Children))}
		for i, c := range v.Children {
			out.Children[i] = resolveLayer(c, resolve, active)
		}
		return out
	default:
		return l
	}
}

// Walk calls fn for every layer in the tree rooted at l, depth first.
func Walk(l Layer, fn func(Layer)) {
	if l == nil {
		return
	}
	fn(l)
	if c, ok := l.(*ContainerLayer); ok {
		for _, child := range c.Children {
			Walk(child, fn)
		}
	}
}
