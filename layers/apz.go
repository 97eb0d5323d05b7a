// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package layers

import "maps"

// ScrollableLayerGuid identifies one scrollable frame inside a layer tree.
type ScrollableLayerGuid struct {
	Tree        ID
	PresShellID uint32
	ScrollID    uint64
}

// TestData collects per-paint key/value records written by the async
// pan/zoom code while a tree runs under test instrumentation.
type TestData struct {
	Paints map[uint32]map[string]string
}

// StartNewPaint opens a bucket for paint seq.
func (d *TestData) StartNewPaint(seq uint32) {
	if d.Paints == nil {
		d.Paints = make(map[uint32]map[string]string)
	}
	if _, ok := d.Paints[seq]; !ok {
		d.Paints[seq] = make(map[string]string)
	}
}

// Record stores key=value in the bucket for seq.
func (d *TestData) Record(seq uint32, key, value string) {
	d.StartNewPaint(seq)
	d.Paints[seq][key] = value
}

// Clone returns a deep copy.
func (d TestData) Clone() TestData {
	if d.Paints == nil {
		return TestData{}
	}
	out := TestData{Paints: make(map[uint32]map[string]string, len(d.Paints))}
	for seq, kv := range d.Paints {
		out.Paints[seq] = maps.Clone(kv)
	}
	return out
}
