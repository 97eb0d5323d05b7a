// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render provides the CPU surfaces composites are drawn into.
//
// # Targets
//
//   - Target: any surface a composite can be drawn into
//   - PixmapTarget: *image.RGBA backed target, used for snapshots
//   - LayeredTarget: presentation surface with one cached plane per layer tree
//
// A LayeredTarget lets a backend keep the rendering of each layer tree
// separately, so that the resources of a hidden tree can be dropped
// (RemovePlane) and rebuilt on its next paint without repainting others.
//
// # Thread Safety
//
// Targets are NOT thread-safe. They are owned by the backend and touched
// only on the compositor thread.
package render
