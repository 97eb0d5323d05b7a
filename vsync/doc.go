// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package vsync paces composition of one compositing pipeline.
//
// A Scheduler turns composite requests into at most one pending composite
// task on the compositor thread. In the default mode a request subscribes
// the scheduler to a vsync Dispatcher and the next tick composes; after a
// number of consecutive idle ticks the scheduler unsubscribes again. In
// asap mode a request posts a composite for "now" directly.
//
// Ticks are delivered on a goroutine other than the compositor thread.
// TimerSource is a Dispatcher driven by a ticker, for hosts without a
// hardware vsync signal.
package vsync
