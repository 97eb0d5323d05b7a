// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package vsync

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compositor/internal/metrics"
	"github.com/gogpu/compositor/internal/taskloop"
	"github.com/gogpu/compositor/render"
)

// DefaultUnobserveThreshold is the number of consecutive idle vsync ticks
// after which a scheduler stops observing vsync.
const DefaultUnobserveThreshold = 10

// ComposeFunc composes one frame at timestamp, into target when non-nil,
// restricted to rect when non-empty. It runs on the compositor thread.
type ComposeFunc func(timestamp time.Time, target render.Target, rect image.Rectangle)

// Config configures a Scheduler.
type Config struct {
	// Loop is the compositor thread. Required.
	Loop *taskloop.Loop

	// Compose is called for every composite. Required.
	Compose ComposeFunc

	// Dispatcher delivers vsync. Nil means ticks are delivered by calling
	// NotifyVsync directly.
	Dispatcher Dispatcher

	// Clock defaults to SystemClock.
	Clock Clock

	// Asap composes as soon as a composite is requested instead of waiting
	// for vsync.
	Asap bool

	// UnobserveThreshold defaults to DefaultUnobserveThreshold.
	UnobserveThreshold int

	Logger *slog.Logger
}

// Scheduler decides when one compositing pipeline composites.
//
// Requests are coalesced: at most one composite task is pending at any
// time. State other than the pending task slots is owned by the compositor
// thread; methods documented as compositor-thread-only panic when called
// from elsewhere.
type Scheduler struct {
	loop       *taskloop.Loop
	compose    ComposeFunc
	dispatcher Dispatcher
	clock      Clock
	threshold  int
	asap       atomic.Bool
	logger     atomic.Pointer[slog.Logger]

	// Compositor thread state.
	needsComposite int
	observing      bool
	lastCompose    time.Time
	skipped        int
	destroyed      bool

	// taskMu guards the task slots, which are touched from the vsync
	// goroutine and from callers of ScheduleComposition.
	taskMu        sync.Mutex
	compositeTask *taskloop.Task
	needsTask     *taskloop.Task
	needsQueued   int
	forceTask     *taskloop.Task

	// Snapshots of compositor thread state readable from any goroutine.
	destroyedFlag   atomic.Bool
	observingFlag   atomic.Bool
	needsSnapshot   atomic.Int64
	skippedSnapshot atomic.Int64
}

// NewScheduler creates a scheduler. It does not observe vsync until a
// composite is requested.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Loop == nil || cfg.Compose == nil {
		panic("vsync: NewScheduler requires a loop and a compose func")
	}
	s := &Scheduler{
		loop:       cfg.Loop,
		compose:    cfg.Compose,
		dispatcher: cfg.Dispatcher,
		clock:      cfg.Clock,
		threshold:  cfg.UnobserveThreshold,
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.threshold <= 0 {
		s.threshold = DefaultUnobserveThreshold
	}
	s.asap.Store(cfg.Asap)
	s.SetLogger(cfg.Logger)
	return s
}

// SetLogger replaces the logger. Nil disables logging.
func (s *Scheduler) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	s.logger.Store(l)
}

// SetAsap switches asap mode.
func (s *Scheduler) SetAsap(asap bool) {
	s.asap.Store(asap)
}

// Asap reports whether asap mode is on.
func (s *Scheduler) Asap() bool {
	return s.asap.Load()
}

func (s *Scheduler) assertOnLoop(op string) {
	if !s.loop.IsCurrent() {
		panic("vsync: " + op + " called off the compositor thread")
	}
}

// ScheduleComposition requests a composite. In asap mode a composite task
// for now is posted immediately; otherwise the next vsync tick composes.
// Safe to call from any goroutine.
func (s *Scheduler) ScheduleComposition() {
	if s.destroyedFlag.Load() {
		return
	}
	if s.asap.Load() {
		s.postCompositeTask(s.clock.Now())
		return
	}
	s.SetNeedsComposite()
}

// SetNeedsComposite records pending work and starts observing vsync. Off
// the compositor thread the update is posted to it; requests made while an
// update is queued join that update.
func (s *Scheduler) SetNeedsComposite() {
	if !s.loop.IsCurrent() {
		s.taskMu.Lock()
		s.needsQueued++
		if s.needsTask == nil {
			s.needsTask = s.loop.Post(s.setNeedsCompositeTask)
		}
		s.taskMu.Unlock()
		return
	}
	s.setNeedsComposite(1)
}

func (s *Scheduler) setNeedsCompositeTask() {
	s.taskMu.Lock()
	n := s.needsQueued
	s.needsTask = nil
	s.needsQueued = 0
	s.taskMu.Unlock()
	if n > 0 {
		s.setNeedsComposite(n)
	}
}

func (s *Scheduler) setNeedsComposite(n int) {
	if s.destroyed {
		return
	}
	s.needsComposite += n
	s.needsSnapshot.Store(int64(s.needsComposite))
	if !s.observing {
		s.ObserveVsync()
	}
}

// NotifyVsync posts a composite task for timestamp unless one is pending.
// It is called on the vsync-delivery goroutine.
func (s *Scheduler) NotifyVsync(timestamp time.Time) bool {
	if s.destroyedFlag.Load() {
		return false
	}
	return s.postCompositeTask(timestamp)
}

// postCompositeTask posts a composite unless one is already pending. It
// reports whether a task was posted.
func (s *Scheduler) postCompositeTask(timestamp time.Time) bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.compositeTask != nil {
		return false
	}
	s.compositeTask = s.loop.Post(func() {
		s.Composite(timestamp, nil, image.Rectangle{})
	})
	return true
}

// CompositePending reports whether a composite task is pending.
func (s *Scheduler) CompositePending() bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return s.compositeTask != nil
}

// Composite runs a scheduled composite. Compositor thread only.
func (s *Scheduler) Composite(timestamp time.Time, target render.Target, rect image.Rectangle) {
	s.assertOnLoop("Composite")
	s.taskMu.Lock()
	s.compositeTask = nil
	s.taskMu.Unlock()

	kind := metrics.KindVsync
	if s.asap.Load() {
		kind = metrics.KindAsap
	}
	s.composite(timestamp, target, rect, kind)
}

func (s *Scheduler) composite(timestamp time.Time, target render.Target, rect image.Rectangle, kind string) {
	if s.destroyed {
		return
	}
	if timestamp.Before(s.lastCompose) {
		// Out of order delivery.
		now := s.clock.Now()
		s.logger.Load().Debug("vsync: clamped out-of-order timestamp",
			"timestamp", timestamp, "last", s.lastCompose, "now", now)
		timestamp = now
	}

	if s.needsComposite > 0 || s.asap.Load() {
		s.needsComposite = 0
		s.needsSnapshot.Store(0)
		s.lastCompose = timestamp
		start := time.Now()
		s.compose(timestamp, target, rect)
		metrics.RecordComposite(kind, time.Since(start))
		s.skipped = 0
		s.skippedSnapshot.Store(0)
		return
	}

	s.skipped++
	s.skippedSnapshot.Store(int64(s.skipped))
	metrics.RecordSkipped(metrics.SkipNoWork)
	if s.observing && s.skipped >= s.threshold {
		s.logger.Load().Debug("vsync: idle, unobserving", "skipped", s.skipped)
		metrics.RecordVsyncUnobserved()
		s.UnobserveVsync()
	}
}

// ForceComposite composes synchronously, bypassing the task queue.
// Compositor thread only.
func (s *Scheduler) ForceComposite(target render.Target, rect image.Rectangle) {
	s.assertOnLoop("ForceComposite")
	s.skipped = 0
	s.skippedSnapshot.Store(0)
	s.needsComposite++
	s.composite(s.clock.Now(), target, rect, metrics.KindForced)
}

// ResumeComposition composes immediately after the pipeline was resumed.
// Compositor thread only.
func (s *Scheduler) ResumeComposition() {
	s.assertOnLoop("ResumeComposition")
	s.setNeedsComposite(1)
	s.composite(s.clock.Now(), nil, image.Rectangle{}, metrics.KindForced)
}

// ObserveVsync subscribes to the dispatcher. Idempotent. Compositor thread
// only.
func (s *Scheduler) ObserveVsync() {
	s.assertOnLoop("ObserveVsync")
	if s.observing || s.destroyed {
		return
	}
	s.observing = true
	s.observingFlag.Store(true)
	if s.dispatcher != nil {
		s.dispatcher.SetCompositorObserver(s)
	}
}

// UnobserveVsync unsubscribes from the dispatcher. Idempotent. Compositor
// thread only.
func (s *Scheduler) UnobserveVsync() {
	s.assertOnLoop("UnobserveVsync")
	if !s.observing {
		return
	}
	s.observing = false
	s.observingFlag.Store(false)
	s.skipped = 0
	s.skippedSnapshot.Store(0)
	if s.dispatcher != nil {
		s.dispatcher.SetCompositorObserver(nil)
	}
}

// ScheduleForcedComposition requests a composite after d. The readiness
// gate of the compose func holds composites back while it is pending. A
// previously scheduled forced composition is replaced.
func (s *Scheduler) ScheduleForcedComposition(d time.Duration) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.forceTask != nil {
		s.forceTask.Cancel()
	}
	var task *taskloop.Task
	task = s.loop.PostDelayed(d, func() {
		s.taskMu.Lock()
		if s.forceTask == task {
			s.forceTask = nil
		}
		s.taskMu.Unlock()
		s.ScheduleComposition()
	})
	s.forceTask = task
}

// ForcedCompositionPending reports whether a forced composition is waiting.
func (s *Scheduler) ForcedCompositionPending() bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return s.forceTask != nil
}

// CancelForcedComposition cancels a waiting forced composition.
func (s *Scheduler) CancelForcedComposition() bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.forceTask == nil {
		return false
	}
	s.forceTask.Cancel()
	s.forceTask = nil
	return true
}

// CancelCurrentCompositeTask cancels the pending composite and pending
// needs-composite update.
func (s *Scheduler) CancelCurrentCompositeTask() {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.compositeTask != nil {
		s.compositeTask.Cancel()
		s.compositeTask = nil
	}
	if s.needsTask != nil {
		s.needsTask.Cancel()
		s.needsTask = nil
	}
	s.needsQueued = 0
}

// Destroy unsubscribes from vsync and cancels every pending task. It must
// run on the compositor thread before the owning pipeline is torn down.
func (s *Scheduler) Destroy() {
	s.assertOnLoop("Destroy")
	s.UnobserveVsync()
	s.CancelCurrentCompositeTask()
	s.CancelForcedComposition()
	s.destroyed = true
	s.destroyedFlag.Store(true)
}

// NeedsComposite returns the number of composite requests since the last
// composite. Safe from any goroutine.
func (s *Scheduler) NeedsComposite() int {
	return int(s.needsSnapshot.Load())
}

// Observing reports whether the scheduler observes vsync. Safe from any
// goroutine.
func (s *Scheduler) Observing() bool {
	return s.observingFlag.Load()
}

// SkippedCount returns the consecutive idle ticks. Safe from any goroutine.
func (s *Scheduler) SkippedCount() int {
	return int(s.skippedSnapshot.Load())
}

// LastComposeTime returns the timestamp of the last composite. Compositor
// thread only.
func (s *Scheduler) LastComposeTime() time.Time {
	s.assertOnLoop("LastComposeTime")
	return s.lastCompose
}

// Destroyed reports whether Destroy was called.
func (s *Scheduler) Destroyed() bool {
	return s.destroyedFlag.Load()
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Ensure Scheduler observes vsync.
var _ Observer = (*Scheduler)(nil)
