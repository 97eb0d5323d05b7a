// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package vsync

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSourceClosed is returned when a closed source is used.
var ErrSourceClosed = errors.New("vsync: source closed")

// Clock reports the current time. Schedulers use it for clamping and for
// the timestamps of asap and forced composites.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Observer receives vsync ticks on the vsync-delivery goroutine.
type Observer interface {
	// NotifyVsync handles one tick. It reports whether the tick was used.
	NotifyVsync(timestamp time.Time) bool
}

// Dispatcher delivers vsync ticks to at most one compositor observer.
type Dispatcher interface {
	// SetCompositorObserver attaches obs; nil detaches the current one.
	SetCompositorObserver(obs Observer)
}

// observerBox lets an interface value live in an atomic.Pointer.
type observerBox struct{ obs Observer }

// TimerSource is a Dispatcher that produces ticks from a timer on its own
// goroutine. Ticks are only delivered while an observer is attached.
type TimerSource struct {
	interval time.Duration
	observer atomic.Pointer[observerBox]

	ticks atomic.Uint64

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewTimerSource starts a source ticking every interval. A non-positive
// interval uses 60Hz.
func NewTimerSource(interval time.Duration) *TimerSource {
	if interval <= 0 {
		interval = time.Second / 60
	}
	s := &TimerSource{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *TimerSource) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case t := <-ticker.C:
			if box := s.observer.Load(); box != nil {
				s.ticks.Add(1)
				box.obs.NotifyVsync(t)
			}
		}
	}
}

// SetCompositorObserver attaches obs. Nil detaches.
func (s *TimerSource) SetCompositorObserver(obs Observer) {
	if obs == nil {
		s.observer.Store(nil)
		return
	}
	s.observer.Store(&observerBox{obs: obs})
}

// Observed reports whether an observer is attached.
func (s *TimerSource) Observed() bool {
	return s.observer.Load() != nil
}

// Interval returns the tick interval.
func (s *TimerSource) Interval() time.Duration {
	return s.interval
}

// Delivered returns the number of ticks handed to observers.
func (s *TimerSource) Delivered() uint64 {
	return s.ticks.Load()
}

// Close stops the source and waits for its goroutine to exit.
func (s *TimerSource) Close() error {
	err := ErrSourceClosed
	s.closeOnce.Do(func() {
		close(s.stop)
		err = nil
	})
	<-s.done
	return err
}
