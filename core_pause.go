package compositor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/compositor/internal/taskloop"
)

// rendezvous lets a goroutine wait until an operation it posted to the
// compositor thread has run. Together with calls that wait on RunSync it
// is the only place a caller blocks on the compositor thread.
type rendezvous struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func (r *rendezvous) init() {
	r.cond = sync.NewCond(&r.mu)
}

// run posts op and waits until it has run. It returns ErrHostClosed if the
// loop dropped the task and ErrAborted if op panicked.
func (r *rendezvous) run(loop *taskloop.Loop, op func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var done, completed bool
	task := loop.Post(func() {
		defer func() {
			r.mu.Lock()
			done = true
			r.cond.Broadcast()
			r.mu.Unlock()
		}()
		op()
		completed = true
	})
	for !done && !task.Canceled() {
		r.cond.Wait()
	}
	switch {
	case !done:
		return ErrHostClosed
	case !completed:
		return ErrAborted
	}
	return nil
}

// resumeResult maps the outcome of a synchronous resume to an error.
func resumeResult(err error, resumed bool) error {
	switch {
	case errors.Is(err, ErrAborted):
		return fmt.Errorf("%w: %w", ErrResumeFailed, err)
	case err != nil:
		return err
	case !resumed:
		return ErrResumeFailed
	}
	return nil
}

// wake rechecks every waiter, which lets waiters of dropped tasks return.
func (r *rendezvous) wake() {
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (c *Core) wakeWaiters() {
	c.pauseRV.wake()
	c.resumeRV.wake()
}

// PauseComposition stops composition and releases the backend surface.
// A pending transaction is acknowledged right away so senders do not wait
// for a frame that will not come. Compositor thread only.
func (c *Core) PauseComposition() {
	c.host.assertCompositorThread("PauseComposition")
	if c.paused.Load() {
		return
	}
	c.paused.Store(true)
	if !c.destroyed {
		c.backend.Pause()
	}
	now := c.now()
	c.didComposite(now, now)
	Logger().Debug("compositor: paused", "compositor", c.rootID)
}

// ResumeComposition reacquires the backend surface and composes. If the
// surface is not available the core stays paused and false is returned;
// the next explicit resume tries again. Compositor thread only.
func (c *Core) ResumeComposition() bool {
	c.host.assertCompositorThread("ResumeComposition")
	if c.stopping {
		return false
	}
	if !c.backend.Resume() {
		Logger().Warn("compositor: unable to renew surface, staying paused", "compositor", c.rootID)
		return false
	}
	c.paused.Store(false)
	c.scheduler.ResumeComposition()
	return true
}

// ResumeCompositionAndResize sets the surface size and resumes.
// Compositor thread only.
func (c *Core) ResumeCompositionAndResize(width, height int) bool {
	c.host.assertCompositorThread("ResumeCompositionAndResize")
	if !c.destroyed {
		c.backend.SetSurfaceSize(width, height)
	}
	return c.ResumeComposition()
}

func (c *Core) assertNotCompositorThread(op string) {
	if c.host.loop.IsCurrent() {
		panic("compositor: " + op + " called on the compositor thread")
	}
}

// SchedulePauseOnCompositorThread pauses composition and returns once the
// pause has taken effect.
func (c *Core) SchedulePauseOnCompositorThread() error {
	c.assertNotCompositorThread("SchedulePauseOnCompositorThread")
	return c.pauseRV.run(c.host.loop, c.PauseComposition)
}

// ScheduleResumeOnCompositorThread resumes composition and returns once the
// attempt has finished. It returns ErrResumeFailed if the core is still
// paused, wrapping ErrAborted if the backend panicked.
func (c *Core) ScheduleResumeOnCompositorThread() error {
	c.assertNotCompositorThread("ScheduleResumeOnCompositorThread")
	var resumed bool
	err := c.resumeRV.run(c.host.loop, func() { resumed = c.ResumeComposition() })
	return resumeResult(err, resumed)
}

// ScheduleResumeAndResizeOnCompositorThread is
// ScheduleResumeOnCompositorThread with a new surface size.
func (c *Core) ScheduleResumeAndResizeOnCompositorThread(width, height int) error {
	c.assertNotCompositorThread("ScheduleResumeAndResizeOnCompositorThread")
	var resumed bool
	err := c.resumeRV.run(c.host.loop, func() { resumed = c.ResumeCompositionAndResize(width, height) })
	return resumeResult(err, resumed)
}
