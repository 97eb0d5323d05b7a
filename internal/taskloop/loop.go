// Package taskloop provides the single-goroutine run loop used as the
// compositor thread.
//
// Tasks are executed strictly in FIFO order of posting. Delayed tasks join
// the queue when their delay expires. Every posted task returns a *Task
// handle that can be canceled until the moment it starts running.
package taskloop

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLoopClosed is returned by operations on a closed loop.
var ErrLoopClosed = errors.New("taskloop: loop closed")

// Task states.
const (
	taskPending int32 = iota
	taskRunning
	taskCanceled
)

// Task is a handle to a posted unit of work.
type Task struct {
	fn    func()
	state atomic.Int32
	timer *time.Timer
}

// Cancel prevents the task from running. It returns false if the task has
// already started or was canceled before.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	if !t.state.CompareAndSwap(taskPending, taskCanceled) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

// Pending reports whether the task is still waiting to run.
func (t *Task) Pending() bool {
	return t != nil && t.state.Load() == taskPending
}

// Canceled reports whether the task was canceled, either explicitly or
// because its loop closed before it ran.
func (t *Task) Canceled() bool {
	return t == nil || t.state.Load() == taskCanceled
}

// canceledTask returns a handle that will never run.
func canceledTask() *Task {
	t := &Task{}
	t.state.Store(taskCanceled)
	return t
}

// Option configures a Loop.
type Option func(*Loop)

// WithPanicHandler sets the function called with the recovered value when a
// task panics. The loop keeps running after a panic.
func WithPanicHandler(fn func(any)) Option {
	return func(l *Loop) {
		l.onPanic = fn
	}
}

// WithLogger sets the loop logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loop) {
		l.SetLogger(lg)
	}
}

// Loop runs posted tasks one at a time on a dedicated goroutine.
//
// Thread safety: Post, PostDelayed, Flush, RunSync and Close are safe for
// concurrent use.
type Loop struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Task
	closed bool

	// gid is the goroutine id of the loop goroutine.
	gid atomic.Uint64

	// done is closed when the loop goroutine exits.
	done chan struct{}

	onPanic func(any)
	logger  atomic.Pointer[slog.Logger]
}

// New starts a loop named name.
func New(name string, opts ...Option) *Loop {
	l := &Loop{
		name: name,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	l.logger.Store(slog.New(discardHandler{}))
	for _, opt := range opts {
		opt(l)
	}

	started := make(chan struct{})
	go l.run(started)
	<-started
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string {
	return l.name
}

// SetLogger replaces the loop logger. Nil restores the silent logger.
func (l *Loop) SetLogger(lg *slog.Logger) {
	if lg == nil {
		lg = slog.New(discardHandler{})
	}
	l.logger.Store(lg)
}

func (l *Loop) run(started chan<- struct{}) {
	defer close(l.done)
	l.gid.Store(goroutineID())
	close(started)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			for _, t := range l.queue {
				t.Cancel()
			}
			l.queue = nil
			l.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if t.state.CompareAndSwap(taskPending, taskRunning) {
			l.execute(t.fn)
		}
	}
}

// execute runs fn and recovers a panic.
func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Load().Error("taskloop: task panicked", "loop", l.name, "panic", r)
			if l.onPanic != nil {
				l.onPanic(r)
			}
		}
	}()
	fn()
}

// enqueue appends t to the queue. It reports false if the loop is closed.
func (l *Loop) enqueue(t *Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, t)
	l.cond.Signal()
	return true
}

// Post queues fn to run on the loop. On a closed loop the returned task is
// already canceled.
func (l *Loop) Post(fn func()) *Task {
	t := &Task{fn: fn}
	if !l.enqueue(t) {
		l.logger.Load().Debug("taskloop: post after close", "loop", l.name)
		return canceledTask()
	}
	return t
}

// PostDelayed queues fn to run on the loop once d has elapsed.
func (l *Loop) PostDelayed(d time.Duration, fn func()) *Task {
	if d <= 0 {
		return l.Post(fn)
	}
	if l.Closed() {
		return canceledTask()
	}
	t := &Task{fn: fn}
	t.timer = time.AfterFunc(d, func() {
		if t.Pending() && !l.enqueue(t) {
			t.Cancel()
		}
	})
	return t
}

// IsCurrent reports whether the caller is running on the loop goroutine.
func (l *Loop) IsCurrent() bool {
	return goroutineID() == l.gid.Load()
}

// RunSync runs fn on the loop and waits for it to return.
// Calling RunSync from the loop itself would deadlock and panics instead.
func (l *Loop) RunSync(fn func()) error {
	if l.IsCurrent() {
		panic("taskloop: RunSync called on the loop goroutine")
	}
	ran := make(chan struct{})
	t := &Task{fn: func() {
		defer close(ran)
		fn()
	}}
	if !l.enqueue(t) {
		return ErrLoopClosed
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrLoopClosed
		}
	}
}

// Flush waits until every task posted before the call has run.
func (l *Loop) Flush() {
	_ = l.RunSync(func() {})
}

// Wait blocks until the loop goroutine exits or ctx is done.
func (l *Loop) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops the loop. Queued tasks that have not started are canceled.
// Close waits for the running task to finish unless it is called from the
// loop itself.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()

	if !l.IsCurrent() {
		<-l.done
	}
	return nil
}

// goroutineID parses the current goroutine id from the stack header
// "goroutine NNN [".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
