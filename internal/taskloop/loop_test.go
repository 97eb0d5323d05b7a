package taskloop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Ordering
// =============================================================================

func TestLoop_FIFO(t *testing.T) {
	l := New("test")
	defer l.Close()

	var mu sync.Mutex
	var got []int
	for i := range 50 {
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestLoop_IsCurrent(t *testing.T) {
	l := New("test")
	defer l.Close()

	if l.IsCurrent() {
		t.Error("IsCurrent() = true on test goroutine")
	}
	var onLoop atomic.Bool
	if err := l.RunSync(func() { onLoop.Store(l.IsCurrent()) }); err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if !onLoop.Load() {
		t.Error("IsCurrent() = false inside a task")
	}
}

// =============================================================================
// Cancellation
// =============================================================================

func TestTask_CancelQueued(t *testing.T) {
	l := New("test")
	defer l.Close()

	block := make(chan struct{})
	l.Post(func() { <-block })

	var ran atomic.Bool
	task := l.Post(func() { ran.Store(true) })
	if !task.Cancel() {
		t.Error("Cancel() = false for queued task")
	}
	if task.Cancel() {
		t.Error("second Cancel() = true")
	}
	close(block)
	l.Flush()

	if ran.Load() {
		t.Error("canceled task ran")
	}
}

func TestTask_CancelAfterRun(t *testing.T) {
	l := New("test")
	defer l.Close()

	task := l.Post(func() {})
	l.Flush()
	if task.Cancel() {
		t.Error("Cancel() = true after the task ran")
	}
	if task.Pending() {
		t.Error("Pending() = true after the task ran")
	}
}

func TestTask_Canceled(t *testing.T) {
	l := New("test")

	block := make(chan struct{})
	started := make(chan struct{})
	running := l.Post(func() {
		close(started)
		<-block
	})
	<-started
	queued := l.Post(func() {})
	explicit := l.Post(func() {})
	explicit.Cancel()

	if running.Canceled() {
		t.Error("Canceled() = true for a running task")
	}
	if queued.Canceled() {
		t.Error("Canceled() = true for a queued task")
	}
	if !explicit.Canceled() {
		t.Error("Canceled() = false after Cancel")
	}

	closed := make(chan struct{})
	go func() {
		_ = l.Close()
		close(closed)
	}()
	time.Sleep(10 * time.Millisecond)
	close(block)
	<-closed

	if !queued.Canceled() {
		t.Error("queued task not canceled by Close")
	}
	if !l.Post(func() {}).Canceled() {
		t.Error("Post() after Close returned a task that is not canceled")
	}
	var nilTask *Task
	if !nilTask.Canceled() {
		t.Error("nil task not reported as canceled")
	}
}

func TestLoop_PostDelayed(t *testing.T) {
	l := New("test")
	defer l.Close()

	done := make(chan time.Time, 1)
	start := time.Now()
	l.PostDelayed(20*time.Millisecond, func() { done <- time.Now() })

	select {
	case at := <-done:
		if at.Sub(start) < 20*time.Millisecond {
			t.Errorf("delayed task ran after %v, want >= 20ms", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestLoop_PostDelayedCancel(t *testing.T) {
	l := New("test")
	defer l.Close()

	var ran atomic.Bool
	task := l.PostDelayed(10*time.Millisecond, func() { ran.Store(true) })
	if !task.Cancel() {
		t.Fatal("Cancel() = false for delayed task")
	}
	time.Sleep(30 * time.Millisecond)
	l.Flush()
	if ran.Load() {
		t.Error("canceled delayed task ran")
	}
}

// =============================================================================
// Panics and shutdown
// =============================================================================

func TestLoop_PanicRecovered(t *testing.T) {
	var recovered atomic.Value
	l := New("test", WithPanicHandler(func(r any) { recovered.Store(r) }))
	defer l.Close()

	l.Post(func() { panic("boom") })
	var after atomic.Bool
	l.Post(func() { after.Store(true) })
	l.Flush()

	if recovered.Load() != "boom" {
		t.Errorf("panic handler got %v, want boom", recovered.Load())
	}
	if !after.Load() {
		t.Error("loop stopped after a panic")
	}
}

func TestLoop_RunSyncOnLoopPanics(t *testing.T) {
	l := New("test")
	defer l.Close()

	var msg atomic.Value
	l.Post(func() {
		defer func() { msg.Store(recover()) }()
		_ = l.RunSync(func() {})
	})
	l.Flush()
	if msg.Load() == nil {
		t.Error("RunSync on the loop did not panic")
	}
}

func TestLoop_Close(t *testing.T) {
	l := New("test")

	block := make(chan struct{})
	l.Post(func() { <-block })
	queued := l.Post(func() {})

	closed := make(chan struct{})
	go func() {
		_ = l.Close()
		close(closed)
	}()
	time.Sleep(10 * time.Millisecond)
	close(block)
	<-closed

	if queued.Pending() {
		t.Error("queued task still pending after Close")
	}
	if err := l.RunSync(func() {}); err != ErrLoopClosed {
		t.Errorf("RunSync() after Close = %v, want %v", err, ErrLoopClosed)
	}
	if task := l.Post(func() {}); task.Pending() {
		t.Error("Post() after Close returned a pending task")
	}
	if err := l.Close(); err != ErrLoopClosed {
		t.Errorf("second Close() = %v, want %v", err, ErrLoopClosed)
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}
