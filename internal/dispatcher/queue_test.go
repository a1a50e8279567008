package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q, err := New("test", 16, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})
	return q
}

func TestTasksRunInOrder(t *testing.T) {
	q := newQueue(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		if !q.TryEnqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatalf("TryEnqueue %d failed", i)
		}
	}

	if err := q.Invoke(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if len(got) != 10 {
		t.Fatalf("ran %d tasks, want 10", len(got))
	}
}

func TestInvokeReturnsError(t *testing.T) {
	q := newQueue(t)
	want := errors.New("window class registration failed")
	if err := q.Invoke(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("Invoke error = %v, want %v", err, want)
	}
}

func TestCallReturnsValue(t *testing.T) {
	q := newQueue(t)
	v, err := Call(context.Background(), q, func() (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("Call = %d, %v", v, err)
	}
}

func TestInvokePanicBecomesError(t *testing.T) {
	q := newQueue(t)
	err := q.Invoke(context.Background(), func() error { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected panic error, got %v", err)
	}

	// Queue keeps working afterwards.
	if err := q.Invoke(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Invoke after panic: %v", err)
	}
}

func TestTasksShareOneThread(t *testing.T) {
	q := newQueue(t)

	var running atomic.Int32
	var overlap atomic.Bool
	for i := 0; i < 20; i++ {
		q.TryEnqueue(func() {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	_ = q.Invoke(context.Background(), func() error { return nil })

	if overlap.Load() {
		t.Fatal("tasks overlapped; queue must be single-threaded")
	}
}

func TestInvokeAfterShutdown(t *testing.T) {
	q, err := New("stopped", 1)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	if q.TryEnqueue(func() {}) {
		t.Fatal("TryEnqueue after Shutdown should return false")
	}
	if err := q.Invoke(context.Background(), func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("Invoke after Shutdown = %v, want ErrStopped", err)
	}
	if q.Context().Err() == nil {
		t.Fatal("queue context should be cancelled after Shutdown")
	}
}

func TestQueueFullReturnsFalse(t *testing.T) {
	q, err := New("full", 1)
	if err != nil {
		t.Fatal(err)
	}
	blocker := make(chan struct{})
	started := make(chan struct{})
	q.TryEnqueue(func() {
		close(started)
		<-blocker
	})
	<-started
	q.TryEnqueue(func() {})

	if q.TryEnqueue(func() {}) {
		t.Fatal("TryEnqueue should return false when queue is full")
	}

	close(blocker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)
}

func TestInvokeRespectsContext(t *testing.T) {
	q := newQueue(t)
	blocker := make(chan struct{})
	defer close(blocker)
	q.TryEnqueue(func() { <-blocker })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Invoke(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Invoke = %v, want deadline exceeded", err)
	}
}

func TestThreadInitFailure(t *testing.T) {
	want := errors.New("RoInitialize failed")
	if _, err := New("init", 1, WithThreadInit(func() error { return want })); !errors.Is(err, want) {
		t.Fatalf("New error = %v, want %v", err, want)
	}
}

func TestIdleHookAndThreadExit(t *testing.T) {
	var idles atomic.Int32
	exited := make(chan struct{})
	q, err := New("idle", 1,
		WithIdle(func() { idles.Add(1) }, time.Millisecond),
		WithThreadExit(func() { close(exited) }),
	)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for idles.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if idles.Load() == 0 {
		t.Fatal("idle hook never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("thread exit hook did not run")
	}
}
