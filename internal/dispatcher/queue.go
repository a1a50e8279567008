// Package dispatcher runs tasks in order on a single goroutine that is
// locked to one OS thread. Windows and compositor objects with thread
// affinity are created and mutated only from inside a Queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/wgctest/internal/logging"
)

var log = logging.L("dispatcher")

var (
	ErrStopped   = errors.New("dispatcher: queue stopped")
	ErrQueueFull = errors.New("dispatcher: queue full")
)

// Task is a unit of work posted to the queue.
type Task func()

// Queue is a single-threaded, ordered task queue.
type Queue struct {
	name      string
	queue     chan Task
	accepting atomic.Bool
	stopOnce  sync.Once
	stopChan  chan struct{}
	exited    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	threadInit func() error
	threadExit func()
	idle       func()
	idleEvery  time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithThreadInit runs fn on the locked thread before any task. If fn
// fails the queue never accepts work.
func WithThreadInit(fn func() error) Option {
	return func(q *Queue) { q.threadInit = fn }
}

// WithThreadExit runs fn on the locked thread after the last task.
func WithThreadExit(fn func()) Option {
	return func(q *Queue) { q.threadExit = fn }
}

// WithIdle runs fn on the locked thread whenever no task arrived within
// every. Used to pump the Win32 message queue of windows owned by the thread.
func WithIdle(fn func(), every time.Duration) Option {
	return func(q *Queue) {
		q.idle = fn
		q.idleEvery = every
	}
}

// New starts a queue. It returns once the thread is initialized.
func New(name string, queueSize int, opts ...Option) (*Queue, error) {
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:      name,
		queue:     make(chan Task, queueSize),
		stopChan:  make(chan struct{}),
		exited:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		idleEvery: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(q)
	}

	ready := make(chan error, 1)
	go q.run(ready)
	if err := <-ready; err != nil {
		cancel()
		return nil, fmt.Errorf("dispatcher %s: thread init: %w", name, err)
	}
	q.accepting.Store(true)

	log.Debug("dispatcher started", "name", name, "queueSize", queueSize)
	return q, nil
}

// TryEnqueue posts a task without waiting. It returns false if the queue
// is stopped or full.
func (q *Queue) TryEnqueue(task Task) bool {
	if !q.accepting.Load() {
		return false
	}

	select {
	case q.queue <- task:
		return true
	default:
		log.Warn("dispatcher queue full, task rejected", "name", q.name)
		return false
	}
}

// Invoke posts fn and waits for it to finish. A panic in fn is returned as
// an error. Calling Invoke from a task on the same queue deadlocks.
func (q *Queue) Invoke(ctx context.Context, fn func() error) error {
	if !q.accepting.Load() {
		return ErrStopped
	}

	result := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("dispatcher %s: task panicked: %v", q.name, r)
			}
		}()
		result <- fn()
	}

	select {
	case q.queue <- task:
	case <-q.stopChan:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-q.exited:
		// The worker may have run the task just before exiting.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call is Invoke for functions that produce a value.
func Call[T any](ctx context.Context, q *Queue, fn func() (T, error)) (T, error) {
	var out T
	err := q.Invoke(ctx, func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}

// Context is cancelled once Shutdown begins.
func (q *Queue) Context() context.Context {
	return q.ctx
}

// Shutdown stops accepting tasks, runs what is already queued and waits
// for the thread to exit, respecting the context deadline.
func (q *Queue) Shutdown(ctx context.Context) {
	q.accepting.Store(false)
	q.stopOnce.Do(func() {
		q.cancel()
		close(q.stopChan)
	})

	select {
	case <-q.exited:
		log.Debug("dispatcher stopped", "name", q.name)
	case <-ctx.Done():
		log.Warn("dispatcher shutdown timed out", "name", q.name)
	}
}

func (q *Queue) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(q.exited)

	if q.threadInit != nil {
		if err := q.threadInit(); err != nil {
			ready <- err
			return
		}
	}
	if q.threadExit != nil {
		defer q.threadExit()
	}
	ready <- nil

	var tick <-chan time.Time
	if q.idle != nil {
		t := time.NewTicker(q.idleEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case task := <-q.queue:
			q.runTask(task)
		case <-tick:
			q.runIdle()
		case <-q.stopChan:
			q.drain()
			return
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case task := <-q.queue:
			q.runTask(task)
		default:
			if q.idle != nil {
				q.runIdle()
			}
			return
		}
	}
}

// runTask executes a single task with panic recovery.
func (q *Queue) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "name", q.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}

func (q *Queue) runIdle() {
	defer func() {
		if r := recover(); r != nil {
			log.Error("idle hook panicked", "name", q.name, "panic", r)
		}
	}()
	q.idle()
}
