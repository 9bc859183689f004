package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nexd/internal/fault"
)

// Executor is the minimal surface a Task needs to run continuations. The
// scheduler satisfies it; tests can use Inline.
type Executor interface {
	Submit(fn func()) error
}

// Inline runs continuations on the completing goroutine. Intended for tests
// and for tasks created outside a scheduler.
type Inline struct{}

func (Inline) Submit(fn func()) error { fn(); return nil }

// Task is an owned handle to a deferred computation yielding a Result.
// A Task is in exactly one of three states: pending, ready-with-value, or
// ready-with-error; once ready it never transitions back. Dropping all handles
// detaches in-flight work rather than aborting it.
type Task[T any] struct {
	id   string
	exec Executor

	done     chan struct{}
	complete sync.Once
	res      Result[T]

	mu    sync.Mutex
	conts []func(Result[T])
}

// New returns a pending Task and the completion function that resolves it.
// Completing twice is a no-op on the second call: the first Result wins, and
// "ready never returns to pending" holds by construction.
func New[T any](exec Executor, id string) (*Task[T], func(Result[T])) {
	if exec == nil {
		exec = Inline{}
	}
	t := &Task[T]{id: id, exec: exec, done: make(chan struct{})}
	return t, t.fulfill
}

// Completed returns a Task that is already resolved with r.
func Completed[T any](r Result[T]) *Task[T] {
	t := &Task[T]{exec: Inline{}, done: make(chan struct{})}
	t.fulfill(r)
	return t
}

// ID returns the task id assigned at submission.
func (t *Task[T]) ID() string { return t.id }

// IsReady reports completion without blocking.
func (t *Task[T]) IsReady() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Get blocks until the task is ready and returns the value or carried error.
// Cancelling ctx abandons the wait; the underlying work keeps running.
func (t *Task[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.res.Unwrap()
	case <-ctx.Done():
		var zero T
		return zero, fault.Wrap(fault.Timeout, "wait abandoned", ctx.Err())
	}
}

// TryGet returns the Result if ready.
func (t *Task[T]) TryGet() (Result[T], bool) {
	if !t.IsReady() {
		return Result[T]{}, false
	}
	return t.res, true
}

func (t *Task[T]) fulfill(r Result[T]) {
	t.complete.Do(func() {
		t.res = r
		close(t.done)
		t.mu.Lock()
		conts := t.conts
		t.conts = nil
		t.mu.Unlock()
		for _, c := range conts {
			c := c
			if err := t.exec.Submit(func() { c(r) }); err != nil {
				// Executor refused (shutdown); run inline so no continuation
				// is silently dropped.
				c(r)
			}
		}
	})
}

// onReady registers fn to run on the executor once the task completes. If the
// task is already ready, fn is submitted immediately.
func (t *Task[T]) onReady(fn func(Result[T])) {
	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		r := t.res
		if err := t.exec.Submit(func() { fn(r) }); err != nil {
			fn(r)
		}
		return
	default:
	}
	t.conts = append(t.conts, fn)
	t.mu.Unlock()
}

// Then chains a continuation that runs on the executor once t completes,
// returning a new Task wrapping the continuation's result. The continuation
// sees the full Result so it can recover from errors as well as transform
// values.
func Then[T, U any](t *Task[T], f func(Result[T]) Result[U]) *Task[U] {
	next, resolve := New[U](t.exec, t.id)
	t.onReady(func(r Result[T]) { resolve(f(r)) })
	return next
}

// Maybe is an optional value: Ok is false when the deadline elapsed first.
type Maybe[T any] struct {
	Value T
	Ok    bool
}

// WithTimeout returns a Task resolving to an empty Maybe if t has not
// completed within d. The inner task is not cancelled, only abandoned by the
// waiter.
func WithTimeout[T any](t *Task[T], d time.Duration) *Task[Maybe[T]] {
	next, resolve := New[Maybe[T]](t.exec, t.id)
	var won atomic.Bool
	timer := time.AfterFunc(d, func() {
		if won.CompareAndSwap(false, true) {
			resolve(Ok(Maybe[T]{}))
		}
	})
	t.onReady(func(r Result[T]) {
		if !won.CompareAndSwap(false, true) {
			return
		}
		timer.Stop()
		if r.IsOk() {
			v, _ := r.Value()
			resolve(Ok(Maybe[T]{Value: v, Ok: true}))
			return
		}
		resolve(ErrFrom[Maybe[T]](r.Err()))
	})
	return next
}
