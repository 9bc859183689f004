// Package task provides the async vocabulary the rest of the core speaks:
// Result (an explicit value-or-error sum) and Task (an owned handle to
// deferred work). Neither type panics on misuse; errors carry fault codes.
package task

import (
	"nexd/internal/fault"
)

// Result holds exactly a value or an error, never both. The zero Result is an
// error Result with an InvalidState fault, so forgetting to initialize one is
// detectable rather than silently a zero value.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok wraps a value in a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{val: v, ok: true} }

// Err constructs an error Result from a code and message.
func Err[T any](code fault.Code, msg string) Result[T] {
	return Result[T]{err: fault.New(code, msg)}
}

// ErrFrom constructs an error Result from an existing error. A nil error is
// coerced to an Internal fault: a Result must hold exactly one of the two.
func ErrFrom[T any](err error) Result[T] {
	if err == nil {
		err = fault.New(fault.Internal, "error result built from nil error")
	}
	return Result[T]{err: err}
}

// IsOk reports whether the Result holds a value.
func (r Result[T]) IsOk() bool { return r.ok }

// Value returns the held value. Calling it on an error Result fails with an
// InvalidState fault wrapping the original error.
func (r Result[T]) Value() (T, error) {
	if r.ok {
		return r.val, nil
	}
	var zero T
	return zero, fault.Wrap(fault.InvalidState, "value of error result", r.resErr())
}

// Err returns the held error, or nil for a value Result.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	return r.resErr()
}

// Unwrap splits the Result into Go's conventional (value, error) pair.
func (r Result[T]) Unwrap() (T, error) {
	if r.ok {
		return r.val, nil
	}
	var zero T
	return zero, r.resErr()
}

func (r Result[T]) resErr() error {
	if r.err != nil {
		return r.err
	}
	// Zero Result: neither value nor error was ever set.
	return fault.New(fault.InvalidState, "uninitialized result")
}

// Map transforms the value of a successful Result; an error Result passes
// through unchanged (short-circuit).
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if !r.ok {
		return Result[U]{err: r.resErr()}
	}
	return Ok(f(r.val))
}

// AndThen chains a fallible transformation; links after the first error never
// run.
func AndThen[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	if !r.ok {
		return Result[U]{err: r.resErr()}
	}
	return f(r.val)
}

// OrElse recovers an error Result; a value Result passes through unchanged.
func OrElse[T any](r Result[T], f func(error) Result[T]) Result[T] {
	if r.ok {
		return r
	}
	return f(r.resErr())
}
