// Package fault defines the error taxonomy shared by the orchestration core.
// Every error that crosses a package boundary carries a Code and a message so
// callers can map it (to an HTTP status, a log line, a retry decision) without
// string matching. Helpers follow the Is* predicate convention.
package fault

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	// InvalidArgument marks a malformed request.
	InvalidArgument Code = "invalid_argument"
	// ResourceExhausted marks a pool, cache, or limiter at capacity with no
	// evictable entry.
	ResourceExhausted Code = "resource_exhausted"
	// NoRouteAvailable marks a routing decision with no available provider.
	NoRouteAvailable Code = "no_route_available"
	// ProviderError wraps a backend-specific failure.
	ProviderError Code = "provider_error"
	// Timeout marks a waiter-abandoned deadline, not necessarily a backend failure.
	Timeout Code = "timeout"
	// ServiceUnavailable marks submission after shutdown or a draining component.
	ServiceUnavailable Code = "service_unavailable"
	// InvalidState marks misuse of a value (e.g. reading Value of an error Result).
	InvalidState Code = "invalid_state"
	// Internal marks an invariant violation; should not occur in correct operation.
	Internal Code = "internal"
)

// Fault is the concrete error type carrying a code, message, and optional cause.
type Fault struct {
	Code Code
	Msg  string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return f.Msg + ": " + f.Err.Error()
	}
	return f.Msg
}

func (f *Fault) Unwrap() error { return f.Err }

// Is matches another *Fault by code, so errors.Is(err, &Fault{Code: c}) works.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return t.Code == f.Code
}

// New constructs a Fault with a code and message.
func New(code Code, msg string) error { return &Fault{Code: code, Msg: msg} }

// Newf constructs a Fault with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Fault{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// original message for the caller to render or log. Wrapping nil returns nil.
func Wrap(code Code, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Code: code, Msg: msg, Err: err}
}

// CodeOf returns the code carried by err, or Internal when err carries none.
// A nil error has no code; callers should not ask.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return Internal
}

func is(err error, code Code) bool {
	// errors.Is walks the whole chain and defers to Fault.Is at every link,
	// so a fault wrapping another fault matches on either code. errors.As
	// would stop at the outermost Fault.
	return errors.Is(err, &Fault{Code: code})
}

// IsInvalidArgument reports whether err is a malformed-request error.
func IsInvalidArgument(err error) bool { return is(err, InvalidArgument) }

// IsResourceExhausted reports whether err indicates capacity pressure
// (return 429).
func IsResourceExhausted(err error) bool { return is(err, ResourceExhausted) }

// IsNoRouteAvailable reports whether routing found no available provider.
func IsNoRouteAvailable(err error) bool { return is(err, NoRouteAvailable) }

// IsProviderError reports whether err wraps a backend failure.
func IsProviderError(err error) bool { return is(err, ProviderError) }

// IsTimeout reports whether err is a waiter-abandoned deadline.
func IsTimeout(err error) bool { return is(err, Timeout) }

// IsServiceUnavailable reports whether err indicates a stopped or draining
// component (return 503).
func IsServiceUnavailable(err error) bool { return is(err, ServiceUnavailable) }

// IsInvalidState reports whether err marks misuse of a value.
func IsInvalidState(err error) bool { return is(err, InvalidState) }

// IsInternal reports whether err is an invariant violation.
func IsInternal(err error) bool { return is(err, Internal) }
