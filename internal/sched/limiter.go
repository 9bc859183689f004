package sched

import (
	"container/list"
	"context"
	"sync"
	"time"

	"nexd/internal/fault"
)

// Limiter is a counting semaphore bounding in-flight use of one resource
// class (cpu slot, gpu slot, model slot). Exhausted acquires park on a FIFO
// wait queue and are resumed in arrival order; no priority inversion
// protection is provided. Release pairing is enforced by handing callers a
// release func guarded by sync.Once, so a permit is returned exactly once on
// every exit path.
type Limiter struct {
	mu      sync.Mutex
	max     int
	inUse   int
	waiters *list.List // of chan struct{}, buffered size 1
}

// NewLimiter returns a limiter with max permits. max < 1 is clamped to 1.
func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{max: max, waiters: list.New()}
}

// Acquire obtains a permit, parking the caller in FIFO order when none is
// free. The returned release func must be called (usually deferred) and is
// idempotent. Cancelling ctx abandons the wait with a Timeout fault.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if l.inUse < l.max && l.waiters.Len() == 0 {
		l.inUse++
		l.mu.Unlock()
		return l.releaseFunc(), nil
	}
	ch := make(chan struct{}, 1)
	elem := l.waiters.PushBack(ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return l.releaseFunc(), nil
	case <-ctx.Done():
		l.mu.Lock()
		l.waiters.Remove(elem)
		// The grant may have raced the cancellation; if it did, the permit
		// is ours to pass on.
		select {
		case <-ch:
			l.handoffLocked()
		default:
		}
		l.mu.Unlock()
		return nil, fault.Wrap(fault.Timeout, "permit wait abandoned", ctx.Err())
	}
}

// AcquireTimeout is Acquire with a deadline instead of a caller context.
func (l *Limiter) AcquireTimeout(d time.Duration) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.Acquire(ctx)
}

// TryAcquire obtains a permit only if one is free right now.
func (l *Limiter) TryAcquire() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inUse < l.max && l.waiters.Len() == 0 {
		l.inUse++
		return l.releaseFunc(), true
	}
	return nil, false
}

func (l *Limiter) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.handoffLocked()
			l.mu.Unlock()
		})
	}
}

// handoffLocked passes the freed permit to the oldest waiter, or returns it
// to the pool when nobody is parked. Handoff keeps inUse unchanged: the
// permit moves directly from releaser to waiter.
func (l *Limiter) handoffLocked() {
	if front := l.waiters.Front(); front != nil {
		ch := l.waiters.Remove(front).(chan struct{})
		ch <- struct{}{}
		return
	}
	l.inUse--
	if l.inUse < 0 {
		// Double release is prevented by the Once; reaching here is a bug.
		panic(fault.New(fault.Internal, "limiter permit count below zero"))
	}
}

// InUse returns the number of permits currently held.
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

// Waiting returns the number of parked acquirers.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

// Max returns the configured permit count.
func (l *Limiter) Max() int { return l.max }

// Well-known resource class names.
const (
	ClassCPUSlot   = "cpu-slot"
	ClassGPUSlot   = "gpu-slot"
	ClassModelSlot = "model-slot"
)

// Limiters groups limiters by resource class name.
type Limiters struct {
	mu sync.RWMutex
	m  map[string]*Limiter
}

// NewLimiters builds a group from class name to permit count.
func NewLimiters(classes map[string]int) *Limiters {
	g := &Limiters{m: make(map[string]*Limiter, len(classes))}
	for name, max := range classes {
		g.m[name] = NewLimiter(max)
	}
	return g
}

// Get returns the limiter for a class, creating a single-permit one for an
// unknown class so callers stay bounded rather than unbounded.
func (g *Limiters) Get(class string) *Limiter {
	g.mu.RLock()
	l, ok := g.m[class]
	g.mu.RUnlock()
	if ok {
		return l
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.m[class]; ok {
		return l
	}
	l = NewLimiter(1)
	g.m[class] = l
	return l
}
