// Package pool provides the reusable-object pool, the free-list memory arena
// and the general-purpose allocator backing transient request buffers. All
// pools are internally synchronized; callers never hold a pool lock across a
// suspension point.
package pool

import (
	"sync"
)

// ObjectPool recycles values of one type to cut allocation churn. Acquire
// pops a free object or constructs a new one; Release resets and returns it,
// or discards it when the pool is already full.
type ObjectPool[T any] struct {
	mu    sync.Mutex
	free  []T
	ctor  func() T
	reset func(*T)
	max   int

	total    int
	peak     int
	acquires uint64
	discards uint64
}

// ObjectPoolStats is a point-in-time accounting view.
type ObjectPoolStats struct {
	Total     int
	Available int
	Peak      int
	Acquires  uint64
	Discards  uint64
}

// NewObjectPool pre-allocates prealloc objects via ctor, holding at most max
// free objects. reset may be nil.
func NewObjectPool[T any](prealloc, max int, ctor func() T, reset func(*T)) *ObjectPool[T] {
	if max < 1 {
		max = 1
	}
	if prealloc > max {
		prealloc = max
	}
	p := &ObjectPool[T]{ctor: ctor, reset: reset, max: max}
	for i := 0; i < prealloc; i++ {
		p.free = append(p.free, ctor())
		p.total++
	}
	return p
}

// Acquire returns a pooled object, constructing one when the free list is
// empty.
func (p *ObjectPool[T]) Acquire() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if n := len(p.free); n > 0 {
		obj := p.free[n-1]
		p.free = p.free[:n-1]
		if used := p.total - len(p.free); used > p.peak {
			p.peak = used
		}
		return obj
	}
	p.total++
	if used := p.total - len(p.free); used > p.peak {
		p.peak = used
	}
	return p.ctor()
}

// Release returns obj to the pool after the optional reset hook, or discards
// it when the pool is already holding max free objects.
func (p *ObjectPool[T]) Release(obj T) {
	if p.reset != nil {
		p.reset(&obj)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.max {
		p.total--
		p.discards++
		return
	}
	p.free = append(p.free, obj)
}

// Stats returns current pool accounting.
func (p *ObjectPool[T]) Stats() ObjectPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ObjectPoolStats{
		Total:     p.total,
		Available: len(p.free),
		Peak:      p.peak,
		Acquires:  p.acquires,
		Discards:  p.discards,
	}
}
