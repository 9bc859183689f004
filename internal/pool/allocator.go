package pool

import (
	"sync/atomic"
)

// DefaultAllocatorMB is the default scratch pool size.
const DefaultAllocatorMB = 64

// Allocator serves transient request-scoped buffers from a shared arena.
// When the arena cannot satisfy a request, the allocator recovers locally by
// falling back to a fresh heap allocation and records a degraded-performance
// event; callers never see an error.
type Allocator struct {
	arena    *Arena
	degraded atomic.Uint64
}

// NewAllocator reserves sizeMB megabytes (DefaultAllocatorMB when <= 0).
func NewAllocator(sizeMB int) *Allocator {
	if sizeMB <= 0 {
		sizeMB = DefaultAllocatorMB
	}
	return &Allocator{arena: NewArena(sizeMB << 20)}
}

// Buffer is a scratch region from the pool or, in the degraded case, the
// heap. Release is idempotent and must run on every exit path.
type Buffer struct {
	lease *Lease
	heap  []byte
}

// Bytes returns the scratch region.
func (b *Buffer) Bytes() []byte {
	if b.lease != nil {
		return b.lease.Bytes()
	}
	return b.heap
}

// Pooled reports whether the buffer came from the pool.
func (b *Buffer) Pooled() bool { return b.lease != nil }

// Release returns a pooled buffer to its arena; heap fallbacks are left to
// the garbage collector.
func (b *Buffer) Release() {
	if b.lease != nil {
		b.lease.Release()
	}
}

// Scratch returns a buffer of at least size bytes, falling back to the heap
// under pool exhaustion.
func (a *Allocator) Scratch(size int) *Buffer {
	lease, err := a.arena.Alloc(size)
	if err != nil {
		a.degraded.Add(1)
		return &Buffer{heap: make([]byte, size)}
	}
	return &Buffer{lease: lease}
}

// Compact defragments the backing arena. Quiescent use only.
func (a *Allocator) Compact() { a.arena.Compact() }

// Reset reclaims the whole pool at once. Used between benchmark runs, not
// during live traffic.
func (a *Allocator) Reset() { a.arena.Reset() }

// Degraded returns how many requests fell back to heap allocation.
func (a *Allocator) Degraded() uint64 { return a.degraded.Load() }

// Fragmentation reports the backing arena's fragmentation ratio.
func (a *Allocator) Fragmentation() float64 { return a.arena.Fragmentation() }

// Stats returns the backing arena accounting.
func (a *Allocator) Stats() ArenaStats { return a.arena.Stats() }
