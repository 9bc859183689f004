package pool

import (
	"container/list"
	"sync"

	"nexd/internal/fault"
)

// BlockAlign is the allocation granularity: requested sizes round up to the
// next 256-byte boundary.
const BlockAlign = 256

// block is one region of the arena, ordered by offset in the block list.
type block struct {
	off   int
	size  int
	inUse bool
}

// Arena is a single pre-reserved region split into blocks by a first-fit
// free-list allocator. Freed blocks merge with physically adjacent free
// neighbors to bound fragmentation. It stands in for device memory: lease
// accounting and fragmentation behavior match a GPU pool even though the
// backing store is host memory.
type Arena struct {
	mu     sync.Mutex
	buf    []byte
	blocks *list.List // of *block, ascending offset
	gen    uint64     // bumped by Reset; stale leases become no-ops

	allocs   uint64
	frees    uint64
	failures uint64
}

// ArenaStats is a point-in-time accounting view.
type ArenaStats struct {
	TotalBytes    int
	FreeBytes     int
	LargestFree   int
	Blocks        int
	FreeBlocks    int
	Fragmentation float64
	Allocs        uint64
	Frees         uint64
	Failures      uint64
}

// NewArena reserves size bytes (rounded up to the block alignment).
func NewArena(size int) *Arena {
	size = alignUp(size)
	a := &Arena{buf: make([]byte, size), blocks: list.New()}
	a.blocks.PushBack(&block{off: 0, size: size})
	return a
}

func alignUp(n int) int {
	if n < 1 {
		n = 1
	}
	return (n + BlockAlign - 1) &^ (BlockAlign - 1)
}

// Lease is a scoped acquisition of one block. Release is idempotent and must
// run on every exit path; the deferred-release pattern makes "returned to its
// originating pool exactly once" hold even through errors.
type Lease struct {
	a    *Arena
	elem *list.Element
	gen  uint64
	once sync.Once
}

// Bytes returns the leased region. The view is invalidated by Compact or
// Reset; do not hold it across either.
func (l *Lease) Bytes() []byte {
	l.a.mu.Lock()
	defer l.a.mu.Unlock()
	b := l.elem.Value.(*block)
	return l.a.buf[b.off : b.off+b.size]
}

// Size returns the leased block size (the rounded request).
func (l *Lease) Size() int {
	l.a.mu.Lock()
	defer l.a.mu.Unlock()
	return l.elem.Value.(*block).size
}

// Release marks the block free and merges it with adjacent free neighbors.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.a.mu.Lock()
		defer l.a.mu.Unlock()
		if l.gen != l.a.gen {
			// The arena was reset underneath this lease; nothing to return.
			return
		}
		b := l.elem.Value.(*block)
		b.inUse = false
		l.a.frees++
		l.a.mergeLocked(l.elem)
	})
}

// Alloc finds the first free block large enough for the rounded size,
// splitting the remainder into a new free block. It fails with
// ResourceExhausted when no block fits.
func (a *Arena) Alloc(size int) (*Lease, error) {
	need := alignUp(size)
	a.mu.Lock()
	defer a.mu.Unlock()
	for e := a.blocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if b.inUse || b.size < need {
			continue
		}
		if rest := b.size - need; rest > 0 {
			a.blocks.InsertAfter(&block{off: b.off + need, size: rest}, e)
			b.size = need
		}
		b.inUse = true
		a.allocs++
		return &Lease{a: a, elem: e, gen: a.gen}, nil
	}
	a.failures++
	return nil, fault.Newf(fault.ResourceExhausted, "arena: no free block of %d bytes", need)
}

// mergeLocked coalesces e with free neighbors on both sides.
func (a *Arena) mergeLocked(e *list.Element) {
	b := e.Value.(*block)
	if next := e.Next(); next != nil {
		nb := next.Value.(*block)
		if !nb.inUse {
			b.size += nb.size
			a.blocks.Remove(next)
		}
	}
	if prev := e.Prev(); prev != nil {
		pb := prev.Value.(*block)
		if !pb.inUse {
			pb.size += b.size
			a.blocks.Remove(e)
		}
	}
}

// Compact slides in-use blocks toward the start of the region, leaving one
// contiguous free block at the end. Leased Bytes views are remapped; callers
// must not hold a view across the call. Intended for quiescent moments, not
// live traffic.
func (a *Arena) Compact() {
	a.mu.Lock()
	defer a.mu.Unlock()
	write := 0
	var drop []*list.Element
	for e := a.blocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if !b.inUse {
			drop = append(drop, e)
			continue
		}
		if b.off != write {
			copy(a.buf[write:write+b.size], a.buf[b.off:b.off+b.size])
			b.off = write
		}
		write += b.size
	}
	for _, e := range drop {
		a.blocks.Remove(e)
	}
	if rest := len(a.buf) - write; rest > 0 {
		a.blocks.PushBack(&block{off: write, size: rest})
	}
}

// Reset reclaims the whole region at once. Outstanding leases become no-ops.
// Like Compact, for use between benchmark runs rather than live traffic.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.blocks.Init()
	a.blocks.PushBack(&block{off: 0, size: len(a.buf)})
}

// FreeBytes returns the total free capacity.
func (a *Arena) FreeBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeBytesLocked()
}

func (a *Arena) freeBytesLocked() int {
	n := 0
	for e := a.blocks.Front(); e != nil; e = e.Next() {
		if b := e.Value.(*block); !b.inUse {
			n += b.size
		}
	}
	return n
}

// Fragmentation reports (free blocks - 1) / total blocks when more than one
// free block exists, else 0.
func (a *Arena) Fragmentation() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fragmentationLocked()
}

func (a *Arena) fragmentationLocked() float64 {
	total, free := 0, 0
	for e := a.blocks.Front(); e != nil; e = e.Next() {
		total++
		if !e.Value.(*block).inUse {
			free++
		}
	}
	if free <= 1 || total == 0 {
		return 0
	}
	return float64(free-1) / float64(total)
}

// Stats returns current arena accounting.
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := ArenaStats{
		TotalBytes:    len(a.buf),
		FreeBytes:     a.freeBytesLocked(),
		Fragmentation: a.fragmentationLocked(),
		Allocs:        a.allocs,
		Frees:         a.frees,
		Failures:      a.failures,
	}
	for e := a.blocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		st.Blocks++
		if !b.inUse {
			st.FreeBlocks++
			if b.size > st.LargestFree {
				st.LargestFree = b.size
			}
		}
	}
	return st
}
