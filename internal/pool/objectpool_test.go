package pool

import "testing"

type scratch struct {
	buf []byte
	n   int
}

func newScratchPool(prealloc, max int) *ObjectPool[*scratch] {
	return NewObjectPool(prealloc, max,
		func() *scratch { return &scratch{buf: make([]byte, 64)} },
		func(s **scratch) { (*s).n = 0 },
	)
}

func TestObjectPoolPrealloc(t *testing.T) {
	p := newScratchPool(3, 8)
	st := p.Stats()
	if st.Total != 3 || st.Available != 3 {
		t.Fatalf("stats after prealloc: %+v", st)
	}
}

func TestObjectPoolReuse(t *testing.T) {
	p := newScratchPool(1, 4)
	a := p.Acquire()
	a.n = 42
	p.Release(a)

	b := p.Acquire()
	if b != a {
		t.Fatal("expected the pooled object back")
	}
	if b.n != 0 {
		t.Fatalf("reset hook did not run: n = %d", b.n)
	}
}

func TestObjectPoolGrowsOnDemand(t *testing.T) {
	p := newScratchPool(0, 4)
	a, b := p.Acquire(), p.Acquire()
	if a == nil || b == nil || a == b {
		t.Fatal("expected two distinct constructed objects")
	}
	st := p.Stats()
	if st.Total != 2 || st.Peak != 2 || st.Acquires != 2 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestObjectPoolDiscardsOverMax(t *testing.T) {
	p := newScratchPool(0, 2)
	objs := []*scratch{p.Acquire(), p.Acquire(), p.Acquire()}
	for _, o := range objs {
		p.Release(o)
	}
	st := p.Stats()
	if st.Available != 2 {
		t.Fatalf("free list exceeded max: %+v", st)
	}
	if st.Discards != 1 {
		t.Fatalf("discards = %d, want 1", st.Discards)
	}
}
