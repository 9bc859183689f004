package modelcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nexd/internal/fault"
	"nexd/internal/provider"
	"nexd/internal/sched"
	"nexd/pkg/types"
)

// slowProvider counts loads and can block them to exercise deduplication.
type slowProvider struct {
	mu      sync.Mutex
	loads   int
	unloads int
	gate    chan struct{} // nil for instant loads
	memMB   int
}

func (p *slowProvider) Name() string                     { return "local" }
func (p *slowProvider) Version() string                  { return "test" }
func (p *slowProvider) Available(context.Context) bool   { return true }
func (p *slowProvider) Initialize(context.Context) error { return nil }
func (p *slowProvider) Models() []types.Model            { return nil }
func (p *slowProvider) Capacity() provider.Capacity      { return provider.Capacity{} }

func (p *slowProvider) LoadModel(ctx context.Context, id string) (types.Model, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return types.Model{}, ctx.Err()
		}
	}
	p.mu.Lock()
	p.loads++
	p.mu.Unlock()
	mem := p.memMB
	if mem == 0 {
		mem = 100
	}
	return types.Model{ID: id, Provider: "local", MemoryMB: mem}, nil
}

func (p *slowProvider) UnloadModel(ctx context.Context, id string) error {
	p.mu.Lock()
	p.unloads++
	p.mu.Unlock()
	return nil
}

func (p *slowProvider) Infer(context.Context, provider.Request) (types.InferenceResult, error) {
	return types.InferenceResult{}, nil
}

func (p *slowProvider) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

func (p *slowProvider) unloadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unloads
}

func newTestCache(cfg Config) *Cache {
	return New(cfg, sched.NewLimiter(2), zerolog.Nop())
}

func TestCacheHitReusesEntry(t *testing.T) {
	p := &slowProvider{}
	c := newTestCache(Config{MaxEntries: 4})
	ctx := context.Background()

	h1, err := c.GetOrLoad(ctx, p, "a")
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	h1.Release()
	h2, err := c.GetOrLoad(ctx, p, "a")
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	h2.Release()

	if p.loadCount() != 1 {
		t.Fatalf("loads = %d, want 1", p.loadCount())
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestCacheEvictsLRUZeroRef(t *testing.T) {
	p := &slowProvider{}
	c := newTestCache(Config{MaxEntries: 2})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		h, err := c.GetOrLoad(ctx, p, id)
		if err != nil {
			t.Fatal(err)
		}
		h.Release()
	}
	// Touch "a" so "b" is the LRU victim.
	h, err := c.GetOrLoad(ctx, p, "a")
	if err != nil {
		t.Fatal(err)
	}
	h.Release()

	h, err = c.GetOrLoad(ctx, p, "c")
	if err != nil {
		t.Fatal(err)
	}
	h.Release()

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("resident = %d, want 2", len(snap))
	}
	for _, e := range snap {
		if e.ModelID == "b" {
			t.Fatal("expected LRU entry b to be evicted")
		}
	}
	if c.Stats().Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestCachePinnedEntriesSurviveEviction(t *testing.T) {
	p := &slowProvider{}
	c := newTestCache(Config{MaxEntries: 1})
	ctx := context.Background()

	hA, err := c.GetOrLoad(ctx, p, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer hA.Release()

	// "a" is pinned and the budget is one entry, so loading "b" cannot fit.
	_, err = c.GetOrLoad(ctx, p, "b")
	if !fault.IsResourceExhausted(err) {
		t.Fatalf("want ResourceExhausted, got %v", err)
	}

	// "a" must still be resident and usable.
	h2, err := c.GetOrLoad(ctx, p, "a")
	if err != nil {
		t.Fatalf("pinned entry lost: %v", err)
	}
	h2.Release()
}

func TestCacheMemoryBudget(t *testing.T) {
	p := &slowProvider{memMB: 600}
	c := newTestCache(Config{MaxMemoryMB: 1000})
	ctx := context.Background()

	h, err := c.GetOrLoad(ctx, p, "a")
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	h, err = c.GetOrLoad(ctx, p, "b")
	if err != nil {
		t.Fatal(err)
	}
	h.Release()

	if st := c.Stats(); st.MemoryMB > 1000 {
		t.Fatalf("resident memory %d exceeds budget", st.MemoryMB)
	}
}

func TestCacheDeduplicatesConcurrentLoads(t *testing.T) {
	p := &slowProvider{gate: make(chan struct{})}
	c := newTestCache(Config{MaxEntries: 4})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := c.GetOrLoad(ctx, p, "a")
			errs[i] = err
			if err == nil {
				h.Release()
			}
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if p.loadCount() != 1 {
		t.Fatalf("loads = %d, want deduplicated single load", p.loadCount())
	}
}

func TestCacheEvictRejectsPinned(t *testing.T) {
	p := &slowProvider{}
	c := newTestCache(Config{MaxEntries: 4})
	ctx := context.Background()

	h, err := c.GetOrLoad(ctx, p, "a")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Evict("a"); !fault.IsInvalidState(err) {
		t.Fatalf("want InvalidState for pinned evict, got %v", err)
	}
	h.Release()
	if err := c.Evict("a"); err != nil {
		t.Fatalf("Evict after release: %v", err)
	}
	if p.unloadCount() != 1 {
		t.Fatalf("unloads = %d, want 1", p.unloadCount())
	}
	// Evicting a missing entry is a no-op.
	if err := c.Evict("a"); err != nil {
		t.Fatalf("repeat evict: %v", err)
	}
}

func TestCacheHandleReleaseIdempotent(t *testing.T) {
	p := &slowProvider{}
	c := newTestCache(Config{MaxEntries: 4})
	h, err := c.GetOrLoad(context.Background(), p, "a")
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	h.Release()
	if err := c.Evict("a"); err != nil {
		t.Fatalf("entry should be evictable after release: %v", err)
	}
}
