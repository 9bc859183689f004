// Package modelcache keeps loaded models resident under a budget. Entries
// are refcounted: inference holds a Handle for the duration of a request and
// eviction only ever touches entries with zero references, so a model is
// never unloaded mid-generation.
package modelcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nexd/internal/fault"
	"nexd/internal/provider"
	"nexd/internal/sched"
	"nexd/pkg/types"
)

// Config bounds residency. MaxEntries counts models; MaxMemoryMB caps the
// sum of descriptor memory. Zero means unbounded for that axis.
type Config struct {
	MaxEntries  int
	MaxMemoryMB int64
}

type entry struct {
	model    types.Model
	prov     provider.ModelProvider
	elem     *list.Element // position in lru; front = most recent
	refs     int
	lastUsed time.Time
	loadMS   int64
	hits     uint64
}

// Cache is the shared model residency table.
type Cache struct {
	cfg     Config
	slots   *sched.Limiter // bounds concurrent model loads
	log     zerolog.Logger
	clock   func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry
	lru      *list.List // of *entry
	loading  map[string]chan struct{}
	memoryMB int64

	hitCount   uint64
	missCount  uint64
	evictions  uint64
}

func New(cfg Config, slots *sched.Limiter, log zerolog.Logger) *Cache {
	return &Cache{
		cfg:     cfg,
		slots:   slots,
		log:     log,
		clock:   time.Now,
		entries: make(map[string]*entry),
		lru:     list.New(),
		loading: make(map[string]chan struct{}),
	}
}

// Handle pins one resident model. Release must run on every exit path and is
// idempotent.
type Handle struct {
	c    *Cache
	e    *entry
	once sync.Once
}

// Model returns the pinned descriptor.
func (h *Handle) Model() types.Model { return h.e.model }

// Provider returns the backend serving the pinned model.
func (h *Handle) Provider() provider.ModelProvider { return h.e.prov }

// Release drops the pin. The entry stays resident and becomes evictable when
// its last reference is gone.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.c.mu.Lock()
		defer h.c.mu.Unlock()
		h.e.refs--
		if h.e.refs < 0 {
			panic("modelcache: negative refcount")
		}
	})
}

// GetOrLoad returns a pinned handle for id, loading through prov on a miss.
// Loads are bounded by the model-slot limiter and deduplicated, so N
// concurrent requests for a cold model trigger one provider load. When the
// cache is over budget and every resident entry is pinned the load fails
// with ResourceExhausted rather than blocking.
func (c *Cache) GetOrLoad(ctx context.Context, prov provider.ModelProvider, id string) (*Handle, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[id]; ok {
			e.refs++
			e.hits++
			e.lastUsed = c.clock()
			c.lru.MoveToFront(e.elem)
			c.hitCount++
			c.mu.Unlock()
			return &Handle{c: c, e: e}, nil
		}
		if ch, inflight := c.loading[id]; inflight {
			c.mu.Unlock()
			select {
			case <-ch:
				continue // re-check the table
			case <-ctx.Done():
				return nil, fault.Wrap(fault.Timeout, "waiting for model load", ctx.Err())
			}
		}
		ch := make(chan struct{})
		c.loading[id] = ch
		c.missCount++
		c.mu.Unlock()

		h, err := c.load(ctx, prov, id)
		c.mu.Lock()
		delete(c.loading, id)
		close(ch)
		c.mu.Unlock()
		return h, err
	}
}

func (c *Cache) load(ctx context.Context, prov provider.ModelProvider, id string) (*Handle, error) {
	release, err := c.slots.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := c.clock()
	desc, err := prov.LoadModel(ctx, id)
	if err != nil {
		return nil, err
	}
	loadMS := c.clock().Sub(start).Milliseconds()

	c.mu.Lock()
	defer c.mu.Unlock()
	e := &entry{
		model:    desc,
		prov:     prov,
		refs:     1,
		lastUsed: c.clock(),
		loadMS:   loadMS,
	}
	e.elem = c.lru.PushFront(e)
	c.entries[id] = e
	c.memoryMB += int64(desc.MemoryMB)

	if err := c.evictUntilFitsLocked(ctx); err != nil {
		// Roll the new entry back out so the budget invariant holds.
		c.removeLocked(e)
		go c.unload(e)
		return nil, err
	}
	c.log.Info().Str("model", id).Str("provider", prov.Name()).
		Int64("load_ms", loadMS).Int64("resident_mb", c.memoryMB).
		Msg("model cached")
	return &Handle{c: c, e: e}, nil
}

// evictUntilFitsLocked walks the LRU tail evicting zero-ref entries until
// both budget axes fit. Pinned entries are skipped; if nothing evictable
// remains while still over budget the caller gets ResourceExhausted.
func (c *Cache) evictUntilFitsLocked(ctx context.Context) error {
	for c.overBudgetLocked() {
		var victim *entry
		for el := c.lru.Back(); el != nil; el = el.Prev() {
			if e := el.Value.(*entry); e.refs == 0 {
				victim = e
				break
			}
		}
		if victim == nil {
			return fault.New(fault.ResourceExhausted, "model cache over budget with all entries in use")
		}
		c.removeLocked(victim)
		c.evictions++
		c.log.Info().Str("model", victim.model.ID).Msg("model evicted")
		go c.unload(victim)
	}
	return nil
}

func (c *Cache) overBudgetLocked() bool {
	if c.cfg.MaxEntries > 0 && len(c.entries) > c.cfg.MaxEntries {
		return true
	}
	if c.cfg.MaxMemoryMB > 0 && c.memoryMB > c.cfg.MaxMemoryMB {
		return true
	}
	return false
}

func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.model.ID)
	c.memoryMB -= int64(e.model.MemoryMB)
}

func (c *Cache) unload(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.prov.UnloadModel(ctx, e.model.ID); err != nil {
		c.log.Warn().Err(err).Str("model", e.model.ID).Msg("unload failed")
	}
}

// Evict force-drops a zero-ref entry by id. Pinned entries fail with
// InvalidState.
func (c *Cache) Evict(id string) error {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if e.refs > 0 {
		c.mu.Unlock()
		return fault.Newf(fault.InvalidState, "model %q is in use", id)
	}
	c.removeLocked(e)
	c.evictions++
	c.mu.Unlock()
	c.unload(e)
	return nil
}

// Snapshot returns one status row per resident entry, most recent first.
func (c *Cache) Snapshot() []types.CacheEntryStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.CacheEntryStatus, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		out = append(out, types.CacheEntryStatus{
			ModelID:    e.model.ID,
			Provider:   e.prov.Name(),
			LastUsed:   e.lastUsed.Unix(),
			LoadCostMB: e.model.MemoryMB,
			HitCount:   e.hits,
			Refs:       e.refs,
		})
	}
	return out
}

// Stats summarizes cache effectiveness.
type Stats struct {
	Entries   int
	MemoryMB  int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		MemoryMB:  c.memoryMB,
		Hits:      c.hitCount,
		Misses:    c.missCount,
		Evictions: c.evictions,
	}
}
