// Package engine is the orchestration core. It owns the worker scheduler,
// the resource limiters and pools, the model cache, the router, and the
// session table, and exposes the operations the HTTP layer consumes.
package engine

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nexd/internal/fault"
	"nexd/internal/modelcache"
	"nexd/internal/pool"
	"nexd/internal/provider"
	"nexd/internal/router"
	"nexd/internal/sched"
	"nexd/internal/session"
	"nexd/internal/task"
	"nexd/pkg/types"
)

// State is the engine lifecycle phase.
type State string

const (
	StateReady    State = "ready"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// Config assembles the sizing knobs for one engine instance. Zero values get
// conservative defaults.
type Config struct {
	Workers     int
	CPUSlots    int
	GPUSlots    int
	ModelSlots  int
	AllocatorMB int
	Cache       modelcache.Config
	Sessions    session.Config
	Routing     router.Config
	MetricsSpan time.Duration
}

func (c Config) withDefaults() Config {
	if c.CPUSlots <= 0 {
		c.CPUSlots = 4
	}
	if c.GPUSlots <= 0 {
		c.GPUSlots = 1
	}
	if c.ModelSlots <= 0 {
		c.ModelSlots = 1
	}
	return c
}

// Engine wires the pieces together and carries the lifecycle state.
type Engine struct {
	cfg      Config
	log      zerolog.Logger
	sched    *sched.Scheduler
	limiters *sched.Limiters
	alloc    *pool.Allocator
	reg      *provider.Registry
	router   *router.Router
	cache    *modelcache.Cache
	sessions *session.Manager
	window   *metricsWindow
	lineBufs *pool.ObjectPool[*bytes.Buffer]

	mu      sync.RWMutex
	state   State
	started time.Time
	pub     EventPublisher
}

func New(cfg Config, reg *provider.Registry, log zerolog.Logger) *Engine {
	cfg = cfg.withDefaults()
	limiters := sched.NewLimiters(map[string]int{
		sched.ClassCPUSlot:   cfg.CPUSlots,
		sched.ClassGPUSlot:   cfg.GPUSlots,
		sched.ClassModelSlot: cfg.ModelSlots,
	})
	return &Engine{
		cfg:      cfg,
		log:      log,
		sched:    sched.New(sched.Config{Workers: cfg.Workers, Logger: log}),
		limiters: limiters,
		alloc:    pool.NewAllocator(cfg.AllocatorMB),
		reg:      reg,
		router:   router.New(reg, cfg.Routing, log),
		cache:    modelcache.New(cfg.Cache, limiters.Get(sched.ClassModelSlot), log),
		sessions: session.NewManager(cfg.Sessions, log),
		window:   newMetricsWindow(cfg.MetricsSpan),
		lineBufs: pool.NewObjectPool(4, 64,
			func() *bytes.Buffer { return new(bytes.Buffer) },
			func(b **bytes.Buffer) { (*b).Reset() }),
		state:   StateReady,
		started: time.Now(),
		pub:     noopPublisher{},
	}
}

// SetPublisher installs an event publisher; nil restores the no-op one.
func (e *Engine) SetPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	e.mu.Lock()
	e.pub = p
	e.mu.Unlock()
}

func (e *Engine) publish(ev Event) {
	e.mu.RLock()
	p := e.pub
	e.mu.RUnlock()
	p.Publish(ev)
}

// Ready reports whether the engine accepts new work.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateReady
}

// Infer routes and executes the request on the worker pool, returning a task
// that resolves to the final result.
func (e *Engine) Infer(ctx context.Context, req types.InferRequest) *task.Task[types.InferenceResult] {
	return sched.RunPriority(e.sched, priorityFor(req), func() task.Result[types.InferenceResult] {
		res, err := e.inferOnce(ctx, req, nil)
		if err != nil {
			return task.ErrFrom[types.InferenceResult](err)
		}
		return task.Ok(res)
	})
}

// InferSync is Infer followed by a wait on the same context.
func (e *Engine) InferSync(ctx context.Context, req types.InferRequest) (types.InferenceResult, error) {
	t := e.Infer(ctx, req)
	return t.Get(ctx)
}

// priorityFor maps the request shape onto a scheduler priority. Interactive
// streaming requests jump ahead of batch-style ones.
func priorityFor(req types.InferRequest) sched.Priority {
	if req.Stream {
		return sched.PriorityHigh
	}
	return sched.PriorityNormal
}

// inferOnce performs one routed inference, with a single fallback attempt
// when the chosen provider fails before emitting output.
func (e *Engine) inferOnce(ctx context.Context, req types.InferRequest, onToken func(string) error) (types.InferenceResult, error) {
	if req.Prompt == "" {
		return types.InferenceResult{}, fault.New(fault.InvalidArgument, "prompt is required")
	}
	if !e.Ready() {
		return types.InferenceResult{}, fault.New(fault.ServiceUnavailable, "engine is draining")
	}
	if req.SessionID != "" {
		if _, err := e.sessions.Touch(req.SessionID); err != nil {
			return types.InferenceResult{}, err
		}
	}

	decision, err := e.router.Decide(ctx, req)
	if err != nil {
		return types.InferenceResult{}, err
	}
	prov, ok := e.reg.Get(decision.Provider)
	if !ok {
		return types.InferenceResult{}, fault.Newf(fault.Internal, "routed to unregistered provider %q", decision.Provider)
	}

	emitted := false
	wrapped := onToken
	if onToken != nil {
		wrapped = func(tok string) error {
			emitted = true
			return onToken(tok)
		}
	}

	res, err := e.attempt(ctx, prov, decision.Model, req, wrapped)
	if err != nil && decision.Fallback != "" && !emitted && retriable(err) {
		fb, fbModel, fbOK := e.fallbackRoute(ctx, decision.Fallback)
		if fbOK {
			e.publish(Event{Name: "route.fallback", ModelID: fbModel, Fields: map[string]any{
				"from": decision.Provider, "to": decision.Fallback,
			}})
			e.log.Warn().Err(err).Str("from", decision.Provider).Str("to", decision.Fallback).
				Msg("primary route failed, trying fallback")
			res, err = e.attempt(ctx, fb, fbModel, req, wrapped)
		}
	}
	if err != nil {
		return types.InferenceResult{}, err
	}
	res.Confidence = decision.Confidence
	return res, nil
}

// retriable reports whether the failure is worth one attempt on the fallback
// route. Caller mistakes and cancellations are not.
func retriable(err error) bool {
	return fault.IsProviderError(err) || fault.IsResourceExhausted(err) || fault.IsInvalidState(err)
}

// fallbackRoute resolves the fallback provider and its first model.
func (e *Engine) fallbackRoute(ctx context.Context, name string) (provider.ModelProvider, string, bool) {
	p, ok := e.reg.Get(name)
	if !ok || !p.Available(ctx) {
		return nil, "", false
	}
	models := p.Models()
	if len(models) == 0 {
		return nil, "", false
	}
	best := models[0]
	for _, m := range models[1:] {
		if m.ID < best.ID {
			best = m
		}
	}
	return p, best.ID, true
}

// attempt runs one inference on one provider: gpu-slot permit, pinned model
// handle, scratch lease, then the provider call. The model-slot permit taken
// inside GetOrLoad always precedes the scratch lease.
func (e *Engine) attempt(ctx context.Context, prov provider.ModelProvider, modelID string, req types.InferRequest, onToken func(string) error) (types.InferenceResult, error) {
	release, err := e.limiters.Get(sched.ClassGPUSlot).Acquire(ctx)
	if err != nil {
		return types.InferenceResult{}, err
	}
	defer release()

	handle, err := e.cache.GetOrLoad(ctx, prov, modelID)
	if err != nil {
		e.router.Observe(prov.Name(), 0, err)
		return types.InferenceResult{}, err
	}
	defer handle.Release()

	// The lease reserves arena space for the exchange; it is admission
	// accounting, the provider reads the request directly. A heap fallback
	// means the arena is exhausted, so shed the coldest session before the
	// next exchange makes it worse.
	buf := e.alloc.Scratch(scratchSize(req))
	defer buf.Release()
	if !buf.Pooled() {
		if freed := e.sessions.EvictOldest(1); freed > 0 {
			e.publish(Event{Name: "session.pressure_evict", Fields: map[string]any{"freed_mb": freed}})
			e.log.Warn().Int("freed_mb", freed).Msg("scratch arena exhausted, evicted coldest session")
		}
	}

	preq := provider.Request{InferRequest: req, OnToken: onToken}
	preq.Model = modelID

	start := time.Now()
	res, err := prov.Infer(ctx, preq)
	latency := time.Since(start)
	e.router.Observe(prov.Name(), latency, err)
	e.window.Record(latency, err == nil)
	if err != nil {
		return types.InferenceResult{}, err
	}
	if res.LatencyMS == 0 {
		res.LatencyMS = latency.Milliseconds()
	}
	if req.SessionID != "" {
		// Rough per-exchange accounting: one MB per 512 output tokens.
		if err := e.sessions.Charge(req.SessionID, 1+res.CompletionTokens/512); err != nil {
			e.log.Debug().Err(err).Str("session", req.SessionID).Msg("session charge skipped")
		}
	}
	return res, nil
}

// scratchSize picks the request staging buffer size: the prompt plus room
// for decode bookkeeping, at least 4 KB.
func scratchSize(req types.InferRequest) int {
	n := len(req.Prompt) + 4096
	if req.MaxTokens > 0 {
		n += req.MaxTokens * 8
	}
	return n
}

// SweepSessions removes idle sessions as of now. The owner drives this from
// a ticker; the engine never schedules it itself.
func (e *Engine) SweepSessions(now time.Time) int {
	return e.sessions.Sweep(now)
}

// EndSession drops a session record and returns the freed memory in MB.
func (e *Engine) EndSession(id string) int {
	return e.sessions.End(id)
}

// ListModels aggregates descriptors from available providers.
func (e *Engine) ListModels(ctx context.Context) []types.Model {
	return e.reg.AvailableModels(ctx)
}

// RouteStats exposes the router's per-route averages.
func (e *Engine) RouteStats() map[string]router.RouteStats {
	return e.router.Stats()
}

// Status builds the detailed status response for /status.
func (e *Engine) Status() types.StatusResponse {
	e.mu.RLock()
	state := e.state
	started := e.started
	e.mu.RUnlock()

	cs := e.cache.Stats()
	ss := e.sched.Stats()
	now := time.Now()
	return types.StatusResponse{
		Cache:    e.cache.Snapshot(),
		BudgetMB: int(e.cfg.Cache.MaxMemoryMB),
		UsedMB:   int(cs.MemoryMB),
		Scheduler: types.SchedulerStatus{
			Workers:   ss.Workers,
			Pending:   ss.Pending,
			Completed: ss.Completed,
			Steals:    ss.Steals,
			Idle:      ss.Idle,
		},
		Sessions:        e.sessions.Count(),
		SessionMemoryMB: e.sessions.MemoryMB(),
		EvictionsTotal:  cs.Evictions,
		LoadsTotal:      cs.Misses,
		State:           string(state),
		UptimeSeconds:   int64(now.Sub(started).Seconds()),
		ServerTimeUnix:  now.Unix(),
	}
}

// Metrics assembles the sliding-window performance snapshot.
func (e *Engine) Metrics() types.MetricsSnapshot {
	win := e.window.Snapshot()
	cs := e.cache.Stats()
	hitRate := 0.0
	if total := cs.Hits + cs.Misses; total > 0 {
		hitRate = float64(cs.Hits) / float64(total)
	}
	return types.MetricsSnapshot{
		RequestsPerSec:     win.RequestsPerSec,
		P50LatencyMS:       win.P50MS,
		P95LatencyMS:       win.P95MS,
		P99LatencyMS:       win.P99MS,
		CacheHitRate:       hitRate,
		FragmentationRatio: e.alloc.Fragmentation(),
		DegradedAllocs:     e.alloc.Degraded(),
		WindowRequests:     win.Requests,
	}
}

// Drain stops intake and waits for in-flight work to finish. New Infer calls
// fail with ServiceUnavailable as soon as Drain begins.
func (e *Engine) Drain() {
	e.mu.Lock()
	if e.state != StateReady {
		e.mu.Unlock()
		return
	}
	e.state = StateDraining
	e.mu.Unlock()
	e.publish(Event{Name: "engine.draining"})
	e.log.Info().Msg("engine draining")
	e.sched.Shutdown()
}

// Close drains, drops every unpinned cache entry, and marks the engine
// stopped.
func (e *Engine) Close() {
	e.Drain()
	for _, entry := range e.cache.Snapshot() {
		if err := e.cache.Evict(entry.ModelID); err != nil {
			e.log.Warn().Err(err).Str("model", entry.ModelID).Msg("evict on close failed")
		}
	}
	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.publish(Event{Name: "engine.stopped"})
	e.log.Info().Msg("engine stopped")
}
