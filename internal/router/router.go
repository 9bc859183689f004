// Package router decides, per request, whether inference runs on the local
// backend or in the cloud. Cheap prompts stay local, clearly hard ones go to
// the cloud, and the band in between is scored from observed route
// performance blended with model suitability.
package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nexd/internal/fault"
	"nexd/internal/provider"
	"nexd/pkg/types"
)

// Config carries the routing thresholds and score weights. Zero values are
// replaced by the defaults below.
type Config struct {
	// Complexity below LocalThreshold always routes local; above
	// CloudThreshold always cloud.
	LocalThreshold float64
	CloudThreshold float64

	// Performance score weights; must sum to 1.
	LatencyWeight float64
	SuccessWeight float64
	ErrorWeight   float64

	// Blend between performance and suitability; must sum to 1.
	PerfBlend        float64
	SuitabilityBlend float64

	// EWMA smoothing factor for Observe, in (0, 1].
	Alpha float64

	// Latency at which the normalized latency term saturates.
	LatencyScale time.Duration
}

func (c Config) withDefaults() Config {
	if c.LocalThreshold == 0 {
		c.LocalThreshold = 0.3
	}
	if c.CloudThreshold == 0 {
		c.CloudThreshold = 0.7
	}
	if c.LatencyWeight == 0 && c.SuccessWeight == 0 && c.ErrorWeight == 0 {
		c.LatencyWeight, c.SuccessWeight, c.ErrorWeight = 0.4, 0.3, 0.3
	}
	if c.PerfBlend == 0 && c.SuitabilityBlend == 0 {
		c.PerfBlend, c.SuitabilityBlend = 0.6, 0.4
	}
	if c.Alpha == 0 {
		c.Alpha = 0.2
	}
	if c.LatencyScale == 0 {
		c.LatencyScale = 5 * time.Second
	}
	return c
}

// routeStats holds exponentially weighted moving averages for one provider.
type routeStats struct {
	latencyMS float64
	success   float64
	errRate   float64
	samples   uint64
}

// Router scores and picks routes over the provider registry.
type Router struct {
	reg *provider.Registry
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	stats map[string]*routeStats
}

func New(reg *provider.Registry, cfg Config, log zerolog.Logger) *Router {
	return &Router{
		reg:   reg,
		cfg:   cfg.withDefaults(),
		log:   log,
		stats: make(map[string]*routeStats),
	}
}

// Observe folds one request outcome into the provider's moving averages.
func (r *Router) Observe(providerName string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[providerName]
	if !ok {
		st = &routeStats{success: 1}
		r.stats[providerName] = st
	}
	a := r.cfg.Alpha
	ms := float64(latency.Milliseconds())
	ok01, err01 := 1.0, 0.0
	if err != nil {
		ok01, err01 = 0.0, 1.0
	}
	if st.samples == 0 {
		st.latencyMS, st.success, st.errRate = ms, ok01, err01
	} else {
		st.latencyMS = a*ms + (1-a)*st.latencyMS
		st.success = a*ok01 + (1-a)*st.success
		st.errRate = a*err01 + (1-a)*st.errRate
	}
	st.samples++
}

// perfScore is 0.4·(1−normLatency) + 0.3·successRate + 0.3·(1−errorRate)
// under the default weights. Routes without samples score neutral.
func (r *Router) perfScore(providerName string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[providerName]
	if !ok || st.samples == 0 {
		return 0.5
	}
	normLat := st.latencyMS / float64(r.cfg.LatencyScale.Milliseconds())
	if normLat > 1 {
		normLat = 1
	}
	return r.cfg.LatencyWeight*(1-normLat) +
		r.cfg.SuccessWeight*st.success +
		r.cfg.ErrorWeight*(1-st.errRate)
}

type candidate struct {
	prov  provider.ModelProvider
	model types.Model
	score float64
}

// Decide picks a provider and model for the request. An explicitly requested
// model pins the route to whichever available provider serves it. Otherwise
// the complexity thresholds short-circuit, and the middle band is scored.
// When no provider is available the decision fails with NoRouteAvailable.
func (r *Router) Decide(ctx context.Context, req types.InferRequest) (types.RoutingDecision, error) {
	complexity := Complexity(req.Prompt)
	required := needs(req.Prompt)

	avail := r.availableCandidates(ctx, req.Model, required)
	if len(avail) == 0 {
		if req.Model != "" {
			return types.RoutingDecision{}, fault.Newf(fault.NoRouteAvailable, "no available provider serves model %q", req.Model)
		}
		return types.RoutingDecision{}, fault.New(fault.NoRouteAvailable, "no provider available")
	}

	// Explicit model: the candidate set is already narrowed to providers
	// serving it; take the best-scoring one with full confidence.
	if req.Model != "" {
		best := r.best(avail, complexity, required)
		return r.decision(best, avail, complexity, 1.0), nil
	}

	switch {
	case complexity < r.cfg.LocalThreshold:
		if c, ok := pick(avail, "local"); ok {
			return r.decision(c, avail, complexity, 1-complexity), nil
		}
		// Local down; fall back to whatever remains.
		best := r.best(avail, complexity, required)
		return r.decision(best, avail, complexity, 0.5), nil

	case complexity > r.cfg.CloudThreshold:
		if c, ok := pick(avail, "cloud"); ok {
			return r.decision(c, avail, complexity, complexity), nil
		}
		best := r.best(avail, complexity, required)
		return r.decision(best, avail, complexity, 0.5), nil

	default:
		best := r.best(avail, complexity, required)
		return r.decision(best, avail, complexity, best.score), nil
	}
}

// availableCandidates builds one candidate per available provider, choosing
// that provider's most suitable model. A non-empty modelID restricts
// candidates to providers serving it.
func (r *Router) availableCandidates(ctx context.Context, modelID string, required []string) []candidate {
	var out []candidate
	for _, p := range r.reg.All() {
		if !p.Available(ctx) {
			continue
		}
		models := p.Models()
		if len(models) == 0 {
			continue
		}
		if modelID != "" {
			for _, m := range models {
				if m.ID == modelID {
					out = append(out, candidate{prov: p, model: m})
					break
				}
			}
			continue
		}
		sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
		best := models[0]
		bestSuit := suitability(best.Capabilities, required)
		for _, m := range models[1:] {
			if s := suitability(m.Capabilities, required); s > bestSuit {
				best, bestSuit = m, s
			}
		}
		out = append(out, candidate{prov: p, model: best})
	}
	return out
}

// best scores every candidate and returns the highest.
func (r *Router) best(avail []candidate, complexity float64, required []string) candidate {
	bestIdx := 0
	for i := range avail {
		c := &avail[i]
		perf := r.perfScore(c.prov.Name())
		suit := suitability(c.model.Capabilities, required)
		c.score = r.cfg.PerfBlend*perf + r.cfg.SuitabilityBlend*suit
		if c.score > avail[bestIdx].score {
			bestIdx = i
		}
	}
	return avail[bestIdx]
}

// decision assembles the outcome, naming the best different provider as the
// fallback route.
func (r *Router) decision(chosen candidate, avail []candidate, complexity, confidence float64) types.RoutingDecision {
	fallback := ""
	for _, c := range avail {
		if c.prov.Name() != chosen.prov.Name() {
			fallback = c.prov.Name()
			break
		}
	}
	if confidence > 1 {
		confidence = 1
	}
	d := types.RoutingDecision{
		Provider:   chosen.prov.Name(),
		Model:      chosen.model.ID,
		Confidence: confidence,
		Fallback:   fallback,
		Complexity: complexity,
	}
	r.log.Debug().
		Str("provider", d.Provider).
		Str("model", d.Model).
		Float64("complexity", complexity).
		Float64("confidence", confidence).
		Str("fallback", fallback).
		Msg("route decided")
	return d
}

func pick(avail []candidate, providerName string) (candidate, bool) {
	for _, c := range avail {
		if c.prov.Name() == providerName {
			return c, true
		}
	}
	return candidate{}, false
}

// Stats returns a snapshot of the per-route moving averages for status
// reporting.
func (r *Router) Stats() map[string]RouteStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]RouteStats, len(r.stats))
	for name, st := range r.stats {
		out[name] = RouteStats{
			LatencyMS:   st.latencyMS,
			SuccessRate: st.success,
			ErrorRate:   st.errRate,
			Samples:     st.samples,
		}
	}
	return out
}

// RouteStats is the exported snapshot form of one route's averages.
type RouteStats struct {
	LatencyMS   float64 `json:"latency_ms"`
	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`
	Samples     uint64  `json:"samples"`
}
