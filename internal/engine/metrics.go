package engine

import (
	"sort"
	"sync"
	"time"
)

// metricsWindow keeps a sliding sample window of completed requests for the
// /metrics snapshot. Samples older than span are dropped lazily on record
// and snapshot.
type metricsWindow struct {
	mu      sync.Mutex
	span    time.Duration
	samples []latencySample
	clock   func() time.Time
}

type latencySample struct {
	at time.Time
	ms int64
	ok bool
}

func newMetricsWindow(span time.Duration) *metricsWindow {
	if span <= 0 {
		span = time.Minute
	}
	return &metricsWindow{span: span, clock: time.Now}
}

func (w *metricsWindow) Record(latency time.Duration, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock()
	w.samples = append(w.samples, latencySample{at: now, ms: latency.Milliseconds(), ok: ok})
	w.trimLocked(now)
}

func (w *metricsWindow) trimLocked(now time.Time) {
	cut := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cut) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

type windowSnapshot struct {
	RequestsPerSec float64
	P50MS          int64
	P95MS          int64
	P99MS          int64
	Requests       int
}

func (w *metricsWindow) Snapshot() windowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock()
	w.trimLocked(now)
	n := len(w.samples)
	if n == 0 {
		return windowSnapshot{}
	}
	lats := make([]int64, n)
	for i, s := range w.samples {
		lats[i] = s.ms
	}
	sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })

	span := now.Sub(w.samples[0].at)
	rps := float64(n)
	if span > time.Second {
		rps = float64(n) / span.Seconds()
	}
	return windowSnapshot{
		RequestsPerSec: rps,
		P50MS:          percentile(lats, 0.50),
		P95MS:          percentile(lats, 0.95),
		P99MS:          percentile(lats, 0.99),
		Requests:       n,
	}
}

// percentile takes the nearest-rank value from an ascending slice.
func percentile(sorted []int64, q float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
