package types

// InferRequest represents an inference request payload.
type InferRequest struct {
	// Optional model identifier. If empty, the router picks one.
	// example: tinyllama-q4
	Model string `json:"model,omitempty" example:"tinyllama-q4"`
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Optional session id for per-session memory accounting.
	// example: 9f27c2e6
	SessionID string `json:"session_id,omitempty" example:"9f27c2e6"`
	// If true, stream results as NDJSON tokens.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Optional stop sequences. Generation stops when any sequence is matched.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
	// Random seed for reproducibility; 0 or omitted lets the backend choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
}

// InferenceResult is the final outcome of one inference.
type InferenceResult struct {
	// Generated text.
	Output string `json:"output"`
	// Model that produced the output.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Provider that served the request.
	// example: local
	Provider string `json:"provider" example:"local"`
	// Prompt token count (0 when the backend does not report it).
	// example: 17
	PromptTokens int `json:"prompt_tokens" example:"17"`
	// Completion token count.
	// example: 96
	CompletionTokens int `json:"completion_tokens" example:"96"`
	// End-to-end latency in milliseconds.
	// example: 412
	LatencyMS int64 `json:"latency_ms" example:"412"`
	// Router confidence carried through from the routing decision.
	// example: 0.82
	Confidence float64 `json:"confidence,omitempty" example:"0.82"`
	// Why generation stopped ("stop", "length", ...).
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models across registered providers.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// CacheEntryStatus summarizes one resident model cache entry for /status.
type CacheEntryStatus struct {
	// ID of the cached model.
	// example: tinyllama-q4
	ModelID string `json:"model_id" example:"tinyllama-q4"`
	// Provider that loaded the entry.
	// example: local
	Provider string `json:"provider" example:"local"`
	// Last time this entry served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Memory charged against the budget for this entry, in MB.
	// example: 1200
	LoadCostMB int `json:"load_cost_mb" example:"1200"`
	// Cache hits recorded for this entry.
	// example: 42
	HitCount uint64 `json:"hit_count" example:"42"`
	// Live references held by in-flight work.
	// example: 1
	Refs int `json:"refs" example:"1"`
}

// SchedulerStatus reports worker pool accounting for /status.
type SchedulerStatus struct {
	// Number of worker goroutines.
	// example: 8
	Workers int `json:"workers" example:"8"`
	// Tasks queued or running.
	// example: 3
	Pending int64 `json:"pending" example:"3"`
	// Tasks completed since start; strictly increasing.
	// example: 1024
	Completed uint64 `json:"completed" example:"1024"`
	// Successful steals between workers.
	// example: 37
	Steals uint64 `json:"steals" example:"37"`
	// Workers currently parked waiting for work.
	// example: 5
	Idle int `json:"idle" example:"5"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Resident model cache entries.
	Cache []CacheEntryStatus `json:"cache"`
	// Memory budget in MB across all cached models.
	// example: 8192
	BudgetMB int `json:"budget_mb" example:"8192"`
	// Memory currently charged against the budget, in MB.
	// example: 2048
	UsedMB int `json:"used_mb" example:"2048"`
	// Worker pool accounting.
	Scheduler SchedulerStatus `json:"scheduler"`
	// Active session count.
	// example: 12
	Sessions int `json:"sessions" example:"12"`
	// Total session memory tracked, in MB.
	// example: 96
	SessionMemoryMB int `json:"session_memory_mb" example:"96"`
	// Total cache evictions performed to stay within budget.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Total model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Overall engine state ("ready", "draining", "stopped").
	// example: ready
	State string `json:"state" example:"ready"`
	// Uptime of the engine in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// MetricsSnapshot is a read-only projection of engine performance counters
// for an external monitoring collaborator to poll or export.
type MetricsSnapshot struct {
	// Completed requests per second over the sample window.
	// example: 14.2
	RequestsPerSec float64 `json:"requests_per_sec" example:"14.2"`
	// Latency percentiles over the sample window, milliseconds.
	// example: 120
	P50LatencyMS int64 `json:"p50_latency_ms" example:"120"`
	// example: 480
	P95LatencyMS int64 `json:"p95_latency_ms" example:"480"`
	// example: 900
	P99LatencyMS int64 `json:"p99_latency_ms" example:"900"`
	// Model cache hit rate, 0.0-1.0.
	// example: 0.91
	CacheHitRate float64 `json:"cache_hit_rate" example:"0.91"`
	// Allocator fragmentation ratio, 0.0-1.0.
	// example: 0.08
	FragmentationRatio float64 `json:"fragmentation_ratio" example:"0.08"`
	// Requests that fell back to heap allocation because the pool was full.
	// example: 2
	DegradedAllocs uint64 `json:"degraded_allocs" example:"2"`
	// Total requests observed in the sample window.
	// example: 512
	WindowRequests int `json:"window_requests" example:"512"`
}
