package provider

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nexd/internal/fault"
	"nexd/pkg/types"
)

// LocalConfig tunes the local llama.cpp backend.
type LocalConfig struct {
	CtxSize     int
	Threads     int
	MaxInFlight int
}

// Local serves gguf models from disk through an InferenceAdapter.
type Local struct {
	adapter InferenceAdapter
	cfg     LocalConfig
	log     zerolog.Logger

	mu       sync.Mutex
	catalog  map[string]types.Model // id -> descriptor, from the registry scan
	loaded   map[string]*localModel
	memoryMB int64

	inFlight atomic.Int64
}

type localModel struct {
	desc    types.Model
	session InferSession
}

// NewLocal builds the local provider over the scanned model catalog. The
// adapter is the real llama.cpp binding when built with the 'llama' tag, a
// fail-fast stub otherwise.
func NewLocal(catalog []types.Model, cfg LocalConfig, log zerolog.Logger) *Local {
	return NewLocalWithAdapter(catalog, NewLlamaAdapter(cfg.CtxSize, cfg.Threads), cfg, log)
}

// NewLocalWithAdapter is NewLocal with an explicit adapter, used by tests and
// alternative runtimes.
func NewLocalWithAdapter(catalog []types.Model, adapter InferenceAdapter, cfg LocalConfig, log zerolog.Logger) *Local {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	m := make(map[string]types.Model, len(catalog))
	for _, d := range catalog {
		d.Provider = "local"
		m[d.ID] = d
	}
	return &Local{
		adapter: adapter,
		cfg:     cfg,
		log:     log,
		catalog: m,
		loaded:  make(map[string]*localModel),
	}
}

func (l *Local) Name() string    { return "local" }
func (l *Local) Version() string { return "llama.cpp" }

// Available is unconditional for the local backend; model files were
// verified at scan time.
func (l *Local) Available(ctx context.Context) bool { return true }

func (l *Local) Initialize(ctx context.Context) error {
	if !llamaBuilt {
		l.log.Warn().Msg("llama runtime not built; local inference will fail fast")
	}
	l.log.Info().Int("models", len(l.catalog)).Msg("local provider initialized")
	return nil
}

// LoadModel stats the model file, starts an adapter session, and records
// residency. Loading an already-loaded model is a no-op returning the
// resident descriptor.
func (l *Local) LoadModel(ctx context.Context, id string) (types.Model, error) {
	l.mu.Lock()
	if lm, ok := l.loaded[id]; ok {
		l.mu.Unlock()
		return lm.desc, nil
	}
	desc, ok := l.catalog[id]
	l.mu.Unlock()
	if !ok {
		return types.Model{}, fault.Newf(fault.InvalidArgument, "unknown local model %q", id)
	}

	fi, err := os.Stat(desc.Path)
	if err != nil {
		return types.Model{}, fault.Wrap(fault.ProviderError, "stat model file", err)
	}
	if desc.MemoryMB == 0 {
		desc.MemoryMB = int(fi.Size() >> 20)
		if desc.MemoryMB == 0 {
			desc.MemoryMB = 1
		}
	}

	sess, err := l.adapter.Start(desc.Path, InferParams{MaxTokens: 256})
	if err != nil {
		return types.Model{}, fault.Wrap(fault.ProviderError, "load model "+id, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lm, ok := l.loaded[id]; ok {
		// Lost the race; keep the first session.
		_ = sess.Close()
		return lm.desc, nil
	}
	l.loaded[id] = &localModel{desc: desc, session: sess}
	l.memoryMB += int64(desc.MemoryMB)
	l.log.Info().Str("model", id).Int("memory_mb", desc.MemoryMB).Msg("model loaded")
	return desc, nil
}

// UnloadModel closes the session and releases its memory accounting.
// Unloading a model that is not resident is a no-op.
func (l *Local) UnloadModel(ctx context.Context, id string) error {
	l.mu.Lock()
	lm, ok := l.loaded[id]
	if ok {
		delete(l.loaded, id)
		l.memoryMB -= int64(lm.desc.MemoryMB)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := lm.session.Close(); err != nil {
		return fault.Wrap(fault.ProviderError, "unload model "+id, err)
	}
	l.log.Info().Str("model", id).Msg("model unloaded")
	return nil
}

func (l *Local) Infer(ctx context.Context, req Request) (types.InferenceResult, error) {
	if req.Prompt == "" {
		return types.InferenceResult{}, fault.New(fault.InvalidArgument, "empty prompt")
	}
	l.mu.Lock()
	lm, ok := l.loaded[req.Model]
	l.mu.Unlock()
	if !ok {
		return types.InferenceResult{}, fault.Newf(fault.InvalidState, "model %q not loaded", req.Model)
	}
	if n := l.inFlight.Add(1); n > int64(l.cfg.MaxInFlight) {
		l.inFlight.Add(-1)
		return types.InferenceResult{}, fault.New(fault.ResourceExhausted, "local provider at capacity")
	}
	defer l.inFlight.Add(-1)

	onToken := req.OnToken
	if onToken == nil {
		onToken = func(string) error { return nil }
	}
	start := time.Now()
	fin, err := lm.session.Generate(ctx, req.Prompt, onToken)
	if err != nil {
		if ctx.Err() != nil {
			return types.InferenceResult{}, fault.Wrap(fault.Timeout, "local inference canceled", ctx.Err())
		}
		return types.InferenceResult{}, fault.Wrap(fault.ProviderError, "local inference", err)
	}
	return types.InferenceResult{
		Output:           fin.Content,
		Model:            req.Model,
		Provider:         l.Name(),
		PromptTokens:     fin.Usage.PromptTokens,
		CompletionTokens: fin.Usage.CompletionTokens,
		LatencyMS:        time.Since(start).Milliseconds(),
		FinishReason:     fin.FinishReason,
	}, nil
}

func (l *Local) Capacity() Capacity {
	l.mu.Lock()
	loaded := len(l.loaded)
	mem := l.memoryMB
	l.mu.Unlock()
	return Capacity{
		InFlight:     int(l.inFlight.Load()),
		MaxInFlight:  l.cfg.MaxInFlight,
		LoadedModels: loaded,
		MemoryMB:     mem,
	}
}

func (l *Local) Models() []types.Model {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.Model, 0, len(l.catalog))
	for _, d := range l.catalog {
		out = append(out, d)
	}
	return out
}
