package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"nexd/internal/fault"
	"nexd/pkg/types"
)

// CloudConfig tunes the OpenAI-compatible cloud backend.
type CloudConfig struct {
	APIKey      string
	BaseURL     string // empty for api.openai.com
	Models      []types.Model
	MaxInFlight int
	ProbeEvery  time.Duration
}

// Cloud serves inference through an OpenAI-compatible chat completion API.
// Remote models occupy no local memory; Available reflects the result of a
// periodic ListModels probe so routing skips the backend while the network
// or the service is down.
type Cloud struct {
	client *openai.Client
	cfg    CloudConfig
	log    zerolog.Logger

	mu        sync.Mutex
	models    map[string]types.Model
	lastProbe time.Time
	reachable bool

	inFlight atomic.Int64
}

func NewCloud(cfg CloudConfig, log zerolog.Logger) *Cloud {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 8
	}
	if cfg.ProbeEvery <= 0 {
		cfg.ProbeEvery = 30 * time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	m := make(map[string]types.Model, len(cfg.Models))
	for _, d := range cfg.Models {
		d.Provider = "cloud"
		d.MemoryMB = 0
		m[d.ID] = d
	}
	return &Cloud{client: openai.NewClientWithConfig(oc), cfg: cfg, log: log, models: m}
}

func (c *Cloud) Name() string    { return "cloud" }
func (c *Cloud) Version() string { return "openai-v1" }

func (c *Cloud) Initialize(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return fault.New(fault.InvalidArgument, "cloud provider requires an API key")
	}
	c.probe(ctx)
	if !c.reachableNow() {
		c.log.Warn().Msg("cloud endpoint unreachable at startup; will keep probing")
	}
	return nil
}

// Available returns the cached probe result, refreshing it when stale.
func (c *Cloud) Available(ctx context.Context) bool {
	c.mu.Lock()
	stale := time.Since(c.lastProbe) > c.cfg.ProbeEvery
	c.mu.Unlock()
	if stale {
		c.probe(ctx)
	}
	return c.reachableNow()
}

func (c *Cloud) reachableNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

func (c *Cloud) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.client.ListModels(pctx)
	c.mu.Lock()
	c.reachable = err == nil
	c.lastProbe = time.Now()
	c.mu.Unlock()
	if err != nil {
		c.log.Debug().Err(err).Msg("cloud probe failed")
	}
}

// LoadModel is a reachability probe for remote models; nothing becomes
// resident and the returned descriptor reports zero memory.
func (c *Cloud) LoadModel(ctx context.Context, id string) (types.Model, error) {
	c.mu.Lock()
	desc, ok := c.models[id]
	c.mu.Unlock()
	if !ok {
		return types.Model{}, fault.Newf(fault.InvalidArgument, "unknown cloud model %q", id)
	}
	c.probe(ctx)
	if !c.reachableNow() {
		return types.Model{}, fault.New(fault.ProviderError, "cloud endpoint unreachable")
	}
	return desc, nil
}

// UnloadModel is a no-op for remote models.
func (c *Cloud) UnloadModel(ctx context.Context, id string) error { return nil }

func (c *Cloud) Infer(ctx context.Context, req Request) (types.InferenceResult, error) {
	if req.Prompt == "" {
		return types.InferenceResult{}, fault.New(fault.InvalidArgument, "empty prompt")
	}
	if n := c.inFlight.Add(1); n > int64(c.cfg.MaxInFlight) {
		c.inFlight.Add(-1)
		return types.InferenceResult{}, fault.New(fault.ResourceExhausted, "cloud provider at capacity")
	}
	defer c.inFlight.Add(-1)

	ccr := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.Temperature > 0 {
		ccr.Temperature = float32(req.Temperature)
	}
	if req.TopP > 0 {
		ccr.TopP = float32(req.TopP)
	}
	if req.MaxTokens > 0 {
		ccr.MaxTokens = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		ccr.Stop = req.Stop
	}
	if req.Seed != 0 {
		seed := int(req.Seed)
		ccr.Seed = &seed
	}

	start := time.Now()
	if req.OnToken != nil {
		return c.inferStream(ctx, ccr, req.OnToken, start)
	}

	resp, err := c.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return types.InferenceResult{}, c.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return types.InferenceResult{}, fault.New(fault.ProviderError, "cloud returned no choices")
	}
	choice := resp.Choices[0]
	return types.InferenceResult{
		Output:           choice.Message.Content,
		Model:            req.Model,
		Provider:         c.Name(),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		LatencyMS:        time.Since(start).Milliseconds(),
		FinishReason:     string(choice.FinishReason),
	}, nil
}

func (c *Cloud) inferStream(ctx context.Context, ccr openai.ChatCompletionRequest, onToken func(string) error, start time.Time) (types.InferenceResult, error) {
	ccr.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, ccr)
	if err != nil {
		return types.InferenceResult{}, c.classify(ctx, err)
	}
	defer stream.Close()

	var out strings.Builder
	finish := "stop"
	tokens := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.InferenceResult{}, c.classify(ctx, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			out.WriteString(delta)
			tokens++
			if cberr := onToken(delta); cberr != nil {
				finish = "canceled"
				break
			}
		}
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			finish = string(fr)
		}
	}
	return types.InferenceResult{
		Output:           out.String(),
		Model:            ccr.Model,
		Provider:         c.Name(),
		CompletionTokens: tokens,
		LatencyMS:        time.Since(start).Milliseconds(),
		FinishReason:     finish,
	}, nil
}

func (c *Cloud) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fault.Wrap(fault.Timeout, "cloud inference canceled", ctx.Err())
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return fault.Wrap(fault.ResourceExhausted, "cloud rate limited", err)
	}
	return fault.Wrap(fault.ProviderError, "cloud inference", err)
}

func (c *Cloud) Capacity() Capacity {
	c.mu.Lock()
	loaded := len(c.models)
	c.mu.Unlock()
	return Capacity{
		InFlight:     int(c.inFlight.Load()),
		MaxInFlight:  c.cfg.MaxInFlight,
		LoadedModels: loaded,
		MemoryMB:     0,
	}
}

func (c *Cloud) Models() []types.Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Model, 0, len(c.models))
	for _, d := range c.models {
		out = append(out, d)
	}
	return out
}
