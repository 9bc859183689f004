//go:build !llama

package provider

// No-CGO stub for the llama adapter, compiled when the 'llama' build tag is
// NOT set. Default builds and CI stay CGO-free; the stub refuses inference
// rather than mocking it.

import (
	"context"

	"nexd/internal/fault"
)

var llamaBuilt = false

type llamaAdapter struct {
	ctxSize int
	threads int
}

func NewLlamaAdapter(ctxSize, threads int) InferenceAdapter {
	return &llamaAdapter{ctxSize: ctxSize, threads: threads}
}

type llamaSession struct{}

func (a *llamaAdapter) Start(modelPath string, params InferParams) (InferSession, error) {
	return nil, fault.New(fault.ProviderError, "llama support not built (missing 'llama' build tag)")
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, onToken func(string) error) (FinalResult, error) {
	select {
	case <-ctx.Done():
		return FinalResult{}, ctx.Err()
	default:
	}
	return FinalResult{}, fault.New(fault.ProviderError, "llama support not built (missing 'llama' build tag)")
}

func (s *llamaSession) Close() error { return nil }
