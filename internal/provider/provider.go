// Package provider defines the inference backend abstraction and the two
// shipped backends: a local llama.cpp runtime and an OpenAI-compatible cloud
// endpoint. Backends are registered by name in a Registry; everything above
// this package talks to the ModelProvider interface only.
package provider

import (
	"context"

	"nexd/pkg/types"
)

// Request carries one inference call into a provider. OnToken, when set,
// receives tokens as they are produced; returning an error from the callback
// stops generation.
type Request struct {
	types.InferRequest
	OnToken func(token string) error
}

// Capacity is a point-in-time load view used by routing and status reporting.
type Capacity struct {
	InFlight     int   `json:"in_flight"`
	MaxInFlight  int   `json:"max_in_flight"`
	LoadedModels int   `json:"loaded_models"`
	MemoryMB     int64 `json:"memory_mb"`
}

// ModelProvider is one inference backend.
//
// Initialize is called exactly once, at registration. Available must be cheap
// and safe to call concurrently; routing consults it on every request.
// LoadModel and UnloadModel bracket residency of one model and must be
// idempotent. Infer blocks until generation finishes or ctx is done.
type ModelProvider interface {
	Name() string
	Version() string
	Available(ctx context.Context) bool
	Initialize(ctx context.Context) error
	LoadModel(ctx context.Context, id string) (types.Model, error)
	UnloadModel(ctx context.Context, id string) error
	Infer(ctx context.Context, req Request) (types.InferenceResult, error)
	Capacity() Capacity
	Models() []types.Model
}
