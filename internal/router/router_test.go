package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nexd/internal/fault"
	"nexd/internal/provider"
	"nexd/pkg/types"
)

type stubProvider struct {
	name      string
	available bool
	models    []types.Model
}

func (s *stubProvider) Name() string                     { return s.name }
func (s *stubProvider) Version() string                  { return "stub" }
func (s *stubProvider) Available(context.Context) bool   { return s.available }
func (s *stubProvider) Initialize(context.Context) error { return nil }
func (s *stubProvider) Models() []types.Model            { return s.models }
func (s *stubProvider) Capacity() provider.Capacity      { return provider.Capacity{} }

func (s *stubProvider) LoadModel(_ context.Context, id string) (types.Model, error) {
	for _, m := range s.models {
		if m.ID == id {
			return m, nil
		}
	}
	return types.Model{}, fault.Newf(fault.InvalidArgument, "unknown model %q", id)
}

func (s *stubProvider) UnloadModel(context.Context, string) error { return nil }

func (s *stubProvider) Infer(context.Context, provider.Request) (types.InferenceResult, error) {
	return types.InferenceResult{}, nil
}

func newTestRouter(t *testing.T, localUp, cloudUp bool) (*Router, *stubProvider, *stubProvider) {
	t.Helper()
	reg := provider.NewRegistry(zerolog.Nop())
	local := &stubProvider{
		name:      "local",
		available: localUp,
		models:    []types.Model{{ID: "tiny", Provider: "local", Capabilities: []string{"chat"}}},
	}
	cloud := &stubProvider{
		name:      "cloud",
		available: cloudUp,
		models:    []types.Model{{ID: "gpt-4o-mini", Provider: "cloud", Capabilities: []string{"chat", "coding", "analysis", "reasoning"}}},
	}
	ctx := context.Background()
	if err := reg.Register(ctx, local); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, cloud); err != nil {
		t.Fatal(err)
	}
	return New(reg, Config{}, zerolog.Nop()), local, cloud
}

func TestComplexityOrdering(t *testing.T) {
	simple := Complexity("hello")
	hard := Complexity(strings.Repeat("Analyze and design the algorithm; why? ", 60))
	if simple >= 0.3 {
		t.Fatalf("simple prompt complexity = %v, want < 0.3", simple)
	}
	if hard <= 0.7 {
		t.Fatalf("hard prompt complexity = %v, want > 0.7", hard)
	}
}

func TestDecideSimplePromptGoesLocal(t *testing.T) {
	r, _, _ := newTestRouter(t, true, true)
	d, err := r.Decide(context.Background(), types.InferRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Provider != "local" {
		t.Fatalf("provider = %q, want local", d.Provider)
	}
	if d.Fallback != "cloud" {
		t.Fatalf("fallback = %q, want cloud", d.Fallback)
	}
}

func TestDecideComplexPromptGoesCloud(t *testing.T) {
	r, _, _ := newTestRouter(t, true, true)
	prompt := strings.Repeat("Analyze and design the algorithm; why? ", 60)
	d, err := r.Decide(context.Background(), types.InferRequest{Prompt: prompt})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Provider != "cloud" {
		t.Fatalf("provider = %q, want cloud", d.Provider)
	}
}

func TestDecideCloudDownFallsBackLocal(t *testing.T) {
	r, _, _ := newTestRouter(t, true, false)
	prompt := strings.Repeat("Analyze and design the algorithm; why? ", 60)
	d, err := r.Decide(context.Background(), types.InferRequest{Prompt: prompt})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Provider != "local" {
		t.Fatalf("provider = %q, want local fallback", d.Provider)
	}
	if d.Fallback != "" {
		t.Fatalf("fallback = %q, want none", d.Fallback)
	}
}

func TestDecideNoRouteAvailable(t *testing.T) {
	r, _, _ := newTestRouter(t, false, false)
	_, err := r.Decide(context.Background(), types.InferRequest{Prompt: "hello"})
	if !fault.IsNoRouteAvailable(err) {
		t.Fatalf("want NoRouteAvailable, got %v", err)
	}
}

func TestDecideExplicitModelPinsRoute(t *testing.T) {
	r, _, _ := newTestRouter(t, true, true)
	d, err := r.Decide(context.Background(), types.InferRequest{Model: "gpt-4o-mini", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Provider != "cloud" || d.Model != "gpt-4o-mini" {
		t.Fatalf("decision = %+v, want pinned cloud/gpt-4o-mini", d)
	}
	if d.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", d.Confidence)
	}
}

func TestDecideExplicitModelUnknown(t *testing.T) {
	r, _, _ := newTestRouter(t, true, true)
	_, err := r.Decide(context.Background(), types.InferRequest{Model: "nope", Prompt: "hello"})
	if !fault.IsNoRouteAvailable(err) {
		t.Fatalf("want NoRouteAvailable, got %v", err)
	}
}

func TestMiddleBandPrefersHealthyRoute(t *testing.T) {
	r, _, _ := newTestRouter(t, true, true)

	// Land in the scored band: plain text, no complexity vocabulary.
	prompt := strings.Repeat("the quick brown fox jumps over the lazy dog ", 32)
	if c := Complexity(prompt); c < 0.3 || c > 0.7 {
		t.Fatalf("prompt complexity = %v, want middle band", c)
	}

	// Cloud has been failing; local is fast and clean.
	for i := 0; i < 20; i++ {
		r.Observe("cloud", 4*time.Second, errors.New("upstream 500"))
		r.Observe("local", 50*time.Millisecond, nil)
	}

	d, err := r.Decide(context.Background(), types.InferRequest{Prompt: prompt})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Provider != "local" {
		t.Fatalf("provider = %q, want local under cloud failures", d.Provider)
	}
}

func TestObserveStats(t *testing.T) {
	r, _, _ := newTestRouter(t, true, true)
	r.Observe("local", 100*time.Millisecond, nil)
	r.Observe("local", 200*time.Millisecond, errors.New("x"))

	st := r.Stats()["local"]
	if st.Samples != 2 {
		t.Fatalf("samples = %d, want 2", st.Samples)
	}
	if st.ErrorRate <= 0 || st.ErrorRate >= 1 {
		t.Fatalf("error rate = %v, want smoothed in (0,1)", st.ErrorRate)
	}
	if st.LatencyMS <= 0 {
		t.Fatalf("latency = %v", st.LatencyMS)
	}
}
