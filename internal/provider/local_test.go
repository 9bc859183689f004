package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"nexd/internal/fault"
	"nexd/pkg/types"
)

// fakeAdapter returns canned sessions without any native runtime.
type fakeAdapter struct {
	startErr error
	starts   int
	closed   int
}

type fakeSession struct {
	ad     *fakeAdapter
	tokens []string
}

func (a *fakeAdapter) Start(modelPath string, params InferParams) (InferSession, error) {
	a.starts++
	if a.startErr != nil {
		return nil, a.startErr
	}
	return &fakeSession{ad: a, tokens: []string{"hello", " world"}}, nil
}

func (s *fakeSession) Generate(ctx context.Context, prompt string, onToken func(string) error) (FinalResult, error) {
	out := ""
	for _, tok := range s.tokens {
		if err := onToken(tok); err != nil {
			break
		}
		out += tok
	}
	return FinalResult{Content: out, Usage: Usage{CompletionTokens: len(s.tokens)}, FinishReason: "stop"}, nil
}

func (s *fakeSession) Close() error {
	s.ad.closed++
	return nil
}

func writeModelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiny.gguf")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestLocal(t *testing.T, ad InferenceAdapter) *Local {
	t.Helper()
	catalog := []types.Model{{ID: "tiny", Name: "Tiny", Path: writeModelFile(t)}}
	return NewLocalWithAdapter(catalog, ad, LocalConfig{MaxInFlight: 2}, testLogger())
}

func TestLocalLoadTracksMemory(t *testing.T) {
	l := newTestLocal(t, &fakeAdapter{})
	desc, err := l.LoadModel(context.Background(), "tiny")
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if desc.MemoryMB < 1 {
		t.Fatalf("memory must be nonzero, got %d", desc.MemoryMB)
	}
	if cap := l.Capacity(); cap.LoadedModels != 1 || cap.MemoryMB < 1 {
		t.Fatalf("capacity after load: %+v", cap)
	}
}

func TestLocalLoadIdempotent(t *testing.T) {
	ad := &fakeAdapter{}
	l := newTestLocal(t, ad)
	ctx := context.Background()
	if _, err := l.LoadModel(ctx, "tiny"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LoadModel(ctx, "tiny"); err != nil {
		t.Fatal(err)
	}
	if ad.starts != 1 {
		t.Fatalf("adapter started %d times, want 1", ad.starts)
	}
}

func TestLocalLoadUnknownModel(t *testing.T) {
	l := newTestLocal(t, &fakeAdapter{})
	if _, err := l.LoadModel(context.Background(), "nope"); !fault.IsInvalidArgument(err) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestLocalUnloadReleasesSession(t *testing.T) {
	ad := &fakeAdapter{}
	l := newTestLocal(t, ad)
	ctx := context.Background()
	if _, err := l.LoadModel(ctx, "tiny"); err != nil {
		t.Fatal(err)
	}
	if err := l.UnloadModel(ctx, "tiny"); err != nil {
		t.Fatalf("UnloadModel: %v", err)
	}
	if ad.closed != 1 {
		t.Fatalf("session closed %d times, want 1", ad.closed)
	}
	if cap := l.Capacity(); cap.LoadedModels != 0 || cap.MemoryMB != 0 {
		t.Fatalf("capacity after unload: %+v", cap)
	}
	// A second unload is a no-op.
	if err := l.UnloadModel(ctx, "tiny"); err != nil {
		t.Fatalf("repeat unload: %v", err)
	}
}

func TestLocalInferStreamsTokens(t *testing.T) {
	l := newTestLocal(t, &fakeAdapter{})
	ctx := context.Background()
	if _, err := l.LoadModel(ctx, "tiny"); err != nil {
		t.Fatal(err)
	}
	var streamed []string
	res, err := l.Infer(ctx, Request{
		InferRequest: types.InferRequest{Model: "tiny", Prompt: "hi"},
		OnToken:      func(tok string) error { streamed = append(streamed, tok); return nil },
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if res.Output != "hello world" || res.Provider != "local" {
		t.Fatalf("result: %+v", res)
	}
	if len(streamed) != 2 {
		t.Fatalf("streamed %d tokens, want 2", len(streamed))
	}
}

func TestLocalInferUnloadedModel(t *testing.T) {
	l := newTestLocal(t, &fakeAdapter{})
	_, err := l.Infer(context.Background(), Request{InferRequest: types.InferRequest{Model: "tiny", Prompt: "hi"}})
	if !fault.IsInvalidState(err) {
		t.Fatalf("want InvalidState, got %v", err)
	}
}

func TestLocalInferEmptyPrompt(t *testing.T) {
	l := newTestLocal(t, &fakeAdapter{})
	_, err := l.Infer(context.Background(), Request{InferRequest: types.InferRequest{Model: "tiny"}})
	if !fault.IsInvalidArgument(err) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}
