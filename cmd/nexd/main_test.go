package main

import (
	"testing"

	"nexd/internal/config"
)

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(config.Config{})
	if cfg.Addr != ":8080" || cfg.ModelsDir != "~/models/llm" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SessionTimeoutSec != 1800 {
		t.Fatalf("unexpected session timeout: %d", cfg.SessionTimeoutSec)
	}
}

func TestCloudModelsFallbackName(t *testing.T) {
	ms := cloudModels([]config.CloudModel{
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextLength: 128000, Capabilities: []string{"chat"}},
		{ID: "gpt-4o"},
	})
	if len(ms) != 2 {
		t.Fatalf("expected 2 models, got %d", len(ms))
	}
	if ms[0].Name != "GPT-4o mini" {
		t.Fatalf("unexpected name: %q", ms[0].Name)
	}
	if ms[1].Name != "gpt-4o" {
		t.Fatalf("expected ID fallback, got %q", ms[1].Name)
	}
	for _, m := range ms {
		if m.Provider != "cloud" {
			t.Fatalf("expected cloud provider, got %q", m.Provider)
		}
		if m.MemoryMB != 0 {
			t.Fatalf("remote models must report zero memory, got %d", m.MemoryMB)
		}
	}
}
