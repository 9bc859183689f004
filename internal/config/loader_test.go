package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "nexd.yaml", `
addr: ":8090"
models_dir: "/srv/models"
log_level: "debug"
workers: 4
cache_budget_mb: 2048
routing:
  local_threshold: 0.25
  cloud_threshold: 0.75
cloud:
  enabled: true
  api_key_env: "NEXD_API_KEY"
  models:
    - id: "gpt-4o-mini"
      name: "GPT-4o mini"
      context_length: 128000
      capabilities: ["chat", "coding"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8090" || cfg.ModelsDir != "/srv/models" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Workers != 4 || cfg.CacheBudgetMB != 2048 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.Routing.LocalThreshold != 0.25 || cfg.Routing.CloudThreshold != 0.75 {
		t.Fatalf("unexpected routing: %+v", cfg.Routing)
	}
	if !cfg.Cloud.Enabled || cfg.Cloud.APIKeyEnv != "NEXD_API_KEY" {
		t.Fatalf("unexpected cloud: %+v", cfg.Cloud)
	}
	if len(cfg.Cloud.Models) != 1 || cfg.Cloud.Models[0].ID != "gpt-4o-mini" {
		t.Fatalf("unexpected cloud models: %+v", cfg.Cloud.Models)
	}
	if got := cfg.Cloud.Models[0].Capabilities; len(got) != 2 || got[1] != "coding" {
		t.Fatalf("unexpected capabilities: %v", got)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "nexd.json", `{
  "addr": ":8091",
  "max_sessions": 64,
  "session_timeout_sec": 600,
  "local": {"ctx_size": 4096, "threads": 8}
}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8091" || cfg.MaxSessions != 64 || cfg.SessionTimeoutSec != 600 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Local.CtxSize != 4096 || cfg.Local.Threads != 8 {
		t.Fatalf("unexpected local: %+v", cfg.Local)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "nexd.toml", `
addr = ":8092"
allocator_mb = 128

[cors]
enabled = true
origins = ["http://localhost:3000"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8092" || cfg.AllocatorMB != 128 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.CORS.Enabled || len(cfg.CORS.Origins) != 1 {
		t.Fatalf("unexpected cors: %+v", cfg.CORS)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "nexd.txt", "addr = :1")
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidPayloads(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad.yaml": "addr: [unclosed",
		"bad.json": `{"addr": }`,
		"bad.toml": "addr = ",
	}
	for name, content := range cases {
		p := writeTempFile(t, dir, name, content)
		if _, err := Load(p); err == nil {
			t.Fatalf("expected parse error for %s", name)
		}
	}
}
