// Package config loads the daemon configuration from YAML, JSON, or TOML,
// selected by file extension. Zero values mean "unspecified" and are
// replaced by defaults in main.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// Worker pool and resource classes.
	Workers    int `json:"workers" yaml:"workers" toml:"workers"`
	CPUSlots   int `json:"cpu_slots" yaml:"cpu_slots" toml:"cpu_slots"`
	GPUSlots   int `json:"gpu_slots" yaml:"gpu_slots" toml:"gpu_slots"`
	ModelSlots int `json:"model_slots" yaml:"model_slots" toml:"model_slots"`

	// Scratch pool size for request staging buffers.
	AllocatorMB int `json:"allocator_mb" yaml:"allocator_mb" toml:"allocator_mb"`

	// Model cache budgets; zero means unbounded for that axis.
	CacheMaxModels int   `json:"cache_max_models" yaml:"cache_max_models" toml:"cache_max_models"`
	CacheBudgetMB  int64 `json:"cache_budget_mb" yaml:"cache_budget_mb" toml:"cache_budget_mb"`

	// Session table bounds.
	MaxSessions       int `json:"max_sessions" yaml:"max_sessions" toml:"max_sessions"`
	SessionTimeoutSec int `json:"session_timeout_sec" yaml:"session_timeout_sec" toml:"session_timeout_sec"`

	// HTTP limits.
	InferTimeoutSec int64 `json:"infer_timeout_sec" yaml:"infer_timeout_sec" toml:"infer_timeout_sec"`
	MaxBodyBytes    int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	Routing RoutingConfig `json:"routing" yaml:"routing" toml:"routing"`
	Local   LocalConfig   `json:"local" yaml:"local" toml:"local"`
	Cloud   CloudConfig   `json:"cloud" yaml:"cloud" toml:"cloud"`
	CORS    CORSConfig    `json:"cors" yaml:"cors" toml:"cors"`
}

// RoutingConfig overrides the router thresholds and weights. Zero values
// keep the built-in defaults.
type RoutingConfig struct {
	LocalThreshold   float64 `json:"local_threshold" yaml:"local_threshold" toml:"local_threshold"`
	CloudThreshold   float64 `json:"cloud_threshold" yaml:"cloud_threshold" toml:"cloud_threshold"`
	LatencyWeight    float64 `json:"latency_weight" yaml:"latency_weight" toml:"latency_weight"`
	SuccessWeight    float64 `json:"success_weight" yaml:"success_weight" toml:"success_weight"`
	ErrorWeight      float64 `json:"error_weight" yaml:"error_weight" toml:"error_weight"`
	PerfBlend        float64 `json:"perf_blend" yaml:"perf_blend" toml:"perf_blend"`
	SuitabilityBlend float64 `json:"suitability_blend" yaml:"suitability_blend" toml:"suitability_blend"`
}

// LocalConfig tunes the local llama.cpp backend.
type LocalConfig struct {
	CtxSize     int `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads     int `json:"threads" yaml:"threads" toml:"threads"`
	MaxInFlight int `json:"max_in_flight" yaml:"max_in_flight" toml:"max_in_flight"`
}

// CloudConfig enables the OpenAI-compatible cloud backend. The API key is
// read from the named environment variable, never from the file itself.
type CloudConfig struct {
	Enabled     bool         `json:"enabled" yaml:"enabled" toml:"enabled"`
	APIKeyEnv   string       `json:"api_key_env" yaml:"api_key_env" toml:"api_key_env"`
	BaseURL     string       `json:"base_url" yaml:"base_url" toml:"base_url"`
	MaxInFlight int          `json:"max_in_flight" yaml:"max_in_flight" toml:"max_in_flight"`
	Models      []CloudModel `json:"models" yaml:"models" toml:"models"`
}

// CloudModel describes one remote model exposed through the cloud backend.
type CloudModel struct {
	ID            string   `json:"id" yaml:"id" toml:"id"`
	Name          string   `json:"name" yaml:"name" toml:"name"`
	ContextLength int      `json:"context_length" yaml:"context_length" toml:"context_length"`
	Capabilities  []string `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
}

// CORSConfig is the opt-in CORS policy for the HTTP server.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
