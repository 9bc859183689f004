package types

// Model is an immutable identity record for a model a provider can serve.
// Descriptors are created when a registry is populated and never mutated;
// lookups are by ID.
type Model struct {
	// Stable identifier for the model.
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
	// Human-friendly name.
	// example: TinyLlama (Q4)
	Name string `json:"name" example:"TinyLlama (Q4)"`
	// Name of the provider that serves this model ("local", "cloud", ...).
	// example: local
	Provider string `json:"provider" example:"local"`
	// Absolute path to the model file on disk (local models only).
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path,omitempty" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Optional family (e.g., llama, mistral, phi).
	// example: llama
	Family string `json:"family,omitempty" example:"llama"`
	// Maximum context length in tokens.
	// example: 4096
	ContextLength int `json:"context_length,omitempty" example:"4096"`
	// Estimated resident memory requirement in MB (0 for remote models).
	// example: 1200
	MemoryMB int `json:"memory_mb,omitempty" example:"1200"`
	// Capability tags used by the router's suitability scoring
	// (e.g., "chat", "coding", "analysis").
	Capabilities []string `json:"capabilities,omitempty"`
}

// HasCapability reports whether the descriptor carries the given tag.
func (m Model) HasCapability(tag string) bool {
	for _, c := range m.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// RoutingDecision is the ephemeral outcome of routing a single request.
// It is produced per request and never persisted.
type RoutingDecision struct {
	// Chosen provider name.
	// example: local
	Provider string `json:"provider" example:"local"`
	// Chosen model id.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Confidence in the decision, 0.0-1.0.
	// example: 0.82
	Confidence float64 `json:"confidence" example:"0.82"`
	// Provider to try if the chosen one fails (may be empty).
	// example: cloud
	Fallback string `json:"fallback,omitempty" example:"cloud"`
	// Complexity score computed for the request, 0.0-1.0.
	// example: 0.35
	Complexity float64 `json:"complexity" example:"0.35"`
}
