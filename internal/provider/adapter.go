package provider

import "context"

// InferenceAdapter abstracts the local model runtime. Concrete
// implementations (llama.cpp under the 'llama' build tag) satisfy this
// interface; default builds get a stub that fails fast.
type InferenceAdapter interface {
	// Start loads the model at path and prepares a session for inference.
	Start(modelPath string, params InferParams) (InferSession, error)
}

// InferSession is one loaded model instance.
type InferSession interface {
	// Generate streams tokens for the prompt through onToken.
	// Implementations must return when ctx is canceled.
	Generate(ctx context.Context, prompt string, onToken func(string) error) (FinalResult, error)
	// Close releases the loaded model.
	Close() error
}

// InferParams captures generation parameters passed to the adapter.
type InferParams struct {
	Temperature   float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// FinalResult summarizes the generation after streaming.
type FinalResult struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
