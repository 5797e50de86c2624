package domain

import "context"

// GenerationParams are the numeric knobs passed through to the engine
// unmodified. Zero values mean "engine default".
type GenerationParams struct {
	Temperature float64 `json:"temperature,omitempty"`
	ContextSize int     `json:"context_size,omitempty"`
	BatchSize   int     `json:"batch_size,omitempty"`
	GPULayers   int     `json:"gpu_layers,omitempty"`
}

// ChatRequest is sent to an inference engine.
type ChatRequest struct {
	Model  string
	Turns  []Turn
	Params GenerationParams
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamDelta is a single incremental fragment from a streaming engine.
// The last delta of a stream has Done set; Final holds the materialized full
// text when the engine provides one. Err reports a mid-stream failure and is
// always the last delta.
type StreamDelta struct {
	Content string
	Done    bool
	Final   string
	Usage   *Usage
	Err     error
}

// InferenceEngine produces a finite token stream for a transcript.
type InferenceEngine interface {
	// ChatStream starts a generation. The returned channel is closed after the
	// last delta.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
	// Name returns the engine's identifier (e.g., "ollama", "echo").
	Name() string
}
