package llm

import "context"

// GenerateRequest describes one text generation call.
// Model is optional; an empty value falls back to the client's default.
type GenerateRequest struct {
	Model       string  // Model name, e.g. "llama3"
	Prompt      string  // User prompt
	System      string  // System instructions prepended by the server
	Temperature float64 // Sampling temperature; zero means the client default
	MaxTokens   int     // Generation cap; zero means the client default

	// Format constrains the output: the string "json" for free-form JSON, or
	// a JSON schema (as a map) the response must conform to. Nil leaves the
	// output unconstrained.
	Format interface{}
}

// TextGenerator is the interface for LLM text generation.
type TextGenerator interface {
	// Generate returns the complete response text in one call.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// GenerateStream returns a lazy, finite, non-restartable fragment
	// stream. The caller drives consumption via Recv and must Close the
	// stream when done.
	GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error)
}

// EmbeddingGenerator is the interface for generating vector embeddings.
// The returned vector length equals the model's known dimension.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// ModelLister exposes model discovery on the inference server.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// ModelInfo describes one installed model.
type ModelInfo struct {
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	ParameterSize string `json:"parameter_size,omitempty"`
	Quantization  string `json:"quantization,omitempty"`
}
