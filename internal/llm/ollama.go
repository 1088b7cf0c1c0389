// Package llm provides clients for the local inference server (Ollama).
// It covers the two contracts the orchestrators need — text generation and
// embedding generation — plus model discovery and health checks. All HTTP
// calls are wrapped with circuit breaker protection so a dead upstream fails
// fast instead of stalling every request.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/breaker"
	"github.com/scrypster/recall/pkg/types"
)

// OllamaClient handles communication with the Ollama API.
type OllamaClient struct {
	baseURL      string
	client       *http.Client
	streamClient *http.Client
	breaker      *breaker.Breaker
	defaultModel string
	temperature  float64
	maxTokens    int
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// DefaultModel is used when a request doesn't name a model (default: llama3)
	DefaultModel string

	// Timeout is the request timeout duration (default: 120s). Streaming
	// responses are exempt; their lifetime is bounded by the caller.
	Timeout time.Duration

	// Temperature is the default sampling temperature (default: 0.7)
	Temperature float64

	// MaxTokens is the default generation cap (default: 2000)
	MaxTokens int
}

// generateRequest is the request body for the /api/generate endpoint.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Format  interface{}     `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

// generateOptions carries per-request model options.
type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateResponse is the non-streaming response from /api/generate.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// embedRequest is the request body for the /api/embed endpoint.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the response from /api/embed. The embeddings field is a
// 2D array; we always send a single input and use the first embedding.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// tagsResponse is the response from the /api/tags endpoint.
type tagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Size    int64  `json:"size"`
		Details struct {
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

// errorResponse is Ollama's error body shape.
type errorResponse struct {
	Error string `json:"error"`
}

// NewOllamaClient creates a new Ollama client with the given configuration,
// applying defaults for zero values.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "llama3"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}

	return &OllamaClient{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		client: &http.Client{
			Timeout: config.Timeout,
		},
		// No client timeout for streaming; http.Client.Timeout covers the
		// whole body read and would cut long generations short. Stream
		// lifetime is bounded by the request context instead.
		streamClient: &http.Client{},
		breaker:      breaker.New(breaker.Config{Name: "ollama"}),
		defaultModel: config.DefaultModel,
		temperature:  config.Temperature,
		maxTokens:    config.MaxTokens,
	}
}

// DefaultModel returns the configured default model name.
func (c *OllamaClient) DefaultModel() string {
	return c.defaultModel
}

// Generate sends a non-streaming generation request and returns the complete
// response text. Connection failures and an open circuit surface as
// ErrServiceUnavailable; a missing model surfaces as ErrModelNotFound.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.generate(ctx, req)
	})
	if err != nil {
		return "", c.mapError(err)
	}
	return result.(string), nil
}

// generate is the internal implementation of Generate without breaker wrapping.
func (c *OllamaClient) generate(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := c.postGenerate(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var respData generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return respData.Response, nil
}

// GenerateStream sends a streaming generation request. The returned Stream
// yields fragments in order and terminates with io.EOF; the caller must
// Close it. Errors opening the stream map like non-streaming ones.
func (c *OllamaClient) GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.postGenerate(ctx, req, true)
	})
	if err != nil {
		return nil, c.mapError(err)
	}
	return NewStream(result.(*http.Response).Body), nil
}

// postGenerate issues a /api/generate request and returns the raw response
// with a 200 status. Non-200 responses are drained, closed and mapped.
func (c *OllamaClient) postGenerate(ctx context.Context, req GenerateRequest, stream bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	reqBody := generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: stream,
		Format: req.Format,
		Options: generateOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
		},
	}

	client := c.client
	if stream {
		client = c.streamClient
	}
	resp, err := c.postWith(ctx, client, "/api/generate", reqBody)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(resp, model)
	}
	return resp, nil
}

// Embed generates an embedding vector for the given text using the named
// model. The returned vector's length equals the model's output dimension.
func (c *OllamaClient) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if model == "" {
		model = c.defaultModel
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.embed(ctx, text, model)
	})
	if err != nil {
		return nil, c.mapError(err)
	}
	return result.([]float32), nil
}

// embed is the internal implementation of Embed without breaker wrapping.
func (c *OllamaClient) embed(ctx context.Context, text, model string) ([]float32, error) {
	resp, err := c.post(ctx, "/api/embed", embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, model)
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding vector")
	}
	return respData.Embeddings[0], nil
}

// ListModels returns the models installed on the inference server.
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]ModelInfo, len(respData.Models))
	for i, m := range respData.Models {
		models[i] = ModelInfo{
			Name:          m.Name,
			Size:          m.Size,
			ParameterSize: m.Details.ParameterSize,
			Quantization:  m.Details.QuantizationLevel,
		}
	}
	return models, nil
}

// HasModel reports whether the named model is installed, matching either the
// exact name or the ":latest" tagged variant. The returned error is non-nil
// only when the server couldn't be queried.
func (c *OllamaClient) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == name || m.Name == name+":latest" {
			return true, nil
		}
	}
	return false, nil
}

// HealthCheck verifies the inference server is reachable via /api/version.
// It bypasses the circuit breaker since it's a health probe itself.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// post issues a JSON POST to the given API path.
func (c *OllamaClient) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.postWith(ctx, c.client, path, body)
}

// postWith issues a JSON POST using the given HTTP client.
func (c *OllamaClient) postWith(ctx context.Context, client *http.Client, path string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrServiceUnavailable, err)
	}
	return resp, nil
}

// statusError converts a non-200 response into a taxonomy error. A 404 whose
// body mentions the model maps to ErrModelNotFound with pull guidance.
func (c *OllamaClient) statusError(resp *http.Response, model string) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)

	if resp.StatusCode == http.StatusNotFound && strings.Contains(errResp.Error, "not found") {
		return fmt.Errorf("%w: model %q is not installed (try: ollama pull %s)",
			types.ErrModelNotFound, model, model)
	}
	if errResp.Error != "" {
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
}

// mapError normalizes breaker and transport errors to the shared taxonomy.
func (c *OllamaClient) mapError(err error) error {
	if errors.Is(err, breaker.ErrOpen) {
		return fmt.Errorf("%w: ollama circuit breaker open", types.ErrServiceUnavailable)
	}
	return err
}

// Compile-time assertions that OllamaClient satisfies the LLM interfaces.
var (
	_ TextGenerator      = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
	_ ModelLister        = (*OllamaClient)(nil)
)
