package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/pkg/types"
)

// newFakeOllama starts an httptest server that mimics the Ollama API and
// returns a client pointed at it.
func newFakeOllama(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOllamaClient(OllamaConfig{BaseURL: srv.URL, DefaultModel: "llama3"})
}

func TestGenerateReturnsResponseText(t *testing.T) {
	var gotReq generateRequest
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "Paris is the capital of France.", Done: true})
	})

	text, err := client.Generate(context.Background(), GenerateRequest{
		Prompt: "What is the capital of France?",
		System: "You are a helpful assistant.",
	})

	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", text)
	assert.Equal(t, "llama3", gotReq.Model) // default model filled in
	assert.Equal(t, "You are a helpful assistant.", gotReq.System)
	assert.False(t, gotReq.Stream)
	assert.Equal(t, 0.7, gotReq.Options.Temperature)
}

func TestGenerateModelOverride(t *testing.T) {
	var gotReq generateRequest
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "ok", Done: true})
	})

	_, err := client.Generate(context.Background(), GenerateRequest{
		Model:       "mistral",
		Prompt:      "hi",
		Temperature: 0.2,
		MaxTokens:   50,
	})

	require.NoError(t, err)
	assert.Equal(t, "mistral", gotReq.Model)
	assert.Equal(t, 0.2, gotReq.Options.Temperature)
	assert.Equal(t, 50, gotReq.Options.NumPredict)
}

func TestGenerateFormatPassthrough(t *testing.T) {
	var gotBody map[string]interface{}
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "{}", Done: true})
	})

	// No format: the field is omitted from the wire body entirely.
	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.NotContains(t, gotBody, "format")

	// Bare JSON mode.
	_, err = client.Generate(context.Background(), GenerateRequest{Prompt: "hi", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, "json", gotBody["format"])

	// Structured output: the schema is forwarded as-is.
	schema := map[string]interface{}{
		"type":     "object",
		"required": []string{"summary"},
	}
	_, err = client.Generate(context.Background(), GenerateRequest{Prompt: "hi", Format: schema})
	require.NoError(t, err)
	sent, ok := gotBody["format"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "object", sent["type"])
}

func TestGenerateModelNotFound(t *testing.T) {
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: `model "llava" not found, try pulling it first`})
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Model: "llava", Prompt: "hi"})

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrModelNotFound)
	assert.Contains(t, err.Error(), "ollama pull llava")
}

func TestGenerateServiceUnavailable(t *testing.T) {
	// Point at a closed port.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: url})
	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})

	assert.ErrorIs(t, err, types.ErrServiceUnavailable)
}

func TestGenerateCircuitBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: url})

	// Trip the breaker (3 consecutive failures by default).
	for i := 0; i < 3; i++ {
		_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
		require.Error(t, err)
	}

	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestEmbedReturnsVector(t *testing.T) {
	var gotReq embedRequest
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3, 0.4}}})
	})

	vec, err := client.Embed(context.Background(), "hello world", "nomic-embed-text")

	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, "nomic-embed-text", gotReq.Model)
	assert.Equal(t, "hello world", gotReq.Input)
}

func TestEmbedEmptyVectorIsError(t *testing.T) {
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{}})
	})

	_, err := client.Embed(context.Background(), "hello", "nomic-embed-text")
	assert.ErrorContains(t, err, "empty embedding")
}

func TestListModels(t *testing.T) {
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[
			{"name":"llama3:latest","size":4661224676,"details":{"parameter_size":"8B","quantization_level":"Q4_0"}},
			{"name":"nomic-embed-text:latest","size":274302450,"details":{"parameter_size":"137M","quantization_level":"F16"}}
		]}`))
	})

	models, err := client.ListModels(context.Background())

	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3:latest", models[0].Name)
	assert.Equal(t, "8B", models[0].ParameterSize)
	assert.Equal(t, "F16", models[1].Quantization)
}

func TestHasModelMatchesLatestTag(t *testing.T) {
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest"},{"name":"phi3:mini"}]}`))
	})

	ok, err := client.HasModel(context.Background(), "llama3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.HasModel(context.Background(), "phi3:mini")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.HasModel(context.Background(), "mistral")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHealthCheck(t *testing.T) {
	client := newFakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/version", r.URL.Path)
		_, _ = w.Write([]byte(`{"version":"0.5.1"}`))
	})

	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestHealthCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: url})
	err := client.HealthCheck(context.Background())
	assert.ErrorIs(t, err, types.ErrServiceUnavailable)
}
