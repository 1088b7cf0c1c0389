// Package config provides configuration management for Recall.
// It loads settings from environment variables with the RECALL_ prefix,
// optionally overlaid from a YAML file, and provides sensible defaults for
// all options. The resulting Config struct is passed explicitly into each
// component's constructor; there is no ambient global configuration, so
// multiple configurations can coexist (e.g. in tests).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// IsolationMode governs how memory records are partitioned across
// collections. Session scoping layers on top of either mode as an extra
// filter dimension (the vector store has no native session concept).
type IsolationMode string

const (
	// IsolationUnified stores all records in one collection, relying on
	// user id filtering at query time. Requires every configured embedding
	// model to produce vectors of the same dimension.
	IsolationUnified IsolationMode = "unified"

	// IsolationModel stores records in one collection per embedding model.
	// Required whenever configured models have different output dimensions;
	// mixing dimensions in one collection is a hard error.
	IsolationModel IsolationMode = "model-isolated"
)

// ParseIsolationMode validates and normalizes an isolation mode string.
// Empty input defaults to unified.
func ParseIsolationMode(s string) (IsolationMode, error) {
	switch IsolationMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", IsolationUnified:
		return IsolationUnified, nil
	case IsolationModel:
		return IsolationModel, nil
	default:
		return "", fmt.Errorf("unknown isolation mode: %q", s)
	}
}

// Config holds all configuration settings for the Recall application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Ollama   OllamaConfig   `yaml:"ollama"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Memory   MemoryConfig   `yaml:"memory"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
	Port int    `yaml:"port"` // Server port (default: 8000)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string `yaml:"security_mode"` // development or production (default: development)
	APIToken     string `yaml:"api_token"`     // Bearer token required in production mode
}

// OllamaConfig contains inference server configuration.
type OllamaConfig struct {
	URL            string        `yaml:"url"`             // Ollama API URL (default: http://localhost:11434)
	Model          string        `yaml:"model"`           // Chat model (default: llama3)
	EmbeddingModel string        `yaml:"embedding_model"` // Embedding model (default: nomic-embed-text)
	Timeout        time.Duration `yaml:"-"`               // Per-request timeout (default: 120s)
	Temperature    float64       `yaml:"temperature"`     // Sampling temperature (default: 0.7)
	MaxTokens      int           `yaml:"max_tokens"`      // Generation token cap (default: 2000)
}

// QdrantConfig contains vector database configuration.
type QdrantConfig struct {
	URL     string        `yaml:"url"` // Qdrant REST URL (default: http://localhost:6333)
	Timeout time.Duration `yaml:"-"`   // Per-request timeout (default: 10s)
}

// MemoryConfig contains memory orchestrator configuration.
type MemoryConfig struct {
	Collection    string        `yaml:"collection"`     // Base collection name (default: ollama_memories)
	Isolation     IsolationMode `yaml:"isolation"`      // unified or model-isolated (default: unified)
	SessionScoped bool          `yaml:"session_scoped"` // Filter searches by session id when one is supplied
	SearchLimit   int           `yaml:"search_limit"`   // Default search result limit (default: 5)
	MinScore      float64       `yaml:"min_score"`      // Inclusive similarity lower bound (default: 0, disabled)
	CacheTTL      time.Duration `yaml:"-"`              // Search cache time-to-live (default: 30s; 0 disables)
	DecayHalfLife time.Duration `yaml:"-"`              // Recency decay half-life (default: 0, disabled)
}

// ModelDimensions maps known model names (without tag suffix) to their
// embedding dimensions. All records in one collection share one vector
// length, so the dimension must be known before a collection is created.
var ModelDimensions = map[string]int{
	"llama3":                 4096,
	"mistral":                4096,
	"gemma":                  4096,
	"phi3":                   2560,
	"qwen2":                  4096,
	"nomic-embed-text":       768,
	"snowflake-arctic-embed": 1024,
	"all-minilm":             384,
	"llava":                  4096,
}

// DefaultDimension is used for models absent from ModelDimensions.
const DefaultDimension = 768

// DimensionFor returns the embedding dimension for a model name, stripping
// any ":tag" suffix (e.g. "nomic-embed-text:latest"). Unknown models fall
// back to DefaultDimension.
func DimensionFor(model string) int {
	base := model
	if i := strings.Index(model, ":"); i >= 0 {
		base = model[:i]
	}
	if dim, ok := ModelDimensions[base]; ok {
		return dim
	}
	return DefaultDimension
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the RECALL_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()

	mode, err := ParseIsolationMode(string(cfg.Memory.Isolation))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Memory.Isolation = mode

	return cfg, nil
}

// LoadConfigFromFile loads configuration from a YAML file layered over the
// environment-derived defaults: the file wins for any field it sets.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	mode, err := ParseIsolationMode(string(cfg.Memory.Isolation))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Memory.Isolation = mode

	return cfg, nil
}

// buildBaseConfig constructs a Config from environment variables and
// defaults. Shared base for LoadConfig and LoadConfigFromFile.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("RECALL_HOST", "127.0.0.1"),
			Port: getEnvInt("RECALL_PORT", 8000),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("RECALL_SECURITY_MODE", "development"),
			APIToken:     getEnv("RECALL_API_TOKEN", ""),
		},
		Ollama: OllamaConfig{
			URL:            getEnv("RECALL_OLLAMA_URL", "http://localhost:11434"),
			Model:          getEnv("RECALL_OLLAMA_MODEL", "llama3"),
			EmbeddingModel: getEnv("RECALL_EMBEDDING_MODEL", "nomic-embed-text"),
			Timeout:        getEnvDuration("RECALL_OLLAMA_TIMEOUT", 120*time.Second),
			Temperature:    getEnvFloat("RECALL_TEMPERATURE", 0.7),
			MaxTokens:      getEnvInt("RECALL_MAX_TOKENS", 2000),
		},
		Qdrant: QdrantConfig{
			URL:     getEnv("RECALL_QDRANT_URL", "http://localhost:6333"),
			Timeout: getEnvDuration("RECALL_QDRANT_TIMEOUT", 10*time.Second),
		},
		Memory: MemoryConfig{
			Collection:    getEnv("RECALL_COLLECTION", "ollama_memories"),
			Isolation:     IsolationMode(getEnv("RECALL_ISOLATION", string(IsolationUnified))),
			SessionScoped: getEnvBool("RECALL_SESSION_SCOPED", false),
			SearchLimit:   getEnvInt("RECALL_SEARCH_LIMIT", 5),
			MinScore:      getEnvFloat("RECALL_MIN_SCORE", 0),
			CacheTTL:      getEnvDuration("RECALL_CACHE_TTL", 30*time.Second),
			DecayHalfLife: getEnvDuration("RECALL_DECAY_HALF_LIFE", 0),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. Recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("30s", "2m") or
// returns a default value. Unparseable values fall back to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
