package embed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings (no network)
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses the Ollama API
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses the OpenAI embeddings API or a compatible server
	ProviderOpenAI ProviderType = "openai"
)

// Config selects and configures the embedder built by New.
type Config struct {
	Provider   string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration

	OllamaHost    string
	OpenAIBaseURL string
	OpenAIAPIKey  string

	// CacheSize is the number of chunk vectors a ChunkCache keeps; 0 disables it.
	CacheSize int
	// Serialize wraps the model in Serialized.
	Serialize bool

	BreakerFailures int
	BreakerTimeout  time.Duration
}

// New builds the configured provider and applies wrappers, innermost
// first: breaker (remote providers only), serialisation, cache.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var e Embedder
	var remote bool

	switch ParseProvider(cfg.Provider) {
	case ProviderStatic:
		e = NewStaticEmbedder(cfg.Dimensions)

	case ProviderOllama:
		model := cfg.Model
		if model == "" || strings.HasPrefix(model, "static") {
			model = DefaultOllamaModel
		}
		o, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		e, remote = o, true

	case ProviderOpenAI:
		model := cfg.Model
		if strings.HasPrefix(model, "static") {
			model = ""
		}
		o, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
		if err != nil {
			return nil, serrors.ConfigError("failed to configure OpenAI embedder", err).
				WithSuggestion("export OPENAI_API_KEY or set embeddings.openai_base_url")
		}
		e, remote = o, true

	default:
		return nil, serrors.ConfigError("unknown embedding provider: "+cfg.Provider, nil).
			WithSuggestion("use one of: " + strings.Join(ValidProviders(), ", "))
	}

	if remote {
		e = NewBreaker(e, BreakerConfig{Failures: cfg.BreakerFailures, Timeout: cfg.BreakerTimeout})
	}
	if cfg.Serialize {
		e = NewSerialized(e)
	}
	if cfg.CacheSize > 0 {
		e = NewChunkCache(e, cfg.CacheSize)
	}

	slog.Debug("embedder_ready",
		slog.String("provider", cfg.Provider),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))
	return e, nil
}

// ParseProvider converts a string to ProviderType. Empty means static.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "static":
		return ProviderStatic
	case "ollama":
		return ProviderOllama
	case "openai":
		return ProviderOpenAI
	default:
		return ProviderType(s)
	}
}

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{
		string(ProviderStatic),
		string(ProviderOllama),
		string(ProviderOpenAI),
	}
}

// IsValidProvider checks if a provider name is valid
func IsValidProvider(s string) bool {
	p := ParseProvider(s)
	for _, v := range ValidProviders() {
		if string(p) == v {
			return true
		}
	}
	return false
}
