package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a small general-purpose text embedding model
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout for the initial health check
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize for connection pool
	OllamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	// Model is the embedding model to use
	Model string

	// Dimensions can be set to override auto-detection (0 = auto-detect)
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int

	// Timeout per API request (default: 60s)
	Timeout time.Duration

	// PoolSize for HTTP connection pool (default: 4)
	PoolSize int

	// SkipHealthCheck skips the initial availability check (for testing)
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:      DefaultOllamaHost,
		Model:     DefaultOllamaModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
		PoolSize:  OllamaPoolSize,
	}
}

// ollamaEmbedRequest is the Ollama /api/embed request
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the Ollama /api/embed response
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport // Store for connection cleanup
	config    OllamaConfig
	dims      int

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set, it embeds a probe text to confirm the model is served and to detect
// its dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No http.Client.Timeout: each request carries its own context deadline.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		vecs, err := e.doEmbed(checkCtx, []string{"dimension detection"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, serrors.New(serrors.ErrCodeNetworkUnavailable,
				"failed to reach Ollama at "+cfg.Host, err).
				WithSuggestion(fmt.Sprintf("start Ollama and run 'ollama pull %s', or set embeddings.provider: static", cfg.Model))
		}
		if cfg.Dimensions == 0 {
			e.dims = len(vecs[0])
		} else if len(vecs[0]) != cfg.Dimensions {
			transport.CloseIdleConnections()
			return nil, serrors.New(serrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model %s produces %d dimensions, configured %d", cfg.Model, len(vecs[0]), cfg.Dimensions), nil)
		}
	}

	if e.dims == 0 {
		return nil, serrors.ConfigError("embeddings.dimensions is required when the health check is skipped", nil)
	}

	return e, nil
}

// Embed generates embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts using Ollama's batch
// API. Blank texts get a zero vector without a request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var idx []int
	var pending []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		idx = append(idx, i)
		pending = append(pending, text)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(pending))

		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		embeddings, err := e.doEmbed(reqCtx, pending[start:end])
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		if len(embeddings) != end-start {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(embeddings), end-start)
		}

		for i, emb := range embeddings {
			results[idx[start+i]] = emb
		}
	}

	return results, nil
}

// doEmbed performs one /api/embed call.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available probes the Ollama server.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases pooled connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
