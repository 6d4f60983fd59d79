package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = string(openai.SmallEmbedding3)

// openAIDimensions lists native output sizes of known embedding models.
var openAIDimensions = map[string]int{
	string(openai.AdaEmbeddingV2):  1536,
	string(openai.SmallEmbedding3): 1536,
	string(openai.LargeEmbedding3): 3072,
}

// ErrNoAPIKey is returned when the OpenAI provider has no key.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY is not set")

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	APIKey string
	// BaseURL targets an OpenAI-compatible server; empty means api.openai.com.
	BaseURL string
	Model   string
	// Dimensions requests shortened vectors from text-embedding-3 models and
	// is required for models missing from the built-in table.
	Dimensions int
	BatchSize  int
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// embeddingAPI is the slice of the go-openai client used here.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls the /v1/embeddings API.
type OpenAIEmbedder struct {
	api       embeddingAPI
	model     string
	dims      int
	requested int // dimensions sent with each request, 0 = model default
	batchSize int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for cfg.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}

	dims := cfg.Dimensions
	if dims == 0 {
		known, ok := openAIDimensions[cfg.Model]
		if !ok {
			return nil, fmt.Errorf("unknown dimension for model %q: set embeddings.dimensions", cfg.Model)
		}
		dims = known
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIEmbedder{
		api:       openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dims:      dims,
		requested: cfg.Dimensions,
		batchSize: cfg.BatchSize,
	}, nil
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends texts in requests of at most batchSize inputs. Results
// are placed by the index the API reports, not by response order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      texts[start:end],
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.requested,
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= end-start {
				return nil, fmt.Errorf("openai returned out-of-range index %d", d.Index)
			}
			results[start+d.Index] = d.Embedding
		}
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Available reports whether the embedder is open. It does not spend an
// API call.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
