// Package embed turns chunk text into fixed-dimension vectors.
//
// Every provider satisfies Embedder. Wrappers add a per-chunk vector cache (ChunkCache),
// a single access point for models that must not run concurrently
// (Serialized) and a circuit breaker for remote providers (Breaker).
package embed

import (
	"context"
	"fmt"
	"math"
	"time"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// Common embedding constants
const (
	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout bounds one embedding request to a remote provider
	DefaultTimeout = 60 * time.Second

	// StaticDimensions is the default dimension of the static embedder
	StaticDimensions = 384
)

// Embedder generates vector embeddings for text.
// Implementations must be safe for concurrent use, or be wrapped in
// Serialized.
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one embedding per text, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// Validate checks a batch result against the embedder contract: one vector
// per input, each of length dims. A violation is an embedding error for the
// whole batch.
func Validate(vectors [][]float32, inputs, dims int) error {
	if len(vectors) != inputs {
		return serrors.New(serrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedder returned %d vectors for %d inputs", len(vectors), inputs), nil)
	}
	for i, v := range vectors {
		if len(v) != dims {
			return serrors.New(serrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding %d has dimension %d, expected %d", i, len(v), dims), nil).
				WithDetail("index", fmt.Sprint(i))
		}
	}
	return nil
}

// EmbedChecked runs EmbedBatch and validates the result. Any failure is
// returned as an ERR_502 or ERR_402 error.
func EmbedChecked(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	vectors, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		if _, ok := serrors.As(err); ok {
			return nil, err
		}
		return nil, serrors.Wrapf(serrors.ErrCodeEmbeddingFailed, err, "embed %d chunks with %s", len(texts), e.ModelName())
	}
	if err := Validate(vectors, len(texts), e.Dimensions()); err != nil {
		return nil, err
	}
	return vectors, nil
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
