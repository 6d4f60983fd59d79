package embed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var sum float64
	for i := range min(len(a), len(b)) {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// ============================================================================
// TS01: Basic Embedding
// ============================================================================

func TestStaticEmbedder_Embed_ReturnsConfiguredDimensions(t *testing.T) {
	// Given: static embedders with default and custom dimensions
	def := NewStaticEmbedder(0)
	custom := NewStaticEmbedder(64)

	// When: I embed a sentence
	a, errA := def.Embed(context.Background(), "The quick brown fox")
	b, errB := custom.Embed(context.Background(), "The quick brown fox")

	// Then: vectors have the configured length
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Len(t, a, StaticDimensions)
	assert.Len(t, b, 64)
	assert.Equal(t, 64, custom.Dimensions())
	assert.Equal(t, "static-hash-64", custom.ModelName())
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	embedder := NewStaticEmbedder(0)

	embedding, err := embedder.Embed(context.Background(), "Go is an open source programming language")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, dot(embedding, embedding), 0.001, "vector should be normalized to unit length")
}

func TestStaticEmbedder_Embed_BlankIsZeroVector(t *testing.T) {
	embedder := NewStaticEmbedder(16)

	embedding, err := embedder.Embed(context.Background(), "   \n ")

	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), embedding)
}

// ============================================================================
// TS02: Deterministic Output and Similarity
// ============================================================================

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	a := NewStaticEmbedder(0)
	b := NewStaticEmbedder(0)
	text := "retrieval augmented generation with vector search"

	emb1, _ := a.Embed(context.Background(), text)
	emb2, _ := b.Embed(context.Background(), text)

	assert.Equal(t, emb1, emb2)
}

func TestStaticEmbedder_SimilarTextScoresHigher(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	ctx := context.Background()

	query, _ := embedder.Embed(ctx, "golang concurrency goroutines channels")
	near, _ := embedder.Embed(ctx, "goroutines and channels give golang its concurrency model")
	far, _ := embedder.Embed(ctx, "baking sourdough bread at home requires patience")

	// Unit vectors, so the dot product is the cosine.
	assert.Greater(t, dot(query, near), dot(query, far))
}

func TestStaticEmbedder_EmbedBatch_MatchesEmbed(t *testing.T) {
	embedder := NewStaticEmbedder(32)
	ctx := context.Background()
	texts := []string{"alpha beta", "", "gamma delta"}

	batch, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, _ := embedder.Embed(ctx, text)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_ConcurrentUse(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	want, _ := embedder.Embed(context.Background(), "shared text")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := embedder.EmbedBatch(context.Background(), []string{"shared text", "other"})
			assert.NoError(t, err)
			assert.Equal(t, want, got[0])
		}()
	}
	wg.Wait()
}

// ============================================================================
// TS03: Lifecycle
// ============================================================================

func TestStaticEmbedder_Close(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	assert.True(t, embedder.Available(context.Background()))

	require.NoError(t, embedder.Close())

	assert.False(t, embedder.Available(context.Background()))
	_, err := embedder.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestStaticEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStaticEmbedder(0).EmbedBatch(ctx, []string{"a"})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize_SplitsOnNonAlphanumerics(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "2026", "café"}, tokenize("Hello, world! 2026 Café"))
	assert.Equal(t, []string{"abc", "bcd"}, extractNgrams([]rune("abcd"), 3))
	assert.Empty(t, extractNgrams([]rune("ab"), 3))
}
