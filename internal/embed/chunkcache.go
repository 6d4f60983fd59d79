package embed

import (
	"context"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/searchidx/internal/cache"
)

// DefaultChunkCacheSize is the number of chunk vectors kept. At 384
// dimensions that is about 6 MiB.
const DefaultChunkCacheSize = 4096

// ChunkCacheStats counts lookups in a ChunkCache.
type ChunkCacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// ChunkCache remembers the vector of every chunk it embedded, keyed by
// the chunk's content hash. Pages that miss the document cache often still
// share chunks (footers, cookie banners, syndicated paragraphs), and those
// are embedded once per process. Identical chunks inside one batch are sent
// to the model once.
type ChunkCache struct {
	inner   Embedder
	vectors *lru.Cache[string, []float32]
	hits    atomic.Int64
	misses  atomic.Int64
}

var _ Embedder = (*ChunkCache)(nil)

// NewChunkCache wraps inner with a cache of size chunk vectors.
func NewChunkCache(inner Embedder, size int) *ChunkCache {
	if size <= 0 {
		size = DefaultChunkCacheSize
	}
	vectors, _ := lru.New[string, []float32](size)
	return &ChunkCache{inner: inner, vectors: vectors}
}

// key is the hash of the chunk text. Vectors from a different model never
// share a key because every model gets its own ChunkCache.
func (c *ChunkCache) key(text string) string {
	return cache.ContentHash(text)
}

// Embed implements Embedder.
func (c *ChunkCache) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch returns one vector per text in order. Only chunks not seen
// before reach the inner embedder, in a single batch.
func (c *ChunkCache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var missing []string

	for i, text := range texts {
		k := c.key(text)
		if vec, ok := c.vectors.Get(k); ok {
			out[i] = slices.Clone(vec)
			c.hits.Add(1)
			continue
		}
		if _, queued := pending[k]; !queued {
			missing = append(missing, text)
		} else {
			c.hits.Add(1)
		}
		pending[k] = append(pending[k], i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	c.misses.Add(int64(len(missing)))

	fresh, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	// A malformed batch is never remembered.
	if err := Validate(fresh, len(missing), c.inner.Dimensions()); err != nil {
		return nil, err
	}
	for j, text := range missing {
		k := c.key(text)
		c.vectors.Add(k, fresh[j])
		for _, i := range pending[k] {
			out[i] = slices.Clone(fresh[j])
		}
	}
	return out, nil
}

// CacheStats reports hits, misses and the number of cached chunks.
func (c *ChunkCache) CacheStats() ChunkCacheStats {
	return ChunkCacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.vectors.Len(),
	}
}

func (c *ChunkCache) Dimensions() int                    { return c.inner.Dimensions() }
func (c *ChunkCache) ModelName() string                  { return c.inner.ModelName() }
func (c *ChunkCache) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *ChunkCache) Close() error                       { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *ChunkCache) Inner() Embedder { return c.inner }
