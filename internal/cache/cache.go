// Package cache stores chunking and embedding results keyed by the hash of
// the extracted text, so identical content served from different URLs (or
// fetched again within the TTL) skips chunking and embedding.
//
// Caches are advisory: wrap any backend in Advisory and its failures turn
// into misses instead of pipeline errors.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL is how long a cached entry stays valid.
const DefaultTTL = time.Hour

// Cache is a byte-value store with per-entry TTL. Implementations are safe
// for concurrent use. A missing or expired key is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// ContentHash returns the hex SHA-256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Key builds the cache key for a content hash. Chunk size and model are
// part of the key because they change the stored result.
func Key(contentHash string, maxWords int, model string) string {
	return fmt.Sprintf("chunks:%s:%d:%s", contentHash, maxWords, model)
}

// Payload is the cached result of chunking and embedding one document.
type Payload struct {
	Chunks     []string    `json:"chunks"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Encode serialises p.
func Encode(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses data and checks it is usable with an embedder of the given
// dimension: one vector per chunk, each of length dims, at least one chunk.
func Decode(data []byte, dims int) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode cached payload: %w", err)
	}
	if len(p.Chunks) == 0 {
		return Payload{}, fmt.Errorf("cached payload has no chunks")
	}
	if len(p.Embeddings) != len(p.Chunks) {
		return Payload{}, fmt.Errorf("cached payload has %d embeddings for %d chunks", len(p.Embeddings), len(p.Chunks))
	}
	for i, v := range p.Embeddings {
		if len(v) != dims {
			return Payload{}, fmt.Errorf("cached embedding %d has dimension %d, want %d", i, len(v), dims)
		}
	}
	return p, nil
}

// None never stores anything.
type None struct{}

var _ Cache = None{}

// Get always misses.
func (None) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards the value.
func (None) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Close is a no-op.
func (None) Close() error { return nil }
