package embed

import (
	"context"
	"sync"
)

// Serialized funnels every call to a model that is not safe for concurrent
// use through one mutex, so batches from different URLs never interleave
// inside it.
type Serialized struct {
	mu    sync.Mutex
	inner Embedder
}

var _ Embedder = (*Serialized)(nil)

// NewSerialized wraps inner.
func NewSerialized(inner Embedder) *Serialized {
	return &Serialized{inner: inner}
}

// Embed holds the lock for the duration of the call.
func (s *Serialized) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Embed(ctx, text)
}

// EmbedBatch holds the lock for the duration of the call.
func (s *Serialized) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.EmbedBatch(ctx, texts)
}

// Dimensions returns the inner dimension.
func (s *Serialized) Dimensions() int { return s.inner.Dimensions() }

// ModelName returns the inner model name.
func (s *Serialized) ModelName() string { return s.inner.ModelName() }

// Available passes through without taking the lock.
func (s *Serialized) Available(ctx context.Context) bool { return s.inner.Available(ctx) }

// Close waits for an in-flight call, then closes the inner embedder.
func (s *Serialized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close()
}
