package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Advisory wraps a Cache so that its failures never surface: a failed Get
// is a miss and a failed Set is dropped. Both are logged and counted.
type Advisory struct {
	inner Cache

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

var _ Cache = (*Advisory)(nil)

// NewAdvisory wraps inner.
func NewAdvisory(inner Cache) *Advisory {
	return &Advisory{inner: inner}
}

// Get never returns an error.
func (a *Advisory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok, err := a.inner.Get(ctx, key)
	if err != nil {
		a.errs.Add(1)
		a.misses.Add(1)
		slog.Warn("cache_get_failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false, nil
	}
	if ok {
		a.hits.Add(1)
	} else {
		a.misses.Add(1)
	}
	return val, ok, nil
}

// Set never returns an error.
func (a *Advisory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := a.inner.Set(ctx, key, value, ttl); err != nil {
		a.errs.Add(1)
		slog.Warn("cache_set_failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// Close closes the wrapped cache.
func (a *Advisory) Close() error {
	return a.inner.Close()
}

// Stats reports hit, miss and error counts since creation.
func (a *Advisory) Stats() (hits, misses, errs int64) {
	return a.hits.Load(), a.misses.Load(), a.errs.Load()
}
