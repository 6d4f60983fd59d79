package embed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// BreakerConfig configures the circuit breaker around a remote embedder.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures int
	// Timeout is how long the circuit stays open before a trial request.
	Timeout time.Duration
}

// Breaker fails fast while a remote embedder keeps failing, so one dead
// provider costs each remaining URL a cheap error instead of a timeout.
type Breaker struct {
	inner Embedder
	cb    *gobreaker.CircuitBreaker
}

var _ Embedder = (*Breaker)(nil)

// NewBreaker wraps inner.
func NewBreaker(inner Embedder, cfg BreakerConfig) *Breaker {
	if cfg.Failures <= 0 {
		cfg.Failures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	failures := uint32(cfg.Failures)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedder:" + inner.ModelName(),
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Caller cancellation says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("embedder_breaker_state",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

// Embed runs through the breaker.
func (b *Breaker) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch runs through the breaker. An open circuit returns
// ERR_302_NETWORK_UNAVAILABLE without calling the provider.
func (b *Breaker) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, serrors.New(serrors.ErrCodeNetworkUnavailable,
			"embedding provider unavailable (circuit open)", err).
			WithDetail("model", b.inner.ModelName())
	}
	if err != nil {
		return nil, err
	}
	return res.([][]float32), nil
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Dimensions returns the inner dimension.
func (b *Breaker) Dimensions() int { return b.inner.Dimensions() }

// ModelName returns the inner model name.
func (b *Breaker) ModelName() string { return b.inner.ModelName() }

// Available reports false while the circuit is open.
func (b *Breaker) Available(ctx context.Context) bool {
	return b.cb.State() != gobreaker.StateOpen && b.inner.Available(ctx)
}

// Close closes the inner embedder.
func (b *Breaker) Close() error { return b.inner.Close() }
