package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"rxsearch/internal/fault"
)

// =============================================================================
// CIRCUIT BREAKER DECORATOR
// =============================================================================

// Breaker trips after consecutive provider failures and rejects calls while
// open, so a dead provider fails fast instead of burning the retry budget on
// every request. Placed under the cache decorator: hits keep flowing while
// the breaker is open.
type Breaker struct {
	next Embedder
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker wraps next with a circuit breaker. The breaker opens after five
// consecutive failures and probes again after 30 seconds.
func NewBreaker(next Embedder, logger *zap.Logger) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Caller-side cancellation says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Breaker{next: next, cb: cb}
}

// Embed delegates through the breaker.
func (b *Breaker) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Embed(ctx, text)
	})
	if err != nil {
		return nil, b.classify(err)
	}
	return v.([]float32), nil
}

// EmbedBatch delegates through the breaker.
func (b *Breaker) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, b.classify(err)
	}
	if v == nil {
		return nil, nil
	}
	return v.([][]float32), nil
}

// Dimensions returns the wrapped embedder's dimensionality.
func (b *Breaker) Dimensions() int {
	return b.next.Dimensions()
}

// Name returns the wrapped embedder's name.
func (b *Breaker) Name() string {
	return b.next.Name()
}

// HealthCheck forwards the startup probe to the wrapped embedder. It bypasses
// the breaker on purpose: a probe must reach the provider even while open.
func (b *Breaker) HealthCheck(ctx context.Context) error {
	if hc, ok := b.next.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (b *Breaker) classify(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fault.E(fault.UpstreamUnavailable, "embedding.breaker", err)
	}
	return err
}
