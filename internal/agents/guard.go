package agents

import (
	"context"

	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/models"
	"candle-quiz/internal/resilience"
)

// GuardedGenerator skips calls to a generator whose recent calls keep
// failing. While the circuit is open requests fail fast with an
// ExternalError wrapping resilience.ErrCircuitOpen.
type GuardedGenerator struct {
	inner   Generator
	breaker *resilience.CircuitBreaker
}

// NewGuardedGenerator wraps inner with breaker.
func NewGuardedGenerator(inner Generator, breaker *resilience.CircuitBreaker) *GuardedGenerator {
	return &GuardedGenerator{inner: inner, breaker: breaker}
}

// RequestSingle implements Generator.
func (g *GuardedGenerator) RequestSingle(ctx context.Context, p Params, accept func(models.RawCandidate) error) (models.RawCandidate, error) {
	rc, err := resilience.ExecuteWithResult(g.breaker, ctx, func(ctx context.Context) (models.RawCandidate, error) {
		return g.inner.RequestSingle(ctx, p, accept)
	})
	return rc, rejected("single", err)
}

// RequestBatch implements Generator.
func (g *GuardedGenerator) RequestBatch(ctx context.Context, p Params) ([]models.RawCandidate, error) {
	out, err := resilience.ExecuteWithResult(g.breaker, ctx, func(ctx context.Context) ([]models.RawCandidate, error) {
		return g.inner.RequestBatch(ctx, p)
	})
	return out, rejected("batch", err)
}

// Breaker returns the underlying circuit breaker.
func (g *GuardedGenerator) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}

func rejected(op string, err error) error {
	if qerrors.Is(err, resilience.ErrCircuitOpen) {
		return qerrors.NewExternalError(op, 0, err)
	}
	return err
}
