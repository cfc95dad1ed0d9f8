package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/toolcaller/pkg/provider/llm"
	"github.com/MrWong99/toolcaller/pkg/types"
)

// GuardedProvider wraps an [llm.Provider] with a [CircuitBreaker]. Only
// [GuardedProvider.Complete] passes through the breaker; token counting and
// capabilities are local operations and are forwarded directly.
//
// A cancelled caller context does not count as a backend failure. A deadline
// exceeded does, since a backend that keeps blowing its deadline is unhealthy.
type GuardedProvider struct {
	inner   llm.Provider
	breaker *CircuitBreaker
}

var _ llm.Provider = (*GuardedProvider)(nil)

// NewGuardedProvider wraps p. cfg.IsFailure is replaced so that
// [context.Canceled] is never held against the backend.
func NewGuardedProvider(p llm.Provider, cfg CircuitBreakerConfig) *GuardedProvider {
	cfg.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, context.Canceled)
	}
	return &GuardedProvider{inner: p, breaker: NewCircuitBreaker(cfg)}
}

// Breaker exposes the underlying breaker for health reporting.
func (g *GuardedProvider) Breaker() *CircuitBreaker { return g.breaker }

// Complete forwards req unless the breaker is open, in which case it fails
// immediately with an error wrapping [ErrCircuitOpen].
func (g *GuardedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.breaker.Execute(func() error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("resilience: %s: %w", g.breaker.Name(), err)
	}
	return resp, err
}

// CountTokens delegates to the wrapped provider.
func (g *GuardedProvider) CountTokens(messages []types.Message) (int, error) {
	return g.inner.CountTokens(messages)
}

// Capabilities delegates to the wrapped provider.
func (g *GuardedProvider) Capabilities() types.ModelCapabilities {
	return g.inner.Capabilities()
}

// Check reports an error while the breaker is open. Its signature matches
// health.Checker.Check.
func (g *GuardedProvider) Check(context.Context) error {
	if s := g.breaker.State(); s == StateOpen {
		c := g.breaker.Counts()
		return fmt.Errorf("llm circuit %s (%d consecutive failures)", s, c.ConsecutiveFailures)
	}
	return nil
}
