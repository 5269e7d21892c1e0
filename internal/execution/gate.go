// Package execution serializes order-mutating exchange calls.
package execution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"scalper_go/internal/domain"
)

// DefaultMinInterval is the minimum spacing between order-mutating calls
// against one trading identity.
const DefaultMinInterval = 500 * time.Millisecond

// RetryPolicy parameterizes in-place retries on ordering conflicts.
// Any failure other than an ordering conflict propagates immediately.
type RetryPolicy struct {
	MaxTries   uint
	Initial    time.Duration
	Multiplier float64
}

// LimitOrderPolicy retries limit orders up to 3 times with flat backoff.
func LimitOrderPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 3, Initial: time.Second, Multiplier: 1.0}
}

// MarketOrderPolicy retries market orders harder: they are mostly used to
// close positions, so giving up early leaves risk on the book.
func MarketOrderPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 5, Initial: time.Second, Multiplier: 1.5}
}

// CancelPolicy performs a single attempt.
func CancelPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 1, Initial: time.Second, Multiplier: 1.0}
}

// Op performs one order-mutating exchange call using the sequencing token
// acquired for this attempt.
type Op func(ctx context.Context, token uint64) (string, error)

// Gate guarantees at most one in-flight order-mutating call at a time,
// enforces minimum spacing between call starts, and retries transient
// ordering conflicts with a fresh token per attempt.
type Gate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	tokens  domain.TokenSource
	logger  *slog.Logger
}

// NewGate creates a gate with the given inter-call spacing.
func NewGate(tokens domain.TokenSource, minInterval time.Duration) *Gate {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		tokens:  tokens,
		logger:  slog.Default().With("module", "submission_gate"),
	}
}

// Submit runs op under the gate's critical section, applying policy on
// ordering conflicts. Each attempt acquires a fresh sequencing token;
// tokens are never reused across attempts.
func (g *Gate) Submit(ctx context.Context, policy RetryPolicy, op Op) (string, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = policy.Initial
	backoffCfg.Multiplier = policy.Multiplier
	backoffCfg.RandomizationFactor = 0

	var lastErr error
	for attempt := uint(1); attempt <= policy.MaxTries; attempt++ {
		result, err := g.attempt(ctx, op)
		if err == nil {
			return result, nil
		}
		if !domain.IsOrderingConflict(err) {
			return "", err
		}
		lastErr = err

		if attempt == policy.MaxTries {
			break
		}
		g.logger.Warn("ordering conflict, retrying",
			slog.Uint64("attempt", uint64(attempt)),
			slog.Uint64("max_tries", uint64(policy.MaxTries)),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoffCfg.NextBackOff()):
		}
	}
	return "", lastErr
}

// attempt is the critical section: spacing is measured from true call
// time, inside the lock, so two concurrent submissions can never start
// closer together than the configured interval.
func (g *Gate) attempt(ctx context.Context, op Op) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	token, err := g.tokens.NextToken(ctx)
	if err != nil {
		return "", domain.NewTransportError("next_token", err)
	}

	return op(ctx, token)
}
