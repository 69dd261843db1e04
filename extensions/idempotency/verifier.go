package idempotency

import (
	"context"
	"time"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

// Verifier is the verification contract being wrapped
type Verifier interface {
	Verify(ctx context.Context, req ledgerpay.VerificationRequest) (*ledgerpay.VerifyResult, error)
	VerifyBalanceDelta(ctx context.Context, previous ledgerpay.BalanceSnapshot, expected string) (*ledgerpay.VerifyResult, error)
}

// IdempotentVerifier wraps a verifier with per-reference deduplication.
type IdempotentVerifier struct {
	inner        Verifier
	store        Store
	keyGenerator KeyGenerator
}

// Wrap creates an IdempotentVerifier around verifier.
//
// Default configuration:
//   - in-memory store with a 10-minute TTL
//   - key from reference and expectation
func Wrap(verifier Verifier, opts ...Option) *IdempotentVerifier {
	cfg := &config{
		ttl:          ledgerpay.DefaultVerificationCacheTTL,
		keyGenerator: DefaultKeyGenerator,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(ledgerpay.NewVerificationCache(cfg.ttl))
	}

	return &IdempotentVerifier{
		inner:        verifier,
		store:        store,
		keyGenerator: cfg.keyGenerator,
	}
}

// Verify deduplicates verification of the request's reference.
// Requests without a reference go straight to the wrapped verifier.
func (v *IdempotentVerifier) Verify(ctx context.Context, req ledgerpay.VerificationRequest) (*ledgerpay.VerifyResult, error) {
	if req.Reference == "" {
		return v.inner.Verify(ctx, req)
	}
	return v.store.Do(ctx, v.keyGenerator(req), func(ctx context.Context) (*ledgerpay.VerifyResult, error) {
		return v.inner.Verify(ctx, req)
	})
}

// VerifyBalanceDelta delegates to the wrapped verifier.
// A balance comparison reflects the moment it runs, so it is never reused.
func (v *IdempotentVerifier) VerifyBalanceDelta(ctx context.Context, previous ledgerpay.BalanceSnapshot, expected string) (*ledgerpay.VerifyResult, error) {
	return v.inner.VerifyBalanceDelta(ctx, previous, expected)
}

// Inner returns the wrapped verifier for direct access.
func (v *IdempotentVerifier) Inner() Verifier {
	return v.inner
}

// ttlOrDefault is shared by stores that take an optional TTL
func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ledgerpay.DefaultVerificationCacheTTL
	}
	return ttl
}
