package idempotency

import (
	"context"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

// VerifyFunc performs the verification being deduplicated
type VerifyFunc func(ctx context.Context) (*ledgerpay.VerifyResult, error)

// Store deduplicates verification runs per key.
// Implementations must be safe for concurrent use.
//
// Do runs verify unless a terminal result is cached for key, or waits while
// another caller holds key and then reuses its result. Non-terminal results
// are never stored. *ledgerpay.VerificationCache implements Store in memory.
type Store interface {
	Do(ctx context.Context, key string, verify VerifyFunc) (*ledgerpay.VerifyResult, error)
}

// KeyGenerator generates unique keys for verification deduplication.
type KeyGenerator func(req ledgerpay.VerificationRequest) string

// DefaultKeyGenerator keys on the reference and the full expectation.
func DefaultKeyGenerator(req ledgerpay.VerificationRequest) string {
	return ledgerpay.VerificationKey(req.Reference, req.Expected)
}

// memoryStore adapts the root verification cache to Store
type memoryStore struct {
	cache *ledgerpay.VerificationCache
}

// NewInMemoryStore creates a single-process store
func NewInMemoryStore(cache *ledgerpay.VerificationCache) Store {
	return memoryStore{cache: cache}
}

func (s memoryStore) Do(ctx context.Context, key string, verify VerifyFunc) (*ledgerpay.VerifyResult, error) {
	return s.cache.Do(ctx, key, verify)
}
