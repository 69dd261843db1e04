package ledgerpay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// DefaultVerificationCacheTTL bounds how long a terminal outcome is reused
const DefaultVerificationCacheTTL = 10 * time.Minute

// VerificationCache deduplicates verification of the same reference. Only one
// caller per key polls the ledger; concurrent callers wait for its result.
// Only terminal outcomes are cached: an exhausted or timed out sequence leaves
// the key free so a later call can look again.
type VerificationCache struct {
	mu       sync.Mutex
	results  map[string]*VerifyResult
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewVerificationCache creates a cache; a non-positive ttl uses DefaultVerificationCacheTTL
func NewVerificationCache(ttl time.Duration) *VerificationCache {
	if ttl <= 0 {
		ttl = DefaultVerificationCacheTTL
	}
	return &VerificationCache{
		results:  make(map[string]*VerifyResult),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// VerificationKey derives the cache key from the reference and what it must prove.
// The same reference checked against a different expectation gets its own key.
func VerificationKey(reference SettlementReference, expected Expectation) string {
	canonical := strings.Join([]string{
		reference.String(),
		expected.Asset.Code,
		expected.Asset.Issuer,
		expected.Destination,
		expected.Amount,
	}, "|")
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// CacheStatus represents the result of checking the cache.
type CacheStatus int

const (
	// StatusNotFound means no cached result and no in-flight verification.
	StatusNotFound CacheStatus = iota
	// StatusCached means a cached result was found.
	StatusCached
	// StatusInFlight means another caller is verifying this key.
	StatusInFlight
)

// CheckAndMark atomically checks the cache and marks the key as in-flight if needed.
// Returns:
// - StatusCached + result if a cached result exists
// - StatusInFlight + wait channel if another caller is verifying
// - StatusNotFound + done channel if this caller should proceed (now marked in-flight)
func (c *VerificationCache) CheckAndMark(key string) (CacheStatus, *VerifyResult, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result := c.getLocked(key); result != nil {
		return StatusCached, result, nil
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult waits for an in-flight verification, respecting context cancellation.
// Returns nil if the in-flight verification ended without a terminal outcome.
func (c *VerificationCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*VerifyResult, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns an unexpired cached result or nil
func (c *VerificationCache) Get(key string) *VerifyResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

// Complete releases the key, caching result when its outcome is terminal.
func (c *VerificationCache) Complete(key string, result *VerifyResult, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result != nil && result.Outcome.IsTerminal() {
		c.results[key] = result
		c.expiry[key] = time.Now().Add(c.ttl)
	}
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail releases the key without caching anything
func (c *VerificationCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

// Do runs verify at most once at a time per key and reuses terminal results.
// Callers that wait on another caller and find no terminal result run verify themselves.
func (c *VerificationCache) Do(ctx context.Context, key string, verify func(context.Context) (*VerifyResult, error)) (*VerifyResult, error) {
	for {
		status, cached, done := c.CheckAndMark(key)
		switch status {
		case StatusCached:
			return cached, nil
		case StatusInFlight:
			result, err := c.WaitForResult(ctx, key, done)
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
			continue
		}

		result, err := verify(ctx)
		if err != nil && (result == nil || !result.Outcome.IsTerminal()) {
			c.Fail(key, done)
			return result, err
		}
		c.Complete(key, result, done)
		return result, err
	}
}

func (c *VerificationCache) getLocked(key string) *VerifyResult {
	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	return c.results[key]
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *VerificationCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
