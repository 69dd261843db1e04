package idempotency

import "time"

// config holds the configuration for IdempotentVerifier.
type config struct {
	ttl          time.Duration
	store        Store
	keyGenerator KeyGenerator
}

// Option configures an IdempotentVerifier.
type Option func(*config)

// WithTTL sets how long terminal outcomes are reused.
//
// Only applies when using the default in-memory store.
// If WithStore is also specified, this option is ignored
// (configure TTL on your custom store instead).
//
// Default: 10 minutes
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore sets a custom Store implementation, such as RedisStore.
func WithStore(store Store) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithKeyGenerator sets a custom key generation function.
//
// The key must change whenever the expectation changes, otherwise a result
// proven for one amount would be reused for another.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *config) {
		c.keyGenerator = gen
	}
}
