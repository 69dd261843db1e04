// Package idempotency deduplicates settlement verification as an opt-in extension.
//
// # Overview
//
// Verifying a reference polls the ledger for up to the verification deadline.
// When a client retries, or several workers reconcile the same payment, every
// caller would poll independently. Wrapping the verifier makes one caller
// poll while the others wait for its result, and reuses terminal outcomes
// for a TTL.
//
// Only terminal outcomes are reused: found matching, found nonmatching and
// found unsuccessful. An exhausted, timed out or unavailable verification
// leaves the key free so the next caller looks again.
//
// # Usage
//
// Basic usage with the in-memory store:
//
//	verifier := ledgerpay.NewSettlementVerifier(ledger, cfg)
//	deduped := idempotency.Wrap(verifier)
//
// Custom TTL:
//
//	deduped := idempotency.Wrap(verifier, idempotency.WithTTL(30*time.Minute))
//
// Shared store for several instances:
//
//	store := idempotency.NewRedisStore(redisClient, idempotency.RedisOptions{TTL: 10 * time.Minute})
//	deduped := idempotency.Wrap(verifier, idempotency.WithStore(store))
//
// Balance-delta verification passes straight through: it has no reference to key on.
package idempotency
