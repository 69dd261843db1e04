package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

const (
	defaultKeyPrefix    = "ledgerpay:verify:"
	defaultLockTTL      = 2 * time.Minute
	defaultPollInterval = 100 * time.Millisecond
)

// releaseLock deletes the lock only while this caller still owns it
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures a RedisStore
type RedisOptions struct {
	// TTL for terminal results (optional, defaults to 10 minutes)
	TTL time.Duration

	// LockTTL bounds how long a crashed caller can hold a key (optional, defaults to 2 minutes).
	// Keep it above the verification deadline.
	LockTTL time.Duration

	// PollInterval between checks while another caller holds a key (optional, defaults to 100ms)
	PollInterval time.Duration

	// KeyPrefix namespaces the store's keys (optional)
	KeyPrefix string

	Logger *zap.Logger
}

// RedisStore shares deduplication across processes. A SET NX lock marks a
// key in flight; terminal results are stored as JSON with a TTL.
type RedisStore struct {
	client       redis.UniversalClient
	ttl          time.Duration
	lockTTL      time.Duration
	pollInterval time.Duration
	prefix       string
	logger       *zap.Logger
}

// NewRedisStore creates a store over a connected client
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	s := &RedisStore{
		client:       client,
		ttl:          ttlOrDefault(opts.TTL),
		lockTTL:      opts.LockTTL,
		pollInterval: opts.PollInterval,
		prefix:       opts.KeyPrefix,
		logger:       opts.Logger,
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.prefix == "" {
		s.prefix = defaultKeyPrefix
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Do implements Store
func (s *RedisStore) Do(ctx context.Context, key string, verify VerifyFunc) (*ledgerpay.VerifyResult, error) {
	resultKey := s.prefix + "result:" + key
	lockKey := s.prefix + "lock:" + key
	token := uuid.NewString()

	for {
		cached, err := s.get(ctx, resultKey)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}

		acquired, err := s.client.SetNX(ctx, lockKey, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if acquired {
			return s.run(ctx, key, resultKey, lockKey, token, verify)
		}

		if err := s.waitForRelease(ctx, lockKey); err != nil {
			return nil, err
		}
	}
}

func (s *RedisStore) run(ctx context.Context, key, resultKey, lockKey, token string, verify VerifyFunc) (*ledgerpay.VerifyResult, error) {
	defer func() {
		// The lock must go even when ctx is already done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseLock.Run(releaseCtx, s.client, []string{lockKey}, token).Err(); err != nil {
			s.logger.Warn("failed to release verification lock", zap.String("key", key), zap.Error(err))
		}
	}()

	result, verifyErr := verify(ctx)
	if result == nil || !result.Outcome.IsTerminal() {
		return result, verifyErr
	}

	data, err := json.Marshal(result)
	if err != nil {
		return result, errors.Join(verifyErr, fmt.Errorf("marshal verification result: %w", err))
	}
	if err := s.client.Set(ctx, resultKey, data, s.ttl).Err(); err != nil {
		s.logger.Warn("failed to store verification result", zap.String("key", key), zap.Error(err))
	}
	return result, verifyErr
}

func (s *RedisStore) get(ctx context.Context, resultKey string) (*ledgerpay.VerifyResult, error) {
	data, err := s.client.Get(ctx, resultKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var result ledgerpay.VerifyResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode cached verification: %w", err)
	}
	return &result, nil
}

func (s *RedisStore) waitForRelease(ctx context.Context, lockKey string) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := s.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return fmt.Errorf("redis exists: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}
