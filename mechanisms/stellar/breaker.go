package stellar

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

// BreakerConfig tunes the circuit breaker in front of Horizon
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig opens after 5 consecutive outages and probes again after 30s
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerLedger stops calling an unreachable ledger and answers service_unavailable
// until the breaker half-opens. Not found, rate limited and rejected answers prove
// the service is up and count as successes.
type BreakerLedger struct {
	next    ledgerpay.Ledger
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerLedger wraps next with a circuit breaker
func NewBreakerLedger(name string, next ledgerpay.Ledger, config BreakerConfig, logger *zap.Logger) *BreakerLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &BreakerLedger{next: next, logger: logger}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-" + name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ledgerpay.ErrServiceUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return b
}

// State reports the breaker state
func (b *BreakerLedger) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerLedger) Submit(ctx context.Context, envelope ledgerpay.SignedEnvelope) (ledgerpay.SettlementReference, error) {
	return execute(b, func() (ledgerpay.SettlementReference, error) {
		return b.next.Submit(ctx, envelope)
	})
}

func (b *BreakerLedger) QueryByReference(ctx context.Context, reference ledgerpay.SettlementReference) (*ledgerpay.SettlementRecord, error) {
	return execute(b, func() (*ledgerpay.SettlementRecord, error) {
		return b.next.QueryByReference(ctx, reference)
	})
}

func (b *BreakerLedger) QueryByAccount(ctx context.Context, account string) (*ledgerpay.AccountState, error) {
	return execute(b, func() (*ledgerpay.AccountState, error) {
		return b.next.QueryByAccount(ctx, account)
	})
}

func execute[T any](b *BreakerLedger, fn func() (T, error)) (T, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, unavailable(err)
	}
	value, _ := result.(T)
	return value, err
}
