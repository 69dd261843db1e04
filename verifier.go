package ledgerpay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/x402-foundation/ledgerpay")

// balanceDeltaCaveat is attached to every balance-delta result so audits can tell the evidence apart
const balanceDeltaCaveat = "inferred from balance decrease; the balance is not locked, so an unrelated transfer from the same account can produce the same delta"

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// VerificationRequest selects the strategies Verify may use. With a Reference the
// lookup strategy runs first; PreviousBalance enables the balance-delta fallback.
type VerificationRequest struct {
	Reference       SettlementReference `json:"reference,omitempty"`
	Expected        Expectation         `json:"expected"`
	PreviousBalance *BalanceSnapshot    `json:"previousBalance,omitempty"`
}

// SettlementVerifier decides whether a submitted transfer actually settled.
//
// It holds no per-reference state: every attempt re-reads the ledger. Callers that may
// verify the same reference from several goroutines should go through a VerificationCache
// (or extensions/idempotency) so only one sequence per reference polls the ledger.
type SettlementVerifier struct {
	mu     sync.RWMutex
	ledger Ledger
	config Config
	logger *zap.Logger
	now    func() time.Time
	sleep  SleepFunc

	beforeVerifyHooks    []BeforeVerifyHook
	verifyAttemptHooks   []VerifyAttemptHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
}

// VerifierOption configures the verifier
type VerifierOption func(*SettlementVerifier)

// WithVerifierLogger sets the structured logger
func WithVerifierLogger(logger *zap.Logger) VerifierOption {
	return func(v *SettlementVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithSleep replaces the blocking delay between attempts
func WithSleep(sleep SleepFunc) VerifierOption {
	return func(v *SettlementVerifier) {
		if sleep != nil {
			v.sleep = sleep
		}
	}
}

// WithVerifierClock sets the time source used for deadline checks
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *SettlementVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewSettlementVerifier creates a verifier; zero config values take their defaults
func NewSettlementVerifier(ledger Ledger, config Config, opts ...VerifierOption) *SettlementVerifier {
	v := &SettlementVerifier{
		ledger: ledger,
		config: config.withDefaults(),
		logger: zap.NewNop(),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (v *SettlementVerifier) OnBeforeVerify(hook BeforeVerifyHook) *SettlementVerifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.beforeVerifyHooks = append(v.beforeVerifyHooks, hook)
	return v
}

func (v *SettlementVerifier) OnVerifyAttempt(hook VerifyAttemptHook) *SettlementVerifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verifyAttemptHooks = append(v.verifyAttemptHooks, hook)
	return v
}

func (v *SettlementVerifier) OnAfterVerify(hook AfterVerifyHook) *SettlementVerifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.afterVerifyHooks = append(v.afterVerifyHooks, hook)
	return v
}

func (v *SettlementVerifier) OnVerifyFailure(hook OnVerifyFailureHook) *SettlementVerifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onVerifyFailureHooks = append(v.onVerifyFailureHooks, hook)
	return v
}

// Config returns the effective configuration
func (v *SettlementVerifier) Config() Config {
	return v.config
}

// ============================================================================
// Verification
// ============================================================================

// Verify runs the reference lookup and, when it ends without a determination
// (exhausted or unavailable) and a pre-transfer snapshot is present, the
// balance-delta fallback. A record confirmed unsuccessful or non-matching is
// final and never falls back. Both strategies share one VerificationDeadline
// measured from the call.
func (v *SettlementVerifier) Verify(ctx context.Context, req VerificationRequest) (*VerifyResult, error) {
	begin := v.now()
	if req.Reference == "" {
		if req.PreviousBalance == nil {
			return nil, constructionError("either a reference or a previous balance snapshot is required")
		}
		return v.verifyBalanceDelta(ctx, *req.PreviousBalance, req.Expected.Amount, begin)
	}

	result, err := v.verifyReference(ctx, req.Reference, req.Expected, begin)
	if result == nil || !result.Outcome.AllowsFallback() || req.PreviousBalance == nil {
		return result, err
	}

	v.logger.Warn("reference lookup inconclusive, falling back to balance delta",
		zap.String("reference", req.Reference.String()),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempts", result.Attempts),
	)

	fallback, fbErr := v.verifyBalanceDelta(ctx, *req.PreviousBalance, req.Expected.Amount, begin)
	if fallback == nil {
		return result, errors.Join(err, fbErr)
	}
	fallback.Reference = req.Reference
	fallback.Attempts += result.Attempts
	return fallback, fbErr
}

// VerifyReference looks the reference up at a fixed interval until the ledger
// returns a record, the attempt budget is spent, or the deadline is reached.
//
// Not found, rate limited and unavailable answers are retried. Exhausting the
// budget on not found returns an exhausted_not_found result with a nil error;
// exhausting it on an unavailable service returns a service_unavailable result
// and ErrServiceUnavailable. A reached deadline returns a timed_out result and
// ErrVerificationTimedOut.
func (v *SettlementVerifier) VerifyReference(ctx context.Context, reference SettlementReference, expected Expectation) (*VerifyResult, error) {
	return v.verifyReference(ctx, reference, expected, v.now())
}

// verifyReference measures the deadline from begin, which precedes start when
// called from Verify
func (v *SettlementVerifier) verifyReference(ctx context.Context, reference SettlementReference, expected Expectation, begin time.Time) (*VerifyResult, error) {
	if reference == "" {
		return nil, constructionError("settlement reference is required")
	}
	expectedAmount, err := positiveAmount(expected.Amount)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	beforeHooks := v.beforeVerifyHooks
	v.mu.RUnlock()

	start := v.now()
	hookCtx := VerifyContext{
		Ctx:        ctx,
		Reference:  reference,
		Expected:   expected,
		Confidence: ConfidenceReference,
		Timestamp:  start,
	}
	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			v.fail(hookCtx, err, start)
			return nil, err
		}
		if result != nil && result.Abort {
			return &VerifyResult{
				Outcome:    OutcomePending,
				Confidence: ConfidenceReference,
				Reference:  reference,
				Reason:     result.Reason,
			}, nil
		}
	}

	ctx, span := tracer.Start(ctx, "ledgerpay.verify_reference")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledgerpay.reference", reference.String()),
		attribute.String("ledgerpay.asset", expected.Asset.String()),
		attribute.String("ledgerpay.amount", expected.Amount),
		attribute.String("ledgerpay.destination", expected.Destination),
	)

	deadline, hasDeadline := v.deadline(ctx, begin)
	if hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	log := v.logger.With(zap.String("reference", reference.String()))
	result := &VerifyResult{
		Outcome:    OutcomePending,
		Confidence: ConfidenceReference,
		Reference:  reference,
	}

	var lastErr error
	for attempt := 1; attempt <= v.config.MaxVerificationAttempts; attempt++ {
		if attempt > 1 {
			if hasDeadline && v.now().Add(v.config.RetryInterval).After(deadline) {
				return v.timedOut(hookCtx, result, start, log, span)
			}
			if err := v.sleep(ctx, v.config.RetryInterval); err != nil {
				return v.timedOut(hookCtx, result, start, log, span)
			}
		}

		record, queryErr := v.lookup(ctx, reference, attempt)
		result.Attempts = attempt
		v.attempted(hookCtx, attempt, record != nil, queryErr)

		if queryErr != nil {
			if ctx.Err() != nil {
				return v.timedOut(hookCtx, result, start, log, span)
			}
			if !isTransientQueryError(queryErr) {
				log.Error("verification query failed", zap.Int("attempt", attempt), zap.Error(queryErr))
				span.RecordError(queryErr)
				span.SetStatus(codes.Error, "query failed")
				err := fmt.Errorf("query settlement %s: %w", reference, queryErr)
				v.fail(hookCtx, err, start)
				return nil, err
			}
			lastErr = queryErr
			log.Info("settlement not yet visible",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", v.config.MaxVerificationAttempts),
				zap.String("cause", ErrorCode(queryErr)),
			)
			continue
		}

		evaluateRecord(record, expected, expectedAmount, result)
		log.Info("settlement found",
			zap.Int("attempt", attempt),
			zap.String("outcome", string(result.Outcome)),
			zap.Bool("verified", result.Verified),
		)
		return v.finish(hookCtx, result, start, span), nil
	}

	if errors.Is(lastErr, ErrServiceUnavailable) {
		result.Outcome = OutcomeServiceUnavailable
		result.Reason = fmt.Sprintf("query service unavailable after %d attempts", result.Attempts)
		log.Warn("verification exhausted", zap.String("outcome", string(result.Outcome)), zap.Int("attempts", result.Attempts))
		v.finish(hookCtx, result, start, span)
		return result, &PaymentError{
			Code:    ErrCodeServiceUnavailable,
			Message: result.Reason,
			Details: expectationDetails(reference, expected),
			Err:     lastErr,
		}
	}

	result.Outcome = OutcomeExhaustedNotFound
	result.Reason = fmt.Sprintf("settlement not found after %d attempts", result.Attempts)
	log.Warn("verification exhausted", zap.String("outcome", string(result.Outcome)), zap.Int("attempts", result.Attempts))
	return v.finish(hookCtx, result, start, span), nil
}

// VerifyBalanceDelta takes a fresh balance and succeeds iff previous - current >= expected.
// It cannot tell which transaction moved the funds; results carry ConfidenceBalanceDelta.
//
// Unavailable or rate-limited balance queries are retried at the fixed interval within
// the attempt budget. A reached deadline returns a timed_out result and ErrVerificationTimedOut.
func (v *SettlementVerifier) VerifyBalanceDelta(ctx context.Context, previous BalanceSnapshot, expected string) (*VerifyResult, error) {
	return v.verifyBalanceDelta(ctx, previous, expected, v.now())
}

func (v *SettlementVerifier) verifyBalanceDelta(ctx context.Context, previous BalanceSnapshot, expected string, begin time.Time) (*VerifyResult, error) {
	if previous.Account == "" {
		return nil, constructionError("previous balance snapshot has no account")
	}
	expectedAmount, err := positiveAmount(expected)
	if err != nil {
		return nil, err
	}
	previousAmount, err := parseAmount(previous.Amount)
	if err != nil {
		return nil, constructionError("previous balance: %v", err)
	}

	start := v.now()
	hookCtx := VerifyContext{
		Ctx:        ctx,
		Expected:   Expectation{Asset: previous.Asset, Amount: expected},
		Confidence: ConfidenceBalanceDelta,
		Timestamp:  start,
	}

	ctx, span := tracer.Start(ctx, "ledgerpay.verify_balance_delta")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledgerpay.account", previous.Account),
		attribute.String("ledgerpay.asset", previous.Asset.String()),
		attribute.String("ledgerpay.amount", expected),
	)

	deadline, hasDeadline := v.deadline(ctx, begin)
	if hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	log := v.logger.With(zap.String("account", previous.Account), zap.String("asset", previous.Asset.String()))

	state, attempts, err := v.currentState(ctx, previous, expected, deadline, hasDeadline)
	if errors.Is(err, ErrVerificationTimedOut) {
		result := &VerifyResult{
			Outcome:    OutcomeTimedOut,
			Confidence: ConfidenceBalanceDelta,
			Attempts:   attempts,
			Reason:     fmt.Sprintf("deadline reached after %d balance queries", attempts),
		}
		log.Warn("balance delta timed out", zap.Int("attempts", attempts))
		span.RecordError(err)
		span.SetStatus(codes.Error, "deadline reached")
		v.finishHooks(hookCtx, result, start)
		return result, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "balance query failed")
		log.Error("balance query failed", zap.Int("attempts", attempts), zap.Error(err))
		v.fail(hookCtx, err, start)
		return nil, err
	}

	current := state.Balance(previous.Asset)
	currentAmount, err := parseAmount(current.Amount)
	if err != nil {
		err = fmt.Errorf("current balance: %w", err)
		v.fail(hookCtx, err, start)
		return nil, err
	}

	delta := previousAmount.Sub(currentAmount)
	result := &VerifyResult{
		Verified:   delta.GreaterThanOrEqual(expectedAmount),
		Confidence: ConfidenceBalanceDelta,
		Attempts:   attempts,
		Delta:      delta.String(),
		Reason:     balanceDeltaCaveat,
	}
	if result.Verified {
		result.Outcome = OutcomeBalanceDeltaSufficient
	} else {
		result.Outcome = OutcomeBalanceDeltaInsufficient
	}

	log.Info("balance delta evaluated",
		zap.String("previous", previousAmount.String()),
		zap.String("current", currentAmount.String()),
		zap.String("delta", result.Delta),
		zap.String("expected", expectedAmount.String()),
		zap.Bool("verified", result.Verified),
		zap.String("confidence", string(result.Confidence)),
	)
	return v.finish(hookCtx, result, start, span), nil
}

// currentState reads the account, retrying only unavailable or throttled answers.
// The deadline is checked before the first query and before every delay.
func (v *SettlementVerifier) currentState(ctx context.Context, previous BalanceSnapshot, expected string, deadline time.Time, hasDeadline bool) (*AccountState, int, error) {
	account := previous.Account
	timedOut := func(attempts int, cause error) (*AccountState, int, error) {
		err := &PaymentError{
			Code:    ErrCodeVerificationTimedOut,
			Message: fmt.Sprintf("deadline reached after %d balance queries", attempts),
			Details: map[string]interface{}{
				"account": account,
				"asset":   previous.Asset.String(),
				"amount":  expected,
			},
			Err: cause,
		}
		return nil, attempts, err
	}

	var lastErr error
	for attempt := 1; attempt <= v.config.MaxVerificationAttempts; attempt++ {
		if attempt == 1 {
			if hasDeadline && !v.now().Before(deadline) {
				return timedOut(0, nil)
			}
		} else {
			if hasDeadline && v.now().Add(v.config.RetryInterval).After(deadline) {
				return timedOut(attempt-1, nil)
			}
			if err := v.sleep(ctx, v.config.RetryInterval); err != nil {
				return timedOut(attempt-1, err)
			}
		}
		state, err := v.ledger.QueryByAccount(ctx, account)
		if err == nil && state != nil {
			return state, attempt, nil
		}
		if err == nil {
			err = ErrNotFound
		}
		if ctx.Err() != nil {
			return timedOut(attempt, ctx.Err())
		}
		if errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrRateLimited) {
			lastErr = err
			continue
		}
		return nil, attempt, fmt.Errorf("query account %s: %w", account, err)
	}
	return nil, v.config.MaxVerificationAttempts, fmt.Errorf("query account %s: %w", account, lastErr)
}

func (v *SettlementVerifier) lookup(ctx context.Context, reference SettlementReference, attempt int) (*SettlementRecord, error) {
	ctx, span := tracer.Start(ctx, "ledgerpay.verify_attempt")
	defer span.End()
	span.SetAttributes(attribute.Int("ledgerpay.attempt", attempt))

	record, err := v.ledger.QueryByReference(ctx, reference)
	if err == nil && record == nil {
		err = ErrNotFound
	}
	if err != nil {
		span.SetAttributes(attribute.String("ledgerpay.query_error", ErrorCode(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Bool("ledgerpay.successful", record.Successful))
	return record, nil
}

// evaluateRecord moves result into one of the three found states
func evaluateRecord(record *SettlementRecord, expected Expectation, expectedAmount decimal.Decimal, result *VerifyResult) {
	if !record.Successful {
		result.Outcome = OutcomeFoundUnsuccessful
		result.Reason = "transaction failed on the ledger"
		return
	}

	for _, op := range record.Operations {
		if op.Kind != OperationKindTransfer {
			continue
		}
		if !op.Asset.Equal(expected.Asset) || op.Destination != expected.Destination {
			continue
		}
		amount, err := parseAmount(op.Amount)
		if err != nil {
			continue
		}
		if amount.GreaterThanOrEqual(expectedAmount) {
			matched := op
			result.Verified = true
			result.Outcome = OutcomeFoundSuccessfulMatching
			result.MatchedOperation = &matched
			result.Reason = ""
			return
		}
	}

	result.Outcome = OutcomeFoundSuccessfulNonMatching
	result.Reason = fmt.Sprintf("no transfer of at least %s %s to %s in transaction", expected.Amount, expected.Asset, expected.Destination)
}

// deadline combines the configured verification deadline with the context's
func (v *SettlementVerifier) deadline(ctx context.Context, start time.Time) (time.Time, bool) {
	var deadline time.Time
	has := false
	if v.config.VerificationDeadline > 0 {
		deadline = start.Add(v.config.VerificationDeadline)
		has = true
	}
	if d, ok := ctx.Deadline(); ok && (!has || d.Before(deadline)) {
		deadline = d
		has = true
	}
	return deadline, has
}

func (v *SettlementVerifier) timedOut(hookCtx VerifyContext, result *VerifyResult, start time.Time, log *zap.Logger, span trace.Span) (*VerifyResult, error) {
	result.Outcome = OutcomeTimedOut
	result.Verified = false
	result.Reason = fmt.Sprintf("deadline reached after %d attempts; the ledger may still confirm this reference", result.Attempts)
	log.Warn("verification timed out", zap.Int("attempts", result.Attempts))

	err := &PaymentError{
		Code:    ErrCodeVerificationTimedOut,
		Message: result.Reason,
		Details: expectationDetails(result.Reference, hookCtx.Expected),
	}
	span.RecordError(err)
	v.finishHooks(hookCtx, result, start)
	return result, err
}

func (v *SettlementVerifier) finish(hookCtx VerifyContext, result *VerifyResult, start time.Time, span trace.Span) *VerifyResult {
	span.SetAttributes(
		attribute.String("ledgerpay.outcome", string(result.Outcome)),
		attribute.Bool("ledgerpay.verified", result.Verified),
		attribute.Int("ledgerpay.attempts", result.Attempts),
	)
	v.finishHooks(hookCtx, result, start)
	return result
}

func (v *SettlementVerifier) finishHooks(hookCtx VerifyContext, result *VerifyResult, start time.Time) {
	v.mu.RLock()
	hooks := v.afterVerifyHooks
	v.mu.RUnlock()

	resultCtx := VerifyResultContext{VerifyContext: hookCtx, Result: *result, Duration: v.now().Sub(start)}
	for _, hook := range hooks {
		_ = hook(resultCtx)
	}
}

func (v *SettlementVerifier) attempted(hookCtx VerifyContext, attempt int, found bool, err error) {
	v.mu.RLock()
	hooks := v.verifyAttemptHooks
	v.mu.RUnlock()

	for _, hook := range hooks {
		hook(VerifyAttemptContext{VerifyContext: hookCtx, Attempt: attempt, Found: found, Error: err})
	}
}

func (v *SettlementVerifier) fail(hookCtx VerifyContext, err error, start time.Time) {
	v.mu.RLock()
	hooks := v.onVerifyFailureHooks
	v.mu.RUnlock()

	failureCtx := VerifyFailureContext{VerifyContext: hookCtx, Error: err, Duration: v.now().Sub(start)}
	for _, hook := range hooks {
		hook(failureCtx)
	}
}

func positiveAmount(raw string) (decimal.Decimal, error) {
	amount, err := parseAmount(raw)
	if err != nil {
		return decimal.Decimal{}, constructionError("expected amount: %v", err)
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, constructionError("expected amount must be positive: %s", raw)
	}
	return amount, nil
}

func expectationDetails(reference SettlementReference, expected Expectation) map[string]interface{} {
	return map[string]interface{}{
		"reference":   reference.String(),
		"asset":       expected.Asset.String(),
		"amount":      expected.Amount,
		"destination": expected.Destination,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
