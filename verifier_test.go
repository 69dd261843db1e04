package ledgerpay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the verifier sleeps
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func newTestVerifier(ledger Ledger, cfg Config, clock *fakeClock) *SettlementVerifier {
	return NewSettlementVerifier(ledger, cfg, WithSleep(clock.Sleep), WithVerifierClock(clock.Now))
}

func testExpectation() Expectation {
	return Expectation{Asset: testUSDC, Destination: testMerchant, Amount: "100"}
}

func matchingRecord(reference SettlementReference) *SettlementRecord {
	return &SettlementRecord{
		Reference:  reference,
		Successful: true,
		Operations: []LedgerOperation{
			{Kind: OperationKindTransfer, Asset: testUSDC, Source: testPayer, Destination: testMerchant, Amount: "100.0000000"},
		},
	}
}

func TestVerifyReference_ExhaustsExactlyMaxAttempts(t *testing.T) {
	ledger := &mockLedger{}
	clock := newFakeClock()
	verifier := newTestVerifier(ledger, DefaultConfig(), clock)

	result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.Equal(t, OutcomeExhaustedNotFound, result.Outcome)
	assert.Equal(t, 5, result.Attempts)

	_, referenceCalls, _ := ledger.calls()
	assert.Equal(t, 5, referenceCalls)

	delays := clock.Delays()
	require.Len(t, delays, 4)
	for _, d := range delays {
		assert.Equal(t, 2*time.Second, d, "interval must stay fixed")
	}
}

func TestVerifyReference_FoundOnThirdAttempt(t *testing.T) {
	ledger := &mockLedger{
		queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
			if call < 3 {
				return nil, ErrNotFound
			}
			return matchingRecord(reference), nil
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.Equal(t, OutcomeFoundSuccessfulMatching, result.Outcome)
	assert.Equal(t, ConfidenceReference, result.Confidence)
	assert.Equal(t, 3, result.Attempts)
	require.NotNil(t, result.MatchedOperation)
	assert.Equal(t, testMerchant, result.MatchedOperation.Destination)

	_, referenceCalls, _ := ledger.calls()
	assert.Equal(t, 3, referenceCalls)
}

func TestVerifyReference_RateLimitCountsAsNotFound(t *testing.T) {
	ledger := &mockLedger{
		queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
			if call == 1 {
				return nil, ErrRateLimited
			}
			return matchingRecord(reference), nil
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, 2, result.Attempts)
}

func TestVerifyReference_WrongIssuerIsNonMatching(t *testing.T) {
	ledger := &mockLedger{
		queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
			record := matchingRecord(reference)
			record.Operations[0].Asset = Asset{Code: "USDC", Issuer: otherIssuer}
			return record, nil
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.Equal(t, OutcomeFoundSuccessfulNonMatching, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.NotEmpty(t, result.Reason)

	_, referenceCalls, _ := ledger.calls()
	assert.Equal(t, 1, referenceCalls, "a found record is never re-queried")
}

func TestVerifyReference_Matching(t *testing.T) {
	tests := []struct {
		name     string
		op       LedgerOperation
		verified bool
	}{
		{
			name:     "exact amount",
			op:       LedgerOperation{Kind: OperationKindTransfer, Asset: testUSDC, Destination: testMerchant, Amount: "100"},
			verified: true,
		},
		{
			name:     "overpayment",
			op:       LedgerOperation{Kind: OperationKindTransfer, Asset: testUSDC, Destination: testMerchant, Amount: "100.0000001"},
			verified: true,
		},
		{
			name:     "one stroop short",
			op:       LedgerOperation{Kind: OperationKindTransfer, Asset: testUSDC, Destination: testMerchant, Amount: "99.9999999"},
			verified: false,
		},
		{
			name:     "other destination",
			op:       LedgerOperation{Kind: OperationKindTransfer, Asset: testUSDC, Destination: testPayer, Amount: "100"},
			verified: false,
		},
		{
			name:     "other asset code",
			op:       LedgerOperation{Kind: OperationKindTransfer, Asset: Asset{Code: "EURC", Issuer: testIssuer}, Destination: testMerchant, Amount: "100"},
			verified: false,
		},
		{
			name:     "non-transfer operation",
			op:       LedgerOperation{Kind: OperationKindOther, Asset: testUSDC, Destination: testMerchant, Amount: "100"},
			verified: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &mockLedger{
				queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
					return &SettlementRecord{Reference: reference, Successful: true, Operations: []LedgerOperation{tt.op}}, nil
				},
			}
			verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

			result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
			require.NoError(t, err)
			assert.Equal(t, tt.verified, result.Verified)
			if tt.verified {
				assert.Equal(t, OutcomeFoundSuccessfulMatching, result.Outcome)
			} else {
				assert.Equal(t, OutcomeFoundSuccessfulNonMatching, result.Outcome)
			}
		})
	}
}

func TestVerifyReference_UnsuccessfulIsTerminal(t *testing.T) {
	ledger := &mockLedger{
		queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
			record := matchingRecord(reference)
			record.Successful = false
			return record, nil
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, OutcomeFoundUnsuccessful, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
}

func TestVerifyReference_ServiceUnavailableExhausted(t *testing.T) {
	ledger := &mockLedger{
		queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
			return nil, ErrServiceUnavailable
		},
	}
	cfg := DefaultConfig()
	cfg.MaxVerificationAttempts = 3
	verifier := newTestVerifier(ledger, cfg, newFakeClock())

	result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
	require.NotNil(t, result)
	assert.Equal(t, OutcomeServiceUnavailable, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
}

func TestVerifyReference_UnexpectedErrorIsNotRetried(t *testing.T) {
	boom := errors.New("malformed response")
	ledger := &mockLedger{
		queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
			return nil, boom
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	var failures int
	verifier.OnVerifyFailure(func(ctx VerifyFailureContext) {
		failures++
	})

	result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, failures)

	_, referenceCalls, _ := ledger.calls()
	assert.Equal(t, 1, referenceCalls)
}

func TestVerifyReference_DeadlineTimesOut(t *testing.T) {
	ledger := &mockLedger{}
	cfg := DefaultConfig()
	cfg.VerificationDeadline = 3 * time.Second
	clock := newFakeClock()
	verifier := newTestVerifier(ledger, cfg, clock)

	result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVerificationTimedOut))
	assert.False(t, errors.Is(err, ErrServiceUnavailable))

	require.NotNil(t, result)
	assert.Equal(t, OutcomeTimedOut, result.Outcome)
	assert.NotEqual(t, OutcomeExhaustedNotFound, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Len(t, clock.Delays(), 1)
}

func TestVerifyReference_ContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ledger := &mockLedger{
		queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
			cancel()
			return nil, ErrNotFound
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.VerifyReference(ctx, "abc123", testExpectation())
	assert.True(t, errors.Is(err, ErrVerificationTimedOut))
	require.NotNil(t, result)
	assert.Equal(t, OutcomeTimedOut, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
}

func TestVerifyReference_InvalidInput(t *testing.T) {
	verifier := newTestVerifier(&mockLedger{}, DefaultConfig(), newFakeClock())

	_, err := verifier.VerifyReference(context.Background(), "", testExpectation())
	assert.True(t, errors.Is(err, ErrConstruction))

	expected := testExpectation()
	expected.Amount = "0"
	_, err = verifier.VerifyReference(context.Background(), "abc123", expected)
	assert.True(t, errors.Is(err, ErrConstruction))
}

func TestVerifyReference_Idempotent(t *testing.T) {
	ledger := &mockLedger{
		queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
			return matchingRecord(reference), nil
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	first, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.NoError(t, err)
	second, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestVerifyReference_Hooks(t *testing.T) {
	ledger := &mockLedger{
		queryByReference: func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
			if call == 1 {
				return nil, ErrNotFound
			}
			return matchingRecord(reference), nil
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	var attempts []VerifyAttemptContext
	var after *VerifyResultContext
	verifier.
		OnVerifyAttempt(func(ctx VerifyAttemptContext) {
			attempts = append(attempts, ctx)
		}).
		OnAfterVerify(func(ctx VerifyResultContext) error {
			after = &ctx
			return errors.New("ignored")
		})

	_, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.NoError(t, err)

	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Found)
	assert.ErrorIs(t, attempts[0].Error, ErrNotFound)
	assert.True(t, attempts[1].Found)
	assert.Equal(t, 2, attempts[1].Attempt)

	require.NotNil(t, after)
	assert.Equal(t, OutcomeFoundSuccessfulMatching, after.Result.Outcome)
	assert.Equal(t, SettlementReference("abc123"), after.Reference)
}

func TestVerifyReference_BeforeHookAbort(t *testing.T) {
	ledger := &mockLedger{}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())
	verifier.OnBeforeVerify(func(ctx VerifyContext) (*BeforeHookResult, error) {
		return &BeforeHookResult{Abort: true, Reason: "reference already credited"}, nil
	})

	result, err := verifier.VerifyReference(context.Background(), "abc123", testExpectation())
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, "reference already credited", result.Reason)

	_, referenceCalls, _ := ledger.calls()
	assert.Equal(t, 0, referenceCalls)
}

func balanceLedger(current string) *mockLedger {
	return &mockLedger{
		queryByAccount: func(ctx context.Context, account string, call int) (*AccountState, error) {
			return &AccountState{
				Account:  account,
				Sequence: 1,
				Balances: []BalanceSnapshot{{Account: account, Asset: testUSDC, Amount: current}},
			}, nil
		},
	}
}

func TestVerifyBalanceDelta_Boundary(t *testing.T) {
	previous := BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "500"}

	tests := []struct {
		name     string
		current  string
		verified bool
		outcome  Outcome
		delta    string
	}{
		{"delta equals expected", "400", true, OutcomeBalanceDeltaSufficient, "100"},
		{"delta one stroop below expected", "400.0000001", false, OutcomeBalanceDeltaInsufficient, "99.9999999"},
		{"delta above expected", "350", true, OutcomeBalanceDeltaSufficient, "150"},
		{"balance grew", "600", false, OutcomeBalanceDeltaInsufficient, "-100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := newTestVerifier(balanceLedger(tt.current), DefaultConfig(), newFakeClock())

			result, err := verifier.VerifyBalanceDelta(context.Background(), previous, "100")
			require.NoError(t, err)
			assert.Equal(t, tt.verified, result.Verified)
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.delta, result.Delta)
			assert.Equal(t, ConfidenceBalanceDelta, result.Confidence)
			assert.Contains(t, result.Reason, "unrelated transfer")
		})
	}
}

func TestVerifyBalanceDelta_MissingTrustlineIsZero(t *testing.T) {
	ledger := &mockLedger{
		queryByAccount: func(ctx context.Context, account string, call int) (*AccountState, error) {
			return &AccountState{Account: account}, nil
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.VerifyBalanceDelta(context.Background(), BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "100"}, "100")
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestVerifyBalanceDelta_RetriesUnavailable(t *testing.T) {
	ledger := &mockLedger{
		queryByAccount: func(ctx context.Context, account string, call int) (*AccountState, error) {
			if call < 3 {
				return nil, ErrServiceUnavailable
			}
			return &AccountState{Account: account, Balances: []BalanceSnapshot{{Asset: testUSDC, Amount: "400"}}}, nil
		},
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.VerifyBalanceDelta(context.Background(), BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "500"}, "100")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, 3, result.Attempts)
}

func TestVerifyBalanceDelta_AccountNotFound(t *testing.T) {
	verifier := newTestVerifier(&mockLedger{}, DefaultConfig(), newFakeClock())

	_, err := verifier.VerifyBalanceDelta(context.Background(), BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "500"}, "100")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyBalanceDelta_DeadlineTimesOut(t *testing.T) {
	ledger := &mockLedger{
		queryByAccount: func(ctx context.Context, account string, call int) (*AccountState, error) {
			return nil, ErrServiceUnavailable
		},
	}
	cfg := DefaultConfig()
	cfg.VerificationDeadline = 3 * time.Second
	clock := newFakeClock()
	verifier := newTestVerifier(ledger, cfg, clock)

	var afterOutcome Outcome
	verifier.OnAfterVerify(func(ctx VerifyResultContext) error {
		afterOutcome = ctx.Result.Outcome
		return nil
	})

	result, err := verifier.VerifyBalanceDelta(context.Background(), BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "500"}, "100")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVerificationTimedOut))
	assert.False(t, errors.Is(err, ErrServiceUnavailable))

	require.NotNil(t, result)
	assert.Equal(t, OutcomeTimedOut, result.Outcome)
	assert.Equal(t, ConfidenceBalanceDelta, result.Confidence)
	assert.False(t, result.Verified)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, OutcomeTimedOut, afterOutcome)

	_, _, accountCalls := ledger.calls()
	assert.Equal(t, 2, accountCalls)
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.Delays())
}

func TestVerify_FallbackSharesDeadline(t *testing.T) {
	tests := []struct {
		name         string
		deadline     time.Duration
		attempts     int
		accountCalls int
	}{
		// lookups at 0s..8s, one balance query at 8s, no room for a second
		{"deadline leaves room for one balance query", 9 * time.Second, 6, 1},
		// lookups end exactly at the deadline
		{"deadline spent by the lookup", 8 * time.Second, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &mockLedger{
				queryByAccount: func(ctx context.Context, account string, call int) (*AccountState, error) {
					return nil, ErrServiceUnavailable
				},
			}
			cfg := DefaultConfig()
			cfg.VerificationDeadline = tt.deadline
			clock := newFakeClock()
			verifier := newTestVerifier(ledger, cfg, clock)

			result, err := verifier.Verify(context.Background(), VerificationRequest{
				Reference:       "abc123",
				Expected:        testExpectation(),
				PreviousBalance: &BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "500"},
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrVerificationTimedOut))
			assert.False(t, errors.Is(err, ErrServiceUnavailable))

			require.NotNil(t, result)
			assert.Equal(t, OutcomeTimedOut, result.Outcome)
			assert.Equal(t, ConfidenceBalanceDelta, result.Confidence)
			assert.Equal(t, SettlementReference("abc123"), result.Reference)
			assert.Equal(t, tt.attempts, result.Attempts)

			_, referenceCalls, accountCalls := ledger.calls()
			assert.Equal(t, 5, referenceCalls)
			assert.Equal(t, tt.accountCalls, accountCalls)

			var waited time.Duration
			for _, d := range clock.Delays() {
				waited += d
			}
			assert.LessOrEqual(t, waited, tt.deadline)
		})
	}
}

func TestVerify_FallsBackAfterExhaustion(t *testing.T) {
	ledger := balanceLedger("400")
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.Verify(context.Background(), VerificationRequest{
		Reference:       "abc123",
		Expected:        testExpectation(),
		PreviousBalance: &BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "500"},
	})
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.Equal(t, OutcomeBalanceDeltaSufficient, result.Outcome)
	assert.Equal(t, ConfidenceBalanceDelta, result.Confidence)
	assert.Equal(t, SettlementReference("abc123"), result.Reference)
	assert.Equal(t, "100", result.Delta)

	_, referenceCalls, accountCalls := ledger.calls()
	assert.Equal(t, 5, referenceCalls)
	assert.Equal(t, 1, accountCalls)
}

func TestVerify_FallsBackAfterServiceUnavailable(t *testing.T) {
	ledger := balanceLedger("400")
	ledger.queryByReference = func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
		return nil, ErrServiceUnavailable
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.Verify(context.Background(), VerificationRequest{
		Reference:       "abc123",
		Expected:        testExpectation(),
		PreviousBalance: &BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "500"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBalanceDeltaSufficient, result.Outcome)
}

func TestVerify_NoFallbackAfterNonMatching(t *testing.T) {
	ledger := balanceLedger("400")
	ledger.queryByReference = func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error) {
		record := matchingRecord(reference)
		record.Operations[0].Amount = "50"
		return record, nil
	}
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.Verify(context.Background(), VerificationRequest{
		Reference:       "abc123",
		Expected:        testExpectation(),
		PreviousBalance: &BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "500"},
	})
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, OutcomeFoundSuccessfulNonMatching, result.Outcome)

	_, _, accountCalls := ledger.calls()
	assert.Equal(t, 0, accountCalls)
}

func TestVerify_NoFallbackWithoutSnapshot(t *testing.T) {
	ledger := balanceLedger("400")
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.Verify(context.Background(), VerificationRequest{Reference: "abc123", Expected: testExpectation()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhaustedNotFound, result.Outcome)

	_, _, accountCalls := ledger.calls()
	assert.Equal(t, 0, accountCalls)
}

func TestVerify_BalanceDeltaOnlyWithoutReference(t *testing.T) {
	ledger := balanceLedger("400")
	verifier := newTestVerifier(ledger, DefaultConfig(), newFakeClock())

	result, err := verifier.Verify(context.Background(), VerificationRequest{
		Expected:        testExpectation(),
		PreviousBalance: &BalanceSnapshot{Account: testPayer, Asset: testUSDC, Amount: "500"},
	})
	require.NoError(t, err)
	assert.True(t, result.Verified)

	_, referenceCalls, _ := ledger.calls()
	assert.Equal(t, 0, referenceCalls)

	_, err = verifier.Verify(context.Background(), VerificationRequest{Expected: testExpectation()})
	assert.True(t, errors.Is(err, ErrConstruction))
}
