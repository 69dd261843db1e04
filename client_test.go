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

const (
	testPayer    = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	testMerchant = "GDRXE2BQUC3AZNPVFSCEZ76NJ3WWL25FYFK6RGZGIEKWE4SOOHSUJUJ6"
	testIssuer   = "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"
	otherIssuer  = "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5"
)

var testUSDC = Asset{Code: "USDC", Issuer: testIssuer}

// Mock ledger for testing
type mockLedger struct {
	mu sync.Mutex

	submit           func(ctx context.Context, envelope SignedEnvelope) (SettlementReference, error)
	queryByReference func(ctx context.Context, reference SettlementReference, call int) (*SettlementRecord, error)
	queryByAccount   func(ctx context.Context, account string, call int) (*AccountState, error)

	submitCalls    int
	referenceCalls int
	accountCalls   int
}

func (m *mockLedger) Submit(ctx context.Context, envelope SignedEnvelope) (SettlementReference, error) {
	m.mu.Lock()
	m.submitCalls++
	m.mu.Unlock()
	if m.submit != nil {
		return m.submit(ctx, envelope)
	}
	return SettlementReference(envelope.Hash), nil
}

func (m *mockLedger) QueryByReference(ctx context.Context, reference SettlementReference) (*SettlementRecord, error) {
	m.mu.Lock()
	m.referenceCalls++
	call := m.referenceCalls
	m.mu.Unlock()
	if m.queryByReference != nil {
		return m.queryByReference(ctx, reference, call)
	}
	return nil, ErrNotFound
}

func (m *mockLedger) QueryByAccount(ctx context.Context, account string) (*AccountState, error) {
	m.mu.Lock()
	m.accountCalls++
	call := m.accountCalls
	m.mu.Unlock()
	if m.queryByAccount != nil {
		return m.queryByAccount(ctx, account, call)
	}
	return nil, ErrNotFound
}

func (m *mockLedger) calls() (submit, reference, account int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls, m.referenceCalls, m.accountCalls
}

// Mock signer for testing
type mockSigner struct {
	sign  func(ctx context.Context, instruction TransferInstruction) (SignedEnvelope, error)
	calls int
}

func (m *mockSigner) SignTransfer(ctx context.Context, instruction TransferInstruction) (SignedEnvelope, error) {
	m.calls++
	if m.sign != nil {
		return m.sign(ctx, instruction)
	}
	return SignedEnvelope{XDR: "AAAAAgAAAAB...", Hash: "4f2a9c", Signatures: 1}, nil
}

func testTransferRequest() TransferRequest {
	return TransferRequest{
		SourceAccount:      testPayer,
		DestinationAccount: testMerchant,
		Asset:              testUSDC,
		Amount:             "100",
		Memo:               "order-1042",
	}
}

func TestPaymentClient_RequestPayment(t *testing.T) {
	ledger := &mockLedger{}
	signer := &mockSigner{}
	client := NewPaymentClient(signer, ledger)

	attempt, err := client.RequestPayment(context.Background(), testTransferRequest(), 41)
	require.NoError(t, err)

	assert.NotEmpty(t, attempt.ID)
	assert.Equal(t, SettlementReference("4f2a9c"), attempt.Reference)
	assert.Equal(t, int64(42), attempt.Instruction.SequenceNumber)
	assert.Equal(t, "100.0000000", attempt.Instruction.Amount)
	assert.False(t, attempt.SubmittedAt.IsZero())
	assert.Nil(t, attempt.PreviousBalance)

	submitCalls, _, _ := ledger.calls()
	assert.Equal(t, 1, submitCalls)
	assert.Equal(t, 1, signer.calls)

	expected := attempt.Expectation()
	assert.Equal(t, testMerchant, expected.Destination)
	assert.True(t, expected.Asset.Equal(testUSDC))
}

func TestPaymentClient_UserRejectionHaltsBeforeSubmit(t *testing.T) {
	ledger := &mockLedger{}
	signer := &mockSigner{
		sign: func(ctx context.Context, instruction TransferInstruction) (SignedEnvelope, error) {
			return SignedEnvelope{}, ErrUserRejected
		},
	}
	client := NewPaymentClient(signer, ledger)

	attempt, err := client.RequestPayment(context.Background(), testTransferRequest(), 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUserRejected))
	assert.Equal(t, ErrCodeUserRejected, ErrorCode(err))

	require.NotNil(t, attempt)
	assert.Empty(t, attempt.Reference)

	submitCalls, _, _ := ledger.calls()
	assert.Equal(t, 0, submitCalls, "nothing may be submitted after a rejection")
	assert.Equal(t, 1, signer.calls, "rejection must not be re-requested")
}

func TestPaymentClient_ConstructionErrorSkipsSigner(t *testing.T) {
	ledger := &mockLedger{}
	signer := &mockSigner{}
	client := NewPaymentClient(signer, ledger)

	req := testTransferRequest()
	req.Amount = "1.00000001"

	attempt, err := client.RequestPayment(context.Background(), req, 0)
	assert.Nil(t, attempt)
	assert.True(t, errors.Is(err, ErrConstruction))
	assert.Equal(t, 0, signer.calls)
}

func TestPaymentClient_Prepare(t *testing.T) {
	takenAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := &mockLedger{
		queryByAccount: func(ctx context.Context, account string, call int) (*AccountState, error) {
			return &AccountState{
				Account:  account,
				Sequence: 99,
				Balances: []BalanceSnapshot{
					{Account: account, Asset: NativeAsset(), Amount: "12.5"},
					{Account: account, Asset: testUSDC, Amount: "500", TakenAt: takenAt},
				},
			}, nil
		},
	}
	client := NewPaymentClient(&mockSigner{}, ledger)

	attempt, err := client.Prepare(context.Background(), testTransferRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(100), attempt.Instruction.SequenceNumber)
	require.NotNil(t, attempt.PreviousBalance)
	assert.Equal(t, "500", attempt.PreviousBalance.Amount)
	assert.Equal(t, takenAt, attempt.PreviousBalance.TakenAt)

	req := attempt.VerificationRequest()
	assert.Equal(t, attempt.Reference, req.Reference)
	assert.Same(t, attempt.PreviousBalance, req.PreviousBalance)
}

func TestPaymentClient_PrepareAccountError(t *testing.T) {
	ledger := &mockLedger{
		queryByAccount: func(ctx context.Context, account string, call int) (*AccountState, error) {
			return nil, ErrServiceUnavailable
		},
	}
	signer := &mockSigner{}
	client := NewPaymentClient(signer, ledger)

	_, err := client.Prepare(context.Background(), testTransferRequest())
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
	assert.Equal(t, 0, signer.calls)
}

func TestPaymentClient_PrepareMissingAccountState(t *testing.T) {
	ledger := &mockLedger{
		queryByAccount: func(ctx context.Context, account string, call int) (*AccountState, error) {
			return nil, nil
		},
	}
	signer := &mockSigner{}
	client := NewPaymentClient(signer, ledger)

	attempt, err := client.Prepare(context.Background(), testTransferRequest())
	require.Error(t, err)
	assert.Nil(t, attempt)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, signer.calls)

	submits, _, _ := ledger.calls()
	assert.Equal(t, 0, submits)
}
