// Package cash is an in-memory ledger and signer for tests and examples.
//
// Envelopes are the JSON encoding of the instruction prefixed with the payer's
// "~name" signature, so no real key material or network is involved. The
// ledger enforces sequence numbers, validity windows and balances, and can
// delay a transaction's visibility to exercise verification polling.
package cash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

// ============================================================================
// Cash Signer
// ============================================================================

// Signer signs instructions for one payer
type Signer struct {
	payer  string
	reject bool
}

// NewSigner creates a signer for payer
func NewSigner(payer string) *Signer {
	return &Signer{payer: payer}
}

// Rejecting returns a signer whose user declines every request
func (s *Signer) Rejecting() *Signer {
	return &Signer{payer: s.payer, reject: true}
}

// SignTransfer implements ledgerpay.Signer
func (s *Signer) SignTransfer(ctx context.Context, instruction ledgerpay.TransferInstruction) (ledgerpay.SignedEnvelope, error) {
	if s.reject {
		return ledgerpay.SignedEnvelope{}, fmt.Errorf("%w: payer declined", ledgerpay.ErrUserRejected)
	}
	if instruction.SourceAccount != s.payer {
		return ledgerpay.SignedEnvelope{}, fmt.Errorf("%w: signer holds %s, not %s", ledgerpay.ErrSignerError, s.payer, instruction.SourceAccount)
	}
	body, err := json.Marshal(instruction)
	if err != nil {
		return ledgerpay.SignedEnvelope{}, err
	}
	xdr := "~" + s.payer + ":" + string(body)
	return ledgerpay.SignedEnvelope{XDR: xdr, Hash: hashOf(body), Signatures: 1}, nil
}

// ============================================================================
// Cash Ledger
// ============================================================================

type account struct {
	sequence int64
	balances map[ledgerpay.Asset]decimal.Decimal
}

type transaction struct {
	record      ledgerpay.SettlementRecord
	lookupsLeft int
}

// Ledger is an in-memory ledger
type Ledger struct {
	mu           sync.Mutex
	accounts     map[string]*account
	transactions map[ledgerpay.SettlementReference]*transaction
	visibleAfter int
	now          func() time.Time

	// Err, when set, is returned by every call
	Err error
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		accounts:     make(map[string]*account),
		transactions: make(map[ledgerpay.SettlementReference]*transaction),
		now:          time.Now,
	}
}

// VisibleAfter makes new transactions answer not found for n lookups
func (l *Ledger) VisibleAfter(n int) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visibleAfter = n
	return l
}

// Fund credits amount of asset to the account, creating it at sequence 0 if needed
func (l *Ledger) Fund(accountID string, asset ledgerpay.Asset, amount string) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accountLocked(accountID)
	acc.balances[asset] = acc.balances[asset].Add(decimal.RequireFromString(amount))
	return l
}

// Balance returns the account's balance of asset
func (l *Ledger) Balance(accountID string, asset ledgerpay.Asset) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[accountID]
	if !ok {
		return "0"
	}
	return acc.balances[asset].StringFixed(ledgerpay.MaxAmountDecimals)
}

// Submit implements ledgerpay.Ledger. Failed transactions still consume the
// sequence number and are recorded as unsuccessful, like a real ledger.
func (l *Ledger) Submit(ctx context.Context, envelope ledgerpay.SignedEnvelope) (ledgerpay.SettlementReference, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return "", l.Err
	}

	payer, instruction, err := decode(envelope.XDR)
	if err != nil {
		return "", ledgerpay.NewSubmissionRejectedError("tx_malformed", map[string]interface{}{"error": err.Error()})
	}
	if payer != instruction.SourceAccount {
		return "", ledgerpay.NewSubmissionRejectedError("tx_bad_auth", nil)
	}

	source, ok := l.accounts[instruction.SourceAccount]
	if !ok {
		return "", ledgerpay.NewSubmissionRejectedError("tx_no_source_account", nil)
	}
	if instruction.SequenceNumber != source.sequence+1 {
		return "", ledgerpay.NewSubmissionRejectedError("tx_bad_seq", map[string]interface{}{
			"expected": source.sequence + 1,
			"got":      instruction.SequenceNumber,
		})
	}
	if l.now().After(instruction.ValidUntil) {
		return "", ledgerpay.NewSubmissionRejectedError("tx_too_late", nil)
	}
	source.sequence++

	reference := ledgerpay.SettlementReference(envelope.Hash)
	op := ledgerpay.LedgerOperation{
		Kind:        ledgerpay.OperationKindTransfer,
		Asset:       instruction.Asset,
		Source:      instruction.SourceAccount,
		Destination: instruction.DestinationAccount,
		Amount:      instruction.Amount,
	}

	amount := decimal.RequireFromString(instruction.Amount)
	successful := source.balances[instruction.Asset].GreaterThanOrEqual(amount)
	if successful {
		source.balances[instruction.Asset] = source.balances[instruction.Asset].Sub(amount)
		dest := l.accountLocked(instruction.DestinationAccount)
		dest.balances[instruction.Asset] = dest.balances[instruction.Asset].Add(amount)
	}

	l.transactions[reference] = &transaction{
		record: ledgerpay.SettlementRecord{
			Reference:  reference,
			Successful: successful,
			Operations: []ledgerpay.LedgerOperation{op},
		},
		lookupsLeft: l.visibleAfter,
	}
	return reference, nil
}

// QueryByReference implements ledgerpay.Ledger
func (l *Ledger) QueryByReference(ctx context.Context, reference ledgerpay.SettlementReference) (*ledgerpay.SettlementRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}

	tx, ok := l.transactions[reference]
	if !ok {
		return nil, ledgerpay.ErrNotFound
	}
	if tx.lookupsLeft > 0 {
		tx.lookupsLeft--
		return nil, ledgerpay.ErrNotFound
	}
	record := tx.record
	record.Operations = append([]ledgerpay.LedgerOperation(nil), tx.record.Operations...)
	return &record, nil
}

// QueryByAccount implements ledgerpay.Ledger
func (l *Ledger) QueryByAccount(ctx context.Context, accountID string) (*ledgerpay.AccountState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}

	acc, ok := l.accounts[accountID]
	if !ok {
		return nil, ledgerpay.ErrNotFound
	}
	state := &ledgerpay.AccountState{Account: accountID, Sequence: acc.sequence}
	now := l.now()
	for asset, balance := range acc.balances {
		state.Balances = append(state.Balances, ledgerpay.BalanceSnapshot{
			Account: accountID,
			Asset:   asset,
			Amount:  balance.StringFixed(ledgerpay.MaxAmountDecimals),
			TakenAt: now,
		})
	}
	return state, nil
}

func (l *Ledger) accountLocked(accountID string) *account {
	acc, ok := l.accounts[accountID]
	if !ok {
		acc = &account{balances: make(map[ledgerpay.Asset]decimal.Decimal)}
		l.accounts[accountID] = acc
	}
	return acc
}

func decode(xdr string) (string, ledgerpay.TransferInstruction, error) {
	var instruction ledgerpay.TransferInstruction
	if !strings.HasPrefix(xdr, "~") {
		return "", instruction, fmt.Errorf("envelope is not signed")
	}
	payer, body, ok := strings.Cut(xdr[1:], ":")
	if !ok {
		return "", instruction, fmt.Errorf("envelope has no body")
	}
	if err := json.Unmarshal([]byte(body), &instruction); err != nil {
		return "", instruction, err
	}
	return payer, instruction, nil
}

func hashOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
