package ledgerpay

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Network represents a ledger network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "stellar:pubnet")
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "stellar:pubnet" matches "stellar:*" and "stellar:*" matches "stellar:pubnet"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// NativeAssetCode is the code used for the ledger's native asset, which has no issuer
const NativeAssetCode = "XLM"

// Asset identifies a ledger asset by code and issuing account
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer,omitempty"`
}

// NativeAsset returns the ledger's native asset
func NativeAsset() Asset {
	return Asset{Code: NativeAssetCode}
}

// IsNative reports whether the asset is the ledger's native asset
func (a Asset) IsNative() bool {
	return a.Code == NativeAssetCode && a.Issuer == ""
}

// Equal compares code and issuer exactly
func (a Asset) Equal(other Asset) bool {
	return a.Code == other.Code && a.Issuer == other.Issuer
}

func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

// TransferRequest is the caller-supplied input to the TransferBuilder
type TransferRequest struct {
	SourceAccount      string `json:"sourceAccount"`
	DestinationAccount string `json:"destinationAccount"`
	Asset              Asset  `json:"asset"`
	Amount             string `json:"amount"`
	Memo               string `json:"memo,omitempty"`
}

// TransferInstruction is an unsigned transfer. It is never mutated after Build.
type TransferInstruction struct {
	SourceAccount      string        `json:"sourceAccount"`
	DestinationAccount string        `json:"destinationAccount"`
	Asset              Asset         `json:"asset"`
	Amount             string        `json:"amount"`
	Memo               string        `json:"memo,omitempty"`
	SequenceNumber     int64         `json:"sequenceNumber"`
	ValidityWindow     time.Duration `json:"validityWindow"`
	ValidUntil         time.Time     `json:"validUntil"`
}

// SignedEnvelope is the opaque, network-ready serialized instruction plus signatures
type SignedEnvelope struct {
	XDR        string `json:"xdr"`
	Hash       string `json:"hash,omitempty"`
	Signatures int    `json:"signatures"`
}

// SettlementReference is the network-assigned identifier of a submitted transfer
type SettlementReference string

func (r SettlementReference) String() string {
	return string(r)
}

// OperationKind classifies a ledger operation
type OperationKind string

const (
	OperationKindTransfer OperationKind = "transfer"
	OperationKindOther    OperationKind = "other"
)

// LedgerOperation is one operation of a settled transaction
type LedgerOperation struct {
	Kind        OperationKind `json:"kind"`
	Asset       Asset         `json:"asset"`
	Source      string        `json:"source,omitempty"`
	Destination string        `json:"destination"`
	Amount      string        `json:"amount"`
}

// SettlementRecord is the ledger's view of a transaction at query time
type SettlementRecord struct {
	Reference  SettlementReference `json:"reference"`
	Successful bool                `json:"successful"`
	Operations []LedgerOperation   `json:"operations"`
}

// BalanceSnapshot is an account's balance of one asset at a point in time
type BalanceSnapshot struct {
	Account string    `json:"account"`
	Asset   Asset     `json:"asset"`
	Amount  string    `json:"amount"`
	TakenAt time.Time `json:"takenAt"`
}

// AccountState is the answer of a query-by-account
type AccountState struct {
	Account  string            `json:"account"`
	Sequence int64             `json:"sequence"`
	Balances []BalanceSnapshot `json:"balances"`
}

// Balance returns the snapshot for the given asset. An account without a
// trustline for the asset reports a zero balance.
func (s *AccountState) Balance(asset Asset) BalanceSnapshot {
	for _, b := range s.Balances {
		if b.Asset.Equal(asset) {
			return b
		}
	}
	return BalanceSnapshot{Account: s.Account, Asset: asset, Amount: "0"}
}

// Expectation describes the transfer a settlement must contain to be credited
type Expectation struct {
	Asset       Asset  `json:"asset"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// Outcome is the terminal state of one verification
type Outcome string

const (
	OutcomePending                    Outcome = "pending"
	OutcomeFoundSuccessfulMatching    Outcome = "found_successful_matching"
	OutcomeFoundSuccessfulNonMatching Outcome = "found_successful_nonmatching"
	OutcomeFoundUnsuccessful          Outcome = "found_unsuccessful"
	OutcomeExhaustedNotFound          Outcome = "exhausted_not_found"
	OutcomeServiceUnavailable         Outcome = "service_unavailable"
	OutcomeTimedOut                   Outcome = "timed_out"
	OutcomeBalanceDeltaSufficient     Outcome = "balance_delta_sufficient"
	OutcomeBalanceDeltaInsufficient   Outcome = "balance_delta_insufficient"
)

// IsTerminal reports whether re-running verification cannot change the outcome.
// Timed out, exhausted and unavailable results are ambiguous: the ledger may still confirm later.
func (o Outcome) IsTerminal() bool {
	switch o {
	case OutcomeFoundSuccessfulMatching, OutcomeFoundSuccessfulNonMatching, OutcomeFoundUnsuccessful:
		return true
	}
	return false
}

// AllowsFallback reports whether the balance-delta strategy may run after this outcome
func (o Outcome) AllowsFallback() bool {
	return o == OutcomeExhaustedNotFound || o == OutcomeServiceUnavailable
}

// Confidence tells auditors which evidence a verification relied on
type Confidence string

const (
	ConfidenceReference    Confidence = "reference"
	ConfidenceBalanceDelta Confidence = "balance_delta"
)

// VerifyResult contains the verification result
type VerifyResult struct {
	Verified         bool                `json:"verified"`
	Outcome          Outcome             `json:"outcome"`
	Confidence       Confidence          `json:"confidence"`
	Reference        SettlementReference `json:"reference,omitempty"`
	Attempts         int                 `json:"attempts"`
	Reason           string              `json:"reason,omitempty"`
	MatchedOperation *LedgerOperation    `json:"matchedOperation,omitempty"`
	Delta            string              `json:"delta,omitempty"`
}

// Failure returns a verification_failed error when the result is a determination
// the caller must not credit: confirmed unsuccessful, non-matching, absent after the
// full budget, or an insufficient balance delta. Verified and ambiguous results
// (pending, timed out, unavailable) return nil; those come with their own error.
func (r *VerifyResult) Failure() error {
	if r == nil || r.Verified {
		return nil
	}
	switch r.Outcome {
	case OutcomeFoundSuccessfulNonMatching, OutcomeFoundUnsuccessful,
		OutcomeExhaustedNotFound, OutcomeBalanceDeltaInsufficient:
	default:
		return nil
	}
	message := r.Reason
	if message == "" {
		message = string(r.Outcome)
	}
	details := map[string]interface{}{
		"outcome":    string(r.Outcome),
		"confidence": string(r.Confidence),
		"attempts":   r.Attempts,
	}
	if r.Reference != "" {
		details["reference"] = r.Reference.String()
	}
	if r.Delta != "" {
		details["delta"] = r.Delta
	}
	return &PaymentError{Code: ErrCodeVerificationFailed, Message: message, Details: details}
}

// parseAmount parses a decimal amount string exactly
func parseAmount(amount string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return d, nil
}
