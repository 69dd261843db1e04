package types

import (
	"errors"
	"fmt"
	"time"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

func FromAsset(a ledgerpay.Asset) Asset {
	return Asset{Code: a.Code, Issuer: a.Issuer}
}

func (a Asset) ToLedger() ledgerpay.Asset {
	return ledgerpay.Asset{Code: a.Code, Issuer: a.Issuer}
}

func FromExpectation(e ledgerpay.Expectation) Expectation {
	return Expectation{Asset: FromAsset(e.Asset), Destination: e.Destination, Amount: e.Amount}
}

func (e Expectation) ToLedger() ledgerpay.Expectation {
	return ledgerpay.Expectation{Asset: e.Asset.ToLedger(), Destination: e.Destination, Amount: e.Amount}
}

func FromSnapshot(s ledgerpay.BalanceSnapshot) BalanceSnapshot {
	snapshot := BalanceSnapshot{Account: s.Account, Asset: FromAsset(s.Asset), Amount: s.Amount}
	if !s.TakenAt.IsZero() {
		snapshot.TakenAt = s.TakenAt.UTC().Format(time.RFC3339)
	}
	return snapshot
}

// ToLedger converts the snapshot; TakenAt must be RFC 3339 when present
func (s BalanceSnapshot) ToLedger() (ledgerpay.BalanceSnapshot, error) {
	snapshot := ledgerpay.BalanceSnapshot{Account: s.Account, Asset: s.Asset.ToLedger(), Amount: s.Amount}
	if s.TakenAt != "" {
		takenAt, err := time.Parse(time.RFC3339, s.TakenAt)
		if err != nil {
			return ledgerpay.BalanceSnapshot{}, fmt.Errorf("invalid takenAt: %w", err)
		}
		snapshot.TakenAt = takenAt
	}
	return snapshot, nil
}

// FromVerificationRequest builds the wire request for a network
func FromVerificationRequest(network ledgerpay.Network, req ledgerpay.VerificationRequest) VerifyRequest {
	wire := VerifyRequest{
		Network:   string(network),
		Reference: req.Reference.String(),
		Expected:  FromExpectation(req.Expected),
	}
	if req.PreviousBalance != nil {
		snapshot := FromSnapshot(*req.PreviousBalance)
		wire.PreviousBalance = &snapshot
	}
	return wire
}

// ToLedger converts the wire request
func (r VerifyRequest) ToLedger() (ledgerpay.VerificationRequest, error) {
	req := ledgerpay.VerificationRequest{
		Reference: ledgerpay.SettlementReference(r.Reference),
		Expected:  r.Expected.ToLedger(),
	}
	if r.PreviousBalance != nil {
		snapshot, err := r.PreviousBalance.ToLedger()
		if err != nil {
			return ledgerpay.VerificationRequest{}, err
		}
		req.PreviousBalance = &snapshot
	}
	return req, nil
}

// FromResult converts a verification result to its wire form
func FromResult(result *ledgerpay.VerifyResult) VerifyResponse {
	if result == nil {
		return VerifyResponse{}
	}
	resp := VerifyResponse{
		Verified:   result.Verified,
		Outcome:    string(result.Outcome),
		Confidence: string(result.Confidence),
		Reference:  result.Reference.String(),
		Attempts:   result.Attempts,
		Reason:     result.Reason,
		Delta:      result.Delta,
	}
	if op := result.MatchedOperation; op != nil {
		resp.MatchedOperation = &Operation{
			Kind:        string(op.Kind),
			Asset:       FromAsset(op.Asset),
			Source:      op.Source,
			Destination: op.Destination,
			Amount:      op.Amount,
		}
	}
	return resp
}

// ToResult converts the wire response back; nil when the response carries no outcome
func (r VerifyResponse) ToResult() *ledgerpay.VerifyResult {
	if r.Outcome == "" {
		return nil
	}
	result := &ledgerpay.VerifyResult{
		Verified:   r.Verified,
		Outcome:    ledgerpay.Outcome(r.Outcome),
		Confidence: ledgerpay.Confidence(r.Confidence),
		Reference:  ledgerpay.SettlementReference(r.Reference),
		Attempts:   r.Attempts,
		Reason:     r.Reason,
		Delta:      r.Delta,
	}
	if op := r.MatchedOperation; op != nil {
		result.MatchedOperation = &ledgerpay.LedgerOperation{
			Kind:        ledgerpay.OperationKind(op.Kind),
			Asset:       op.Asset.ToLedger(),
			Source:      op.Source,
			Destination: op.Destination,
			Amount:      op.Amount,
		}
	}
	return result
}

// FromError converts an error into the wire error body
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := asPaymentError(err); ok {
		return &Error{Code: pe.Code, Message: pe.Message, Details: pe.Details}
	}
	return &Error{Code: "internal_error", Message: err.Error()}
}

// ToLedger converts the wire error into a *ledgerpay.PaymentError so errors.Is works on the client side
func (e *Error) ToLedger() error {
	if e == nil {
		return nil
	}
	return &ledgerpay.PaymentError{Code: e.Code, Message: e.Message, Details: e.Details}
}

func asPaymentError(err error) (*ledgerpay.PaymentError, bool) {
	var pe *ledgerpay.PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
