// Package types holds the wire format shared by the HTTP service, its client and the MCP tools.
package types

import "encoding/json"

// Asset identifies a ledger asset. An empty issuer with code XLM is the native asset.
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer,omitempty"`
}

// Expectation is the transfer a settlement must contain
type Expectation struct {
	Asset       Asset  `json:"asset"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// BalanceSnapshot is the payer's balance taken before submission
type BalanceSnapshot struct {
	Account string `json:"account"`
	Asset   Asset  `json:"asset"`
	Amount  string `json:"amount"`
	TakenAt string `json:"takenAt,omitempty"`
}

// VerifyRequest asks for settlement verification of one reference.
// PreviousBalance enables the balance-delta fallback.
type VerifyRequest struct {
	Network         string           `json:"network,omitempty"`
	Reference       string           `json:"reference"`
	Expected        Expectation      `json:"expected"`
	PreviousBalance *BalanceSnapshot `json:"previousBalance,omitempty"`
}

// BalanceVerifyRequest asks for balance-delta verification only
type BalanceVerifyRequest struct {
	Network  string          `json:"network,omitempty"`
	Previous BalanceSnapshot `json:"previous"`
	Amount   string          `json:"amount"`
}

// Operation is the matched transfer, echoed back for reconciliation
type Operation struct {
	Kind        string `json:"kind"`
	Asset       Asset  `json:"asset"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// VerifyResponse is returned by both verification endpoints
type VerifyResponse struct {
	Verified         bool       `json:"verified"`
	Outcome          string     `json:"outcome"`
	Confidence       string     `json:"confidence"`
	Reference        string     `json:"reference,omitempty"`
	Attempts         int        `json:"attempts"`
	Reason           string     `json:"reason,omitempty"`
	Delta            string     `json:"delta,omitempty"`
	MatchedOperation *Operation `json:"matchedOperation,omitempty"`
	Error            *Error     `json:"error,omitempty"`
	RequestID        string     `json:"requestId,omitempty"`
}

// Error is the error body of a failed request
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status   string   `json:"status"`
	Version  string   `json:"version"`
	Networks []string `json:"networks"`
}

// Unmarshal helpers

// ToVerifyRequest unmarshals bytes to a verify request
func ToVerifyRequest(data []byte) (*VerifyRequest, error) {
	var req VerifyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ToBalanceVerifyRequest unmarshals bytes to a balance verify request
func ToBalanceVerifyRequest(data []byte) (*BalanceVerifyRequest, error) {
	var req BalanceVerifyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
