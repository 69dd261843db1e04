package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	ledgerpay "github.com/x402-foundation/ledgerpay"
	"github.com/x402-foundation/ledgerpay/types"
)

// SessionVerifier verifies settlements through the tools of a connected MCP session.
// It satisfies the same Verifier contract as the in-process verifier and the HTTP client.
type SessionVerifier struct {
	session *mcpsdk.ClientSession
	network ledgerpay.Network
}

// NewSessionVerifier wraps a connected session
func NewSessionVerifier(session *mcpsdk.ClientSession) *SessionVerifier {
	return &SessionVerifier{session: session}
}

// WithNetwork returns a copy that sends network with every call
func (v *SessionVerifier) WithNetwork(network ledgerpay.Network) *SessionVerifier {
	c := *v
	c.network = network
	return &c
}

// Verify calls verify_settlement
func (v *SessionVerifier) Verify(ctx context.Context, req ledgerpay.VerificationRequest) (*ledgerpay.VerifyResult, error) {
	return v.call(ctx, ToolVerifySettlement, types.FromVerificationRequest(v.network, req))
}

// VerifyBalanceDelta calls verify_balance_delta
func (v *SessionVerifier) VerifyBalanceDelta(ctx context.Context, previous ledgerpay.BalanceSnapshot, expected string) (*ledgerpay.VerifyResult, error) {
	return v.call(ctx, ToolVerifyBalanceDelta, types.BalanceVerifyRequest{
		Network:  string(v.network),
		Previous: types.FromSnapshot(previous),
		Amount:   expected,
	})
}

// Close ends the session
func (v *SessionVerifier) Close() error {
	return v.session.Close()
}

func (v *SessionVerifier) call(ctx context.Context, tool string, args interface{}) (*ledgerpay.VerifyResult, error) {
	result, err := v.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s call failed: %v", ledgerpay.ErrServiceUnavailable, tool, err)
	}

	var resp types.VerifyResponse
	found := false
	for _, item := range result.Content {
		if text, ok := item.(*mcpsdk.TextContent); ok {
			if err := json.Unmarshal([]byte(text.Text), &resp); err != nil {
				return nil, fmt.Errorf("failed to decode %s result: %w", tool, err)
			}
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%s returned no text content", tool)
	}

	if resp.Error != nil {
		return resp.ToResult(), resp.Error.ToLedger()
	}
	if result.IsError {
		return resp.ToResult(), fmt.Errorf("%s reported an error", tool)
	}
	return resp.ToResult(), nil
}
