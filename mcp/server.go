package mcp

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	ledgerhttp "github.com/x402-foundation/ledgerpay/http"
	"github.com/x402-foundation/ledgerpay/types"
)

// Tool names
const (
	ToolVerifySettlement   = "verify_settlement"
	ToolVerifyBalanceDelta = "verify_balance_delta"
)

// Options configures the MCP server
type Options struct {
	// Name reported to clients (optional)
	Name string

	// Version reported to clients (optional)
	Version string

	Logger *zap.Logger
}

// NewServer creates an MCP server with the verification tools registered
func NewServer(service *ledgerhttp.VerificationService, opts Options) *mcpsdk.Server {
	name := opts.Name
	if name == "" {
		name = "ledgerpay-verifier"
	}
	version := opts.Version
	if version == "" {
		version = service.Health().Version
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: version}, nil)
	RegisterTools(server, service, opts.Logger)
	return server
}

// RegisterTools adds the verification tools to an existing server
func RegisterTools(server *mcpsdk.Server, service *ledgerhttp.VerificationService, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolVerifySettlement,
		Description: "Verify that a submitted ledger transaction paid the expected destination, asset and amount. Falls back to a balance comparison when previousBalance is given.",
		InputSchema: verifySettlementSchema,
	}, toolHandler(ToolVerifySettlement, logger, service.HandleVerify))

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolVerifyBalanceDelta,
		Description: "Verify a payment by comparing the payer's balance now with a snapshot taken before submission. Weaker evidence than a reference lookup.",
		InputSchema: verifyBalanceDeltaSchema,
	}, toolHandler(ToolVerifyBalanceDelta, logger, service.HandleVerifyBalance))
}

type handleFunc func(ctx context.Context, requestID string, body []byte) (int, types.VerifyResponse)

func toolHandler(tool string, logger *zap.Logger, handle handleFunc) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}

		requestID := uuid.NewString()
		status, resp := handle(ctx, requestID, args)

		text, err := json.Marshal(resp)
		if err != nil {
			return nil, err
		}

		isError := resp.Error != nil
		logger.Debug("tool call handled",
			zap.String("tool", tool),
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.Bool("is_error", isError),
		)

		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
			IsError: isError,
		}, nil
	}
}

var assetSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"code":   map[string]interface{}{"type": "string", "description": "Asset code, XLM for the native asset"},
		"issuer": map[string]interface{}{"type": "string", "description": "Issuing account, empty for the native asset"},
	},
	"required": []string{"code"},
}

var snapshotSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"account": map[string]interface{}{"type": "string"},
		"asset":   assetSchema,
		"amount":  map[string]interface{}{"type": "string", "description": "Balance before submission"},
		"takenAt": map[string]interface{}{"type": "string", "description": "RFC 3339 time of the snapshot"},
	},
	"required": []string{"account", "asset", "amount"},
}

var verifySettlementSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"network":   map[string]interface{}{"type": "string", "description": "CAIP-2 network, e.g. stellar:testnet"},
		"reference": map[string]interface{}{"type": "string", "description": "Transaction hash returned at submission"},
		"expected": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"asset":       assetSchema,
				"destination": map[string]interface{}{"type": "string"},
				"amount":      map[string]interface{}{"type": "string"},
			},
			"required": []string{"asset", "destination", "amount"},
		},
		"previousBalance": snapshotSchema,
	},
	"required": []string{"expected"},
}

var verifyBalanceDeltaSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"network":  map[string]interface{}{"type": "string"},
		"previous": snapshotSchema,
		"amount":   map[string]interface{}{"type": "string", "description": "Expected amount the balance dropped by"},
	},
	"required": []string{"previous", "amount"},
}
