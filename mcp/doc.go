// Package mcp exposes settlement verification as MCP (Model Context Protocol) tools.
//
// # Server Usage
//
// Register the verification tools on an MCP server built with the official SDK:
//
//	service := ledgerhttp.NewVerificationService(ledgerhttp.ServiceConfig{...})
//	server := mcp.NewServer(service, mcp.Options{})
//	_ = server.Run(ctx, &mcpsdk.StdioTransport{})
//
// Two tools are registered:
//
//	verify_settlement     arguments are a POST /verify body
//	verify_balance_delta  arguments are a POST /verify/balance body
//
// Both answer with the JSON verification response as text content. Failed
// verifications set IsError and carry the error body.
//
// # Client Usage
//
// Verify through a connected session:
//
//	session, _ := mcpClient.Connect(ctx, transport, nil)
//	verifier := mcp.NewSessionVerifier(session)
//	result, err := verifier.Verify(ctx, req)
package mcp
