// Package mcp exposes the escrow orchestrator as Model Context Protocol tools.
//
// # Server Usage
//
// Register the escrow tools on an MCP server and serve it over any transport:
//
//	import (
//	    "github.com/tripartite/escrow/mcp"
//	    mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
//	)
//
//	server := mcp.NewServer(orch, mcp.Identities{Arbiter: arbiter, Payer: payer})
//	err := server.Run(ctx, &mcpsdk.StdioTransport{})
//
// Every tool answers with a single text content holding JSON. Failures are
// tool results with IsError set whose text is the JSON escrow error
// {kind, code, message, details}, so agents can branch on the kind.
//
// # Client Usage
//
// Client wraps a connected session and decodes tool results:
//
//	session, _ := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agent", Version: "1.0.0"}, nil).
//	    Connect(ctx, transport, nil)
//	client := mcp.NewClient(session)
//
//	var view escrow.AgreementView
//	err := client.Call(ctx, mcp.ToolGetAgreement, mcp.AgreementArgs{Address: addr}, &view)
//
// # Tools
//
//   - network_status: chain id, head block and gas price
//   - get_balance: native balance of an address
//   - get_agreement: full agreement view
//   - get_events: agreement events with block and transaction
//   - deploy_agreement: create an agreement as the arbiter
//   - deposit_funds: fund an agreement as the payer
//   - complete_requirement: mark a requirement done as the arbiter
//   - cancel_agreement: cancel and refund as the arbiter
//   - emergency_withdraw: sweep a cancelled agreement to its payer
package mcp
