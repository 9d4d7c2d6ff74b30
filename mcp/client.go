package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	escrow "github.com/tripartite/escrow"
)

// Client calls escrow tools over a connected MCP session and decodes their
// JSON results
type Client struct {
	session *mcpsdk.ClientSession
}

// NewClient wraps a connected session
func NewClient(session *mcpsdk.ClientSession) *Client {
	return &Client{session: session}
}

// Connect dials transport with a fresh MCP client
func Connect(ctx context.Context, transport mcpsdk.Transport) (*Client, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "escrow-client", Version: Version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mcp client: %w", err)
	}
	return NewClient(session), nil
}

// Close ends the session
func (c *Client) Close() error {
	return c.session.Close()
}

// Tools lists the names of the tools the server offers
func (c *Client) Tools(ctx context.Context) ([]string, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

// Call invokes tool with args and decodes the JSON result into out, which may
// be nil. A tool-level failure is returned as *escrow.Error.
func (c *Client) Call(ctx context.Context, tool string, args interface{}, out interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return err
	}
	text := textOf(result)
	if result.IsError {
		var e escrow.Error
		if err := json.Unmarshal([]byte(text), &e); err != nil || e.Code == "" {
			return escrow.NewInternalError(text, nil)
		}
		return &e
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", tool, err)
	}
	return nil
}
