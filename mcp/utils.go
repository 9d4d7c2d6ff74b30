package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/orchestrator"
)

// decodeArgs unmarshals raw tool arguments into out. Missing arguments decode
// as an empty object.
func decodeArgs(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return escrow.NewError(escrow.KindValidation, "invalid_arguments", "tool arguments are not valid", nil).
			WithDetail("reason", err.Error())
	}
	return nil
}

// textResult renders data as the JSON text content of a successful call
func textResult(data interface{}) (*mcpsdk.CallToolResult, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(body)}},
	}, nil
}

// errorResult reports err as a tool-level failure. Protocol errors are
// reserved for transport problems.
func errorResult(err error) *mcpsdk.CallToolResult {
	var e *escrow.Error
	if !errors.As(err, &e) {
		e = escrow.NewInternalError(err.Error(), err)
	}
	body, marshalErr := json.Marshal(e)
	if marshalErr != nil {
		body = []byte(fmt.Sprintf(`{"kind":%q,"code":%q,"message":%q}`, e.Kind, e.Code, e.Message))
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(body)}},
		IsError: true,
	}
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, escrow.ErrInvalidAddress.WithDetail("address", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*big.Int, error) {
	wei, err := escrow.ParseEther(strings.TrimSpace(s))
	if err != nil || wei.Sign() <= 0 {
		return nil, escrow.ErrInvalidAmount.WithDetail("amount", s)
	}
	return wei, nil
}

func callOptions(key string) []orchestrator.CallOption {
	if key == "" {
		return nil
	}
	return []orchestrator.CallOption{orchestrator.WithIdempotencyKey(key)}
}

// textOf concatenates the text contents of a result
func textOf(result *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, item := range result.Content {
		if text, ok := item.(*mcpsdk.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}
