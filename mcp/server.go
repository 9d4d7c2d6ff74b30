package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/orchestrator"
)

// Version is reported as the MCP implementation version
const Version = "1.0.0"

// toolFunc handles one tool call and returns the value rendered as JSON
type toolFunc func(ctx context.Context, req *mcpsdk.CallToolRequest) (interface{}, error)

type handlers struct {
	orch       *orchestrator.Orchestrator
	query      *orchestrator.Query
	identities Identities
	log        *logrus.Entry
}

// Option configures NewServer
type Option func(*handlers)

// WithLogger sets the tool call logger
func WithLogger(log *logrus.Entry) Option {
	return func(h *handlers) { h.log = log }
}

// NewServer creates an MCP server with every escrow tool registered
func NewServer(orch *orchestrator.Orchestrator, identities Identities, opts ...Option) *mcpsdk.Server {
	h := &handlers{
		orch:       orch,
		query:      orch.Query(),
		identities: identities,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithField("component", "mcp")

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "escrow",
		Version: Version,
	}, nil)

	h.add(server, ToolNetworkStatus, "Chain id, latest block number and suggested gas price of the connected network.",
		objectSchema(nil), h.networkStatus)
	h.add(server, ToolGetBalance, "Native balance of an address, in ether and wei.",
		objectSchema(props{"address": addressProp}, "address"), h.balance)
	h.add(server, ToolGetAgreement, "Full view of an escrow agreement: parties, state, balance, requirements and progress.",
		objectSchema(props{"address": addressProp}, "address"), h.agreement)
	h.add(server, ToolGetEvents, "Events an agreement emitted, oldest first, optionally from a block number on.",
		objectSchema(props{
			"address":   addressProp,
			"fromBlock": map[string]interface{}{"type": "integer", "minimum": 0, "description": "First block to include"},
		}, "address"), h.events)
	h.add(server, ToolDeployAgreement, "Deploy a new escrow agreement with the service arbiter. Requirements are the checklist descriptions.",
		objectSchema(props{
			"payer":       addressProp,
			"beneficiary": addressProp,
			"requirements": map[string]interface{}{
				"type":     "array",
				"minItems": 1,
				"maxItems": escrow.MaxRequirements,
				"items":    map[string]interface{}{"type": "string", "minLength": 1},
			},
			"idempotencyKey": keyProp,
		}, "payer", "beneficiary", "requirements"), h.deploy)
	h.add(server, ToolDepositFunds, "Deposit the escrowed amount as the payer. Amount is a decimal ether string.",
		objectSchema(props{
			"address":        addressProp,
			"amount":         map[string]interface{}{"type": "string", "description": "Ether amount, e.g. \"1.5\""},
			"idempotencyKey": keyProp,
		}, "address", "amount"), h.deposit)
	h.add(server, ToolCompleteRequirement, "Mark a requirement completed as the arbiter. Completing the last one pays the beneficiary.",
		objectSchema(props{
			"address":        addressProp,
			"index":          map[string]interface{}{"type": "integer", "minimum": 0},
			"idempotencyKey": keyProp,
		}, "address", "index"), h.complete)
	h.add(server, ToolCancelAgreement, "Cancel an agreement as the arbiter, refunding any balance to the payer.",
		objectSchema(props{"address": addressProp, "idempotencyKey": keyProp}, "address"), h.cancel)
	h.add(server, ToolEmergencyWithdraw, "Sweep the residual balance of a cancelled agreement to its payer.",
		objectSchema(props{"address": addressProp, "idempotencyKey": keyProp}, "address"), h.emergencyWithdraw)

	return server
}

type props map[string]interface{}

var (
	addressProp = map[string]interface{}{"type": "string", "description": "0x-prefixed address"}
	keyProp     = map[string]interface{}{"type": "string", "description": "Optional idempotency key"}
)

func objectSchema(properties props, required ...string) map[string]interface{} {
	schema := map[string]interface{}{"type": "object"}
	if len(properties) > 0 {
		schema["properties"] = map[string]interface{}(properties)
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (h *handlers) add(server *mcpsdk.Server, name, description string, schema map[string]interface{}, fn toolFunc) {
	server.AddTool(&mcpsdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		data, err := fn(ctx, req)
		if err != nil {
			h.log.WithFields(logrus.Fields{
				"tool": name,
				"kind": escrow.KindOf(err),
			}).WithError(err).Info("tool call failed")
			return errorResult(err), nil
		}
		h.log.WithField("tool", name).Debug("tool call served")
		return textResult(data)
	})
}

// ============================================================================
// Tools
// ============================================================================

func (h *handlers) networkStatus(ctx context.Context, _ *mcpsdk.CallToolRequest) (interface{}, error) {
	return h.query.NetworkStatus(ctx)
}

func (h *handlers) balance(ctx context.Context, req *mcpsdk.CallToolRequest) (interface{}, error) {
	var args BalanceArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return nil, err
	}
	bal, err := h.query.BalanceOf(ctx, addr)
	if err != nil {
		return nil, err
	}
	return BalanceResult{Address: addr.Hex(), Balance: escrow.FormatEther(bal), Wei: bal.String()}, nil
}

func (h *handlers) agreement(ctx context.Context, req *mcpsdk.CallToolRequest) (interface{}, error) {
	var args AgreementArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return nil, err
	}
	return h.query.Agreement(ctx, addr)
}

func (h *handlers) events(ctx context.Context, req *mcpsdk.CallToolRequest) (interface{}, error) {
	var args EventsArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return nil, err
	}
	return h.query.Events(ctx, addr, args.FromBlock)
}

func (h *handlers) deploy(ctx context.Context, req *mcpsdk.CallToolRequest) (interface{}, error) {
	var args DeployArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	payer, err := parseAddress(args.Payer)
	if err != nil {
		return nil, err
	}
	beneficiary, err := parseAddress(args.Beneficiary)
	if err != nil {
		return nil, err
	}
	return h.orch.Deploy(ctx, h.identities.Arbiter, payer, beneficiary, args.Requirements, callOptions(args.IdempotencyKey)...)
}

func (h *handlers) deposit(ctx context.Context, req *mcpsdk.CallToolRequest) (interface{}, error) {
	var args DepositArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(args.Amount)
	if err != nil {
		return nil, err
	}
	return h.orch.Deposit(ctx, h.identities.Payer, addr, amount, callOptions(args.IdempotencyKey)...)
}

func (h *handlers) complete(ctx context.Context, req *mcpsdk.CallToolRequest) (interface{}, error) {
	var args CompleteArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return nil, err
	}
	return h.orch.CompleteRequirement(ctx, h.identities.Arbiter, addr, args.Index, callOptions(args.IdempotencyKey)...)
}

func (h *handlers) cancel(ctx context.Context, req *mcpsdk.CallToolRequest) (interface{}, error) {
	var args AgreementArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return nil, err
	}
	return h.orch.Cancel(ctx, h.identities.Arbiter, addr, callOptions(args.IdempotencyKey)...)
}

func (h *handlers) emergencyWithdraw(ctx context.Context, req *mcpsdk.CallToolRequest) (interface{}, error) {
	var args AgreementArgs
	if err := decodeArgs(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return nil, err
	}
	return h.orch.EmergencyWithdraw(ctx, h.identities.Arbiter, addr, callOptions(args.IdempotencyKey)...)
}

// Serve runs server on transport until ctx is done or the peer disconnects
func Serve(ctx context.Context, server *mcpsdk.Server, transport mcpsdk.Transport) error {
	if err := server.Run(ctx, transport); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	return nil
}
