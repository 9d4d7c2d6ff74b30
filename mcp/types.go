package mcp

import (
	"github.com/tripartite/escrow/orchestrator"
)

// Tool names
const (
	ToolNetworkStatus       = "network_status"
	ToolGetBalance          = "get_balance"
	ToolGetAgreement        = "get_agreement"
	ToolDeployAgreement     = "deploy_agreement"
	ToolDepositFunds        = "deposit_funds"
	ToolCompleteRequirement = "complete_requirement"
	ToolCancelAgreement     = "cancel_agreement"
	ToolEmergencyWithdraw   = "emergency_withdraw"
	ToolGetEvents           = "get_events"
)

// Identities are the signing parties the tools act as
type Identities struct {
	Arbiter orchestrator.Identity
	Payer   orchestrator.Identity
}

// BalanceArgs are the arguments of get_balance
type BalanceArgs struct {
	Address string `json:"address"`
}

// AgreementArgs address one agreement. IdempotencyKey is honored by the
// write tools.
type AgreementArgs struct {
	Address        string `json:"address"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// EventsArgs are the arguments of get_events. FromBlock defaults to genesis.
type EventsArgs struct {
	Address   string `json:"address"`
	FromBlock uint64 `json:"fromBlock,omitempty"`
}

// DeployArgs are the arguments of deploy_agreement
type DeployArgs struct {
	Payer          string   `json:"payer"`
	Beneficiary    string   `json:"beneficiary"`
	Requirements   []string `json:"requirements"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
}

// DepositArgs are the arguments of deposit_funds. Amount is a decimal ether
// string.
type DepositArgs struct {
	Address        string `json:"address"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// CompleteArgs are the arguments of complete_requirement
type CompleteArgs struct {
	Address        string `json:"address"`
	Index          uint64 `json:"index"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// BalanceResult is the answer of get_balance
type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Wei     string `json:"wei"`
}
