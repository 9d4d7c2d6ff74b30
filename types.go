package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxRequirements bounds the checklist size of a single agreement
const MaxRequirements = 50

// State is the lifecycle state of an agreement. The numeric values are the
// wire codes returned by the contract.
type State uint8

const (
	StateCreated State = iota
	// StateFunded is declared by the contract but no transition produces it.
	StateFunded
	StateInProgress
	StateCompleted
	StateCancelled
)

var stateNames = [...]string{"CREATED", "FUNDED", "IN_PROGRESS", "COMPLETED", "CANCELLED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Valid reports whether s is a declared state code
func (s State) Valid() bool {
	return int(s) < len(stateNames)
}

// MarshalText encodes the state by name so JSON responses stay readable
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts a state name (case-insensitive)
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts a state name into its State
func ParseState(name string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == upper {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown agreement state: %q", name)
}

// Requirement is one checklist item of an agreement
type Requirement struct {
	Index       uint64 `json:"index"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	CompletedAt uint64 `json:"completedAt"` // unix seconds of the completing block, 0 if pending
}

// RequirementColumns is the parallel-array form of a ledger, matching the
// getAllRequirements wire layout
type RequirementColumns struct {
	Descriptions []string `json:"descriptions"`
	Completed    []bool   `json:"completed"`
	CompletedAt  []uint64 `json:"completedTimes"`
}

// Requirements converts the columns back into a struct sequence
func (c RequirementColumns) Requirements() []Requirement {
	out := make([]Requirement, len(c.Descriptions))
	for i := range c.Descriptions {
		out[i] = Requirement{Index: uint64(i), Description: c.Descriptions[i]}
		if i < len(c.Completed) {
			out[i].Completed = c.Completed[i]
		}
		if i < len(c.CompletedAt) {
			out[i].CompletedAt = c.CompletedAt[i]
		}
	}
	return out
}

// ContractInfo is the contract-info tuple. Field order follows the wire layout
// of getContractInfo.
type ContractInfo struct {
	Arbiter           common.Address `json:"arbiter"`
	Payer             common.Address `json:"payer"`
	Beneficiary       common.Address `json:"beneficiary"`
	DepositedAmount   *big.Int       `json:"depositedAmount"`
	State             State          `json:"state"`
	TotalRequirements uint64         `json:"totalRequirements"`
	CompletedCount    uint64         `json:"completedCount"`
	Balance           *big.Int       `json:"balance"`
	CreatedAt         uint64         `json:"createdAt"`
	CompletedAt       uint64         `json:"completedAt"`
}

// Progress returns floor(completed*100/total)
func (i ContractInfo) Progress() uint64 {
	return ProgressOf(i.CompletedCount, i.TotalRequirements)
}

// Summary is the compact (state, progress, balance, total, completed) tuple
type Summary struct {
	State     State    `json:"state"`
	Progress  uint64   `json:"progress"`
	Balance   *big.Int `json:"balance"`
	Total     uint64   `json:"total"`
	Completed uint64   `json:"completed"`
}

// AgreementView is the full read projection served to callers
type AgreementView struct {
	Address         common.Address `json:"address"`
	Info            ContractInfo   `json:"info"`
	Requirements    []Requirement  `json:"requirements"`
	Progress        uint64         `json:"progress"`
	CanAutoComplete bool           `json:"canAutoComplete"`
}

// NetworkStatus describes the execution environment a caller is connected to
type NetworkStatus struct {
	ChainID     *big.Int `json:"chainId"`
	BlockNumber uint64   `json:"blockNumber"`
	GasPrice    *big.Int `json:"gasPrice"`
}

// ProgressOf computes the integer completion percentage, truncating
func ProgressOf(completed, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return completed * 100 / total
}

// Operation names a state-changing call driven by the orchestrator
type Operation string

const (
	OpDeploy            Operation = "deploy"
	OpDeposit           Operation = "deposit"
	OpComplete          Operation = "complete_requirement"
	OpCancel            Operation = "cancel"
	OpEmergencyWithdraw Operation = "emergency_withdraw"
)

// TxResult is the confirmed outcome of an orchestrated operation
type TxResult struct {
	OperationID       string         `json:"operationId"`
	Operation         Operation      `json:"operation"`
	Agreement         common.Address `json:"agreement"`
	Sender            common.Address `json:"sender"`
	TxHash            common.Hash    `json:"transactionHash"`
	BlockNumber       uint64         `json:"blockNumber"`
	GasLimit          uint64         `json:"gasLimit"`
	GasUsed           uint64         `json:"gasUsed"`
	EffectiveGasPrice *big.Int       `json:"effectiveGasPrice,omitempty"`
	Attempts          int            `json:"attempts"`
	Events            []Event        `json:"events,omitempty"`

	// Post-check snapshot of the agreement after confirmation
	State   State `json:"state"`
	Settled bool  `json:"settled"` // the operation released custody to the beneficiary

	// Operation specific
	RequirementIndex *uint64         `json:"requirementIndex,omitempty"`
	Amount           *big.Int        `json:"amount,omitempty"`
	RefundedTo       *common.Address `json:"refundedTo,omitempty"`
}
