package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call carries the execution context of one agreement operation. Time is the
// block time of the execution environment, never the caller's clock.
type Call struct {
	Sender common.Address
	Value  *big.Int
	Time   uint64
}

// Agreement is the escrow state machine. It is not safe for concurrent use;
// the execution environment serializes every call against one agreement.
//
// Every operation validates all of its preconditions before mutating anything,
// so a failed call leaves the agreement and the vault untouched.
type Agreement struct {
	address     common.Address
	arbiter     common.Address
	payer       common.Address
	beneficiary common.Address

	deposited   *big.Int
	state       State
	ledger      *RequirementLedger
	createdAt   uint64
	completedAt uint64
}

// NewAgreement creates an agreement in CREATED state. The creator becomes
// the arbiter.
func NewAgreement(self, creator, payer, beneficiary common.Address, descriptions []string, now uint64) (*Agreement, error) {
	if payer == (common.Address{}) || beneficiary == (common.Address{}) || payer == beneficiary {
		return nil, ErrInvalidParty.
			WithDetail("payer", payer.Hex()).
			WithDetail("beneficiary", beneficiary.Hex())
	}
	ledger, err := NewRequirementLedger(descriptions)
	if err != nil {
		return nil, err
	}
	return &Agreement{
		address:     self,
		arbiter:     creator,
		payer:       payer,
		beneficiary: beneficiary,
		deposited:   new(big.Int),
		state:       StateCreated,
		ledger:      ledger,
		createdAt:   now,
	}, nil
}

func (a *Agreement) Address() common.Address     { return a.address }
func (a *Agreement) Arbiter() common.Address     { return a.arbiter }
func (a *Agreement) Payer() common.Address       { return a.payer }
func (a *Agreement) Beneficiary() common.Address { return a.beneficiary }
func (a *Agreement) State() State                { return a.state }
func (a *Agreement) Ledger() *RequirementLedger  { return a.ledger }

// Deposit pulls call.Value from the payer into custody and starts the work
// phase. Only one deposit is ever accepted.
func (a *Agreement) Deposit(call Call, vault Vault) ([]Event, error) {
	if call.Sender != a.payer {
		return nil, unauthorized(call.Sender)
	}
	if call.Value == nil || call.Value.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if a.state != StateCreated {
		return nil, stateError(a.state)
	}
	if err := vault.Transfer(a.payer, a.address, call.Value); err != nil {
		return nil, err
	}

	amount := new(big.Int).Set(call.Value)
	a.deposited = amount
	a.state = StateInProgress
	return []Event{FundsDeposited{Payer: a.payer, Amount: new(big.Int).Set(amount), Timestamp: call.Time}}, nil
}

// CompleteRequirement certifies one requirement. Certifying the last pending
// requirement settles the agreement in the same call.
func (a *Agreement) CompleteRequirement(call Call, index uint64, vault Vault) ([]Event, error) {
	if call.Sender != a.arbiter {
		return nil, unauthorized(call.Sender)
	}
	if a.state != StateInProgress {
		return nil, stateError(a.state)
	}
	req, err := a.ledger.Get(index)
	if err != nil {
		return nil, err
	}
	if req.Completed {
		return nil, ErrAlreadyCompleted.WithDetail("index", index)
	}

	settling := a.ledger.CompletedCount()+1 == a.ledger.Len()
	var payout *big.Int
	if settling {
		payout = vault.BalanceOf(a.address)
		if err := vault.Transfer(a.address, a.beneficiary, payout); err != nil {
			return nil, err
		}
	}

	req, err = a.ledger.complete(index, call.Time)
	if err != nil {
		return nil, err
	}
	events := []Event{RequirementCompleted{
		Index:       index,
		Description: req.Description,
		Arbiter:     a.arbiter,
		Timestamp:   call.Time,
	}}

	if settling {
		a.state = StateCompleted
		a.completedAt = call.Time
		events = append(events, AgreementCompleted{Beneficiary: a.beneficiary, Amount: payout, Timestamp: call.Time})
	}
	return events, nil
}

// Cancel terminates the agreement and refunds any custody to the payer
func (a *Agreement) Cancel(call Call, vault Vault) ([]Event, error) {
	if call.Sender != a.arbiter {
		return nil, unauthorized(call.Sender)
	}
	if a.state != StateCreated && a.state != StateInProgress {
		return nil, stateError(a.state)
	}

	refund := vault.BalanceOf(a.address)
	if err := vault.Transfer(a.address, a.payer, refund); err != nil {
		return nil, err
	}
	a.state = StateCancelled
	return []Event{AgreementCancelled{RefundedTo: a.payer, Amount: refund, Timestamp: call.Time}}, nil
}

// EmergencyWithdraw sweeps any residual custody of a cancelled agreement back
// to the payer. It emits no event and returns the swept amount.
func (a *Agreement) EmergencyWithdraw(call Call, vault Vault) (*big.Int, error) {
	if call.Sender != a.arbiter {
		return nil, unauthorized(call.Sender)
	}
	if a.state != StateCancelled {
		return nil, stateError(a.state)
	}
	residual := vault.BalanceOf(a.address)
	if err := vault.Transfer(a.address, a.payer, residual); err != nil {
		return nil, err
	}
	return residual, nil
}

// Info returns the contract-info tuple
func (a *Agreement) Info(vault Vault) ContractInfo {
	return ContractInfo{
		Arbiter:           a.arbiter,
		Payer:             a.payer,
		Beneficiary:       a.beneficiary,
		DepositedAmount:   new(big.Int).Set(a.deposited),
		State:             a.state,
		TotalRequirements: a.ledger.Len(),
		CompletedCount:    a.ledger.CompletedCount(),
		Balance:           vault.BalanceOf(a.address),
		CreatedAt:         a.createdAt,
		CompletedAt:       a.completedAt,
	}
}

func (a *Agreement) Requirement(index uint64) (Requirement, error) {
	return a.ledger.Get(index)
}

func (a *Agreement) Requirements() []Requirement {
	return a.ledger.All()
}

func (a *Agreement) RequirementColumns() RequirementColumns {
	return a.ledger.Columns()
}

// Progress returns the truncated completion percentage
func (a *Agreement) Progress() uint64 {
	return ProgressOf(a.ledger.CompletedCount(), a.ledger.Len())
}

// CanAutoComplete reports IN_PROGRESS with every requirement certified. The
// completing call settles immediately, so this is normally false.
func (a *Agreement) CanAutoComplete() bool {
	return a.state == StateInProgress && a.ledger.CompletedCount() == a.ledger.Len()
}

func (a *Agreement) Summary(vault Vault) Summary {
	return Summary{
		State:     a.state,
		Progress:  a.Progress(),
		Balance:   vault.BalanceOf(a.address),
		Total:     a.ledger.Len(),
		Completed: a.ledger.CompletedCount(),
	}
}

// Clone returns a deep copy sharing no mutable state with a
func (a *Agreement) Clone() *Agreement {
	c := *a
	c.deposited = new(big.Int).Set(a.deposited)
	c.ledger = a.ledger.Clone()
	return &c
}

// CheckInvariants verifies the custody and ledger invariants against vault
func (a *Agreement) CheckInvariants(vault Vault) error {
	var completed uint64
	for _, r := range a.ledger.items {
		if r.Completed {
			completed++
			if r.CompletedAt < a.createdAt {
				return fmt.Errorf("requirement %d completed at %d before creation at %d", r.Index, r.CompletedAt, a.createdAt)
			}
		} else if r.CompletedAt != 0 {
			return fmt.Errorf("pending requirement %d has completion time %d", r.Index, r.CompletedAt)
		}
	}
	if completed != a.ledger.CompletedCount() {
		return fmt.Errorf("completed count %d does not match ledger (%d)", a.ledger.CompletedCount(), completed)
	}
	total := a.ledger.Len()
	if total == 0 || total > MaxRequirements {
		return fmt.Errorf("requirement count %d out of bounds", total)
	}

	balance := vault.BalanceOf(a.address)
	switch a.state {
	case StateCreated:
		if balance.Sign() != 0 || a.deposited.Sign() != 0 || completed != 0 {
			return fmt.Errorf("created agreement holds balance %s, deposit %s, completed %d", balance, a.deposited, completed)
		}
	case StateInProgress:
		if a.deposited.Sign() <= 0 || balance.Cmp(a.deposited) != 0 {
			return fmt.Errorf("in-progress custody %s does not match deposit %s", balance, a.deposited)
		}
		if completed >= total {
			return fmt.Errorf("in-progress agreement has every requirement completed")
		}
	case StateCompleted:
		if balance.Sign() != 0 {
			return fmt.Errorf("completed agreement still holds %s", balance)
		}
		if completed != total {
			return fmt.Errorf("completed agreement has %d of %d requirements", completed, total)
		}
		if a.completedAt == 0 && a.createdAt != 0 {
			return fmt.Errorf("completed agreement has no completion time")
		}
	case StateCancelled:
		if balance.Sign() != 0 {
			return fmt.Errorf("cancelled agreement still holds %s", balance)
		}
		if completed == total {
			return fmt.Errorf("cancelled agreement has every requirement completed")
		}
	default:
		return fmt.Errorf("agreement in unreachable state %s", a.state)
	}
	return nil
}

func unauthorized(caller common.Address) *Error {
	return ErrUnauthorized.WithDetail("caller", caller.Hex())
}
