package devchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/contract"
)

// Gas schedule. Intrinsic costs follow the protocol; execution costs are
// flat per operation.
const (
	txGas                 = 21_000
	txGasContractCreation = 53_000
	txDataZeroGas         = 4
	txDataNonZeroGas      = 16

	gasDeploy         = 180_000
	gasPerRequirement = 44_000
	gasDeposit        = 47_000
	gasComplete       = 52_000
	gasSettle         = 31_000
	gasCancel         = 38_000
	gasWithdraw       = 29_000
	gasView           = 6_000
)

type execResult struct {
	output    []byte
	events    []escrow.Event
	gas       uint64
	err       error
	target    common.Address
	created   bool
	vault     *escrow.MemoryVault
	agreement *escrow.Agreement
}

func (c *Chain) simulateLocked(msg ethereum.CallMsg) execResult {
	return c.runLocked(c.vault.Clone(), msg.From, msg.To, msg.Value, msg.Data, c.nextBlockTime(), c.nonces[msg.From])
}

// runLocked executes one message against vault and a clone of the target
// agreement. Nothing on the chain is modified; the caller commits the result.
func (c *Chain) runLocked(vault *escrow.MemoryVault, from common.Address, to *common.Address, value *big.Int, data []byte, now, nonce uint64) execResult {
	if value == nil {
		value = new(big.Int)
	}
	res := execResult{vault: vault, gas: intrinsicGas(data, to == nil)}

	if to == nil {
		c.deploy(&res, from, value, data, now, nonce)
		return res
	}
	res.target = *to

	current, ok := c.agreements[*to]
	if !ok {
		if err := vault.Transfer(from, *to, value); err != nil {
			res.err = &RevertError{}
		}
		return res
	}
	a := current.Clone()
	res.agreement = a

	method, args, err := c.binding.DecodeCall(data)
	if err != nil {
		// no fallback function
		res.err = &RevertError{}
		return res
	}
	if value.Sign() > 0 && !method.IsPayable() {
		res.err = &RevertError{}
		return res
	}

	call := escrow.Call{Sender: from, Value: value, Time: now}
	var opErr error
	switch method.Name {
	case contract.FunctionDepositFunds:
		res.gas += gasDeposit
		res.events, opErr = a.Deposit(call, vault)
	case contract.FunctionCompleteRequirement:
		res.gas += gasComplete
		index, ok := requirementIndex(args)
		if !ok {
			opErr = escrow.ErrRequirementNotFound.WithDetail("index", uint64(0))
			break
		}
		res.events, opErr = a.CompleteRequirement(call, index, vault)
		if opErr == nil && a.State() == escrow.StateCompleted {
			res.gas += gasSettle
		}
	case contract.FunctionCancelContract:
		res.gas += gasCancel
		res.events, opErr = a.Cancel(call, vault)
	case contract.FunctionEmergencyWithdraw:
		res.gas += gasWithdraw
		_, opErr = a.EmergencyWithdraw(call, vault)
	default:
		res.gas += gasView
		res.output, opErr = c.view(a, vault, method.Name, args)
	}

	if opErr != nil {
		res.err = &RevertError{data: c.binding.EncodeRevert(opErr)}
		res.events = nil
	}
	return res
}

func (c *Chain) deploy(res *execResult, from common.Address, value *big.Int, data []byte, now, nonce uint64) {
	if !isDeployment(data) || value.Sign() > 0 {
		res.err = &RevertError{}
		return
	}
	args, err := c.binding.UnpackConstructor(data[len(Bytecode):])
	if err != nil {
		res.err = &RevertError{}
		return
	}
	res.gas += gasDeploy + gasPerRequirement*uint64(len(args.Requirements))

	addr := crypto.CreateAddress(from, nonce)
	a, err := escrow.NewAgreement(addr, from, args.Payer, args.Beneficiary, args.Requirements, now)
	if err != nil {
		res.err = &RevertError{data: c.binding.EncodeRevert(err)}
		return
	}
	res.target = addr
	res.created = true
	res.agreement = a
}

func (c *Chain) view(a *escrow.Agreement, vault escrow.Vault, method string, args []interface{}) ([]byte, error) {
	switch method {
	case contract.FunctionGetContractInfo:
		return c.binding.PackContractInfo(a.Info(vault))
	case contract.FunctionGetAllRequirements:
		return c.binding.PackRequirements(a.RequirementColumns())
	case contract.FunctionGetRequirement:
		index, ok := requirementIndex(args)
		if !ok {
			return nil, escrow.ErrRequirementNotFound
		}
		req, err := a.Requirement(index)
		if err != nil {
			return nil, err
		}
		return c.binding.PackRequirement(req)
	case contract.FunctionGetProgress:
		return c.binding.PackOutput(method, new(big.Int).SetUint64(a.Progress()))
	case contract.FunctionCanComplete:
		return c.binding.PackOutput(method, a.CanAutoComplete())
	case contract.FunctionGetSummary:
		return c.binding.PackSummary(a.Summary(vault))
	case contract.FunctionState:
		return c.binding.PackOutput(method, uint8(a.State()))
	}
	return nil, escrow.NewInternalError("unknown method "+method, nil)
}

// applyLocked executes a mined transaction: the fee for the full gas limit is
// charged up front, execution commits only on success, unused gas is refunded.
func (c *Chain) applyLocked(tx *types.Transaction, timestamp uint64) *types.Receipt {
	from, _ := types.Sender(c.signer, tx)
	nonce := c.nonces[from]
	c.nonces[from]++

	receipt := &types.Receipt{
		Type:              tx.Type(),
		TxHash:            tx.Hash(),
		EffectiveGasPrice: new(big.Int).Set(tx.GasPrice()),
		Logs:              []*types.Log{},
		Status:            types.ReceiptStatusFailed,
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	if c.vault.BalanceOf(from).Cmp(new(big.Int).Add(fee, tx.Value())) < 0 {
		// balance drained by an earlier transaction in the pool
		return receipt
	}
	if err := c.vault.Debit(from, fee); err != nil {
		return receipt
	}

	res := c.runLocked(c.vault.Clone(), from, tx.To(), tx.Value(), tx.Data(), timestamp, nonce)
	switch {
	case res.err == nil && res.gas <= tx.Gas():
		c.vault.CopyFrom(res.vault)
		if res.agreement != nil {
			c.agreements[res.target] = res.agreement
		}
		if res.created {
			receipt.ContractAddress = res.target
		}
		for _, ev := range res.events {
			log, err := c.binding.EncodeEvent(res.target, ev)
			if err != nil {
				c.log.WithError(err).Warn("failed to encode event")
				continue
			}
			receipt.Logs = append(receipt.Logs, log)
		}
		receipt.Status = types.ReceiptStatusSuccessful
		receipt.GasUsed = res.gas
	case res.err == nil:
		// out of gas
		receipt.GasUsed = tx.Gas()
	default:
		receipt.GasUsed = min(res.gas, tx.Gas())
	}

	refund := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()-receipt.GasUsed), tx.GasPrice())
	c.vault.Credit(from, refund)
	return receipt
}

func requirementIndex(args []interface{}) (uint64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	v, ok := args[0].(*big.Int)
	if !ok || !v.IsUint64() {
		return 0, false
	}
	return v.Uint64(), true
}
