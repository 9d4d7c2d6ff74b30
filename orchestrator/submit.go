package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	escrow "github.com/tripartite/escrow"
)

// pendingTx carries the signed transaction of an operation across retry
// attempts. Once a send may have reached the node the same transaction is
// resent instead of building a new one, so a lost reply never turns into a
// second submission.
type pendingTx struct {
	msg      ethereum.CallMsg
	signed   *types.Transaction
	gasLimit uint64
	gasPrice *big.Int
	// sendAttempted is set once the transaction was handed to the node
	sendAttempted bool
}

// submit runs one attempt: estimate, sign, send and wait for the receipt. The
// identity lock is held from nonce allocation until the receipt is in, so an
// identity never has two transactions of this process in flight.
func (o *Orchestrator) submit(ctx context.Context, id Identity, op *operation, pending *pendingTx, log *logrus.Entry) (*escrow.TxResult, error) {
	from := id.Address()
	lock := o.identityLock(from)
	lock.Lock()
	defer lock.Unlock()

	if pending.signed == nil {
		if err := o.prepare(ctx, id, op, pending); err != nil {
			return nil, err
		}
	}
	signed := pending.signed

	log = log.WithFields(logrus.Fields{
		"tx":    signed.Hash().Hex(),
		"nonce": signed.Nonce(),
		"gas":   pending.gasLimit,
	})
	if err := o.send(ctx, from, pending, log); err != nil {
		return nil, err
	}

	receipt, err := o.waitForReceipt(ctx, signed.Hash(), log)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		// the nonce is spent, a retry builds a fresh transaction
		pending.signed = nil
		return nil, o.diagnose(ctx, pending.msg, signed.Hash(), log)
	}

	agreement := op.agreement
	if op.deploy {
		agreement = receipt.ContractAddress
	}
	result := &escrow.TxResult{
		Agreement:         agreement,
		TxHash:            receipt.TxHash,
		GasLimit:          pending.gasLimit,
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if result.EffectiveGasPrice == nil {
		result.EffectiveGasPrice = pending.gasPrice
	}
	events, err := o.binding.DecodeEvents(agreement, receipt.Logs)
	if err != nil {
		log.WithError(err).Warn("failed to decode receipt logs")
	}
	result.Events = events
	return result, nil
}

// prepare estimates, prices, allocates a nonce and signs a new transaction
// for op
func (o *Orchestrator) prepare(ctx context.Context, id Identity, op *operation, pending *pendingTx) error {
	from := id.Address()
	chainID, err := o.getChainID(ctx)
	if err != nil {
		return err
	}

	value := op.value
	if value == nil {
		value = new(big.Int)
	}
	msg := ethereum.CallMsg{From: from, To: op.to(), Value: value, Data: op.data}

	estimate, err := o.backend.EstimateGas(ctx, msg)
	if err != nil {
		return o.classify("estimate gas", err)
	}
	margin := o.cfg.GasMarginPercent
	if op.deploy {
		margin = o.cfg.DeployGasMarginPercent
	}
	gasLimit := estimate * margin / 100

	gasPrice, err := o.backend.SuggestGasPrice(ctx)
	if err != nil {
		return o.classify("gas price", err)
	}
	nonce, err := o.nextNonce(ctx, from)
	if err != nil {
		return err
	}

	var tx *types.Transaction
	if op.deploy {
		tx = types.NewContractCreation(nonce, value, gasLimit, gasPrice, op.data)
	} else {
		tx = types.NewTransaction(nonce, op.agreement, value, gasLimit, gasPrice, op.data)
	}
	signed, err := id.SignTx(tx, chainID)
	if err != nil {
		return escrow.NewInternalError("failed to sign transaction", err)
	}

	*pending = pendingTx{msg: msg, signed: signed, gasLimit: gasLimit, gasPrice: gasPrice}
	return nil
}

// send hands the pending transaction to the node. A resend of a transaction
// the node already has, or has already mined, counts as sent.
func (o *Orchestrator) send(ctx context.Context, from common.Address, pending *pendingTx, log *logrus.Entry) error {
	signed := pending.signed
	resend := pending.sendAttempted
	pending.sendAttempted = true

	err := o.backend.SendTransaction(ctx, signed)
	switch {
	case err == nil:
	case isAlreadyKnown(err):
		log.Debug("transaction already known")
	case isNonceError(err):
		if resend && o.mined(ctx, signed.Hash()) {
			log.Debug("earlier send was mined")
			break
		}
		pending.signed = nil
		o.resetNonce(from)
		return escrow.NewTransientError("nonce out of sync", err)
	default:
		classified := o.classify("send transaction", err)
		if escrow.IsRetryable(classified) {
			// the reply may have been lost after the node took the transaction
			log.WithError(err).Debug("send failed, keeping transaction for resend")
		} else {
			pending.signed = nil
		}
		return classified
	}
	o.setNonce(from, signed.Nonce()+1)
	log.Debug("transaction sent")
	return nil
}

// mined reports whether a receipt exists for hash
func (o *Orchestrator) mined(ctx context.Context, hash common.Hash) bool {
	receipt, err := o.backend.TransactionReceipt(ctx, hash)
	return err == nil && receipt != nil
}

// waitForReceipt polls until the transaction is mined. There is no timeout of
// its own: ctx decides how long to wait. Poll failures are tolerated.
func (o *Orchestrator) waitForReceipt(ctx context.Context, hash common.Hash, log *logrus.Entry) (*types.Receipt, error) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := o.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			log.WithError(err).Debug("receipt poll failed")
		}

		select {
		case <-ctx.Done():
			return nil, escrow.WaitAbortedError(hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// diagnose explains a failed receipt by replaying the call against the
// current state. A revert is the domain error; anything else is retried.
func (o *Orchestrator) diagnose(ctx context.Context, msg ethereum.CallMsg, hash common.Hash, log *logrus.Entry) error {
	_, err := o.backend.EstimateGas(ctx, msg)
	if err != nil {
		if revert, ok := o.binding.RevertFromError(err); ok {
			log.WithError(revert).Info("transaction reverted")
			return revert
		}
	}
	log.Warn("transaction failed without a revert reason")
	return escrow.ErrExecutionFailed.WithDetail("transaction", hash.Hex())
}

// classify maps a node error onto the taxonomy. Reverts are authoritative
// domain errors; connectivity problems are transient.
func (o *Orchestrator) classify(what string, err error) error {
	if revert, ok := o.binding.RevertFromError(err); ok {
		return revert
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
		return escrow.ErrInsufficientFunds.WithDetail("reason", err.Error())
	}
	return transient(what, err)
}

func (o *Orchestrator) getChainID(ctx context.Context) (*big.Int, error) {
	o.chainMu.Lock()
	defer o.chainMu.Unlock()
	if o.chainID != nil {
		return o.chainID, nil
	}
	id, err := o.backend.ChainID(ctx)
	if err != nil {
		return nil, transient("chain id", err)
	}
	o.chainID = id
	return id, nil
}

func (o *Orchestrator) identityLock(addr common.Address) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.identities[addr]
	if !ok {
		lock = &sync.Mutex{}
		o.identities[addr] = lock
	}
	return lock
}

// nextNonce is the larger of the node's pending nonce and the next nonce this
// process expects, covering nodes that lag behind their own pool
func (o *Orchestrator) nextNonce(ctx context.Context, addr common.Address) (uint64, error) {
	pending, err := o.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, transient("pending nonce", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return max(pending, o.nonces[addr]), nil
}

func (o *Orchestrator) setNonce(addr common.Address, next uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nonces[addr] = next
}

func (o *Orchestrator) resetNonce(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.nonces, addr)
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce too high")
}

func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}
