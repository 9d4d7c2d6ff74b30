// Package flaky wraps an execution backend and injects transient failures,
// for exercising retry and polling paths.
package flaky

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnavailable is the injected failure
var ErrUnavailable = errors.New("connection reset by peer")

// ErrReplyLost is returned after a transaction was delivered but its reply
// was dropped
var ErrReplyLost = errors.New("i/o timeout")

// Backend is the node surface being wrapped. It mirrors orchestrator.Backend.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Wrapper forwards to the wrapped backend except for the calls it has been
// told to fail. Failures are counted per method and consumed in order.
type Wrapper struct {
	Backend

	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	// lostReplies counts sends to deliver and then report as failed
	lostReplies int
	// sent counts transactions that reached the wrapped backend
	sent int
}

// Wrap creates a wrapper with no failures scheduled
func Wrap(b Backend) *Wrapper {
	return &Wrapper{
		Backend:  b,
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next n calls of method fail with ErrUnavailable
func (w *Wrapper) FailNext(method string, n int) *Wrapper {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[method] += n
	return w
}

// LoseReplyNext makes the next n sends reach the wrapped backend and then
// fail with ErrReplyLost, as if the connection dropped after the node took
// the transaction
func (w *Wrapper) LoseReplyNext(n int) *Wrapper {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lostReplies += n
	return w
}

// Calls returns how often method was called, failures included
func (w *Wrapper) Calls(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[method]
}

// Sent returns the number of transactions forwarded to the wrapped backend
func (w *Wrapper) Sent() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent
}

func (w *Wrapper) fail(method string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[method]++
	if w.failures[method] > 0 {
		w.failures[method]--
		return ErrUnavailable
	}
	return nil
}

func (w *Wrapper) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := w.fail("EstimateGas"); err != nil {
		return 0, err
	}
	return w.Backend.EstimateGas(ctx, msg)
}

func (w *Wrapper) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := w.fail("SuggestGasPrice"); err != nil {
		return nil, err
	}
	return w.Backend.SuggestGasPrice(ctx)
}

func (w *Wrapper) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := w.fail("PendingNonceAt"); err != nil {
		return 0, err
	}
	return w.Backend.PendingNonceAt(ctx, account)
}

func (w *Wrapper) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := w.fail("SendTransaction"); err != nil {
		return err
	}
	if err := w.Backend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent++
	if w.lostReplies > 0 {
		w.lostReplies--
		return ErrReplyLost
	}
	return nil
}

func (w *Wrapper) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := w.fail("TransactionReceipt"); err != nil {
		return nil, err
	}
	return w.Backend.TransactionReceipt(ctx, txHash)
}

func (w *Wrapper) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := w.fail("CallContract"); err != nil {
		return nil, err
	}
	return w.Backend.CallContract(ctx, msg, blockNumber)
}

func (w *Wrapper) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := w.fail("FilterLogs"); err != nil {
		return nil, err
	}
	return w.Backend.FilterLogs(ctx, q)
}
