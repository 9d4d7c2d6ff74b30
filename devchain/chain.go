// Package devchain is an in-process execution environment for escrow
// agreements. It speaks the same JSON-RPC shaped interface as an ethclient
// (nonces, gas, receipts, logs, revert data) and hosts escrow.Agreement state
// machines behind the agreement ABI, so the orchestrator can be exercised end
// to end without a node.
package devchain

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/contract"
)

// Bytecode is the deployable code of the agreement on a devchain. Deployment
// data is Bytecode followed by the packed constructor arguments.
var Bytecode = []byte("\x00tripartite-escrow/agreement/v1\x00")

const (
	DefaultChainID  = 31337
	DefaultGasPrice = 1_000_000_000 // 1 gwei
	BlockGasLimit   = 30_000_000
)

// Node-compatible submission errors
var (
	ErrNonceTooLow       = errors.New("nonce too low")
	ErrNonceTooHigh      = errors.New("nonce too high")
	ErrAlreadyKnown      = errors.New("already known")
	ErrIntrinsicGas      = errors.New("intrinsic gas too low")
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
	ErrGasLimit          = errors.New("exceeds block gas limit")
	ErrInvalidChainID    = errors.New("invalid chain id for signer")
	ErrUnderpriced       = errors.New("transaction underpriced")
)

type block struct {
	number uint64
	time   uint64
	hash   common.Hash
}

// Chain is the in-process execution environment. All execution is serialized
// under one mutex, so each agreement sees strictly sequential operations.
type Chain struct {
	mu sync.Mutex

	chainID  *big.Int
	gasPrice *big.Int
	signer   types.Signer
	binding  *contract.Binding
	clock    func() time.Time
	automine bool
	log      *logrus.Entry

	vault      *escrow.MemoryVault
	nonces     map[common.Address]uint64
	agreements map[common.Address]*escrow.Agreement

	blocks []block
	// states holds the balances at the end of each block, indexed by number
	states   []*escrow.MemoryVault
	logs     []types.Log
	pending  []*types.Transaction
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
}

// Option configures a Chain
type Option func(*Chain)

// WithChainID sets the chain id (default 31337)
func WithChainID(id int64) Option {
	return func(c *Chain) { c.chainID = big.NewInt(id) }
}

// WithGasPrice sets the fixed gas price
func WithGasPrice(wei *big.Int) Option {
	return func(c *Chain) { c.gasPrice = new(big.Int).Set(wei) }
}

// WithClock sets the source of block timestamps
func WithClock(clock func() time.Time) Option {
	return func(c *Chain) { c.clock = clock }
}

// WithAutomine controls whether every accepted transaction is mined in its
// own block immediately (default true). Without automine, call Mine or Run.
func WithAutomine(enabled bool) Option {
	return func(c *Chain) { c.automine = enabled }
}

// WithLogger sets the logger used for block production
func WithLogger(log *logrus.Entry) Option {
	return func(c *Chain) { c.log = log }
}

// New creates a chain with a genesis block
func New(opts ...Option) *Chain {
	c := &Chain{
		chainID:    big.NewInt(DefaultChainID),
		gasPrice:   big.NewInt(DefaultGasPrice),
		binding:    contract.MustNewBinding(),
		clock:      time.Now,
		automine:   true,
		log:        logrus.NewEntry(logrus.StandardLogger()).WithField("component", "devchain"),
		vault:      escrow.NewMemoryVault(),
		nonces:     make(map[common.Address]uint64),
		agreements: make(map[common.Address]*escrow.Agreement),
		txs:        make(map[common.Hash]*types.Transaction),
		receipts:   make(map[common.Hash]*types.Receipt),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.signer = types.LatestSignerForChainID(c.chainID)

	genesis := uint64(c.clock().Unix())
	c.blocks = []block{{number: 0, time: genesis, hash: blockHash(0, genesis, nil)}}
	c.states = []*escrow.MemoryVault{c.vault.Clone()}
	return c
}

// Fund credits amount to addr out of thin air. The credit is part of the
// latest block's state.
func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vault.Credit(addr, amount)
	c.states[len(c.states)-1].Credit(addr, amount)
}

// ============================================================================
// Read API
// ============================================================================

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head().number, nil
}

func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingNonceLocked(account), nil
}

func (c *Chain) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// BalanceAt returns the balance at the end of blockNumber, or the latest
// balance when blockNumber is nil or beyond the head
func (c *Chain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if blockNumber == nil || blockNumber.Sign() < 0 || !blockNumber.IsUint64() || blockNumber.Uint64() >= c.head().number {
		return c.vault.BalanceOf(account), nil
	}
	return c.states[blockNumber.Uint64()].BalanceOf(account), nil
}

// FilterLogs returns the logs of mined blocks matching q in chain order.
// Negative block numbers mean the head; block hash queries are unsupported.
func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q.BlockHash != nil {
		return nil, fmt.Errorf("filtering by block hash is not supported")
	}

	head := c.head().number
	from, to := uint64(0), head
	if q.FromBlock != nil {
		from = blockOrHead(q.FromBlock, head)
	}
	if q.ToBlock != nil {
		to = blockOrHead(q.ToBlock, head)
	}

	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if !matchAddress(q.Addresses, l.Address) || !matchTopics(q.Topics, l.Topics) {
			continue
		}
		l.Topics = append([]common.Hash(nil), l.Topics...)
		l.Data = append([]byte(nil), l.Data...)
		out = append(out, l)
	}
	return out, nil
}

func (c *Chain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.agreements[account]; ok {
		return append([]byte{}, Bytecode...), nil
	}
	return nil, nil
}

// TransactionReceipt returns ethereum.NotFound until the transaction is mined
func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	cp := *r
	return &cp, nil
}

// TransactionByHash reports whether a known transaction is still pending
func (c *Chain) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := c.receipts[hash]
	return tx, !mined, nil
}

// CallContract executes msg against the latest state without committing
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.To == nil {
		return nil, fmt.Errorf("eth_call requires a target")
	}
	if _, ok := c.agreements[*msg.To]; !ok {
		// calls to accounts without code succeed with no output
		return []byte{}, nil
	}
	res := c.simulateLocked(msg)
	if res.err != nil {
		return nil, res.err
	}
	return res.output, nil
}

// EstimateGas returns the gas msg would use against the latest state. A
// reverting call returns a *RevertError carrying the revert data.
func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	if c.vault.BalanceOf(msg.From).Cmp(value) < 0 {
		return 0, fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientFunds,
			msg.From.Hex(), c.vault.BalanceOf(msg.From), value)
	}
	res := c.simulateLocked(msg)
	if res.err != nil {
		return 0, res.err
	}
	return res.gas, nil
}

// ============================================================================
// Write API
// ============================================================================

// SendTransaction validates tx and adds it to the pending pool. With automine
// the transaction is mined before SendTransaction returns.
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, known := c.txs[tx.Hash()]; known {
		return ErrAlreadyKnown
	}
	if tx.ChainId() != nil && tx.ChainId().Sign() != 0 && tx.ChainId().Cmp(c.chainID) != 0 {
		return ErrInvalidChainID
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	expected := c.pendingNonceLocked(from)
	switch {
	case tx.Nonce() < expected:
		return fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, from.Hex(), tx.Nonce(), expected)
	case tx.Nonce() > expected:
		return fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, from.Hex(), tx.Nonce(), expected)
	}
	if tx.Gas() > BlockGasLimit {
		return ErrGasLimit
	}
	if intrinsic := intrinsicGas(tx.Data(), tx.To() == nil); tx.Gas() < intrinsic {
		return fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.Gas(), intrinsic)
	}
	if tx.GasPrice().Cmp(c.gasPrice) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrUnderpriced, tx.GasPrice(), c.gasPrice)
	}
	if bal := c.vault.BalanceOf(from); bal.Cmp(tx.Cost()) < 0 {
		return fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientFunds, from.Hex(), bal, tx.Cost())
	}

	c.txs[tx.Hash()] = tx
	c.pending = append(c.pending, tx)
	if c.automine {
		c.mineLocked()
	}
	return nil
}

// Mine seals every pending transaction into a new block and returns its
// number. An empty pool still produces a block so time advances.
func (c *Chain) Mine() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mineLocked()
}

// Run mines a block every interval until ctx is done
func (c *Chain) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if len(c.pending) > 0 {
				c.mineLocked()
			}
			c.mu.Unlock()
		}
	}
}

// PendingCount returns the number of transactions waiting to be mined
func (c *Chain) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Agreement returns a snapshot of the agreement hosted at addr
func (c *Chain) Agreement(addr common.Address) (*escrow.Agreement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agreements[addr]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Vault exposes the balance store, for invariant checks in tests
func (c *Chain) Vault() escrow.Vault {
	return c.vault
}

func (c *Chain) head() block {
	return c.blocks[len(c.blocks)-1]
}

func (c *Chain) pendingNonceLocked(addr common.Address) uint64 {
	n := c.nonces[addr]
	for _, tx := range c.pending {
		if from, _ := types.Sender(c.signer, tx); from == addr {
			n++
		}
	}
	return n
}

func (c *Chain) nextBlockTime() uint64 {
	next := uint64(c.clock().Unix())
	if last := c.head().time; next <= last {
		next = last + 1
	}
	return next
}

func (c *Chain) mineLocked() uint64 {
	number := c.head().number + 1
	timestamp := c.nextBlockTime()

	txs := c.pending
	c.pending = nil

	hashes := make([]common.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	hash := blockHash(number, timestamp, hashes)

	var cumulative uint64
	var logIndex uint
	for i, tx := range txs {
		receipt := c.applyLocked(tx, timestamp)
		cumulative += receipt.GasUsed
		receipt.CumulativeGasUsed = cumulative
		receipt.BlockNumber = new(big.Int).SetUint64(number)
		receipt.BlockHash = hash
		receipt.TransactionIndex = uint(i)
		for _, l := range receipt.Logs {
			l.BlockNumber = number
			l.BlockHash = hash
			l.TxHash = tx.Hash()
			l.TxIndex = uint(i)
			l.Index = logIndex
			logIndex++
		}
		c.receipts[tx.Hash()] = receipt
		for _, l := range receipt.Logs {
			c.logs = append(c.logs, *l)
		}
	}

	c.blocks = append(c.blocks, block{number: number, time: timestamp, hash: hash})
	c.states = append(c.states, c.vault.Clone())
	c.log.WithFields(logrus.Fields{
		"block": number,
		"txs":   len(txs),
		"gas":   cumulative,
	}).Debug("mined block")
	return number
}

func blockOrHead(n *big.Int, head uint64) uint64 {
	if n.Sign() < 0 || !n.IsUint64() {
		return head
	}
	return n.Uint64()
}

func matchAddress(addrs []common.Address, addr common.Address) bool {
	if len(addrs) == 0 {
		return true
	}
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// matchTopics follows eth_getLogs: position i matches any of filter[i], an
// empty position matches anything
func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		found := false
		for _, t := range alternatives {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func blockHash(number, timestamp uint64, txs []common.Hash) common.Hash {
	buf := make([]byte, 16, 16+32*len(txs))
	binary.BigEndian.PutUint64(buf[:8], number)
	binary.BigEndian.PutUint64(buf[8:], timestamp)
	for _, h := range txs {
		buf = append(buf, h.Bytes()...)
	}
	return crypto.Keccak256Hash(buf)
}

func intrinsicGas(data []byte, create bool) uint64 {
	gas := uint64(txGas)
	if create {
		gas = txGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataNonZeroGas
		}
	}
	return gas
}

func isDeployment(data []byte) bool {
	return bytes.HasPrefix(data, Bytecode)
}
