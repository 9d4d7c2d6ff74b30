package escrow

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Vault holds native-currency balances. Agreement custody is the balance held
// by the agreement's own address.
type Vault interface {
	BalanceOf(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
}

// MemoryVault is an in-memory Vault safe for concurrent use
type MemoryVault struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

// NewMemoryVault creates an empty vault
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[common.Address]*big.Int)}
}

func (v *MemoryVault) BalanceOf(addr common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if b, ok := v.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Transfer moves amount from one address to another. A zero amount is a no-op.
func (v *MemoryVault) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	fromBal := v.balanceLocked(from)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientFunds.
			WithDetail("address", from.Hex()).
			WithDetail("balance", fromBal.String()).
			WithDetail("required", amount.String())
	}
	v.balances[from] = new(big.Int).Sub(fromBal, amount)
	v.balances[to] = new(big.Int).Add(v.balanceLocked(to), amount)
	return nil
}

// Credit mints amount to addr
func (v *MemoryVault) Credit(addr common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[addr] = new(big.Int).Add(v.balanceLocked(addr), amount)
}

// Debit burns amount from addr, failing when the balance is short
func (v *MemoryVault) Debit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balanceLocked(addr)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientFunds.WithDetail("address", addr.Hex())
	}
	v.balances[addr] = new(big.Int).Sub(bal, amount)
	return nil
}

// Clone returns an independent copy of every balance
func (v *MemoryVault) Clone() *MemoryVault {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := NewMemoryVault()
	for addr, b := range v.balances {
		out.balances[addr] = new(big.Int).Set(b)
	}
	return out
}

// CopyFrom replaces every balance with those of src
func (v *MemoryVault) CopyFrom(src *MemoryVault) {
	snapshot := src.Clone()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances = snapshot.balances
}

// Total returns the sum of every balance
func (v *MemoryVault) Total() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	total := new(big.Int)
	for _, b := range v.balances {
		total.Add(total, b)
	}
	return total
}

func (v *MemoryVault) balanceLocked(addr common.Address) *big.Int {
	if b, ok := v.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}
