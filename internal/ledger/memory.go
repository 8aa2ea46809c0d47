package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Memory is an in-process balance book.
type Memory struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int
}

// NewMemory returns an empty book.
func NewMemory() *Memory {
	return &Memory{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

// Transfer moves amount of asset from one owner to another. It fails without
// side effects when the source balance is short.
func (m *Memory) Transfer(_ context.Context, asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.balance(asset, from)
	if src.Cmp(amount) < 0 {
		return ErrInsufficientBalance.With(fmt.Errorf("%s holds %s of %s, needs %s", from.Hex(), src, asset.Hex(), amount))
	}
	src.Sub(src, amount)
	dst := m.balance(asset, to)
	dst.Add(dst, amount)
	return nil
}

// Credit adds amount to owner's balance out of thin air. Used for genesis
// balances and test faucets.
func (m *Memory) Credit(_ context.Context, asset, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("credit amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balance(asset, owner)
	b.Add(b, amount)
	return nil
}

func (m *Memory) BalanceOf(_ context.Context, asset, owner common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.balances[asset][owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// balance returns the live balance, creating it. Callers hold the write lock.
func (m *Memory) balance(asset, owner common.Address) *big.Int {
	byOwner := m.balances[asset]
	if byOwner == nil {
		byOwner = make(map[common.Address]*big.Int)
		m.balances[asset] = byOwner
	}
	b := byOwner[owner]
	if b == nil {
		b = new(big.Int)
		byOwner[owner] = b
	}
	return b
}
