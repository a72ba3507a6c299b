package rangepos

import (
	"math/big"
	"sync"

	"lpvault/crypto"
	"lpvault/native/vault"
)

// ManualPool is an operator-fed PoolState implementation. It serves
// deployments that have no live chain adapter yet, and tests.
type ManualPool struct {
	mu           sync.RWMutex
	token0       crypto.Address
	token1       crypto.Address
	sqrtPriceX96 *big.Int
}

// NewManualPool creates a pool bound to the given token pair with no price
// set.
func NewManualPool(token0, token1 crypto.Address) *ManualPool {
	return &ManualPool{token0: token0, token1: token1}
}

// Tokens returns the pool's token pair.
func (p *ManualPool) Tokens() (crypto.Address, crypto.Address) {
	return p.token0, p.token1
}

// SqrtPriceX96 returns the current pool price in Q64.96 form. An unset price
// reads as an invalid pool.
func (p *ManualPool) SqrtPriceX96() (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sqrtPriceX96 == nil || p.sqrtPriceX96.Sign() <= 0 {
		return nil, vault.ErrInvalidLiquidityPool
	}
	return new(big.Int).Set(p.sqrtPriceX96), nil
}

// SetSqrtPriceX96 replaces the pool price.
func (p *ManualPool) SetSqrtPriceX96(price *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sqrtPriceX96 = new(big.Int).Set(price)
}

// ManualPositions is an operator-fed PositionSource mapping position ids to
// their range data.
type ManualPositions struct {
	mu      sync.RWMutex
	entries map[string]PositionInfo
}

// NewManualPositions creates an empty position book.
func NewManualPositions() *ManualPositions {
	return &ManualPositions{entries: make(map[string]PositionInfo)}
}

// Set records a position's range data. The liquidity value is copied.
func (s *ManualPositions) Set(positionID *big.Int, info PositionInfo) {
	stored := info
	if info.Liquidity != nil {
		stored.Liquidity = new(big.Int).Set(info.Liquidity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[positionID.String()] = stored
}

// Position resolves a position id to its range data.
func (s *ManualPositions) Position(positionID *big.Int) (*PositionInfo, error) {
	if positionID == nil {
		return nil, vault.ErrInvalidPosition
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.entries[positionID.String()]
	if !ok {
		return nil, vault.ErrInvalidPosition
	}
	out := info
	if info.Liquidity != nil {
		out.Liquidity = new(big.Int).Set(info.Liquidity)
	}
	return &out, nil
}
