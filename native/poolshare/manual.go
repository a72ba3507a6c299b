package poolshare

import (
	"math/big"
	"sync"

	"lpvault/crypto"
	"lpvault/native/vault"
)

// ManualPool is an operator-fed Pool implementation. It serves deployments
// that have no live chain adapter yet, and tests.
type ManualPool struct {
	mu          sync.RWMutex
	token0      crypto.Address
	token1      crypto.Address
	reserve0    *big.Int
	reserve1    *big.Int
	totalSupply *big.Int
}

// NewManualPool creates a pool bound to the given token pair with empty
// reserves.
func NewManualPool(token0, token1 crypto.Address) *ManualPool {
	return &ManualPool{
		token0:      token0,
		token1:      token1,
		reserve0:    big.NewInt(0),
		reserve1:    big.NewInt(0),
		totalSupply: big.NewInt(0),
	}
}

// Tokens returns the pool's token pair.
func (p *ManualPool) Tokens() (crypto.Address, crypto.Address) {
	return p.token0, p.token1
}

// Reserves returns the current reserve snapshot.
func (p *ManualPool) Reserves() (*big.Int, *big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1), nil
}

// TotalSupply returns the outstanding LP token supply.
func (p *ManualPool) TotalSupply() (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.totalSupply), nil
}

// SetReserves replaces the reserve snapshot.
func (p *ManualPool) SetReserves(reserve0, reserve1 *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserve0 = new(big.Int).Set(reserve0)
	p.reserve1 = new(big.Int).Set(reserve1)
}

// SetTotalSupply replaces the outstanding LP token supply.
func (p *ManualPool) SetTotalSupply(supply *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalSupply = new(big.Int).Set(supply)
}

// ManualShares is an operator-fed ShareSource mapping receipt ids to LP token
// amounts.
type ManualShares struct {
	mu      sync.RWMutex
	amounts map[string]*big.Int
}

// NewManualShares creates an empty share book.
func NewManualShares() *ManualShares {
	return &ManualShares{amounts: make(map[string]*big.Int)}
}

// Set records the LP amount a receipt represents.
func (s *ManualShares) Set(positionID, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amounts[positionID.String()] = new(big.Int).Set(amount)
}

// ShareAmount resolves a receipt to its LP amount.
func (s *ManualShares) ShareAmount(positionID *big.Int) (*big.Int, error) {
	if positionID == nil {
		return nil, vault.ErrInvalidPosition
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	amount, ok := s.amounts[positionID.String()]
	if !ok {
		return nil, vault.ErrInvalidPosition
	}
	return new(big.Int).Set(amount), nil
}
