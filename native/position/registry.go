package position

import (
	"errors"
	"math/big"
	"sync"

	"lpvault/crypto"
)

// ErrUnknownPosition is returned by a registry when the position id does not
// exist.
var ErrUnknownPosition = errors.New("position: unknown position id")

// Registry is the external asset registry that tracks ownership of
// non-fungible liquidity positions, typically a position-manager contract.
// Transfer moves ownership; OwnerOf is the authoritative read used to verify
// that a transfer actually settled.
type Registry interface {
	OwnerOf(positionID *big.Int) (crypto.Address, error)
	Transfer(from, to crypto.Address, positionID *big.Int) error
}

// MemRegistry is an in-memory Registry used in tests and local tooling.
type MemRegistry struct {
	mu     sync.RWMutex
	owners map[string][20]byte

	// TransferHook, when set, runs after ownership is updated. Tests use it
	// to simulate registries that misreport or divert transfers.
	TransferHook func(from, to crypto.Address, positionID *big.Int)
}

// NewMemRegistry returns an empty in-memory registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{owners: make(map[string][20]byte)}
}

// SetOwner seeds ownership of a position.
func (r *MemRegistry) SetOwner(positionID *big.Int, owner crypto.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[positionID.String()] = owner.Key()
}

// OwnerOf returns the current owner of the position.
func (r *MemRegistry) OwnerOf(positionID *big.Int) (crypto.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[positionID.String()]
	if !ok {
		return crypto.Address{}, ErrUnknownPosition
	}
	return crypto.MustNewAddress(owner[:]), nil
}

// Transfer moves ownership after checking the sender currently owns the
// position.
func (r *MemRegistry) Transfer(from, to crypto.Address, positionID *big.Int) error {
	r.mu.Lock()
	owner, ok := r.owners[positionID.String()]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownPosition
	}
	if owner != from.Key() {
		r.mu.Unlock()
		return errors.New("position: transfer from non-owner")
	}
	r.owners[positionID.String()] = to.Key()
	hook := r.TransferHook
	r.mu.Unlock()
	if hook != nil {
		hook(from, to, positionID)
	}
	return nil
}
