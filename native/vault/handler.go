package vault

import (
	"math/big"

	"lpvault/crypto"
)

// Storage abstracts the subset of state manager functionality required by the
// ledger. Snapshot/RevertToSnapshot provide the all-or-nothing guarantee for
// each public operation.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVHas(key []byte) (bool, error)
	Snapshot() int
	RevertToSnapshot(id int)
}

// DebtToken is the fungible credit token capability. Burn must fail when the
// holder's balance is insufficient so the ledger can roll the operation back.
type DebtToken interface {
	Mint(to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
}

// Handler is the valuation-plus-custody capability pair bound to exactly one
// collateral source. An instance must never be reused across sources: the
// custody bijection and pool token-identity checks assume a single pair.
type Handler interface {
	// Source returns the collateral source this handler is permanently bound
	// to.
	Source() crypto.Address

	// HandleDeposit transfers custody of the position from the depositor to
	// the handler and returns the deposit identity plus the USD amount to
	// credit, in 18-decimal fixed point.
	HandleDeposit(from crypto.Address, positionID *big.Int) ([32]byte, *big.Int, error)

	// HandleWithdraw transfers custody back to the depositor and returns the
	// deposit identity being settled.
	HandleWithdraw(to crypto.Address, positionID *big.Int) ([32]byte, error)

	// Liquidate re-validates liquidatability, transfers custody to the
	// liquidator and returns the deposit identity plus the outstanding debt
	// it covers. Healthy positions fail with ErrNotLiquidatable.
	Liquidate(positionID *big.Int, owner, liquidator crypto.Address) ([32]byte, *big.Int, error)

	// Liquidatable is the read-only check behind the query surface; it never
	// moves custody.
	Liquidatable(positionID *big.Int, owner crypto.Address) (bool, error)

	// Valuation reports the full valuation breakdown for a custodied or
	// prospective position.
	Valuation(positionID *big.Int) (*Valuation, error)

	// ReceiptCount and ReceiptAt enumerate custodied position receipts by
	// owner.
	ReceiptCount(owner crypto.Address) (uint64, error)
	ReceiptAt(owner crypto.Address, index uint64) (*big.Int, error)
}
