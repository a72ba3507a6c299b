package position

import (
	"math/big"

	"lpvault/crypto"
	"lpvault/native/vault"
)

// Custody maintains the on-ledger record of positions held on behalf of
// depositors. It keeps a strict bijection with the external registry: every
// transfer in either direction is verified against Registry.OwnerOf before
// the custody record changes, and the record maps each custodied position to
// exactly one beneficial owner.
type Custody struct {
	store     vault.Storage
	registry  Registry
	custodian crypto.Address
}

// NewCustody binds a custody book to the registry and the custodian identity
// that holds the positions externally.
func NewCustody(store vault.Storage, registry Registry, custodian crypto.Address) *Custody {
	return &Custody{store: store, registry: registry, custodian: custodian}
}

// Custodian returns the external holding identity.
func (c *Custody) Custodian() crypto.Address { return c.custodian }

// Deposit pulls the position from the depositor into custody. The transfer is
// only trusted once the registry reports the custodian as the new owner.
func (c *Custody) Deposit(from crypto.Address, positionID *big.Int) error {
	if positionID == nil || positionID.Sign() == 0 {
		return vault.ErrInvalidPosition
	}
	if owned, err := c.store.KVHas(custodyKey(c.custodian, positionID)); err != nil {
		return err
	} else if owned {
		return vault.ErrInvalidDeposit
	}
	if err := c.registry.Transfer(from, c.custodian, positionID); err != nil {
		return err
	}
	owner, err := c.registry.OwnerOf(positionID)
	if err != nil {
		return err
	}
	if !owner.Equal(c.custodian) {
		return vault.ErrInvalidPositionTransfer
	}
	if err := c.store.KVPut(custodyKey(c.custodian, positionID), from.Key()); err != nil {
		return err
	}
	return c.appendIndex(from, positionID)
}

// Withdraw returns the position to its beneficial owner and clears the
// record. The release is verified the same way the deposit was.
func (c *Custody) Withdraw(to crypto.Address, positionID *big.Int) error {
	return c.release(to, to, positionID, vault.ErrInvalidWithdraw)
}

// Seize releases a custodied position to a liquidator instead of its owner.
func (c *Custody) Seize(positionID *big.Int, owner, liquidator crypto.Address) error {
	return c.release(owner, liquidator, positionID, vault.ErrInvalidLiquidation)
}

func (c *Custody) release(beneficiary, recipient crypto.Address, positionID *big.Int, mismatch error) error {
	if positionID == nil || positionID.Sign() == 0 {
		return vault.ErrInvalidPosition
	}
	recorded, ok, err := c.ownerOf(positionID)
	if err != nil {
		return err
	}
	if !ok || !recorded.Equal(beneficiary) {
		return mismatch
	}
	if err := c.registry.Transfer(c.custodian, recipient, positionID); err != nil {
		return err
	}
	holder, err := c.registry.OwnerOf(positionID)
	if err != nil {
		return err
	}
	if !holder.Equal(recipient) {
		return vault.ErrInvalidPositionTransfer
	}
	if err := c.store.KVDelete(custodyKey(c.custodian, positionID)); err != nil {
		return err
	}
	return c.removeIndex(beneficiary, positionID)
}

// OwnerOf returns the beneficial owner recorded for a custodied position.
func (c *Custody) OwnerOf(positionID *big.Int) (crypto.Address, bool, error) {
	return c.ownerOf(positionID)
}

func (c *Custody) ownerOf(positionID *big.Int) (crypto.Address, bool, error) {
	var stored [20]byte
	ok, err := c.store.KVGet(custodyKey(c.custodian, positionID), &stored)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return crypto.MustNewAddress(stored[:]), true, nil
}

// Count returns the number of positions custodied for an owner.
func (c *Custody) Count(owner crypto.Address) (uint64, error) {
	list, err := c.loadIndex(owner)
	if err != nil {
		return 0, err
	}
	return uint64(len(list)), nil
}

// At returns the owner's custodied position id at the given index.
func (c *Custody) At(owner crypto.Address, index uint64) (*big.Int, error) {
	list, err := c.loadIndex(owner)
	if err != nil {
		return nil, err
	}
	if index >= uint64(len(list)) {
		return nil, vault.ErrInvalidPosition
	}
	return new(big.Int).SetBytes(list[index][:]), nil
}

func (c *Custody) loadIndex(owner crypto.Address) ([][32]byte, error) {
	var list [][32]byte
	if _, err := c.store.KVGet(indexKey(c.custodian, owner), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Custody) appendIndex(owner crypto.Address, positionID *big.Int) error {
	list, err := c.loadIndex(owner)
	if err != nil {
		return err
	}
	var entry [32]byte
	positionID.FillBytes(entry[:])
	list = append(list, entry)
	return c.store.KVPut(indexKey(c.custodian, owner), list)
}

func (c *Custody) removeIndex(owner crypto.Address, positionID *big.Int) error {
	list, err := c.loadIndex(owner)
	if err != nil {
		return err
	}
	var entry [32]byte
	positionID.FillBytes(entry[:])
	filtered := list[:0]
	for _, item := range list {
		if item == entry {
			continue
		}
		filtered = append(filtered, item)
	}
	return c.store.KVPut(indexKey(c.custodian, owner), filtered)
}
