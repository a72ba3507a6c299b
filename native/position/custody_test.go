package position

import (
	"errors"
	"math/big"
	"testing"

	"lpvault/crypto"
	"lpvault/native/vault"
	"lpvault/state"
	"lpvault/storage"
)

func testAddr(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.MustNewAddress(raw)
}

func newTestCustody(t *testing.T) (*Custody, *MemRegistry) {
	t.Helper()
	registry := NewMemRegistry()
	custody := NewCustody(state.NewManager(storage.NewMemDB()), registry, testAddr(0xCC))
	return custody, registry
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	custody, registry := newTestCustody(t)
	owner := testAddr(0x01)
	registry.SetOwner(big.NewInt(7), owner)

	if err := custody.Deposit(owner, big.NewInt(7)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	holder, err := registry.OwnerOf(big.NewInt(7))
	if err != nil || !holder.Equal(custody.Custodian()) {
		t.Fatalf("registry owner = %v, err = %v", holder, err)
	}
	recorded, ok, err := custody.OwnerOf(big.NewInt(7))
	if err != nil || !ok || !recorded.Equal(owner) {
		t.Fatalf("custody record = %v ok=%v err=%v", recorded, ok, err)
	}
	count, err := custody.Count(owner)
	if err != nil || count != 1 {
		t.Fatalf("count = %d err=%v", count, err)
	}
	id, err := custody.At(owner, 0)
	if err != nil || id.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("at(0) = %v err=%v", id, err)
	}

	if err := custody.Withdraw(owner, big.NewInt(7)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	holder, _ = registry.OwnerOf(big.NewInt(7))
	if !holder.Equal(owner) {
		t.Fatalf("position not returned: %v", holder)
	}
	if _, ok, _ := custody.OwnerOf(big.NewInt(7)); ok {
		t.Fatalf("record not cleared")
	}
	if count, _ := custody.Count(owner); count != 0 {
		t.Fatalf("index not cleared: %d", count)
	}
}

func TestWithdrawRequiresBeneficialOwner(t *testing.T) {
	custody, registry := newTestCustody(t)
	owner := testAddr(0x01)
	registry.SetOwner(big.NewInt(7), owner)
	if err := custody.Deposit(owner, big.NewInt(7)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := custody.Withdraw(testAddr(0x02), big.NewInt(7)); !errors.Is(err, vault.ErrInvalidWithdraw) {
		t.Fatalf("expected ErrInvalidWithdraw, got %v", err)
	}
	recorded, ok, _ := custody.OwnerOf(big.NewInt(7))
	if !ok || !recorded.Equal(owner) {
		t.Fatalf("record disturbed: %v ok=%v", recorded, ok)
	}
}

func TestSeizeReleasesToLiquidator(t *testing.T) {
	custody, registry := newTestCustody(t)
	owner := testAddr(0x01)
	liquidator := testAddr(0x02)
	registry.SetOwner(big.NewInt(9), owner)
	if err := custody.Deposit(owner, big.NewInt(9)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := custody.Seize(big.NewInt(9), testAddr(0x03), liquidator); !errors.Is(err, vault.ErrInvalidLiquidation) {
		t.Fatalf("expected ErrInvalidLiquidation, got %v", err)
	}
	if err := custody.Seize(big.NewInt(9), owner, liquidator); err != nil {
		t.Fatalf("seize: %v", err)
	}
	holder, _ := registry.OwnerOf(big.NewInt(9))
	if !holder.Equal(liquidator) {
		t.Fatalf("position not delivered to liquidator: %v", holder)
	}
	if count, _ := custody.Count(owner); count != 0 {
		t.Fatalf("owner index not cleared: %d", count)
	}
}

func TestDepositDetectsDivertedTransfer(t *testing.T) {
	custody, registry := newTestCustody(t)
	owner := testAddr(0x01)
	registry.SetOwner(big.NewInt(7), owner)

	// Registry silently reroutes the position to a third party.
	registry.TransferHook = func(from, to crypto.Address, positionID *big.Int) {
		registry.SetOwner(positionID, testAddr(0x0F))
	}
	if err := custody.Deposit(owner, big.NewInt(7)); !errors.Is(err, vault.ErrInvalidPositionTransfer) {
		t.Fatalf("expected ErrInvalidPositionTransfer, got %v", err)
	}
	if _, ok, _ := custody.OwnerOf(big.NewInt(7)); ok {
		t.Fatalf("record created despite failed settlement")
	}
}

func TestWithdrawDetectsDivertedTransfer(t *testing.T) {
	custody, registry := newTestCustody(t)
	owner := testAddr(0x01)
	registry.SetOwner(big.NewInt(7), owner)
	if err := custody.Deposit(owner, big.NewInt(7)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	registry.TransferHook = func(from, to crypto.Address, positionID *big.Int) {
		registry.SetOwner(positionID, testAddr(0x0F))
	}
	if err := custody.Withdraw(owner, big.NewInt(7)); !errors.Is(err, vault.ErrInvalidPositionTransfer) {
		t.Fatalf("expected ErrInvalidPositionTransfer, got %v", err)
	}
}

func TestDoubleDepositRejected(t *testing.T) {
	custody, registry := newTestCustody(t)
	owner := testAddr(0x01)
	registry.SetOwner(big.NewInt(7), owner)
	if err := custody.Deposit(owner, big.NewInt(7)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := custody.Deposit(owner, big.NewInt(7)); !errors.Is(err, vault.ErrInvalidDeposit) {
		t.Fatalf("expected ErrInvalidDeposit, got %v", err)
	}
}
