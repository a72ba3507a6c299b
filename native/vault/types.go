package vault

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lpvault/crypto"
)

// CollateralSource captures the ledger-side bookkeeping for one collateral
// type: a specific pool or staking contract whose positions may be pledged.
type CollateralSource struct {
	// Address identifies the collateral source contract.
	Address crypto.Address
	// DebtCeiling is the maximum aggregate debt permitted against this
	// source, in 18-decimal USD fixed point. It may be lowered below the
	// outstanding debt administratively; new deposits are then rejected.
	DebtCeiling *big.Int
	// Debt is the current aggregate outstanding debt against this source.
	Debt *big.Int
	// Paused blocks new deposits while leaving settlement paths open.
	Paused bool
}

// Clone returns a deep copy of the source record.
func (s *CollateralSource) Clone() *CollateralSource {
	if s == nil {
		return nil
	}
	clone := &CollateralSource{Address: s.Address, Paused: s.Paused}
	if s.DebtCeiling != nil {
		clone.DebtCeiling = new(big.Int).Set(s.DebtCeiling)
	}
	if s.Debt != nil {
		clone.Debt = new(big.Int).Set(s.Debt)
	}
	return clone
}

// DepositRecord is the per-deposit debt record. Amount is fixed at deposit
// time and never recomputed from market value; withdraw is a pure
// debt-settlement action.
type DepositRecord struct {
	ID        [32]byte
	Source    crypto.Address
	Depositor crypto.Address
	Amount    *big.Int
}

// Clone returns a deep copy of the deposit record.
func (r *DepositRecord) Clone() *DepositRecord {
	if r == nil {
		return nil
	}
	clone := &DepositRecord{ID: r.ID, Source: r.Source, Depositor: r.Depositor}
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	return clone
}

// GlobalState tracks the ledger-wide totals, maintained incrementally and
// never recomputed by scanning.
type GlobalState struct {
	TotalDebt        *big.Int
	TotalDebtCeiling *big.Int
}

// Clone returns a deep copy of the global totals.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	clone := &GlobalState{}
	if g.TotalDebt != nil {
		clone.TotalDebt = new(big.Int).Set(g.TotalDebt)
	}
	if g.TotalDebtCeiling != nil {
		clone.TotalDebtCeiling = new(big.Int).Set(g.TotalDebtCeiling)
	}
	return clone
}

// Valuation is the read-only breakdown a handler reports for a position.
type Valuation struct {
	// Amount is the USD debt credit the position would receive at deposit
	// time, in 18-decimal fixed point.
	Amount *big.Int
	// PrimaryUSD is the USD value of the primary (volatile) leg.
	PrimaryUSD *big.Int
	// SecondaryUSD is the USD value of the paired leg priced through the
	// secondary time-weighted source. Zero when the handler has no paired
	// leg.
	SecondaryUSD *big.Int
}

// ComputeDepositID derives the deterministic identifier binding a ledger
// instance, collateral source, depositor and position to one debt record.
// Field order and the 32-byte big-endian position encoding are fixed for
// bit-compatibility across deployments.
func ComputeDepositID(ledger, source, depositor crypto.Address, positionID *big.Int) [32]byte {
	var pos [32]byte
	if positionID != nil {
		positionID.FillBytes(pos[:])
	}
	return ethcrypto.Keccak256Hash(ledger.Bytes(), source.Bytes(), depositor.Bytes(), pos[:])
}

// --- stored representations (RLP) ---

type storedSource struct {
	Address     [20]byte
	DebtCeiling *big.Int
	Debt        *big.Int
	Paused      bool
}

type storedDeposit struct {
	Source    [20]byte
	Depositor [20]byte
	Amount    *big.Int
}

type storedGlobal struct {
	TotalDebt        *big.Int
	TotalDebtCeiling *big.Int
}

func (s *storedSource) toSource() *CollateralSource {
	return &CollateralSource{
		Address:     crypto.MustNewAddress(s.Address[:]),
		DebtCeiling: s.DebtCeiling,
		Debt:        s.Debt,
		Paused:      s.Paused,
	}
}

func sourceToStored(s *CollateralSource) *storedSource {
	stored := &storedSource{
		DebtCeiling: s.DebtCeiling,
		Debt:        s.Debt,
		Paused:      s.Paused,
	}
	copy(stored.Address[:], s.Address.Bytes())
	return stored
}
