package vault

import (
	"encoding/hex"
	"math/big"

	"lpvault/core/types"
	"lpvault/crypto"
)

// Event type identifiers emitted by the ledger.
const (
	TypeDeposited     = "vault.deposited"
	TypeWithdrawn     = "vault.withdrawn"
	TypeLiquidated    = "vault.liquidated"
	TypeSourceAdded   = "vault.source_added"
	TypeSourceUpdated = "vault.source_updated"
	TypeSourceRemoved = "vault.source_removed"
)

// Deposited records a successful deposit and debt credit.
type Deposited struct {
	DepositID [32]byte
	Source    crypto.Address
	Depositor crypto.Address
	Amount    *big.Int
}

func (Deposited) EventType() string { return TypeDeposited }

// Event renders the deposit as a generic attribute event.
func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type: TypeDeposited,
		Attributes: map[string]string{
			"depositId": hex.EncodeToString(e.DepositID[:]),
			"source":    e.Source.String(),
			"depositor": e.Depositor.String(),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// Withdrawn records a debt settlement and custody release.
type Withdrawn struct {
	DepositID [32]byte
	Source    crypto.Address
	Depositor crypto.Address
	Amount    *big.Int
}

func (Withdrawn) EventType() string { return TypeWithdrawn }

// Event renders the withdrawal as a generic attribute event.
func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawn,
		Attributes: map[string]string{
			"depositId": hex.EncodeToString(e.DepositID[:]),
			"source":    e.Source.String(),
			"depositor": e.Depositor.String(),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// Liquidated records a third-party settlement of an unhealthy deposit.
type Liquidated struct {
	DepositID  [32]byte
	Source     crypto.Address
	Owner      crypto.Address
	Liquidator crypto.Address
	Amount     *big.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

// Event renders the liquidation as a generic attribute event.
func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"depositId":  hex.EncodeToString(e.DepositID[:]),
			"source":     e.Source.String(),
			"owner":      e.Owner.String(),
			"liquidator": e.Liquidator.String(),
			"amount":     formatAmount(e.Amount),
		},
	}
}

// SourceAdded records registration of a collateral source.
type SourceAdded struct {
	Source      crypto.Address
	DebtCeiling *big.Int
}

func (SourceAdded) EventType() string { return TypeSourceAdded }

// Event renders the registration as a generic attribute event.
func (e SourceAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeSourceAdded,
		Attributes: map[string]string{
			"source":      e.Source.String(),
			"debtCeiling": formatAmount(e.DebtCeiling),
		},
	}
}

// SourceUpdated records a ceiling or pause change on a source.
type SourceUpdated struct {
	Source      crypto.Address
	DebtCeiling *big.Int
	Paused      bool
}

func (SourceUpdated) EventType() string { return TypeSourceUpdated }

// Event renders the update as a generic attribute event.
func (e SourceUpdated) Event() *types.Event {
	paused := "false"
	if e.Paused {
		paused = "true"
	}
	return &types.Event{
		Type: TypeSourceUpdated,
		Attributes: map[string]string{
			"source":      e.Source.String(),
			"debtCeiling": formatAmount(e.DebtCeiling),
			"paused":      paused,
		},
	}
}

// SourceRemoved records unregistration of a collateral source.
type SourceRemoved struct {
	Source crypto.Address
}

func (SourceRemoved) EventType() string { return TypeSourceRemoved }

// Event renders the removal as a generic attribute event.
func (e SourceRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeSourceRemoved,
		Attributes: map[string]string{
			"source": e.Source.String(),
		},
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
