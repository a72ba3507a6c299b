package vault

import (
	"math/big"

	"lpvault/crypto"
)

// Global returns the ledger-wide debt totals.
func (l *Ledger) Global() (*GlobalState, error) {
	if l == nil || l.store == nil {
		return nil, errNilState
	}
	global, err := l.loadGlobal()
	if err != nil {
		return nil, err
	}
	return global.Clone(), nil
}

// Source returns the bookkeeping record for a registered collateral source.
func (l *Ledger) Source(source crypto.Address) (*CollateralSource, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, errNilState
	}
	src, ok, err := l.loadSource(source)
	if err != nil || !ok {
		return nil, false, err
	}
	return src.Clone(), true, nil
}

// Sources enumerates all registered collateral sources in registration order.
func (l *Ledger) Sources() ([]*CollateralSource, error) {
	if l == nil || l.store == nil {
		return nil, errNilState
	}
	list, err := l.loadSourceList()
	if err != nil {
		return nil, err
	}
	out := make([]*CollateralSource, 0, len(list))
	for _, key := range list {
		src, ok, err := l.loadSource(crypto.MustNewAddress(key[:]))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, src.Clone())
	}
	return out, nil
}

// DepositInfo returns the debt record for a deposit identity.
func (l *Ledger) DepositInfo(id [32]byte) (*DepositRecord, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, errNilState
	}
	record, ok, err := l.loadDeposit(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return record.Clone(), true, nil
}

// DepositAmount returns the outstanding debt for a deposit identity. Handlers
// with a current-value liquidation rule consult this view.
func (l *Ledger) DepositAmount(id [32]byte) (*big.Int, bool, error) {
	record, ok, err := l.DepositInfo(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return record.Amount, true, nil
}

// DepositorOf returns the depositor from the redundant owner index.
func (l *Ledger) DepositorOf(id [32]byte) (crypto.Address, bool, error) {
	if l == nil || l.store == nil {
		return crypto.Address{}, false, errNilState
	}
	return l.loadDepositor(id)
}

// Liquidatable reports whether the owner's position at a source could be
// liquidated right now. Read-only: no custody or debt changes.
func (l *Ledger) Liquidatable(source crypto.Address, positionID *big.Int, owner crypto.Address) (bool, error) {
	if l == nil || l.store == nil {
		return false, errNilState
	}
	handler := l.handlers[source.Key()]
	if handler == nil {
		return false, ErrSourceNotFound
	}
	return handler.Liquidatable(positionID, owner)
}

// ValuationOf reports the handler's valuation breakdown for a position.
func (l *Ledger) ValuationOf(source crypto.Address, positionID *big.Int) (*Valuation, error) {
	if l == nil || l.store == nil {
		return nil, errNilState
	}
	handler := l.handlers[source.Key()]
	if handler == nil {
		return nil, ErrSourceNotFound
	}
	return handler.Valuation(positionID)
}

// ReceiptCount returns the number of custodied position receipts an owner
// holds at a source.
func (l *Ledger) ReceiptCount(source, owner crypto.Address) (uint64, error) {
	if l == nil || l.store == nil {
		return 0, errNilState
	}
	handler := l.handlers[source.Key()]
	if handler == nil {
		return 0, ErrSourceNotFound
	}
	return handler.ReceiptCount(owner)
}

// ReceiptAt returns the owner's custodied position id at the given index.
func (l *Ledger) ReceiptAt(source, owner crypto.Address, index uint64) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilState
	}
	handler := l.handlers[source.Key()]
	if handler == nil {
		return nil, ErrSourceNotFound
	}
	return handler.ReceiptAt(owner, index)
}
