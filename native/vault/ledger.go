package vault

import (
	"errors"
	"math/big"

	"lpvault/core/events"
	"lpvault/crypto"
)

const moduleName = "vault"

var errHandlerSourceMismatch = errors.New("vault ledger: handler bound to different source")

// Ledger is the central registry of collateral sources, their debt ceilings
// and outstanding debt, and the per-deposit debt records. All mutating entry
// points are strictly serialized, guarded against reentrancy, and roll back
// the whole state transition on any failure.
type Ledger struct {
	store    Storage
	address  crypto.Address
	token    DebtToken
	emitter  events.Emitter
	pauses   PauseView
	handlers map[[20]byte]Handler
	entered  bool
}

// NewLedger constructs a ledger with the given instance identity and debt
// token capability. The identity participates in deposit-ID hashing, so two
// ledger instances never produce colliding records.
func NewLedger(address crypto.Address, token DebtToken) *Ledger {
	return &Ledger{
		address:  address,
		token:    token,
		emitter:  events.NoopEmitter{},
		handlers: make(map[[20]byte]Handler),
	}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(store Storage) { l.store = store }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPauses wires the module-level pause switchboard.
func (l *Ledger) SetPauses(p PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// Address returns the ledger instance identity.
func (l *Ledger) Address() crypto.Address { return l.address }

func (l *Ledger) emit(event events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(event)
}

// begin acquires the non-reentrant guard and opens a state snapshot. A nested
// call observes ErrBusy rather than inconsistent state.
func (l *Ledger) begin() (int, error) {
	if l == nil || l.store == nil {
		return 0, errNilState
	}
	if l.entered {
		return 0, ErrBusy
	}
	if err := guardPaused(l.pauses, moduleName); err != nil {
		return 0, err
	}
	l.entered = true
	return l.store.Snapshot(), nil
}

// end releases the guard, reverting every write made since begin when the
// operation failed.
func (l *Ledger) end(snap int, err error) {
	if err != nil {
		l.store.RevertToSnapshot(snap)
	}
	l.entered = false
}

// Deposit takes custody of the position through the source's handler, credits
// the depositor with the handler's USD valuation and records the debt against
// both the source and the global totals.
func (l *Ledger) Deposit(source crypto.Address, positionID *big.Int, depositor crypto.Address) (id [32]byte, amount *big.Int, err error) {
	var snap int
	snap, err = l.begin()
	if err != nil {
		return [32]byte{}, nil, err
	}
	defer func() { l.end(snap, err) }()

	id, amount, err = l.deposit(source, positionID, depositor)
	return id, amount, err
}

func (l *Ledger) deposit(source crypto.Address, positionID *big.Int, depositor crypto.Address) ([32]byte, *big.Int, error) {
	var zero [32]byte
	if l.token == nil {
		return zero, nil, errNilToken
	}
	if positionID == nil || positionID.Sign() == 0 {
		return zero, nil, ErrInvalidPosition
	}

	global, err := l.loadGlobal()
	if err != nil {
		return zero, nil, err
	}
	if global.TotalDebt.Cmp(global.TotalDebtCeiling) > 0 {
		return zero, nil, ErrDebtCeilingExceeded
	}

	src, ok, err := l.loadSource(source)
	if err != nil {
		return zero, nil, err
	}
	if !ok {
		return zero, nil, ErrSourceNotFound
	}
	if src.Paused {
		return zero, nil, ErrSourcePaused
	}
	if src.Debt.Cmp(src.DebtCeiling) > 0 {
		return zero, nil, ErrDebtCeilingExceeded
	}

	handler := l.handlers[source.Key()]
	if handler == nil {
		return zero, nil, ErrSourceNotFound
	}

	id, amount, err := handler.HandleDeposit(depositor, positionID)
	if err != nil {
		return zero, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return zero, nil, ErrInvalidDeposit
	}

	// The deposit identity must be fresh in both the record store and the
	// redundant depositor index; a collision means reentry or a lying
	// handler.
	if exists, err := l.store.KVHas(depositKey(id)); err != nil {
		return zero, nil, err
	} else if exists {
		return zero, nil, ErrInvalidDeposit
	}
	if exists, err := l.store.KVHas(ownerKey(id)); err != nil {
		return zero, nil, err
	} else if exists {
		return zero, nil, ErrInvalidDeposit
	}

	// The amount is unknown until after valuation, so the ceilings are
	// re-checked even though the pre-checks passed.
	newTotal := new(big.Int).Add(global.TotalDebt, amount)
	if newTotal.Cmp(global.TotalDebtCeiling) > 0 {
		return zero, nil, ErrDebtCeilingExceeded
	}
	newSourceDebt := new(big.Int).Add(src.Debt, amount)
	if newSourceDebt.Cmp(src.DebtCeiling) > 0 {
		return zero, nil, ErrDebtCeilingExceeded
	}

	record := &DepositRecord{ID: id, Source: source, Depositor: depositor, Amount: amount}
	if err := l.putDeposit(record); err != nil {
		return zero, nil, err
	}
	if err := l.putDepositor(id, depositor); err != nil {
		return zero, nil, err
	}

	src.Debt = newSourceDebt
	if err := l.putSource(src); err != nil {
		return zero, nil, err
	}
	global.TotalDebt = newTotal
	if err := l.putGlobal(global); err != nil {
		return zero, nil, err
	}

	if err := l.token.Mint(depositor, amount); err != nil {
		return zero, nil, err
	}

	l.emit(Deposited{DepositID: id, Source: source, Depositor: depositor, Amount: amount})
	return id, amount, nil
}

// Withdraw settles the debt fixed at deposit time, burns the credit from the
// depositor and releases custody of the position back to them. The amount is
// never recomputed from current market value. The burn precedes the external
// custody release: a failed settlement rolls back cleanly without the
// position ever leaving custody.
func (l *Ledger) Withdraw(source crypto.Address, positionID *big.Int, depositor crypto.Address) (id [32]byte, err error) {
	var snap int
	snap, err = l.begin()
	if err != nil {
		return [32]byte{}, err
	}
	defer func() { l.end(snap, err) }()

	id, err = l.withdraw(source, positionID, depositor)
	return id, err
}

func (l *Ledger) withdraw(source crypto.Address, positionID *big.Int, depositor crypto.Address) ([32]byte, error) {
	var zero [32]byte
	if l.token == nil {
		return zero, errNilToken
	}
	if positionID == nil || positionID.Sign() == 0 {
		return zero, ErrInvalidPosition
	}
	src, ok, err := l.loadSource(source)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrSourceNotFound
	}
	handler := l.handlers[source.Key()]
	if handler == nil {
		return zero, ErrSourceNotFound
	}

	// The deposit identity is derived from the ledger's own inputs, so the
	// record can be verified and the debt burned before the handler runs.
	// The external custody release is the one step the snapshot cannot
	// undo; it must come after every fallible local step.
	id := ComputeDepositID(l.address, source, depositor, positionID)
	record, ok, err := l.loadDeposit(id)
	if err != nil {
		return zero, err
	}
	if !ok || record.Amount == nil || record.Amount.Sign() <= 0 {
		return zero, ErrInvalidWithdraw
	}
	if !record.Depositor.Equal(depositor) || !record.Source.Equal(source) {
		return zero, ErrInvalidWithdraw
	}
	indexed, ok, err := l.loadDepositor(id)
	if err != nil {
		return zero, err
	}
	if !ok || !indexed.Equal(depositor) {
		return zero, ErrInvalidWithdraw
	}

	if err := l.token.Burn(depositor, record.Amount); err != nil {
		return zero, err
	}

	settledID, err := handler.HandleWithdraw(depositor, positionID)
	if err != nil {
		return zero, err
	}
	if settledID != id {
		return zero, ErrInvalidWithdraw
	}

	if err := l.settle(src, record); err != nil {
		return zero, err
	}

	l.emit(Withdrawn{DepositID: id, Source: source, Depositor: depositor, Amount: record.Amount})
	return id, nil
}

// Liquidate lets a third party settle an unhealthy deposit. The handler
// re-validates liquidatability before moving custody to the liquidator; the
// ledger then verifies the handler's answer against its own records so a
// misbehaving handler cannot clear someone else's deposit.
func (l *Ledger) Liquidate(source crypto.Address, positionID *big.Int, owner, liquidator crypto.Address) (id [32]byte, amount *big.Int, err error) {
	var snap int
	snap, err = l.begin()
	if err != nil {
		return [32]byte{}, nil, err
	}
	defer func() { l.end(snap, err) }()

	id, amount, err = l.liquidate(source, positionID, owner, liquidator)
	return id, amount, err
}

func (l *Ledger) liquidate(source crypto.Address, positionID *big.Int, owner, liquidator crypto.Address) ([32]byte, *big.Int, error) {
	var zero [32]byte
	if l.token == nil {
		return zero, nil, errNilToken
	}
	if positionID == nil || positionID.Sign() == 0 {
		return zero, nil, ErrInvalidPosition
	}
	src, ok, err := l.loadSource(source)
	if err != nil {
		return zero, nil, err
	}
	if !ok {
		return zero, nil, ErrSourceNotFound
	}
	handler := l.handlers[source.Key()]
	if handler == nil {
		return zero, nil, ErrSourceNotFound
	}

	// Same ordering discipline as withdraw: verify the record and burn the
	// liquidator's credit before the handler performs the external custody
	// transfer, which the snapshot cannot undo. The record stays in place
	// until after the handler returns so its health re-check can read the
	// outstanding debt.
	id := ComputeDepositID(l.address, source, owner, positionID)
	record, ok, err := l.loadDeposit(id)
	if err != nil {
		return zero, nil, err
	}
	if !ok || record.Amount == nil || record.Amount.Sign() <= 0 {
		return zero, nil, ErrInvalidLiquidation
	}
	if !record.Depositor.Equal(owner) || !record.Source.Equal(source) {
		return zero, nil, ErrInvalidLiquidation
	}
	indexed, ok, err := l.loadDepositor(id)
	if err != nil {
		return zero, nil, err
	}
	if !ok || !indexed.Equal(owner) {
		return zero, nil, ErrInvalidLiquidation
	}

	if err := l.token.Burn(liquidator, record.Amount); err != nil {
		return zero, nil, err
	}

	settledID, debtAmount, err := handler.Liquidate(positionID, owner, liquidator)
	if err != nil {
		return zero, nil, err
	}
	if settledID != id {
		return zero, nil, ErrInvalidLiquidation
	}
	if debtAmount == nil || record.Amount.Cmp(debtAmount) != 0 {
		return zero, nil, ErrInvalidLiquidation
	}

	if err := l.settle(src, record); err != nil {
		return zero, nil, err
	}

	l.emit(Liquidated{
		DepositID:  id,
		Source:     source,
		Owner:      owner,
		Liquidator: liquidator,
		Amount:     record.Amount,
	})
	return id, record.Amount, nil
}

// settle clears a deposit record and decrements both debt counters.
func (l *Ledger) settle(src *CollateralSource, record *DepositRecord) error {
	if err := l.store.KVDelete(depositKey(record.ID)); err != nil {
		return err
	}
	if err := l.store.KVDelete(ownerKey(record.ID)); err != nil {
		return err
	}
	src.Debt = new(big.Int).Sub(src.Debt, record.Amount)
	if src.Debt.Sign() < 0 {
		src.Debt = big.NewInt(0)
	}
	if err := l.putSource(src); err != nil {
		return err
	}
	global, err := l.loadGlobal()
	if err != nil {
		return err
	}
	global.TotalDebt = new(big.Int).Sub(global.TotalDebt, record.Amount)
	if global.TotalDebt.Sign() < 0 {
		global.TotalDebt = big.NewInt(0)
	}
	return l.putGlobal(global)
}

// --- administrative operations ---

// AddSource registers a collateral source together with its bound handler and
// initial debt ceiling.
func (l *Ledger) AddSource(source crypto.Address, handler Handler, debtCeiling *big.Int) (err error) {
	var snap int
	snap, err = l.begin()
	if err != nil {
		return err
	}
	defer func() { l.end(snap, err) }()

	if handler == nil {
		return errNilHandler
	}
	if !handler.Source().Equal(source) {
		return errHandlerSourceMismatch
	}
	if _, exists := l.handlers[source.Key()]; exists {
		return ErrSourceExists
	}
	if _, ok, loadErr := l.loadSource(source); loadErr != nil {
		return loadErr
	} else if ok {
		return ErrSourceExists
	}
	if debtCeiling == nil || debtCeiling.Sign() < 0 {
		debtCeiling = big.NewInt(0)
	}

	src := &CollateralSource{
		Address:     source,
		DebtCeiling: new(big.Int).Set(debtCeiling),
		Debt:        big.NewInt(0),
	}
	if err = l.putSource(src); err != nil {
		return err
	}
	if err = l.appendSourceList(source); err != nil {
		return err
	}

	global, loadErr := l.loadGlobal()
	if loadErr != nil {
		return loadErr
	}
	global.TotalDebtCeiling = new(big.Int).Add(global.TotalDebtCeiling, debtCeiling)
	if err = l.putGlobal(global); err != nil {
		return err
	}

	l.handlers[source.Key()] = handler
	l.emit(SourceAdded{Source: source, DebtCeiling: debtCeiling})
	return nil
}

// BindSource attaches a handler to a source already present in state, as on
// restart over an existing database. The stored source record is left
// untouched.
func (l *Ledger) BindSource(source crypto.Address, handler Handler) error {
	if l == nil || l.store == nil {
		return errNilState
	}
	if handler == nil {
		return errNilHandler
	}
	if !handler.Source().Equal(source) {
		return errHandlerSourceMismatch
	}
	if _, exists := l.handlers[source.Key()]; exists {
		return ErrSourceExists
	}
	_, ok, err := l.loadSource(source)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSourceNotFound
	}
	l.handlers[source.Key()] = handler
	return nil
}

// RemoveSource unregisters a source once it carries neither debt nor ceiling.
func (l *Ledger) RemoveSource(source crypto.Address) (err error) {
	var snap int
	snap, err = l.begin()
	if err != nil {
		return err
	}
	defer func() { l.end(snap, err) }()

	src, ok, loadErr := l.loadSource(source)
	if loadErr != nil {
		return loadErr
	}
	if !ok {
		return ErrSourceNotFound
	}
	if src.Debt.Sign() != 0 || src.DebtCeiling.Sign() != 0 {
		return ErrSourceNotEmpty
	}
	if err = l.store.KVDelete(sourceKey(source.Key())); err != nil {
		return err
	}
	if err = l.removeSourceList(source); err != nil {
		return err
	}
	delete(l.handlers, source.Key())
	l.emit(SourceRemoved{Source: source})
	return nil
}

// SetDebtCeiling adjusts a source's ceiling, propagating the delta to the
// global ceiling. Lowering the ceiling below the outstanding debt is legal;
// it only blocks further deposits.
func (l *Ledger) SetDebtCeiling(source crypto.Address, debtCeiling *big.Int) (err error) {
	var snap int
	snap, err = l.begin()
	if err != nil {
		return err
	}
	defer func() { l.end(snap, err) }()

	if debtCeiling == nil || debtCeiling.Sign() < 0 {
		debtCeiling = big.NewInt(0)
	}
	src, ok, loadErr := l.loadSource(source)
	if loadErr != nil {
		return loadErr
	}
	if !ok {
		return ErrSourceNotFound
	}
	delta := new(big.Int).Sub(debtCeiling, src.DebtCeiling)
	src.DebtCeiling = new(big.Int).Set(debtCeiling)
	if err = l.putSource(src); err != nil {
		return err
	}
	global, loadErr := l.loadGlobal()
	if loadErr != nil {
		return loadErr
	}
	global.TotalDebtCeiling = new(big.Int).Add(global.TotalDebtCeiling, delta)
	if global.TotalDebtCeiling.Sign() < 0 {
		global.TotalDebtCeiling = big.NewInt(0)
	}
	if err = l.putGlobal(global); err != nil {
		return err
	}
	l.emit(SourceUpdated{Source: source, DebtCeiling: debtCeiling, Paused: src.Paused})
	return nil
}

// SetSourcePaused toggles new-deposit acceptance for a source. Settlement
// paths (withdraw, liquidate) stay open while paused.
func (l *Ledger) SetSourcePaused(source crypto.Address, paused bool) (err error) {
	var snap int
	snap, err = l.begin()
	if err != nil {
		return err
	}
	defer func() { l.end(snap, err) }()

	src, ok, loadErr := l.loadSource(source)
	if loadErr != nil {
		return loadErr
	}
	if !ok {
		return ErrSourceNotFound
	}
	src.Paused = paused
	if err = l.putSource(src); err != nil {
		return err
	}
	l.emit(SourceUpdated{Source: source, DebtCeiling: src.DebtCeiling, Paused: paused})
	return nil
}

// --- state helpers ---

func (l *Ledger) loadGlobal() (*GlobalState, error) {
	stored := new(storedGlobal)
	ok, err := l.store.KVGet(globalKeyBytes, stored)
	if err != nil {
		return nil, err
	}
	global := &GlobalState{TotalDebt: big.NewInt(0), TotalDebtCeiling: big.NewInt(0)}
	if ok {
		if stored.TotalDebt != nil {
			global.TotalDebt = stored.TotalDebt
		}
		if stored.TotalDebtCeiling != nil {
			global.TotalDebtCeiling = stored.TotalDebtCeiling
		}
	}
	return global, nil
}

func (l *Ledger) putGlobal(global *GlobalState) error {
	return l.store.KVPut(globalKeyBytes, &storedGlobal{
		TotalDebt:        global.TotalDebt,
		TotalDebtCeiling: global.TotalDebtCeiling,
	})
}

func (l *Ledger) loadSource(source crypto.Address) (*CollateralSource, bool, error) {
	stored := new(storedSource)
	ok, err := l.store.KVGet(sourceKey(source.Key()), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	src := stored.toSource()
	if src.DebtCeiling == nil {
		src.DebtCeiling = big.NewInt(0)
	}
	if src.Debt == nil {
		src.Debt = big.NewInt(0)
	}
	return src, true, nil
}

func (l *Ledger) putSource(src *CollateralSource) error {
	return l.store.KVPut(sourceKey(src.Address.Key()), sourceToStored(src))
}

func (l *Ledger) loadDeposit(id [32]byte) (*DepositRecord, bool, error) {
	stored := new(storedDeposit)
	ok, err := l.store.KVGet(depositKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &DepositRecord{
		ID:        id,
		Source:    crypto.MustNewAddress(stored.Source[:]),
		Depositor: crypto.MustNewAddress(stored.Depositor[:]),
		Amount:    stored.Amount,
	}, true, nil
}

func (l *Ledger) putDeposit(record *DepositRecord) error {
	stored := &storedDeposit{Amount: record.Amount}
	copy(stored.Source[:], record.Source.Bytes())
	copy(stored.Depositor[:], record.Depositor.Bytes())
	return l.store.KVPut(depositKey(record.ID), stored)
}

func (l *Ledger) loadDepositor(id [32]byte) (crypto.Address, bool, error) {
	var stored [20]byte
	ok, err := l.store.KVGet(ownerKey(id), &stored)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return crypto.MustNewAddress(stored[:]), true, nil
}

func (l *Ledger) putDepositor(id [32]byte, depositor crypto.Address) error {
	return l.store.KVPut(ownerKey(id), depositor.Key())
}

func (l *Ledger) loadSourceList() ([][20]byte, error) {
	var list [][20]byte
	if _, err := l.store.KVGet(sourceListKeyBytes, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (l *Ledger) appendSourceList(source crypto.Address) error {
	list, err := l.loadSourceList()
	if err != nil {
		return err
	}
	list = append(list, source.Key())
	return l.store.KVPut(sourceListKeyBytes, list)
}

func (l *Ledger) removeSourceList(source crypto.Address) error {
	list, err := l.loadSourceList()
	if err != nil {
		return err
	}
	key := source.Key()
	filtered := list[:0]
	for _, entry := range list {
		if entry == key {
			continue
		}
		filtered = append(filtered, entry)
	}
	return l.store.KVPut(sourceListKeyBytes, filtered)
}
