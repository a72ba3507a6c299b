package vault

import "errors"

// Failure taxonomy shared by the ledger and its handlers. Every error is
// terminal for the current operation: the whole state transition is rolled
// back and reported to the caller.
var (
	// ErrInvalidDeposit covers deposit-identity collisions, zero valuations
	// and custody record mismatches during deposit.
	ErrInvalidDeposit = errors.New("vault: invalid deposit")
	// ErrInvalidWithdraw indicates a record or depositor mismatch on withdraw.
	ErrInvalidWithdraw = errors.New("vault: invalid withdraw")
	// ErrInvalidLiquidation indicates a record or owner mismatch on liquidate.
	ErrInvalidLiquidation = errors.New("vault: invalid liquidation")
	// ErrInvalidPositionTransfer indicates the post-transfer ownership check
	// against the external asset registry failed.
	ErrInvalidPositionTransfer = errors.New("vault: position transfer not settled")
	// ErrInvalidLiquidityPool indicates the collateral source's underlying
	// token identities do not match the handler's bound pair.
	ErrInvalidLiquidityPool = errors.New("vault: pool tokens do not match bound pair")
	// ErrFailedOracle indicates a non-positive or stale price, or a
	// cross-oracle deviation beyond tolerance.
	ErrFailedOracle = errors.New("vault: oracle check failed")
	// ErrDebtCeilingExceeded indicates the global or per-source ceiling would
	// be breached.
	ErrDebtCeilingExceeded = errors.New("vault: debt ceiling exceeded")
	// ErrSourcePaused indicates the collateral source does not accept new
	// deposits.
	ErrSourcePaused = errors.New("vault: collateral source paused")
	// ErrNotLiquidatable indicates the position is still healthy.
	ErrNotLiquidatable = errors.New("vault: position not liquidatable")
	// ErrInvalidSender indicates a handler was invoked without a bound ledger.
	ErrInvalidSender = errors.New("vault: caller is not the authorized ledger")
	// ErrBusy indicates a reentrant call into a guarded entry point.
	ErrBusy = errors.New("vault: ledger busy")

	// ErrSourceNotFound indicates the collateral source is not registered.
	ErrSourceNotFound = errors.New("vault: collateral source not found")
	// ErrSourceExists rejects double registration of a collateral source.
	ErrSourceExists = errors.New("vault: collateral source already registered")
	// ErrSourceNotEmpty rejects removal of a source with outstanding debt or
	// a non-zero ceiling.
	ErrSourceNotEmpty = errors.New("vault: collateral source has debt or ceiling")
	// ErrInvalidPosition rejects a zero or missing position identifier.
	ErrInvalidPosition = errors.New("vault: position id must be non-zero")
)

var (
	errNilState   = errors.New("vault ledger: state not configured")
	errNilToken   = errors.New("vault ledger: debt token not configured")
	errNilHandler = errors.New("vault ledger: handler required")
)
