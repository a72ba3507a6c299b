package rangepos

import (
	"math/big"
	"time"

	"lpvault/crypto"
	"lpvault/native/geometry"
	"lpvault/native/oracle"
	"lpvault/native/position"
	"lpvault/native/vault"
)

const (
	// defaultLoanToValueBps credits half of the volatile leg's USD value.
	// The paired leg is ignored at deposit time; crediting leans on the
	// harder-to-manipulate leg.
	defaultLoanToValueBps = 5000
	// defaultLiquidationThresholdBps is the health bar: a position is safe
	// while its collateral value covers 110% of the debt.
	defaultLiquidationThresholdBps = 11000
	// defaultTwapWindowSeconds is the observation window for the secondary
	// time-weighted price source.
	defaultTwapWindowSeconds = 120

	debtDecimals   = 18
	bpsDenominator = 10000
)

// PoolState exposes the bound pool's token identities and current price.
type PoolState interface {
	Tokens() (token0, token1 crypto.Address)
	SqrtPriceX96() (*big.Int, error)
}

// PositionInfo is the raw range-position data read from the position manager.
type PositionInfo struct {
	TickLower int32
	TickUpper int32
	Liquidity *big.Int
}

// PositionSource resolves position ids to their range data.
type PositionSource interface {
	Position(positionID *big.Int) (*PositionInfo, error)
}

// debtView is the slice of ledger functionality the engine needs to test
// liquidatability against the debt fixed at deposit time.
type debtView interface {
	Address() crypto.Address
	DepositAmount(id [32]byte) (*big.Int, bool, error)
}

// Params carries the tunable policy knobs. Zero values fall back to the
// protocol defaults via Normalise.
type Params struct {
	VolatileToken    crypto.Address
	PairedToken      crypto.Address
	VolatileDecimals uint8
	PairedDecimals   uint8
	// MaxPriceAge is the oracle staleness bound. Zero disables the check.
	MaxPriceAge             time.Duration
	LoanToValueBps          uint32
	LiquidationThresholdBps uint32
	TwapWindowSeconds       uint32
}

// Normalise fills unset policy knobs with defaults.
func (p *Params) Normalise() {
	if p.LoanToValueBps == 0 {
		p.LoanToValueBps = defaultLoanToValueBps
	}
	if p.LiquidationThresholdBps == 0 {
		p.LiquidationThresholdBps = defaultLiquidationThresholdBps
	}
	if p.TwapWindowSeconds == 0 {
		p.TwapWindowSeconds = defaultTwapWindowSeconds
	}
}

// Engine values concentrated-liquidity range positions. Deposits are credited
// against the volatile leg only, at a fixed loan-to-value fraction. The
// liquidation check is two-tier: the volatile leg alone can prove a position
// safe, and only when it cannot is the paired leg priced through the
// secondary time-weighted source and added in. A range position near a price
// boundary can sit entirely in one asset, so a single-oracle check would
// misprice the risk.
type Engine struct {
	source    crypto.Address
	ledger    debtView
	custody   *position.Custody
	pool      PoolState
	positions PositionSource
	feed      oracle.PriceFeed
	twap      oracle.TWAPSource
	params    Params
	now       func() time.Time
}

// NewEngine binds an engine to its collateral source and collaborators. The
// binding is permanent; an engine must never be reused for another source.
func NewEngine(source crypto.Address, ledger debtView, custody *position.Custody, pool PoolState, positions PositionSource, feed oracle.PriceFeed, twap oracle.TWAPSource, params Params) *Engine {
	params.Normalise()
	return &Engine{
		source:    source,
		ledger:    ledger,
		custody:   custody,
		pool:      pool,
		positions: positions,
		feed:      feed,
		twap:      twap,
		params:    params,
		now:       time.Now,
	}
}

// SetClock overrides the wall clock used for oracle freshness checks.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Source returns the bound collateral source.
func (e *Engine) Source() crypto.Address { return e.source }

// HandleDeposit takes custody of the range position and returns the credited
// USD amount.
func (e *Engine) HandleDeposit(from crypto.Address, positionID *big.Int) ([32]byte, *big.Int, error) {
	var zero [32]byte
	if e.ledger == nil {
		return zero, nil, vault.ErrInvalidSender
	}
	valuation, err := e.value(positionID, false)
	if err != nil {
		return zero, nil, err
	}
	if err := e.custody.Deposit(from, positionID); err != nil {
		return zero, nil, err
	}
	id := vault.ComputeDepositID(e.ledger.Address(), e.source, from, positionID)
	return id, valuation.Amount, nil
}

// HandleWithdraw returns custody to the depositor and reports the deposit
// identity being settled.
func (e *Engine) HandleWithdraw(to crypto.Address, positionID *big.Int) ([32]byte, error) {
	var zero [32]byte
	if e.ledger == nil {
		return zero, vault.ErrInvalidSender
	}
	if err := e.custody.Withdraw(to, positionID); err != nil {
		return zero, err
	}
	return vault.ComputeDepositID(e.ledger.Address(), e.source, to, positionID), nil
}

// Liquidate re-validates health, then moves custody to the liquidator.
func (e *Engine) Liquidate(positionID *big.Int, owner, liquidator crypto.Address) ([32]byte, *big.Int, error) {
	var zero [32]byte
	if e.ledger == nil {
		return zero, nil, vault.ErrInvalidSender
	}
	id := vault.ComputeDepositID(e.ledger.Address(), e.source, owner, positionID)
	debt, ok, err := e.ledger.DepositAmount(id)
	if err != nil {
		return zero, nil, err
	}
	if !ok {
		return zero, nil, vault.ErrInvalidLiquidation
	}
	unhealthy, err := e.liquidatable(positionID, debt)
	if err != nil {
		return zero, nil, err
	}
	if !unhealthy {
		return zero, nil, vault.ErrNotLiquidatable
	}
	if err := e.custody.Seize(positionID, owner, liquidator); err != nil {
		return zero, nil, err
	}
	return id, debt, nil
}

// Liquidatable is the read-only health check.
func (e *Engine) Liquidatable(positionID *big.Int, owner crypto.Address) (bool, error) {
	if e.ledger == nil {
		return false, vault.ErrInvalidSender
	}
	id := vault.ComputeDepositID(e.ledger.Address(), e.source, owner, positionID)
	debt, ok, err := e.ledger.DepositAmount(id)
	if err != nil || !ok {
		return false, err
	}
	return e.liquidatable(positionID, debt)
}

// Valuation reports the USD breakdown for a position, including the paired
// leg priced through the secondary source.
func (e *Engine) Valuation(positionID *big.Int) (*vault.Valuation, error) {
	return e.value(positionID, true)
}

// ReceiptCount returns the number of positions custodied for an owner.
func (e *Engine) ReceiptCount(owner crypto.Address) (uint64, error) {
	return e.custody.Count(owner)
}

// ReceiptAt returns the owner's custodied position id at the given index.
func (e *Engine) ReceiptAt(owner crypto.Address, index uint64) (*big.Int, error) {
	return e.custody.At(owner, index)
}

// liquidatable applies the two-tier threshold test against the fixed debt.
func (e *Engine) liquidatable(positionID, debt *big.Int) (bool, error) {
	volatileAmount, pairedAmount, err := e.legAmounts(positionID)
	if err != nil {
		return false, err
	}
	primaryUSD, err := e.primaryUSD(volatileAmount)
	if err != nil {
		return false, err
	}
	return e.decide(debt, primaryUSD, func() (*big.Int, error) {
		return e.secondaryUSD(pairedAmount)
	})
}

// decide is the threshold rule: the volatile leg alone can prove safety; the
// paired leg is consulted only when it cannot.
func (e *Engine) decide(debt, primaryUSD *big.Int, secondary func() (*big.Int, error)) (bool, error) {
	threshold := new(big.Int).Mul(debt, big.NewInt(int64(e.params.LiquidationThresholdBps)))
	primaryScaled := new(big.Int).Mul(primaryUSD, big.NewInt(bpsDenominator))
	if primaryScaled.Cmp(threshold) >= 0 {
		return false, nil
	}
	secondaryUSD, err := secondary()
	if err != nil {
		return false, err
	}
	combined := new(big.Int).Add(primaryUSD, secondaryUSD)
	combined.Mul(combined, big.NewInt(bpsDenominator))
	return combined.Cmp(threshold) < 0, nil
}

// value computes the credit (volatile leg only, at loan-to-value) and,
// when withSecondary is set, the paired leg's USD value for the breakdown.
func (e *Engine) value(positionID *big.Int, withSecondary bool) (*vault.Valuation, error) {
	volatileAmount, pairedAmount, err := e.legAmounts(positionID)
	if err != nil {
		return nil, err
	}
	primaryUSD, err := e.primaryUSD(volatileAmount)
	if err != nil {
		return nil, err
	}
	credit := new(big.Int).Mul(primaryUSD, big.NewInt(int64(e.params.LoanToValueBps)))
	credit.Quo(credit, big.NewInt(bpsDenominator))

	valuation := &vault.Valuation{
		Amount:       credit,
		PrimaryUSD:   primaryUSD,
		SecondaryUSD: big.NewInt(0),
	}
	if withSecondary && pairedAmount.Sign() > 0 {
		secondaryUSD, err := e.secondaryUSD(pairedAmount)
		if err != nil {
			return nil, err
		}
		valuation.SecondaryUSD = secondaryUSD
	}
	return valuation, nil
}

// legAmounts reads the position's range data and splits its liquidity into
// the two underlying token amounts at the pool's current price, oriented as
// (volatile, paired).
func (e *Engine) legAmounts(positionID *big.Int) (*big.Int, *big.Int, error) {
	if positionID == nil || positionID.Sign() == 0 {
		return nil, nil, vault.ErrInvalidPosition
	}
	info, err := e.positions.Position(positionID)
	if err != nil {
		return nil, nil, err
	}
	if info == nil || info.Liquidity == nil || info.Liquidity.Sign() <= 0 {
		return nil, nil, vault.ErrInvalidPosition
	}
	sqrtPrice, err := e.pool.SqrtPriceX96()
	if err != nil {
		return nil, nil, err
	}
	sqrtLower, err := geometry.SqrtRatioAtTick(info.TickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := geometry.SqrtRatioAtTick(info.TickUpper)
	if err != nil {
		return nil, nil, err
	}
	amount0, amount1, err := geometry.AmountsForLiquidity(sqrtPrice, sqrtLower, sqrtUpper, info.Liquidity)
	if err != nil {
		return nil, nil, err
	}

	token0, token1 := e.pool.Tokens()
	switch {
	case token0.Equal(e.params.VolatileToken) && token1.Equal(e.params.PairedToken):
		return amount0, amount1, nil
	case token0.Equal(e.params.PairedToken) && token1.Equal(e.params.VolatileToken):
		return amount1, amount0, nil
	default:
		return nil, nil, vault.ErrInvalidLiquidityPool
	}
}

// primaryUSD prices the volatile leg through the primary oracle.
func (e *Engine) primaryUSD(volatileAmount *big.Int) (*big.Int, error) {
	price, updatedAt, err := e.feed.LatestPrice()
	if err != nil {
		return nil, vault.ErrFailedOracle
	}
	if err := oracle.CheckFresh(price, updatedAt, e.params.MaxPriceAge, e.now()); err != nil {
		return nil, vault.ErrFailedOracle
	}
	return usdValue(volatileAmount, e.params.VolatileDecimals, price, e.feed.Decimals()), nil
}

// secondaryUSD prices the paired leg through the time-weighted source.
func (e *Engine) secondaryUSD(pairedAmount *big.Int) (*big.Int, error) {
	if pairedAmount == nil || pairedAmount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := e.twap.Consult(e.params.TwapWindowSeconds)
	if err != nil {
		return nil, vault.ErrFailedOracle
	}
	if price == nil || price.Sign() <= 0 {
		return nil, vault.ErrFailedOracle
	}
	return usdValue(pairedAmount, e.params.PairedDecimals, price, e.twap.Decimals()), nil
}

// usdValue converts a token amount to 18-decimal USD fixed point.
func usdValue(amount *big.Int, assetDecimals uint8, price *big.Int, priceDecimals uint8) *big.Int {
	value := new(big.Int).Mul(amount, price)
	scale := int(assetDecimals) + int(priceDecimals) - debtDecimals
	switch {
	case scale > 0:
		value.Quo(value, pow10(scale))
	case scale < 0:
		value.Mul(value, pow10(-scale))
	}
	return value
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
