package poolshare

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
	// defaultMaxDeviationBps is the tolerance band between the pool-implied
	// price and the oracle price. The boundary is inclusive: exactly 2.00%
	// passes.
	defaultMaxDeviationBps = 200
	// defaultLiquidationThresholdBps marks a deposit liquidatable once its
	// current valuation falls below 110% of the outstanding debt.
	defaultLiquidationThresholdBps = 11000

	debtDecimals   = 18
	bpsDenominator = 10000
)

// Pool exposes the reserve state of the bound constant-product pool.
type Pool interface {
	Tokens() (token0, token1 crypto.Address)
	Reserves() (reserve0, reserve1 *big.Int, err error)
	TotalSupply() (*big.Int, error)
}

// ShareSource resolves a pool-share receipt to the amount of LP tokens it
// represents.
type ShareSource interface {
	ShareAmount(positionID *big.Int) (*big.Int, error)
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
	StableToken      crypto.Address
	VolatileToken    crypto.Address
	StableDecimals   uint8
	VolatileDecimals uint8
	// MaxPriceAge is the oracle staleness bound. Zero disables the check.
	MaxPriceAge             time.Duration
	MaxDeviationBps         uint32
	LiquidationThresholdBps uint32
}

// Normalise fills unset policy knobs with defaults.
func (p *Params) Normalise() {
	if p.MaxDeviationBps == 0 {
		p.MaxDeviationBps = defaultMaxDeviationBps
	}
	if p.LiquidationThresholdBps == 0 {
		p.LiquidationThresholdBps = defaultLiquidationThresholdBps
	}
}

// Engine values pool-share receipts. The credited amount is the receipt's
// pro-rata claim on the pool's stable reserve, gated by a cross-validation of
// the pool-implied volatile price against the oracle.
type Engine struct {
	source  crypto.Address
	ledger  debtView
	custody *position.Custody
	pool    Pool
	shares  ShareSource
	feed    oracle.PriceFeed
	params  Params
	now     func() time.Time
}

// NewEngine binds an engine to its collateral source and collaborators. The
// binding is permanent; an engine must never be reused for another source.
func NewEngine(source crypto.Address, ledger debtView, custody *position.Custody, pool Pool, shares ShareSource, feed oracle.PriceFeed, params Params) *Engine {
	params.Normalise()
	return &Engine{
		source:  source,
		ledger:  ledger,
		custody: custody,
		pool:    pool,
		shares:  shares,
		feed:    feed,
		params:  params,
		now:     time.Now,
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

// HandleDeposit takes custody of the receipt and returns its USD valuation.
func (e *Engine) HandleDeposit(from crypto.Address, positionID *big.Int) ([32]byte, *big.Int, error) {
	var zero [32]byte
	if e.ledger == nil {
		return zero, nil, vault.ErrInvalidSender
	}
	if err := e.checkPoolIdentity(); err != nil {
		return zero, nil, err
	}
	valuation, err := e.value(positionID)
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

// Valuation reports the USD breakdown for a receipt.
func (e *Engine) Valuation(positionID *big.Int) (*vault.Valuation, error) {
	return e.value(positionID)
}

// ReceiptCount returns the number of receipts custodied for an owner.
func (e *Engine) ReceiptCount(owner crypto.Address) (uint64, error) {
	return e.custody.Count(owner)
}

// ReceiptAt returns the owner's custodied receipt id at the given index.
func (e *Engine) ReceiptAt(owner crypto.Address, index uint64) (*big.Int, error) {
	return e.custody.At(owner, index)
}

// liquidatable compares the current valuation against the liquidation
// threshold applied to the debt fixed at deposit time.
func (e *Engine) liquidatable(positionID, debt *big.Int) (bool, error) {
	valuation, err := e.value(positionID)
	if err != nil {
		return false, err
	}
	threshold := new(big.Int).Mul(debt, big.NewInt(int64(e.params.LiquidationThresholdBps)))
	scaled := new(big.Int).Mul(valuation.Amount, big.NewInt(bpsDenominator))
	return scaled.Cmp(threshold) < 0, nil
}

// value computes the pro-rata stable-reserve claim and runs the deviation
// gate.
func (e *Engine) value(positionID *big.Int) (*vault.Valuation, error) {
	if positionID == nil || positionID.Sign() == 0 {
		return nil, vault.ErrInvalidPosition
	}
	lpAmount, err := e.shares.ShareAmount(positionID)
	if err != nil {
		return nil, err
	}
	if lpAmount == nil || lpAmount.Sign() <= 0 {
		return nil, vault.ErrInvalidDeposit
	}
	stableReserve, volatileReserve, totalSupply, err := e.orientedReserves()
	if err != nil {
		return nil, err
	}
	if err := e.checkDeviation(stableReserve, volatileReserve); err != nil {
		return nil, err
	}

	stableShare, _, err := geometry.PoolShareAmounts(lpAmount, totalSupply, stableReserve, volatileReserve)
	if err != nil {
		return nil, err
	}
	usd := scaleToDecimals(stableShare, e.params.StableDecimals, debtDecimals)
	return &vault.Valuation{
		Amount:       usd,
		PrimaryUSD:   new(big.Int).Set(usd),
		SecondaryUSD: big.NewInt(0),
	}, nil
}

// orientedReserves verifies the pool tokens against the bound pair and
// returns the reserves in (stable, volatile) order.
func (e *Engine) orientedReserves() (stable, volatile, totalSupply *big.Int, err error) {
	token0, token1 := e.pool.Tokens()
	reserve0, reserve1, err := e.pool.Reserves()
	if err != nil {
		return nil, nil, nil, err
	}
	totalSupply, err = e.pool.TotalSupply()
	if err != nil {
		return nil, nil, nil, err
	}
	if totalSupply == nil || totalSupply.Sign() <= 0 {
		return nil, nil, nil, vault.ErrInvalidLiquidityPool
	}
	switch {
	case token0.Equal(e.params.StableToken) && token1.Equal(e.params.VolatileToken):
		return reserve0, reserve1, totalSupply, nil
	case token0.Equal(e.params.VolatileToken) && token1.Equal(e.params.StableToken):
		return reserve1, reserve0, totalSupply, nil
	default:
		return nil, nil, nil, vault.ErrInvalidLiquidityPool
	}
}

func (e *Engine) checkPoolIdentity() error {
	token0, token1 := e.pool.Tokens()
	pairMatches := (token0.Equal(e.params.StableToken) && token1.Equal(e.params.VolatileToken)) ||
		(token0.Equal(e.params.VolatileToken) && token1.Equal(e.params.StableToken))
	if !pairMatches {
		return vault.ErrInvalidLiquidityPool
	}
	return nil
}

// checkDeviation compares the pool-implied volatile price against the oracle
// reading without rounding: both sides of the inequality are cross-multiplied
// integers, so the tolerance boundary is exact and inclusive.
//
//	implied = (stableReserve / 10^sd) / (volatileReserve / 10^vd)
//	|implied - price/10^pd| * 10000 <= (price/10^pd) * maxDeviationBps
func (e *Engine) checkDeviation(stableReserve, volatileReserve *big.Int) error {
	if volatileReserve == nil || volatileReserve.Sign() <= 0 || stableReserve == nil || stableReserve.Sign() <= 0 {
		return vault.ErrInvalidLiquidityPool
	}
	price, updatedAt, err := e.feed.LatestPrice()
	if err != nil {
		return vault.ErrFailedOracle
	}
	if err := oracle.CheckFresh(price, updatedAt, e.params.MaxPriceAge, e.now()); err != nil {
		return vault.ErrFailedOracle
	}

	impliedNum := new(big.Int).Mul(stableReserve, pow10(int(e.params.VolatileDecimals)))
	impliedDen := new(big.Int).Mul(volatileReserve, pow10(int(e.params.StableDecimals)))

	// Bring both rationals over the common denominator impliedDen * 10^pd.
	lhs := new(big.Int).Mul(impliedNum, pow10(int(e.feed.Decimals())))
	rhs := new(big.Int).Mul(price, impliedDen)
	diff := new(big.Int).Sub(lhs, rhs)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(bpsDenominator))

	limit := new(big.Int).Mul(rhs, big.NewInt(int64(e.params.MaxDeviationBps)))
	if diff.Cmp(limit) > 0 {
		return vault.ErrFailedOracle
	}
	return nil
}

func scaleToDecimals(amount *big.Int, from, to uint8) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	switch {
	case from == to:
		return new(big.Int).Set(amount)
	case from < to:
		return new(big.Int).Mul(amount, pow10(int(to-from)))
	default:
		return new(big.Int).Div(amount, pow10(int(from-to)))
	}
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
