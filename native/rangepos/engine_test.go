package rangepos

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"lpvault/crypto"
	"lpvault/native/geometry"
	"lpvault/native/oracle"
	"lpvault/native/position"
	"lpvault/native/vault"
	"lpvault/state"
	"lpvault/storage"
)

type stubLedger struct {
	addr    crypto.Address
	amounts map[[32]byte]*big.Int
}

func (l *stubLedger) Address() crypto.Address { return l.addr }

func (l *stubLedger) DepositAmount(id [32]byte) (*big.Int, bool, error) {
	amount, ok := l.amounts[id]
	return amount, ok, nil
}

func testAddr(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.MustNewAddress(raw)
}

func thresholdEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(testAddr(0x01), &stubLedger{addr: testAddr(0xAA)}, nil, nil, nil, nil, nil, Params{})
}

func TestThresholdPrimaryLegAloneProvesSafety(t *testing.T) {
	engine := thresholdEngine(t)
	secondaryConsulted := false
	secondary := func() (*big.Int, error) {
		secondaryConsulted = true
		return big.NewInt(0), nil
	}

	// debt=100, primary=110: exactly at the 110% bar, safe without the
	// secondary source.
	ok, err := engine.decide(big.NewInt(100), big.NewInt(110), secondary)
	if err != nil || ok {
		t.Fatalf("decide = %v err=%v", ok, err)
	}
	if secondaryConsulted {
		t.Fatalf("secondary source consulted although primary leg was sufficient")
	}
}

func TestThresholdTwoTier(t *testing.T) {
	engine := thresholdEngine(t)
	cases := []struct {
		name      string
		primary   int64
		secondary int64
		want      bool
	}{
		{"primary 109 alone", 109, 0, true},
		{"primary 50 secondary 65", 50, 65, false},
		{"primary 50 secondary 54", 50, 54, true},
		{"combined exactly at bar", 60, 50, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.decide(big.NewInt(100), big.NewInt(tc.primary), func() (*big.Int, error) {
				return big.NewInt(tc.secondary), nil
			})
			if err != nil {
				t.Fatalf("decide: %v", err)
			}
			if got != tc.want {
				t.Fatalf("decide = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestThresholdSecondaryFailurePropagates(t *testing.T) {
	engine := thresholdEngine(t)
	_, err := engine.decide(big.NewInt(100), big.NewInt(50), func() (*big.Int, error) {
		return nil, vault.ErrFailedOracle
	})
	if !errors.Is(err, vault.ErrFailedOracle) {
		t.Fatalf("expected ErrFailedOracle, got %v", err)
	}
}

type fixture struct {
	engine    *Engine
	pool      *ManualPool
	positions *ManualPositions
	feed      *oracle.ManualFeed
	twap      *oracle.ManualTWAP
	registry  *position.MemRegistry
	ledger    *stubLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	registry := position.NewMemRegistry()
	source := testAddr(0x01)
	custody := position.NewCustody(manager, registry, source)

	tickZero, err := geometry.SqrtRatioAtTick(0)
	if err != nil {
		t.Fatalf("sqrt ratio: %v", err)
	}
	pool := NewManualPool(testAddr(0x10), testAddr(0x11))
	pool.SetSqrtPriceX96(tickZero)
	positions := NewManualPositions()
	feed := oracle.NewManualFeed(8)
	feed.Set(big.NewInt(2000_00000000), time.Now().Unix())
	twap := oracle.NewManualTWAP(8)
	twap.Set(big.NewInt(1_00000000))
	ledger := &stubLedger{addr: testAddr(0xAA), amounts: make(map[[32]byte]*big.Int)}

	engine := NewEngine(source, ledger, custody, pool, positions, feed, twap, Params{
		VolatileToken:    testAddr(0x10),
		PairedToken:      testAddr(0x11),
		VolatileDecimals: 18,
		PairedDecimals:   18,
	})
	return &fixture{engine: engine, pool: pool, positions: positions, feed: feed, twap: twap, registry: registry, ledger: ledger}
}

func liquidity18(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// TestInRangeCreditHalfOfVolatileLeg checks the credited amount against an
// independently computed 0.5 * price * volatileAmount.
func TestInRangeCreditHalfOfVolatileLeg(t *testing.T) {
	f := newFixture(t)
	f.positions.Set(big.NewInt(7), PositionInfo{TickLower: -600, TickUpper: 600, Liquidity: liquidity18(1)})

	sqrtPrice, _ := f.pool.SqrtPriceX96()
	sqrtLower, err := geometry.SqrtRatioAtTick(-600)
	if err != nil {
		t.Fatalf("sqrt lower: %v", err)
	}
	sqrtUpper, err := geometry.SqrtRatioAtTick(600)
	if err != nil {
		t.Fatalf("sqrt upper: %v", err)
	}
	amount0, _, err := geometry.AmountsForLiquidity(sqrtPrice, sqrtLower, sqrtUpper, liquidity18(1))
	if err != nil {
		t.Fatalf("amounts: %v", err)
	}
	if amount0.Sign() <= 0 {
		t.Fatalf("in-range position must hold the volatile leg")
	}
	// 0.5 * price * amount0, price in 8 decimals, amount in 18, USD in 18.
	expected := new(big.Int).Mul(amount0, big.NewInt(2000_00000000))
	expected.Quo(expected, new(big.Int).Exp(big.NewInt(10), big.NewInt(8), nil))
	expected.Quo(expected, big.NewInt(2))

	valuation, err := f.engine.Valuation(big.NewInt(7))
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	diff := new(big.Int).Sub(valuation.Amount, expected)
	if diff.Abs(diff).Cmp(big.NewInt(1)) > 0 {
		t.Fatalf("credit = %s, want %s ± 1", valuation.Amount, expected)
	}
	if valuation.SecondaryUSD.Sign() <= 0 {
		t.Fatalf("in-range position must report the paired leg")
	}
}

func TestOutOfRangePairedOnlyCreditsZero(t *testing.T) {
	f := newFixture(t)
	// Entirely below the current price: all value sits in the paired leg.
	f.positions.Set(big.NewInt(7), PositionInfo{TickLower: -1200, TickUpper: -600, Liquidity: liquidity18(1)})

	valuation, err := f.engine.Valuation(big.NewInt(7))
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if valuation.Amount.Sign() != 0 || valuation.PrimaryUSD.Sign() != 0 {
		t.Fatalf("paired-only position credited %s", valuation.Amount)
	}
	if valuation.SecondaryUSD.Sign() <= 0 {
		t.Fatalf("paired leg missing from breakdown")
	}
}

func TestStalePrimaryPriceRejected(t *testing.T) {
	f := newFixture(t)
	f.positions.Set(big.NewInt(7), PositionInfo{TickLower: -600, TickUpper: 600, Liquidity: liquidity18(1)})
	f.engine.params.MaxPriceAge = time.Minute

	base := time.Unix(1_700_000_000, 0)
	f.feed.Set(big.NewInt(2000_00000000), base.Unix())
	f.engine.SetClock(func() time.Time { return base.Add(5 * time.Minute) })

	if _, err := f.engine.Valuation(big.NewInt(7)); !errors.Is(err, vault.ErrFailedOracle) {
		t.Fatalf("expected ErrFailedOracle, got %v", err)
	}
}

func TestWrongPoolPairRejected(t *testing.T) {
	f := newFixture(t)
	f.positions.Set(big.NewInt(7), PositionInfo{TickLower: -600, TickUpper: 600, Liquidity: liquidity18(1)})
	f.pool.token1 = testAddr(0x13)

	if _, err := f.engine.Valuation(big.NewInt(7)); !errors.Is(err, vault.ErrInvalidLiquidityPool) {
		t.Fatalf("expected ErrInvalidLiquidityPool, got %v", err)
	}
}

func TestDepositCustodyAndLiquidation(t *testing.T) {
	f := newFixture(t)
	owner := testAddr(0x02)
	f.positions.Set(big.NewInt(7), PositionInfo{TickLower: -600, TickUpper: 600, Liquidity: liquidity18(1)})
	f.registry.SetOwner(big.NewInt(7), owner)

	id, credit, err := f.engine.HandleDeposit(owner, big.NewInt(7))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if credit.Sign() <= 0 {
		t.Fatalf("no credit")
	}
	f.ledger.amounts[id] = credit

	// Healthy immediately after deposit: collateral is worth twice the debt.
	ok, err := f.engine.Liquidatable(big.NewInt(7), owner)
	if err != nil || ok {
		t.Fatalf("fresh deposit liquidatable: ok=%v err=%v", ok, err)
	}

	// Volatile price collapses; paired leg (TWAP) cannot cover the bar.
	f.feed.Set(big.NewInt(1_00000000), time.Now().Unix())
	ok, err = f.engine.Liquidatable(big.NewInt(7), owner)
	if err != nil {
		t.Fatalf("liquidatable: %v", err)
	}
	if !ok {
		t.Fatalf("collapsed position still healthy")
	}

	liquidator := testAddr(0x03)
	gotID, debt, err := f.engine.Liquidate(big.NewInt(7), owner, liquidator)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if gotID != id || debt.Cmp(credit) != 0 {
		t.Fatalf("settled %x %s", gotID, debt)
	}
	holder, _ := f.registry.OwnerOf(big.NewInt(7))
	if !holder.Equal(liquidator) {
		t.Fatalf("position not delivered to liquidator")
	}
}

func TestHealthyPositionNotLiquidatable(t *testing.T) {
	f := newFixture(t)
	owner := testAddr(0x02)
	f.positions.Set(big.NewInt(7), PositionInfo{TickLower: -600, TickUpper: 600, Liquidity: liquidity18(1)})
	f.registry.SetOwner(big.NewInt(7), owner)

	id, credit, err := f.engine.HandleDeposit(owner, big.NewInt(7))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.ledger.amounts[id] = credit

	if _, _, err := f.engine.Liquidate(big.NewInt(7), owner, testAddr(0x03)); !errors.Is(err, vault.ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}
	holder, _ := f.registry.OwnerOf(big.NewInt(7))
	if !holder.Equal(f.engine.Source()) {
		t.Fatalf("custody disturbed by failed liquidation")
	}
}
