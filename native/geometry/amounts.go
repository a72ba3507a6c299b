package geometry

import (
	"errors"
	"math/big"
)

var (
	ErrInvalidSqrtPrice = errors.New("geometry: sqrt price must be positive")
	ErrInvalidLiquidity = errors.New("geometry: liquidity must not be negative")
	ErrEmptyPool        = errors.New("geometry: pool has no supply")
)

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// AmountsForLiquidity converts a liquidity amount inside the [sqrtA, sqrtB]
// range into the two underlying token amounts at the supplied pool price. All
// sqrt prices are Q64.96 values. The split follows the standard
// concentrated-liquidity accounting: entirely token0 below the range,
// entirely token1 above it, a mix in between.
func AmountsForLiquidity(sqrtPriceX96, sqrtAX96, sqrtBX96, liquidity *big.Int) (*big.Int, *big.Int, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 ||
		sqrtAX96 == nil || sqrtAX96.Sign() <= 0 ||
		sqrtBX96 == nil || sqrtBX96.Sign() <= 0 {
		return nil, nil, ErrInvalidSqrtPrice
	}
	if liquidity == nil || liquidity.Sign() < 0 {
		return nil, nil, ErrInvalidLiquidity
	}
	lower := sqrtAX96
	upper := sqrtBX96
	if lower.Cmp(upper) > 0 {
		lower, upper = upper, lower
	}

	amount0 := big.NewInt(0)
	amount1 := big.NewInt(0)
	switch {
	case sqrtPriceX96.Cmp(lower) <= 0:
		amount0 = amount0Delta(lower, upper, liquidity)
	case sqrtPriceX96.Cmp(upper) < 0:
		amount0 = amount0Delta(sqrtPriceX96, upper, liquidity)
		amount1 = amount1Delta(lower, sqrtPriceX96, liquidity)
	default:
		amount1 = amount1Delta(lower, upper, liquidity)
	}
	return amount0, amount1, nil
}

// amount0Delta computes liquidity * (sqrtB - sqrtA) / (sqrtA * sqrtB) scaled
// out of Q96, rounding down.
func amount0Delta(sqrtAX96, sqrtBX96, liquidity *big.Int) *big.Int {
	numerator := new(big.Int).Lsh(liquidity, 96)
	numerator.Mul(numerator, new(big.Int).Sub(sqrtBX96, sqrtAX96))
	numerator.Quo(numerator, sqrtBX96)
	return numerator.Quo(numerator, sqrtAX96)
}

// amount1Delta computes liquidity * (sqrtB - sqrtA) scaled out of Q96,
// rounding down.
func amount1Delta(sqrtAX96, sqrtBX96, liquidity *big.Int) *big.Int {
	delta := new(big.Int).Sub(sqrtBX96, sqrtAX96)
	delta.Mul(delta, liquidity)
	return delta.Quo(delta, q96)
}

// PoolShareAmounts returns the pro-rata share of both pool reserves backing
// lpAmount out of totalSupply, rounding down.
func PoolShareAmounts(lpAmount, totalSupply, reserve0, reserve1 *big.Int) (*big.Int, *big.Int, error) {
	if totalSupply == nil || totalSupply.Sign() <= 0 {
		return nil, nil, ErrEmptyPool
	}
	if lpAmount == nil || lpAmount.Sign() < 0 {
		return nil, nil, ErrInvalidLiquidity
	}
	share0 := new(big.Int).Mul(reserve0, lpAmount)
	share0.Quo(share0, totalSupply)
	share1 := new(big.Int).Mul(reserve1, lpAmount)
	share1.Quo(share1, totalSupply)
	return share0, share1, nil
}
