package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

// ErrInvalidPrice indicates that a feed returned a non-positive or missing
// reading.
var ErrInvalidPrice = errors.New("oracle: invalid price")

// ErrStalePrice indicates that the freshest available reading is older than
// the caller's tolerance.
var ErrStalePrice = errors.New("oracle: stale price")

// PriceFeed resolves a point-in-time USD price for one asset. Price values are
// unsigned fixed-point integers with Decimals fractional digits; consumers
// must treat a non-positive price as a failed reading.
type PriceFeed interface {
	LatestPrice() (price *big.Int, updatedAt int64, err error)
	Decimals() uint8
}

// TWAPSource resolves a time-weighted average USD price over the supplied
// observation window. It is deliberately distinct from PriceFeed so a
// consumer can require two independent sources.
type TWAPSource interface {
	Consult(windowSeconds uint32) (price *big.Int, err error)
	Decimals() uint8
}

// CheckFresh validates a feed reading against a freshness tolerance. A zero
// maxAge disables the staleness check.
func CheckFresh(price *big.Int, updatedAt int64, maxAge time.Duration, now time.Time) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if maxAge <= 0 {
		return nil
	}
	if time.Unix(updatedAt, 0).Before(now.Add(-maxAge)) {
		return ErrStalePrice
	}
	return nil
}

// ManualFeed is an in-memory PriceFeed used for tests and manual overrides
// during incident response.
type ManualFeed struct {
	mu        sync.RWMutex
	price     *big.Int
	updatedAt int64
	decimals  uint8
}

// NewManualFeed constructs a manual feed reporting prices with the supplied
// fixed-point precision.
func NewManualFeed(decimals uint8) *ManualFeed {
	return &ManualFeed{decimals: decimals}
}

// Set records the supplied price and observation timestamp.
func (f *ManualFeed) Set(price *big.Int, updatedAt int64) {
	if f == nil || price == nil {
		return
	}
	f.mu.Lock()
	f.price = new(big.Int).Set(price)
	f.updatedAt = updatedAt
	f.mu.Unlock()
}

func (f *ManualFeed) LatestPrice() (*big.Int, int64, error) {
	if f == nil {
		return nil, 0, ErrInvalidPrice
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, 0, ErrInvalidPrice
	}
	return new(big.Int).Set(f.price), f.updatedAt, nil
}

func (f *ManualFeed) Decimals() uint8 {
	if f == nil {
		return 0
	}
	return f.decimals
}

// ManualTWAP is an in-memory TWAPSource used for tests and manual overrides.
type ManualTWAP struct {
	mu       sync.RWMutex
	price    *big.Int
	decimals uint8
}

// NewManualTWAP constructs a manual TWAP source with the supplied precision.
func NewManualTWAP(decimals uint8) *ManualTWAP {
	return &ManualTWAP{decimals: decimals}
}

// Set records the average price returned by subsequent Consult calls.
func (t *ManualTWAP) Set(price *big.Int) {
	if t == nil || price == nil {
		return
	}
	t.mu.Lock()
	t.price = new(big.Int).Set(price)
	t.mu.Unlock()
}

func (t *ManualTWAP) Consult(uint32) (*big.Int, error) {
	if t == nil {
		return nil, ErrInvalidPrice
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.price == nil || t.price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return new(big.Int).Set(t.price), nil
}

func (t *ManualTWAP) Decimals() uint8 {
	if t == nil {
		return 0
	}
	return t.decimals
}
