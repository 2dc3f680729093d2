// Package oracle defines the price and market-rate sources the pool engine
// consumes. Aggregation of upstream feeds happens outside this service; the
// engine only ever sees the interfaces here.
package oracle

import (
	"sync"

	"github.com/holiman/uint256"
)

// PriceOracle returns an asset's USD price scaled by 1e8, plus an ok flag.
// Callers must treat ok=false as a hard failure: no cap check or health
// factor may proceed on a missing price.
type PriceOracle interface {
	GetAssetPrice(asset string) (*uint256.Int, bool)
}

// LendingRateOracle returns the market reference borrow rate for an asset in
// ray, used as the base of the stable borrow rate.
type LendingRateOracle interface {
	GetMarketBorrowRate(asset string) *uint256.Int
}

// PriceSetter is implemented by oracles fed from an external price stream.
type PriceSetter interface {
	SetAssetPrice(asset string, price *uint256.Int)
}

// PriceDecimals is the fixed scale of oracle prices: price 1e8 == 1 USD.
const PriceDecimals = 8

// MemoryPriceOracle is a concurrency-safe in-memory price table, fed by the
// price ingestion feed and by tests.
type MemoryPriceOracle struct {
	mu     sync.RWMutex
	prices map[string]*uint256.Int
}

func NewMemoryPriceOracle() *MemoryPriceOracle {
	return &MemoryPriceOracle{prices: make(map[string]*uint256.Int)}
}

// SetAssetPrice installs a price. A zero price removes the asset, forcing
// dependent operations to fail instead of valuing against zero.
func (o *MemoryPriceOracle) SetAssetPrice(asset string, price *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil || price.IsZero() {
		delete(o.prices, asset)
		return
	}
	o.prices[asset] = new(uint256.Int).Set(price)
}

func (o *MemoryPriceOracle) GetAssetPrice(asset string) (*uint256.Int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prices[asset]
	if !ok {
		return nil, false
	}
	return new(uint256.Int).Set(p), true
}

// MemoryRateOracle is an in-memory market borrow rate table. An asset with
// no entry reads as rate zero, which prices stable borrows from the slopes
// alone.
type MemoryRateOracle struct {
	mu    sync.RWMutex
	rates map[string]*uint256.Int
}

func NewMemoryRateOracle() *MemoryRateOracle {
	return &MemoryRateOracle{rates: make(map[string]*uint256.Int)}
}

func (o *MemoryRateOracle) SetMarketBorrowRate(asset string, rate *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rates[asset] = new(uint256.Int).Set(rate)
}

func (o *MemoryRateOracle) GetMarketBorrowRate(asset string) *uint256.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if r, ok := o.rates[asset]; ok {
		return new(uint256.Int).Set(r)
	}
	return uint256.NewInt(0)
}
