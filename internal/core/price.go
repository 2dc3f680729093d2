package core

import (
	"github.com/holiman/uint256"

	"lendpool/internal/event"
	"lendpool/internal/oracle"
)

type PriceUpdateCommand struct {
	Asset          string
	Price          *uint256.Int
	PriceSequence  int64
	PriceTimestamp uint64
}

// ApplyPriceUpdate feeds one oracle tick into the engine. Stale sequences are
// dropped silently; accepted ticks update the price table and land in the
// event log so replays see the same prices the engine saw.
func (e *PoolEngine) ApplyPriceUpdate(cmd PriceUpdateCommand) error {
	if cmd.Asset == "" {
		return E(CodeInvalidAddress, "price update without asset")
	}
	if cmd.Price == nil || cmd.Price.IsZero() {
		return E(CodeInvalidAmount, "zero price for %s", cmd.Asset)
	}
	if !e.priceGuard.Accept(cmd.Asset, cmd.PriceSequence) {
		return nil
	}

	setter, ok := e.ctx.PriceOracle.(oracle.PriceSetter)
	if !ok {
		return E(CodeInternal, "price oracle is not writable")
	}

	evt := &event.PriceUpdated{
		AssetSymbol:    cmd.Asset,
		Price:          cmd.Price.Dec(),
		PriceSequence:  cmd.PriceSequence,
		PriceTimestamp: int64(cmd.PriceTimestamp),
	}

	return errOrNil(e.process("PriceUpdate", evt.IdempotencyKey(), func(st *poolState) (*applied, *Error) {
		setter.SetAssetPrice(cmd.Asset, cmd.Price)
		if e.metrics != nil {
			e.metrics.PriceUpdates.WithLabelValues(cmd.Asset).Inc()
		}
		return &applied{
			events:    []event.Event{evt},
			assets:    []string{cmd.Asset},
			timestamp: cmd.PriceTimestamp,
		}, nil
	}))
}
