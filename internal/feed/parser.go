package feed

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"

	"lendpool/internal/core"
)

// priceTickJSON is the wire format published by the oracle gateway. Field
// names use snake_case to match upstream producers. Price is in USD with 8
// decimals, rendered as a decimal string so large-asset prices never lose
// precision.
type priceTickJSON struct {
	Asset          string `json:"asset"`
	Price          string `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

// ParsePriceTick validates a raw NATS message and converts it into an engine
// price command. Rejects empty assets, unparseable or zero prices, and
// negative sequences; the per-asset stale/gap handling happens in the engine.
func ParsePriceTick(raw RawTick) (core.PriceUpdateCommand, error) {
	var j priceTickJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return core.PriceUpdateCommand{}, fmt.Errorf("parse price tick: %w", err)
	}

	if j.Asset == "" {
		return core.PriceUpdateCommand{}, fmt.Errorf("price tick without asset")
	}
	if j.PriceSequence < 0 {
		return core.PriceUpdateCommand{}, fmt.Errorf("negative price_sequence %d for %s", j.PriceSequence, j.Asset)
	}
	if j.TimestampUs <= 0 {
		return core.PriceUpdateCommand{}, fmt.Errorf("missing timestamp_us for %s", j.Asset)
	}

	price, err := uint256.FromDecimal(j.Price)
	if err != nil {
		return core.PriceUpdateCommand{}, fmt.Errorf("parse price %q for %s: %w", j.Price, j.Asset, err)
	}
	if price.IsZero() {
		return core.PriceUpdateCommand{}, fmt.Errorf("zero price for %s", j.Asset)
	}

	return core.PriceUpdateCommand{
		Asset:          j.Asset,
		Price:          price,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: uint64(j.TimestampUs / 1_000_000),
	}, nil
}
