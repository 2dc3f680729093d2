// internal/event/price.go
package event

import "fmt"

// PriceUpdated represents an oracle price update ingested from the feed.
// Prices are USD scaled by 1e8. PriceSequence is monotonic per asset; stale
// updates are dropped, gaps are tolerated.
type PriceUpdated struct {
	AssetSymbol    string `json:"asset"`
	Price          string `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp"`
}

func (p *PriceUpdated) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.AssetSymbol, p.PriceSequence)
}

func (p *PriceUpdated) EventType() EventType {
	return EventTypePriceUpdated
}

func (p *PriceUpdated) Asset() *string {
	return &p.AssetSymbol
}
