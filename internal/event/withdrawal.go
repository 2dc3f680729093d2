// internal/event/withdrawal.go
package event

import "github.com/google/uuid"

// Withdrawn is emitted after a successful withdrawal.
type Withdrawn struct {
	ActionID       uuid.UUID `json:"action_id"`
	User           uuid.UUID `json:"user"`
	AssetSymbol    string    `json:"asset"`
	Amount         string    `json:"amount"`
	LiquidityIndex string    `json:"liquidity_index"`
	Timestamp      int64     `json:"timestamp"`
}

func (w *Withdrawn) IdempotencyKey() string {
	return w.ActionID.String()
}

func (w *Withdrawn) EventType() EventType {
	return EventTypeWithdrawn
}

func (w *Withdrawn) Asset() *string {
	return &w.AssetSymbol
}
