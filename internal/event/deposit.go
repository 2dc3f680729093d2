// internal/event/deposit.go
package event

import "github.com/google/uuid"

// Deposited is emitted after a successful deposit. Amounts are decimal
// strings of native units; the index is the post-accrual liquidity index in
// ray, so an auditor can reproduce the scaled mint.
type Deposited struct {
	ActionID       uuid.UUID `json:"action_id"`
	User           uuid.UUID `json:"user"`
	AssetSymbol    string    `json:"asset"`
	Amount         string    `json:"amount"`
	LiquidityIndex string    `json:"liquidity_index"`
	Timestamp      int64     `json:"timestamp"`
}

func (d *Deposited) IdempotencyKey() string {
	return d.ActionID.String()
}

func (d *Deposited) EventType() EventType {
	return EventTypeDeposited
}

func (d *Deposited) Asset() *string {
	return &d.AssetSymbol
}
