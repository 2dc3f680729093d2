// internal/event/flashloan.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// FlashLoan is emitted once per asset of a successful flash loan batch.
// Idempotency key: "{action_id}:{asset}" so a multi-asset batch yields one
// distinct event per leg.
type FlashLoan struct {
	ActionID    uuid.UUID `json:"action_id"`
	Receiver    uuid.UUID `json:"receiver"`
	AssetSymbol string    `json:"asset"`
	Amount      string    `json:"amount"`
	Premium     string    `json:"premium"`
	Timestamp   int64     `json:"timestamp"`
}

func (f *FlashLoan) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s", f.ActionID, f.AssetSymbol)
}

func (f *FlashLoan) EventType() EventType {
	return EventTypeFlashLoan
}

func (f *FlashLoan) Asset() *string {
	return &f.AssetSymbol
}
