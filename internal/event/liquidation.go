// internal/event/liquidation.go
package event

import "github.com/google/uuid"

// LiquidationCall is emitted after a successful liquidation. DebtCovered is
// the debt actually extinguished (possibly scaled down by available
// collateral); HealthFactor is the user's HF before the call, in ray.
type LiquidationCall struct {
	ActionID         uuid.UUID `json:"action_id"`
	Liquidator       uuid.UUID `json:"liquidator"`
	User             uuid.UUID `json:"user"`
	CollateralAsset  string    `json:"collateral_asset"`
	DebtAsset        string    `json:"debt_asset"`
	DebtCovered      string    `json:"debt_covered"`
	CollateralSeized string    `json:"collateral_seized"`
	Mode             RateMode  `json:"rate_mode"`
	HealthFactor     string    `json:"health_factor"`
	Timestamp        int64     `json:"timestamp"`
}

func (l *LiquidationCall) IdempotencyKey() string {
	return l.ActionID.String()
}

func (l *LiquidationCall) EventType() EventType {
	return EventTypeLiquidationCall
}

func (l *LiquidationCall) Asset() *string {
	return &l.DebtAsset
}
