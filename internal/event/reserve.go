// internal/event/reserve.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// ReserveDataUpdated is emitted whenever a reserve's indices or rates move,
// carrying the literal post-action values for off-line reconciliation.
type ReserveDataUpdated struct {
	AssetSymbol         string `json:"asset"`
	LiquidityRate       string `json:"liquidity_rate"`
	StableBorrowRate    string `json:"stable_borrow_rate"`
	VariableBorrowRate  string `json:"variable_borrow_rate"`
	LiquidityIndex      string `json:"liquidity_index"`
	VariableBorrowIndex string `json:"variable_borrow_index"`
	Sequence            int64  `json:"sequence"`
	Timestamp           int64  `json:"timestamp"`
}

func (r *ReserveDataUpdated) IdempotencyKey() string {
	return fmt.Sprintf("reserve_data:%s:%d", r.AssetSymbol, r.Sequence)
}

func (r *ReserveDataUpdated) EventType() EventType {
	return EventTypeReserveDataUpdated
}

func (r *ReserveDataUpdated) Asset() *string {
	return &r.AssetSymbol
}

// ReserveInitialized is emitted when a configurator lists a new asset.
type ReserveInitialized struct {
	ActionID    uuid.UUID `json:"action_id"`
	AssetSymbol string    `json:"asset"`
	Decimals    uint8     `json:"decimals"`
	Timestamp   int64     `json:"timestamp"`
}

func (r *ReserveInitialized) IdempotencyKey() string {
	return r.ActionID.String()
}

func (r *ReserveInitialized) EventType() EventType {
	return EventTypeReserveInitialized
}

func (r *ReserveInitialized) Asset() *string {
	return &r.AssetSymbol
}

// ReserveStatusChanged is emitted on activate/freeze/deactivate.
type ReserveStatusChanged struct {
	ActionID    uuid.UUID `json:"action_id"`
	AssetSymbol string    `json:"asset"`
	OldStatus   string    `json:"old_status"`
	NewStatus   string    `json:"new_status"`
	Timestamp   int64     `json:"timestamp"`
}

func (r *ReserveStatusChanged) IdempotencyKey() string {
	return r.ActionID.String()
}

func (r *ReserveStatusChanged) EventType() EventType {
	return EventTypeReserveStatusChanged
}

func (r *ReserveStatusChanged) Asset() *string {
	return &r.AssetSymbol
}

// ReserveConfigChanged is emitted when a configurator changes caps, risk
// parameters or flags. Old and New are JSON-encoded configs so auditors get
// the literal pre/post values.
type ReserveConfigChanged struct {
	ActionID    uuid.UUID `json:"action_id"`
	AssetSymbol string    `json:"asset"`
	Old         string    `json:"old"`
	New         string    `json:"new"`
	Timestamp   int64     `json:"timestamp"`
}

func (r *ReserveConfigChanged) IdempotencyKey() string {
	return r.ActionID.String()
}

func (r *ReserveConfigChanged) EventType() EventType {
	return EventTypeReserveConfigChanged
}

func (r *ReserveConfigChanged) Asset() *string {
	return &r.AssetSymbol
}

// CollateralToggled is emitted when a user flips usage-as-collateral for a
// reserve, or when liquidation clears the flags of an emptied position.
type CollateralToggled struct {
	ActionID    uuid.UUID `json:"action_id"`
	User        uuid.UUID `json:"user"`
	AssetSymbol string    `json:"asset"`
	Enabled     bool      `json:"enabled"`
	Timestamp   int64     `json:"timestamp"`
}

func (c *CollateralToggled) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s", c.ActionID, c.AssetSymbol)
}

func (c *CollateralToggled) EventType() EventType {
	return EventTypeCollateralToggled
}

func (c *CollateralToggled) Asset() *string {
	return &c.AssetSymbol
}

// TreasuryWithdrawal is emitted when accrued protocol fees are withdrawn.
type TreasuryWithdrawal struct {
	ActionID    uuid.UUID `json:"action_id"`
	AssetSymbol string    `json:"asset"`
	To          uuid.UUID `json:"to"`
	Amount      string    `json:"amount"`
	Timestamp   int64     `json:"timestamp"`
}

func (t *TreasuryWithdrawal) IdempotencyKey() string {
	return t.ActionID.String()
}

func (t *TreasuryWithdrawal) EventType() EventType {
	return EventTypeTreasuryWithdrawal
}

func (t *TreasuryWithdrawal) Asset() *string {
	return &t.AssetSymbol
}
