// internal/event/borrow.go
package event

import "github.com/google/uuid"

// RateMode distinguishes stable from variable debt
type RateMode int32

const (
	RateModeNone RateMode = iota
	RateModeStable
	RateModeVariable
)

func (m RateMode) String() string {
	switch m {
	case RateModeStable:
		return "stable"
	case RateModeVariable:
		return "variable"
	}
	return "none"
}

// Borrowed is emitted after a successful borrow. Rate is the borrow rate the
// position was opened at, in ray.
type Borrowed struct {
	ActionID    uuid.UUID `json:"action_id"`
	User        uuid.UUID `json:"user"`
	AssetSymbol string    `json:"asset"`
	Amount      string    `json:"amount"`
	Mode        RateMode  `json:"rate_mode"`
	Rate        string    `json:"rate"`
	Timestamp   int64     `json:"timestamp"`
}

func (b *Borrowed) IdempotencyKey() string {
	return b.ActionID.String()
}

func (b *Borrowed) EventType() EventType {
	return EventTypeBorrowed
}

func (b *Borrowed) Asset() *string {
	return &b.AssetSymbol
}

// Repaid is emitted after a successful repayment. Amount is the amount of
// debt actually extinguished, which can undershoot the request on a
// repay-in-full.
type Repaid struct {
	ActionID    uuid.UUID `json:"action_id"`
	User        uuid.UUID `json:"user"`
	Payer       uuid.UUID `json:"payer"`
	AssetSymbol string    `json:"asset"`
	Amount      string    `json:"amount"`
	Mode        RateMode  `json:"rate_mode"`
	Timestamp   int64     `json:"timestamp"`
}

func (r *Repaid) IdempotencyKey() string {
	return r.ActionID.String()
}

func (r *Repaid) EventType() EventType {
	return EventTypeRepaid
}

func (r *Repaid) Asset() *string {
	return &r.AssetSymbol
}

// SwappedRateMode is emitted when a borrower's debt moves between stable and
// variable.
type SwappedRateMode struct {
	ActionID    uuid.UUID `json:"action_id"`
	User        uuid.UUID `json:"user"`
	AssetSymbol string    `json:"asset"`
	Amount      string    `json:"amount"`
	FromMode    RateMode  `json:"from_mode"`
	ToMode      RateMode  `json:"to_mode"`
	Timestamp   int64     `json:"timestamp"`
}

func (s *SwappedRateMode) IdempotencyKey() string {
	return s.ActionID.String()
}

func (s *SwappedRateMode) EventType() EventType {
	return EventTypeSwappedRateMode
}

func (s *SwappedRateMode) Asset() *string {
	return &s.AssetSymbol
}

// RebalancedStableRate is emitted when a stable borrower's personal rate is
// re-fixed to the current stable rate.
type RebalancedStableRate struct {
	ActionID    uuid.UUID `json:"action_id"`
	User        uuid.UUID `json:"user"`
	AssetSymbol string    `json:"asset"`
	OldRate     string    `json:"old_rate"`
	NewRate     string    `json:"new_rate"`
	Timestamp   int64     `json:"timestamp"`
}

func (r *RebalancedStableRate) IdempotencyKey() string {
	return r.ActionID.String()
}

func (r *RebalancedStableRate) EventType() EventType {
	return EventTypeRebalancedStableRate
}

func (r *RebalancedStableRate) Asset() *string {
	return &r.AssetSymbol
}
