package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposited
	EventTypeWithdrawn
	EventTypeBorrowed
	EventTypeRepaid
	EventTypeSwappedRateMode
	EventTypeRebalancedStableRate
	EventTypeFlashLoan
	EventTypeLiquidationCall
	EventTypeCollateralToggled
	EventTypeReserveInitialized
	EventTypeReserveStatusChanged
	EventTypeReserveConfigChanged
	EventTypeReserveDataUpdated
	EventTypeTreasuryWithdrawal
	EventTypePriceUpdated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the pool engine
	Sequence int64

	// Stable idempotency key of the source action
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Asset context (nullable for global events)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Asset returns the asset context (nil for global events)
	Asset() *string
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposited:
		return "Deposited"
	case EventTypeWithdrawn:
		return "Withdrawn"
	case EventTypeBorrowed:
		return "Borrowed"
	case EventTypeRepaid:
		return "Repaid"
	case EventTypeSwappedRateMode:
		return "SwappedRateMode"
	case EventTypeRebalancedStableRate:
		return "RebalancedStableRate"
	case EventTypeFlashLoan:
		return "FlashLoan"
	case EventTypeLiquidationCall:
		return "LiquidationCall"
	case EventTypeCollateralToggled:
		return "CollateralToggled"
	case EventTypeReserveInitialized:
		return "ReserveInitialized"
	case EventTypeReserveStatusChanged:
		return "ReserveStatusChanged"
	case EventTypeReserveConfigChanged:
		return "ReserveConfigChanged"
	case EventTypeReserveDataUpdated:
		return "ReserveDataUpdated"
	case EventTypeTreasuryWithdrawal:
		return "TreasuryWithdrawal"
	case EventTypePriceUpdated:
		return "PriceUpdated"
	default:
		return "Unknown"
	}
}
