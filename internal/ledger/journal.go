package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeBorrow
	JournalTypeRepay
	JournalTypeFlashLoanOut
	JournalTypeFlashLoanReturn
	JournalTypeFlashLoanPremium
	JournalTypeTreasuryAccrual
	JournalTypeTreasuryWithdrawal
	JournalTypeLiquidationRepay
	JournalTypeLiquidationSeize
)

// Journal records a single double-entry movement of an asset between two
// holders. Amounts are always positive; direction is carried by which side
// is debit and which is credit.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID    // Groups the entries of one pool action
	ActionRef     string       // Idempotency key of the source action
	Sequence      int64        // Global action sequence
	DebitAccount  Holder       // Account receiving funds
	CreditAccount Holder       // Account giving funds
	Asset         string       // Asset symbol
	Amount        *uint256.Int // Native units (ALWAYS positive)
	JournalType   JournalType
	Timestamp     int64 // Versioned input timestamp (epoch seconds)
}

// Batch represents the journal entries of one committed pool action
type Batch struct {
	BatchID   uuid.UUID
	ActionRef string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal entry is a balanced transfer by construction (a single
// positive amount moves from credit account to debit account), so
// Σ debits == Σ credits is guaranteed per-entry. Multi-leg actions (e.g.
// a liquidation's repay plus seize) use multiple entries under one batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.Asset == "" {
			return fmt.Errorf("journal %s has empty asset", j.JournalID)
		}
	}

	return nil
}
