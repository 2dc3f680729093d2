package ledger

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator creates journal batches mirroring the balance movements
// of pool actions, for the persisted audit trail. It does not mutate any
// book; the pool engine mutates and then records.
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// Leg is one asset movement inside a pool action.
type Leg struct {
	Debit  Holder
	Credit Holder
	Asset  string
	Amount *uint256.Int
	Type   JournalType
}

// NewBatch builds a balanced batch for one pool action from its legs, in
// order. Legs with a zero amount are skipped (e.g. a zero treasury cut).
func (jg *JournalGenerator) NewBatch(actionRef string, timestamp int64, legs ...Leg) *Batch {
	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		ActionRef: actionRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(legs)),
	}
	for _, leg := range legs {
		if leg.Amount == nil || leg.Amount.IsZero() {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			ActionRef:     actionRef,
			Sequence:      jg.sequence,
			DebitAccount:  leg.Debit,
			CreditAccount: leg.Credit,
			Asset:         leg.Asset,
			Amount:        new(uint256.Int).Set(leg.Amount),
			JournalType:   leg.Type,
			Timestamp:     timestamp,
		})
	}
	jg.sequence++
	return batch
}

// Sequence returns the next sequence the generator will assign.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence resets the generator, used when restoring from a snapshot.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}
