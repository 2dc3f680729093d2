package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// InvariantValidator checks book-level invariants after mutations. The pool
// engine runs it before committing a cloned state; a violation there means a
// bug, not bad input.
type InvariantValidator struct{}

func NewInvariantValidator() *InvariantValidator {
	return &InvariantValidator{}
}

// ValidateBatchBalance verifies a journal batch is balanced and well-formed.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateBookSupply verifies a book's total supply equals the sum of its
// holder balances.
func (v *InvariantValidator) ValidateBookSupply(asset string, book *AccountBook) error {
	sum := uint256.NewInt(0)
	for _, h := range book.Holders() {
		sum.Add(sum, book.BalanceOf(h))
	}
	if !sum.Eq(book.TotalSupply()) {
		return fmt.Errorf("book %s total supply %s != sum of balances %s",
			asset, book.TotalSupply().Dec(), sum.Dec())
	}
	return nil
}

// ValidateScaledTotal verifies a scaled ledger's running total equals the
// sum of its holder scaled balances.
func ValidateScaledTotal[K comparable](asset string, l *ScaledLedger[K]) error {
	sum := uint256.NewInt(0)
	for _, h := range l.Holders() {
		sum.Add(sum, l.ScaledBalanceOf(h))
	}
	if !sum.Eq(l.TotalScaled()) {
		return fmt.Errorf("scaled ledger %s total %s != sum of balances %s",
			asset, l.TotalScaled().Dec(), sum.Dec())
	}
	return nil
}
