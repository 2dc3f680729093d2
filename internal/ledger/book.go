package ledger

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrZeroAmount          = errors.New("ledger: zero amount")
	ErrZeroHolder          = errors.New("ledger: zero holder")
)

// TokenLedger is the balance interface every token book implements: the
// underlying-asset book and the receipt/debt ledgers are all built on it or
// on the scaled variant.
type TokenLedger interface {
	Mint(to Holder, amount *uint256.Int) error
	Burn(from Holder, amount *uint256.Int) error
	Transfer(from, to Holder, amount *uint256.Int) error
	BalanceOf(h Holder) *uint256.Int
	TotalSupply() *uint256.Int
}

// AccountBook tracks one asset's balances per holder. Balances cannot go
// negative: a transfer or burn exceeding the holder's balance fails and
// mutates nothing.
type AccountBook struct {
	balances    map[Holder]*uint256.Int
	totalSupply *uint256.Int
}

func NewAccountBook() *AccountBook {
	return &AccountBook{
		balances:    make(map[Holder]*uint256.Int),
		totalSupply: uint256.NewInt(0),
	}
}

// Mint credits amount to the holder, increasing total supply.
func (b *AccountBook) Mint(to Holder, amount *uint256.Int) error {
	if to.IsZero() {
		return ErrZeroHolder
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	b.credit(to, amount)
	b.totalSupply.Add(b.totalSupply, amount)
	return nil
}

// Burn debits amount from the holder, decreasing total supply.
func (b *AccountBook) Burn(from Holder, amount *uint256.Int) error {
	if from.IsZero() {
		return ErrZeroHolder
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if err := b.debit(from, amount); err != nil {
		return err
	}
	b.totalSupply.Sub(b.totalSupply, amount)
	return nil
}

// Transfer moves amount between holders. Total supply is unchanged.
func (b *AccountBook) Transfer(from, to Holder, amount *uint256.Int) error {
	if from.IsZero() || to.IsZero() {
		return ErrZeroHolder
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if err := b.debit(from, amount); err != nil {
		return err
	}
	b.credit(to, amount)
	return nil
}

// BalanceOf returns a copy of the holder's balance.
func (b *AccountBook) BalanceOf(h Holder) *uint256.Int {
	if bal, ok := b.balances[h]; ok {
		return new(uint256.Int).Set(bal)
	}
	return uint256.NewInt(0)
}

// TotalSupply returns a copy of the book's total supply.
func (b *AccountBook) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(b.totalSupply)
}

func (b *AccountBook) credit(h Holder, amount *uint256.Int) {
	if bal, ok := b.balances[h]; ok {
		bal.Add(bal, amount)
		return
	}
	b.balances[h] = new(uint256.Int).Set(amount)
}

func (b *AccountBook) debit(h Holder, amount *uint256.Int) error {
	bal, ok := b.balances[h]
	if !ok || bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	if bal.IsZero() {
		delete(b.balances, h)
	}
	return nil
}

// RestoreBalance installs a balance directly, for snapshot rebuilds. The
// total supply is adjusted to stay consistent.
func (b *AccountBook) RestoreBalance(h Holder, amount *uint256.Int) {
	if prev, ok := b.balances[h]; ok {
		b.totalSupply.Sub(b.totalSupply, prev)
		delete(b.balances, h)
	}
	if amount.IsZero() {
		return
	}
	b.balances[h] = new(uint256.Int).Set(amount)
	b.totalSupply.Add(b.totalSupply, amount)
}

// Holders returns the holders with nonzero balances, in unspecified order.
func (b *AccountBook) Holders() []Holder {
	out := make([]Holder, 0, len(b.balances))
	for h := range b.balances {
		out = append(out, h)
	}
	return out
}

// Clone returns a deep copy. Used for snapshotting and for the
// all-or-nothing commit discipline in the pool engine.
func (b *AccountBook) Clone() *AccountBook {
	out := &AccountBook{
		balances:    make(map[Holder]*uint256.Int, len(b.balances)),
		totalSupply: new(uint256.Int).Set(b.totalSupply),
	}
	for h, bal := range b.balances {
		out.balances[h] = new(uint256.Int).Set(bal)
	}
	return out
}
