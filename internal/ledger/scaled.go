package ledger

import (
	"errors"

	"github.com/holiman/uint256"

	"lendpool/internal/fixedmath"
)

var (
	ErrInvalidMintAmount = errors.New("ledger: amount scales to zero")
	ErrInsufficientDebt  = errors.New("ledger: burn exceeds scaled balance")
)

// ScaledLedger stores balances divided by the index at time of storage, so
// that reading back through the current index yields the interest-accrued
// amount without per-holder updates. Used for both the liquidity receipt
// token and the variable debt token.
type ScaledLedger[K comparable] struct {
	balances    map[K]*uint256.Int
	totalScaled *uint256.Int
}

func NewScaledLedger[K comparable]() *ScaledLedger[K] {
	return &ScaledLedger[K]{
		balances:    make(map[K]*uint256.Int),
		totalScaled: uint256.NewInt(0),
	}
}

// Mint stores amount/index against the holder and returns the scaled amount
// actually recorded. An amount too small to register at the current index
// fails rather than silently minting nothing.
func (l *ScaledLedger[K]) Mint(holder K, amount, index *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	scaled, err := fixedmath.RayDiv(amount, index)
	if err != nil {
		return nil, err
	}
	if scaled.IsZero() {
		return nil, ErrInvalidMintAmount
	}
	if bal, ok := l.balances[holder]; ok {
		bal.Add(bal, scaled)
	} else {
		l.balances[holder] = new(uint256.Int).Set(scaled)
	}
	l.totalScaled.Add(l.totalScaled, scaled)
	return scaled, nil
}

// Burn removes amount/index from the holder and returns the scaled amount
// removed. Burning more than the holder's scaled balance fails.
func (l *ScaledLedger[K]) Burn(holder K, amount, index *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	scaled, err := fixedmath.RayDiv(amount, index)
	if err != nil {
		return nil, err
	}
	if scaled.IsZero() {
		return nil, ErrInvalidMintAmount
	}
	bal, ok := l.balances[holder]
	if !ok || bal.Lt(scaled) {
		return nil, ErrInsufficientDebt
	}
	bal.Sub(bal, scaled)
	if bal.IsZero() {
		delete(l.balances, holder)
	}
	l.totalScaled.Sub(l.totalScaled, scaled)
	return scaled, nil
}

// BurnAll removes the holder's entire scaled balance and returns the real
// amount at the given index. Full repayments and full withdrawals go through
// here so rounding can never strand a dust balance.
func (l *ScaledLedger[K]) BurnAll(holder K, index *uint256.Int) (*uint256.Int, error) {
	bal, ok := l.balances[holder]
	if !ok {
		return uint256.NewInt(0), nil
	}
	real, err := fixedmath.RayMul(bal, index)
	if err != nil {
		return nil, err
	}
	l.totalScaled.Sub(l.totalScaled, bal)
	delete(l.balances, holder)
	return real, nil
}

// BalanceOf returns the holder's real balance at the given index.
func (l *ScaledLedger[K]) BalanceOf(holder K, index *uint256.Int) (*uint256.Int, error) {
	bal, ok := l.balances[holder]
	if !ok {
		return uint256.NewInt(0), nil
	}
	return fixedmath.RayMul(bal, index)
}

// ScaledBalanceOf returns a copy of the holder's stored scaled balance.
func (l *ScaledLedger[K]) ScaledBalanceOf(holder K) *uint256.Int {
	if bal, ok := l.balances[holder]; ok {
		return new(uint256.Int).Set(bal)
	}
	return uint256.NewInt(0)
}

// TotalScaled returns a copy of the running scaled total.
func (l *ScaledLedger[K]) TotalScaled() *uint256.Int {
	return new(uint256.Int).Set(l.totalScaled)
}

// TotalSupply returns the real total at the given index.
func (l *ScaledLedger[K]) TotalSupply(index *uint256.Int) (*uint256.Int, error) {
	return fixedmath.RayMul(l.totalScaled, index)
}

// Holders returns the holders with nonzero scaled balances.
func (l *ScaledLedger[K]) Holders() []K {
	out := make([]K, 0, len(l.balances))
	for h := range l.balances {
		out = append(out, h)
	}
	return out
}

// RestoreBalance installs a scaled balance directly, bypassing index math.
// Used when rebuilding state from a snapshot.
func (l *ScaledLedger[K]) RestoreBalance(holder K, scaled *uint256.Int) {
	if scaled.IsZero() {
		return
	}
	if prev, ok := l.balances[holder]; ok {
		l.totalScaled.Sub(l.totalScaled, prev)
	}
	l.balances[holder] = new(uint256.Int).Set(scaled)
	l.totalScaled.Add(l.totalScaled, scaled)
}

// Clone returns a deep copy.
func (l *ScaledLedger[K]) Clone() *ScaledLedger[K] {
	out := &ScaledLedger[K]{
		balances:    make(map[K]*uint256.Int, len(l.balances)),
		totalScaled: new(uint256.Int).Set(l.totalScaled),
	}
	for h, bal := range l.balances {
		out.balances[h] = new(uint256.Int).Set(bal)
	}
	return out
}
