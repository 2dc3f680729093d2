package ledger

import (
	"errors"

	"github.com/holiman/uint256"

	"lendpool/internal/fixedmath"
)

var ErrInsufficientStableDebt = errors.New("ledger: repayment exceeds stable debt")

// stablePosition is one holder's stable-rate debt: a principal, the rate
// fixed at origination (or at the last rebalance), and the timestamp the
// principal was last brought current.
type stablePosition struct {
	principal   *uint256.Int
	rate        *uint256.Int // ray
	lastUpdated uint64
}

// StableDebtLedger tracks principal-based stable debt per holder, plus a
// global total carried as (principal, weighted average rate, last accrual
// timestamp). Unlike the scaled ledgers there is no shared index: each
// position compounds at its own rate.
type StableDebtLedger[K comparable] struct {
	positions map[K]*stablePosition

	totalPrincipal  *uint256.Int
	averageRate     *uint256.Int // ray, debt-weighted
	lastTotalUpdate uint64
}

func NewStableDebtLedger[K comparable]() *StableDebtLedger[K] {
	return &StableDebtLedger[K]{
		positions:      make(map[K]*stablePosition),
		totalPrincipal: uint256.NewInt(0),
		averageRate:    uint256.NewInt(0),
	}
}

// Mint books new stable debt for the holder at the given rate. Existing debt
// is compounded into the principal first; the holder's rate becomes the
// debt-weighted blend of old and new. The global average rate is updated the
// same way.
func (l *StableDebtLedger[K]) Mint(holder K, amount, rate *uint256.Int, now uint64) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if err := l.accrueTotal(now); err != nil {
		return err
	}

	pos, ok := l.positions[holder]
	if !ok {
		pos = &stablePosition{
			principal: uint256.NewInt(0),
			rate:      uint256.NewInt(0),
		}
		l.positions[holder] = pos
	}
	accrued, err := l.accruedBalance(pos, now)
	if err != nil {
		return err
	}

	newPrincipal := new(uint256.Int).Add(accrued, amount)
	blended, err := weightedRate(accrued, pos.rate, amount, rate)
	if err != nil {
		return err
	}
	pos.principal = newPrincipal
	pos.rate = blended
	pos.lastUpdated = now

	newAverage, err := weightedRate(l.totalPrincipal, l.averageRate, amount, rate)
	if err != nil {
		return err
	}
	l.totalPrincipal.Add(l.totalPrincipal, amount)
	l.averageRate = newAverage
	return nil
}

// Burn repays amount of the holder's stable debt. Repaying more than the
// accrued balance fails; repaying the full balance clears the position.
func (l *StableDebtLedger[K]) Burn(holder K, amount *uint256.Int, now uint64) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if err := l.accrueTotal(now); err != nil {
		return err
	}

	pos, ok := l.positions[holder]
	if !ok {
		return ErrInsufficientStableDebt
	}
	accrued, err := l.accruedBalance(pos, now)
	if err != nil {
		return err
	}
	if accrued.Lt(amount) {
		return ErrInsufficientStableDebt
	}

	// Remove the repaid weight from the global average. The subtraction can
	// undershoot by rounding when the last position closes, so clamp.
	repaidWeight, err := fixedmath.RayMul(amount, pos.rate)
	if err != nil {
		return err
	}
	totalWeight, err := fixedmath.RayMul(l.totalPrincipal, l.averageRate)
	if err != nil {
		return err
	}

	if l.totalPrincipal.Gt(amount) {
		l.totalPrincipal.Sub(l.totalPrincipal, amount)
	} else {
		l.totalPrincipal = uint256.NewInt(0)
	}
	if l.totalPrincipal.IsZero() {
		l.averageRate = uint256.NewInt(0)
	} else if totalWeight.Gt(repaidWeight) {
		remaining := new(uint256.Int).Sub(totalWeight, repaidWeight)
		avg, err := fixedmath.RayDiv(remaining, l.totalPrincipal)
		if err != nil {
			return err
		}
		l.averageRate = avg
	} else {
		l.averageRate = uint256.NewInt(0)
	}

	rest := new(uint256.Int).Sub(accrued, amount)
	if rest.IsZero() {
		delete(l.positions, holder)
		return nil
	}
	pos.principal = rest
	pos.lastUpdated = now
	return nil
}

// Rebalance re-fixes the holder's rate to newRate, compounding accrued
// interest into the principal first. The global average absorbs the change.
func (l *StableDebtLedger[K]) Rebalance(holder K, newRate *uint256.Int, now uint64) error {
	pos, ok := l.positions[holder]
	if !ok {
		return ErrInsufficientStableDebt
	}
	if err := l.accrueTotal(now); err != nil {
		return err
	}
	accrued, err := l.accruedBalance(pos, now)
	if err != nil {
		return err
	}

	oldWeight, err := fixedmath.RayMul(pos.principal, pos.rate)
	if err != nil {
		return err
	}
	newWeight, err := fixedmath.RayMul(accrued, newRate)
	if err != nil {
		return err
	}
	totalWeight, err := fixedmath.RayMul(l.totalPrincipal, l.averageRate)
	if err != nil {
		return err
	}
	adjusted := new(uint256.Int)
	if totalWeight.Gt(oldWeight) {
		adjusted.Sub(totalWeight, oldWeight)
	}
	adjusted.Add(adjusted, newWeight)

	// Interest accrued since the position's last touch joins the principal.
	delta := new(uint256.Int).Sub(accrued, pos.principal)
	l.totalPrincipal.Add(l.totalPrincipal, delta)

	if l.totalPrincipal.IsZero() {
		l.averageRate = uint256.NewInt(0)
	} else {
		avg, err := fixedmath.RayDiv(adjusted, l.totalPrincipal)
		if err != nil {
			return err
		}
		l.averageRate = avg
	}

	pos.principal = accrued
	pos.rate = new(uint256.Int).Set(newRate)
	pos.lastUpdated = now
	return nil
}

// BalanceOf returns the holder's debt compounded to now at their own rate.
func (l *StableDebtLedger[K]) BalanceOf(holder K, now uint64) (*uint256.Int, error) {
	pos, ok := l.positions[holder]
	if !ok {
		return uint256.NewInt(0), nil
	}
	return l.accruedBalance(pos, now)
}

// PrincipalOf returns the holder's stored principal (no accrual).
func (l *StableDebtLedger[K]) PrincipalOf(holder K) *uint256.Int {
	if pos, ok := l.positions[holder]; ok {
		return new(uint256.Int).Set(pos.principal)
	}
	return uint256.NewInt(0)
}

// RateOf returns the holder's personal stable rate in ray.
func (l *StableDebtLedger[K]) RateOf(holder K) *uint256.Int {
	if pos, ok := l.positions[holder]; ok {
		return new(uint256.Int).Set(pos.rate)
	}
	return uint256.NewInt(0)
}

// LastUpdatedOf returns when the holder's principal was last brought current.
func (l *StableDebtLedger[K]) LastUpdatedOf(holder K) uint64 {
	if pos, ok := l.positions[holder]; ok {
		return pos.lastUpdated
	}
	return 0
}

// AverageRate returns the global debt-weighted average stable rate in ray.
func (l *StableDebtLedger[K]) AverageRate() *uint256.Int {
	return new(uint256.Int).Set(l.averageRate)
}

// TotalDebt returns the global stable debt compounded to now at the average
// rate.
func (l *StableDebtLedger[K]) TotalDebt(now uint64) (*uint256.Int, error) {
	if l.totalPrincipal.IsZero() {
		return uint256.NewInt(0), nil
	}
	elapsed := elapsedSince(l.lastTotalUpdate, now)
	factor, err := fixedmath.CompoundedInterest(l.averageRate, elapsed)
	if err != nil {
		return nil, err
	}
	return fixedmath.RayMul(l.totalPrincipal, factor)
}

// Holders returns the holders with open stable positions.
func (l *StableDebtLedger[K]) Holders() []K {
	out := make([]K, 0, len(l.positions))
	for h := range l.positions {
		out = append(out, h)
	}
	return out
}

// TotalPrincipal returns a copy of the last-accrued global principal.
func (l *StableDebtLedger[K]) TotalPrincipal() *uint256.Int {
	return new(uint256.Int).Set(l.totalPrincipal)
}

// LastTotalUpdate returns the timestamp of the last global accrual.
func (l *StableDebtLedger[K]) LastTotalUpdate() uint64 {
	return l.lastTotalUpdate
}

// RestorePosition installs a position directly, for snapshot rebuilds. The
// global totals must be restored separately with RestoreTotals.
func (l *StableDebtLedger[K]) RestorePosition(holder K, principal, rate *uint256.Int, lastUpdated uint64) {
	if principal.IsZero() {
		return
	}
	l.positions[holder] = &stablePosition{
		principal:   new(uint256.Int).Set(principal),
		rate:        new(uint256.Int).Set(rate),
		lastUpdated: lastUpdated,
	}
}

// RestoreTotals installs the global accumulator, for snapshot rebuilds.
func (l *StableDebtLedger[K]) RestoreTotals(totalPrincipal, averageRate *uint256.Int, lastTotalUpdate uint64) {
	l.totalPrincipal = new(uint256.Int).Set(totalPrincipal)
	l.averageRate = new(uint256.Int).Set(averageRate)
	l.lastTotalUpdate = lastTotalUpdate
}

// Clone returns a deep copy.
func (l *StableDebtLedger[K]) Clone() *StableDebtLedger[K] {
	out := &StableDebtLedger[K]{
		positions:       make(map[K]*stablePosition, len(l.positions)),
		totalPrincipal:  new(uint256.Int).Set(l.totalPrincipal),
		averageRate:     new(uint256.Int).Set(l.averageRate),
		lastTotalUpdate: l.lastTotalUpdate,
	}
	for h, pos := range l.positions {
		out.positions[h] = &stablePosition{
			principal:   new(uint256.Int).Set(pos.principal),
			rate:        new(uint256.Int).Set(pos.rate),
			lastUpdated: pos.lastUpdated,
		}
	}
	return out
}

// accrueTotal folds interest since lastTotalUpdate into totalPrincipal.
func (l *StableDebtLedger[K]) accrueTotal(now uint64) error {
	if l.totalPrincipal.IsZero() {
		l.lastTotalUpdate = now
		return nil
	}
	total, err := l.TotalDebt(now)
	if err != nil {
		return err
	}
	l.totalPrincipal = total
	l.lastTotalUpdate = now
	return nil
}

func (l *StableDebtLedger[K]) accruedBalance(pos *stablePosition, now uint64) (*uint256.Int, error) {
	elapsed := elapsedSince(pos.lastUpdated, now)
	factor, err := fixedmath.CompoundedInterest(pos.rate, elapsed)
	if err != nil {
		return nil, err
	}
	return fixedmath.RayMul(pos.principal, factor)
}

// weightedRate blends two (amount, rate) weights into one rate.
func weightedRate(amtA, rateA, amtB, rateB *uint256.Int) (*uint256.Int, error) {
	total := new(uint256.Int).Add(amtA, amtB)
	if total.IsZero() {
		return uint256.NewInt(0), nil
	}
	weightA, err := fixedmath.RayMul(amtA, rateA)
	if err != nil {
		return nil, err
	}
	weightB, err := fixedmath.RayMul(amtB, rateB)
	if err != nil {
		return nil, err
	}
	return fixedmath.RayDiv(new(uint256.Int).Add(weightA, weightB), total)
}

func elapsedSince(last, now uint64) uint64 {
	if now <= last {
		return 0
	}
	return now - last
}
