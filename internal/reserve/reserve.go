// Package reserve holds the per-asset pool state: liquidity and debt
// indices, current rates, the receipt/debt ledgers and the underlying asset
// book, plus the accrual state machine that keeps them time-accurate.
package reserve

import (
	"errors"

	"github.com/holiman/uint256"

	"lendpool/internal/fixedmath"
	"lendpool/internal/ledger"
	"lendpool/internal/rates"
)

// Status is the reserve lifecycle state. A reserve is created Uninitialized,
// becomes Active on initialization, and can be frozen or deactivated but
// never deleted.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusActive
	StatusFrozen
	StatusDeactivated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusActive:
		return "active"
	case StatusFrozen:
		return "frozen"
	case StatusDeactivated:
		return "deactivated"
	}
	return "unknown"
}

var (
	ErrAlreadyInitialized = errors.New("reserve: already initialized")
	ErrNotInitialized     = errors.New("reserve: not initialized")
	ErrNotActive          = errors.New("reserve: not active")
	ErrFrozen             = errors.New("reserve: frozen")
	ErrDeactivateNonEmpty = errors.New("reserve: cannot deactivate with outstanding liquidity")
)

// Config is the per-reserve risk and cap parameter set. Percentages are in
// basis points; caps are whole USD with 0 meaning uncapped.
type Config struct {
	Decimals                uint8  `toml:"decimals"`
	LTVBps                  uint64 `toml:"ltv_bps"`
	LiquidationThresholdBps uint64 `toml:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64 `toml:"liquidation_bonus_bps"` // 10000 = no bonus
	ReserveFactorBps        uint64 `toml:"reserve_factor_bps"`
	SupplyCapUSD            uint64 `toml:"supply_cap_usd"`
	BorrowCapUSD            uint64 `toml:"borrow_cap_usd"`
	FlashLoanLimitUSD       uint64 `toml:"flashloan_limit_usd"`

	BorrowingEnabled         bool `toml:"borrowing_enabled"`
	StableBorrowEnabled      bool `toml:"stable_borrow_enabled"`
	UsageAsCollateralEnabled bool `toml:"usage_as_collateral_enabled"`
	YieldBoostEnabled        bool `toml:"yield_boost_enabled"`
}

// Reserve is the full per-asset state. All index and rate fields are
// ray-scaled. The zero value is an uninitialized reserve.
type Reserve struct {
	Asset  string
	Status Status
	Config Config

	LiquidityIndex      *uint256.Int
	VariableBorrowIndex *uint256.Int

	CurrentLiquidityRate      *uint256.Int
	CurrentVariableBorrowRate *uint256.Int
	CurrentStableBorrowRate   *uint256.Int

	LastUpdateTimestamp uint64

	Strategy rates.Strategy

	// Liquidity is the receipt-token ledger: scaled deposits growing with
	// LiquidityIndex. VariableDebt grows with VariableBorrowIndex.
	Liquidity    *ledger.ScaledLedger[ledger.Holder]
	VariableDebt *ledger.ScaledLedger[ledger.Holder]
	StableDebt   *ledger.StableDebtLedger[ledger.Holder]

	// Underlying is the native asset book: user wallets, the reserve's
	// liquidity-holding account, the treasury.
	Underlying *ledger.AccountBook
}

// New creates an uninitialized reserve shell for an asset.
func New(asset string) *Reserve {
	return &Reserve{
		Asset:                     asset,
		Status:                    StatusUninitialized,
		LiquidityIndex:            uint256.NewInt(0),
		VariableBorrowIndex:       uint256.NewInt(0),
		CurrentLiquidityRate:      uint256.NewInt(0),
		CurrentVariableBorrowRate: uint256.NewInt(0),
		CurrentStableBorrowRate:   uint256.NewInt(0),
		Liquidity:                 ledger.NewScaledLedger[ledger.Holder](),
		VariableDebt:              ledger.NewScaledLedger[ledger.Holder](),
		StableDebt:                ledger.NewStableDebtLedger[ledger.Holder](),
		Underlying:                ledger.NewAccountBook(),
	}
}

// Initialize activates the reserve with unit indices and its configuration.
func (r *Reserve) Initialize(cfg Config, strategy rates.Strategy) error {
	if r.Status != StatusUninitialized {
		return ErrAlreadyInitialized
	}
	r.Config = cfg
	r.Strategy = strategy
	r.LiquidityIndex = new(uint256.Int).Set(fixedmath.Ray)
	r.VariableBorrowIndex = new(uint256.Int).Set(fixedmath.Ray)
	r.Status = StatusActive
	return nil
}

// Activate re-enables a frozen or deactivated reserve.
func (r *Reserve) Activate() error {
	if r.Status == StatusUninitialized {
		return ErrNotInitialized
	}
	r.Status = StatusActive
	return nil
}

// Freeze blocks new deposits and borrows; repay and withdraw stay open.
func (r *Reserve) Freeze() error {
	if r.Status == StatusUninitialized {
		return ErrNotInitialized
	}
	r.Status = StatusFrozen
	return nil
}

// Deactivate blocks everything. Requires the reserve to be empty.
func (r *Reserve) Deactivate() error {
	if r.Status == StatusUninitialized {
		return ErrNotInitialized
	}
	if !r.Liquidity.TotalScaled().IsZero() || !r.TotalScaledVariableDebt().IsZero() {
		return ErrDeactivateNonEmpty
	}
	r.Status = StatusDeactivated
	return nil
}

// Holder is the reserve's own liquidity-holding account in the Underlying
// book.
func (r *Reserve) Holder() ledger.Holder {
	return ledger.ReserveHolder(r.Asset)
}

// AvailableLiquidity is the token balance held by the reserve's
// liquidity-holding account.
func (r *Reserve) AvailableLiquidity() *uint256.Int {
	return r.Underlying.BalanceOf(r.Holder())
}

// TotalScaledVariableDebt returns the running scaled variable debt total.
func (r *Reserve) TotalScaledVariableDebt() *uint256.Int {
	return r.VariableDebt.TotalScaled()
}

// TotalVariableDebt returns the accrued variable debt at the stored index.
func (r *Reserve) TotalVariableDebt() (*uint256.Int, error) {
	return r.VariableDebt.TotalSupply(r.VariableBorrowIndex)
}

// TotalStableDebt returns the accrued stable debt at now.
func (r *Reserve) TotalStableDebt(now uint64) (*uint256.Int, error) {
	return r.StableDebt.TotalDebt(now)
}

// Accrue brings both indices current and mints the reserve-factor cut of the
// period's debt growth to the treasury. Must run before any balance-mutating
// operation; idempotent within the same timestamp.
func (r *Reserve) Accrue(now uint64) error {
	if r.Status == StatusUninitialized {
		return ErrNotInitialized
	}
	if now <= r.LastUpdateTimestamp {
		return nil
	}
	elapsed := now - r.LastUpdateTimestamp

	prevVariableDebt, err := r.TotalVariableDebt()
	if err != nil {
		return err
	}
	prevStableDebt, err := r.StableDebt.TotalDebt(r.LastUpdateTimestamp)
	if err != nil {
		return err
	}

	if !r.CurrentLiquidityRate.IsZero() {
		factor, err := fixedmath.LinearInterest(r.CurrentLiquidityRate, elapsed)
		if err != nil {
			return err
		}
		idx, err := fixedmath.RayMul(r.LiquidityIndex, factor)
		if err != nil {
			return err
		}
		r.LiquidityIndex = idx
	}

	if !r.TotalScaledVariableDebt().IsZero() {
		factor, err := fixedmath.CompoundedInterest(r.CurrentVariableBorrowRate, elapsed)
		if err != nil {
			return err
		}
		idx, err := fixedmath.RayMul(r.VariableBorrowIndex, factor)
		if err != nil {
			return err
		}
		r.VariableBorrowIndex = idx
	}

	if err := r.accrueToTreasury(prevVariableDebt, prevStableDebt, now); err != nil {
		return err
	}

	r.LastUpdateTimestamp = now
	return nil
}

// accrueToTreasury mints reserveFactor's share of the period's total debt
// growth to the treasury as receipt tokens at the fresh liquidity index.
func (r *Reserve) accrueToTreasury(prevVariableDebt, prevStableDebt *uint256.Int, now uint64) error {
	if r.Config.ReserveFactorBps == 0 {
		return nil
	}
	currVariableDebt, err := r.TotalVariableDebt()
	if err != nil {
		return err
	}
	currStableDebt, err := r.StableDebt.TotalDebt(now)
	if err != nil {
		return err
	}

	growth := uint256.NewInt(0)
	if currVariableDebt.Gt(prevVariableDebt) {
		growth.Add(growth, new(uint256.Int).Sub(currVariableDebt, prevVariableDebt))
	}
	if currStableDebt.Gt(prevStableDebt) {
		growth.Add(growth, new(uint256.Int).Sub(currStableDebt, prevStableDebt))
	}
	if growth.IsZero() {
		return nil
	}

	cut, err := fixedmath.PercentMul(growth, uint256.NewInt(r.Config.ReserveFactorBps))
	if err != nil {
		return err
	}
	if cut.IsZero() {
		return nil
	}
	_, err = r.Liquidity.Mint(ledger.TreasuryHolder(), cut, r.LiquidityIndex)
	if errors.Is(err, ledger.ErrInvalidMintAmount) {
		// Too small to register at the current index; forfeit the dust.
		return nil
	}
	return err
}

// UpdateRates reprices the reserve from its strategy and stores the result.
// Called after every balance mutation, with the post-action debt totals.
func (r *Reserve) UpdateRates(now uint64, marketBorrowRate *uint256.Int) error {
	totalVariable, err := r.TotalVariableDebt()
	if err != nil {
		return err
	}
	totalStable, err := r.StableDebt.TotalDebt(now)
	if err != nil {
		return err
	}
	out, err := r.Strategy.CalculateRates(rates.CalcInput{
		AvailableLiquidity: r.AvailableLiquidity(),
		TotalStableDebt:    totalStable,
		TotalVariableDebt:  totalVariable,
		AverageStableRate:  r.StableDebt.AverageRate(),
		MarketBorrowRate:   marketBorrowRate,
		ReserveFactorBps:   r.Config.ReserveFactorBps,
	})
	if err != nil {
		return err
	}
	r.CurrentLiquidityRate = out.LiquidityRate
	r.CurrentStableBorrowRate = out.StableBorrowRate
	r.CurrentVariableBorrowRate = out.VariableBorrowRate
	return nil
}

// Utilization returns totalDebt / (available + totalDebt) in ray at now.
func (r *Reserve) Utilization(now uint64) (*uint256.Int, error) {
	totalVariable, err := r.TotalVariableDebt()
	if err != nil {
		return nil, err
	}
	totalStable, err := r.StableDebt.TotalDebt(now)
	if err != nil {
		return nil, err
	}
	totalDebt := new(uint256.Int).Add(totalVariable, totalStable)
	if totalDebt.IsZero() {
		return uint256.NewInt(0), nil
	}
	denom := new(uint256.Int).Add(r.AvailableLiquidity(), totalDebt)
	return fixedmath.RayDiv(totalDebt, denom)
}

// NormalizedIncome projects the liquidity index to now without mutating.
// Queries use it to serve up-to-the-second balances off committed state.
func (r *Reserve) NormalizedIncome(now uint64) (*uint256.Int, error) {
	if now <= r.LastUpdateTimestamp {
		return new(uint256.Int).Set(r.LiquidityIndex), nil
	}
	factor, err := fixedmath.LinearInterest(r.CurrentLiquidityRate, now-r.LastUpdateTimestamp)
	if err != nil {
		return nil, err
	}
	return fixedmath.RayMul(r.LiquidityIndex, factor)
}

// NormalizedVariableDebt projects the variable borrow index to now without
// mutating.
func (r *Reserve) NormalizedVariableDebt(now uint64) (*uint256.Int, error) {
	if now <= r.LastUpdateTimestamp {
		return new(uint256.Int).Set(r.VariableBorrowIndex), nil
	}
	factor, err := fixedmath.CompoundedInterest(r.CurrentVariableBorrowRate, now-r.LastUpdateTimestamp)
	if err != nil {
		return nil, err
	}
	return fixedmath.RayMul(r.VariableBorrowIndex, factor)
}

// Clone returns a deep copy sharing only the strategy (immutable).
func (r *Reserve) Clone() *Reserve {
	return &Reserve{
		Asset:                     r.Asset,
		Status:                    r.Status,
		Config:                    r.Config,
		LiquidityIndex:            new(uint256.Int).Set(r.LiquidityIndex),
		VariableBorrowIndex:       new(uint256.Int).Set(r.VariableBorrowIndex),
		CurrentLiquidityRate:      new(uint256.Int).Set(r.CurrentLiquidityRate),
		CurrentVariableBorrowRate: new(uint256.Int).Set(r.CurrentVariableBorrowRate),
		CurrentStableBorrowRate:   new(uint256.Int).Set(r.CurrentStableBorrowRate),
		LastUpdateTimestamp:       r.LastUpdateTimestamp,
		Strategy:                  r.Strategy,
		Liquidity:                 r.Liquidity.Clone(),
		VariableDebt:              r.VariableDebt.Clone(),
		StableDebt:                r.StableDebt.Clone(),
		Underlying:                r.Underlying.Clone(),
	}
}
