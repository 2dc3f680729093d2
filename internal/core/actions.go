package core

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/event"
	"lendpool/internal/fixedmath"
	"lendpool/internal/ledger"
	"lendpool/internal/reserve"
)

// EntireBalance is the sentinel amount requesting the caller's full balance
// (withdraw) or full debt (repay).
var EntireBalance = new(uint256.Int).SetAllOne()

// Action carries the fields every command shares. Timestamp is the versioned
// action time in epoch seconds; the engine never substitutes the wall clock.
type Action struct {
	ActionID  uuid.UUID
	Timestamp uint64
}

type DepositCommand struct {
	Action
	User   uuid.UUID
	Asset  string
	Amount *uint256.Int
}

type WithdrawCommand struct {
	Action
	User   uuid.UUID
	Asset  string
	Amount *uint256.Int // EntireBalance withdraws everything
}

type BorrowCommand struct {
	Action
	User   uuid.UUID
	Asset  string
	Amount *uint256.Int
	Mode   event.RateMode
}

type RepayCommand struct {
	Action
	Payer      uuid.UUID
	OnBehalfOf uuid.UUID
	Asset      string
	Amount     *uint256.Int // EntireBalance repays the full debt
	Mode       event.RateMode
}

type SwapRateModeCommand struct {
	Action
	User     uuid.UUID
	Asset    string
	FromMode event.RateMode
}

type RebalanceCommand struct {
	Action
	Caller uuid.UUID
	User   uuid.UUID
	Asset  string
}

type SetCollateralCommand struct {
	Action
	User            uuid.UUID
	Asset           string
	UseAsCollateral bool
}

// errOrNil avoids returning a typed-nil *Error through the error interface.
func errOrNil(aerr *Error) error {
	if aerr != nil {
		return aerr
	}
	return nil
}

// reserveDataEvent snapshots a reserve's post-action rates and indices.
func (e *PoolEngine) reserveDataEvent(r *reserve.Reserve, now uint64) *event.ReserveDataUpdated {
	return &event.ReserveDataUpdated{
		AssetSymbol:         r.Asset,
		LiquidityRate:       r.CurrentLiquidityRate.Dec(),
		StableBorrowRate:    r.CurrentStableBorrowRate.Dec(),
		VariableBorrowRate:  r.CurrentVariableBorrowRate.Dec(),
		LiquidityIndex:      r.LiquidityIndex.Dec(),
		VariableBorrowIndex: r.VariableBorrowIndex.Dec(),
		Sequence:            e.journalGen.Sequence(),
		Timestamp:           int64(now),
	}
}

// updateReserveRates recomputes a reserve's rates from the oracle's market
// borrow rate.
func (e *PoolEngine) updateReserveRates(r *reserve.Reserve, now uint64) *Error {
	marketRate := e.ctx.RateOracle.GetMarketBorrowRate(r.Asset)
	if err := r.UpdateRates(now, marketRate); err != nil {
		return asCoded(err)
	}
	return nil
}

// Deposit supplies underlying to a reserve and mints receipt tokens at the
// current liquidity index.
func (e *PoolEngine) Deposit(cmd DepositCommand) error {
	return errOrNil(e.process("Deposit", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		if aerr := validAmount(cmd.Amount); aerr != nil {
			return nil, aerr
		}
		r, aerr := st.activeReserve(cmd.Asset)
		if aerr != nil {
			return nil, aerr
		}
		if aerr := checkDepositableReserve(r); aerr != nil {
			return nil, aerr
		}
		if err := r.Accrue(cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}
		if aerr := e.checkSupplyCap(r, cmd.Amount); aerr != nil {
			return nil, aerr
		}

		holder := ledger.UserHolder(cmd.User)
		if _, err := r.Liquidity.Mint(holder, cmd.Amount, r.LiquidityIndex); err != nil {
			return nil, asCoded(err)
		}
		if err := r.Underlying.Mint(r.Holder(), cmd.Amount); err != nil {
			return nil, asCoded(err)
		}
		if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		// First deposit into a collateral-capable reserve elects it as
		// collateral automatically.
		events := []event.Event{}
		if r.Config.UsageAsCollateralEnabled && r.Config.LiquidationThresholdBps > 0 &&
			!st.collateralFlag(cmd.User, cmd.Asset) {
			st.setCollateralFlag(cmd.User, cmd.Asset, true)
			events = append(events, &event.CollateralToggled{
				ActionID:    cmd.ActionID,
				User:        cmd.User,
				AssetSymbol: cmd.Asset,
				Enabled:     true,
				Timestamp:   int64(cmd.Timestamp),
			})
		}

		batch := e.journalGen.NewBatch(cmd.ActionID.String(), int64(cmd.Timestamp), ledger.Leg{
			Debit:  r.Holder(),
			Credit: ledger.ExternalHolder(cmd.User),
			Asset:  cmd.Asset,
			Amount: cmd.Amount,
			Type:   ledger.JournalTypeDeposit,
		})

		events = append([]event.Event{&event.Deposited{
			ActionID:       cmd.ActionID,
			User:           cmd.User,
			AssetSymbol:    cmd.Asset,
			Amount:         cmd.Amount.Dec(),
			LiquidityIndex: r.LiquidityIndex.Dec(),
			Timestamp:      int64(cmd.Timestamp),
		}}, events...)
		events = append(events, e.reserveDataEvent(r, cmd.Timestamp))

		return &applied{
			batch:     batch,
			events:    events,
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// Withdraw burns receipt tokens and releases underlying, refusing to leave
// the account undercollateralized.
func (e *PoolEngine) Withdraw(cmd WithdrawCommand) error {
	return errOrNil(e.process("Withdraw", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		if aerr := validAmount(cmd.Amount); aerr != nil {
			return nil, aerr
		}
		r, aerr := st.activeReserve(cmd.Asset)
		if aerr != nil {
			return nil, aerr
		}
		if err := r.Accrue(cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}

		holder := ledger.UserHolder(cmd.User)
		balance, err := r.Liquidity.BalanceOf(holder, r.LiquidityIndex)
		if err != nil {
			return nil, asCoded(err)
		}
		amount := cmd.Amount
		if amount.Eq(EntireBalance) {
			amount = balance
		}
		if balance.IsZero() || amount.Gt(balance) {
			return nil, E(CodeInsufficientBalance, "balance %s, requested %s of %s",
				balance.Dec(), amount.Dec(), cmd.Asset)
		}
		if aerr := checkAvailableLiquidity(r, amount); aerr != nil {
			return nil, aerr
		}

		if amount.Eq(balance) {
			if _, err := r.Liquidity.BurnAll(holder, r.LiquidityIndex); err != nil {
				return nil, asCoded(err)
			}
		} else if _, err := r.Liquidity.Burn(holder, amount, r.LiquidityIndex); err != nil {
			return nil, asCoded(err)
		}
		if err := r.Underlying.Burn(r.Holder(), amount); err != nil {
			return nil, asCoded(err)
		}
		if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		events := []event.Event{&event.Withdrawn{
			ActionID:       cmd.ActionID,
			User:           cmd.User,
			AssetSymbol:    cmd.Asset,
			Amount:         amount.Dec(),
			LiquidityIndex: r.LiquidityIndex.Dec(),
			Timestamp:      int64(cmd.Timestamp),
		}}

		if r.Liquidity.ScaledBalanceOf(holder).IsZero() && st.collateralFlag(cmd.User, cmd.Asset) {
			st.setCollateralFlag(cmd.User, cmd.Asset, false)
			events = append(events, &event.CollateralToggled{
				ActionID:    cmd.ActionID,
				User:        cmd.User,
				AssetSymbol: cmd.Asset,
				Enabled:     false,
				Timestamp:   int64(cmd.Timestamp),
			})
		}

		// The mutated clone already reflects the withdrawal, so the health
		// check prices the post-state. Failure discards the clone whole.
		data, aerr := e.accountData(st, cmd.User, cmd.Timestamp)
		if aerr != nil {
			return nil, aerr
		}
		if !data.TotalDebtUSD.IsZero() && data.HealthFactor.Lt(fixedmath.Ray) {
			return nil, E(CodeHealthFactorBelowThreshold,
				"withdrawal would leave health factor %s", data.HealthFactor.Dec())
		}

		batch := e.journalGen.NewBatch(cmd.ActionID.String(), int64(cmd.Timestamp), ledger.Leg{
			Debit:  ledger.ExternalHolder(cmd.User),
			Credit: r.Holder(),
			Asset:  cmd.Asset,
			Amount: amount,
			Type:   ledger.JournalTypeWithdrawal,
		})
		events = append(events, e.reserveDataEvent(r, cmd.Timestamp))

		return &applied{
			batch:     batch,
			events:    events,
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// Borrow draws underlying against the caller's collateral at a stable or
// variable rate.
func (e *PoolEngine) Borrow(cmd BorrowCommand) error {
	return errOrNil(e.process("Borrow", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		if aerr := validAmount(cmd.Amount); aerr != nil {
			return nil, aerr
		}
		if cmd.Mode != event.RateModeStable && cmd.Mode != event.RateModeVariable {
			return nil, E(CodeInvalidRateMode, "rate mode %d", cmd.Mode)
		}
		r, aerr := st.activeReserve(cmd.Asset)
		if aerr != nil {
			return nil, aerr
		}
		if aerr := checkBorrowableReserve(r); aerr != nil {
			return nil, aerr
		}
		if err := r.Accrue(cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}
		if aerr := checkAvailableLiquidity(r, cmd.Amount); aerr != nil {
			return nil, aerr
		}
		if aerr := e.checkBorrowCap(r, cmd.Amount, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		price, aerr := e.assetPrice(cmd.Asset)
		if aerr != nil {
			return nil, aerr
		}
		amountUSD, err := usdValue(cmd.Amount, price, r.Config.Decimals)
		if err != nil {
			return nil, asCoded(err)
		}
		data, aerr := e.accountData(st, cmd.User, cmd.Timestamp)
		if aerr != nil {
			return nil, aerr
		}
		if amountUSD.Gt(data.AvailableBorrowsUSD) {
			return nil, E(CodeCollateralCannotCoverBorrow,
				"borrowing power %s USD, requested %s USD", data.AvailableBorrowsUSD.Dec(), amountUSD.Dec())
		}

		holder := ledger.UserHolder(cmd.User)
		var rate *uint256.Int
		switch cmd.Mode {
		case event.RateModeStable:
			if aerr := e.checkStableBorrow(r, cmd.Amount); aerr != nil {
				return nil, aerr
			}
			rate = new(uint256.Int).Set(r.CurrentStableBorrowRate)
			if err := r.StableDebt.Mint(holder, cmd.Amount, rate, cmd.Timestamp); err != nil {
				return nil, asCoded(err)
			}
		case event.RateModeVariable:
			rate = new(uint256.Int).Set(r.CurrentVariableBorrowRate)
			if _, err := r.VariableDebt.Mint(holder, cmd.Amount, r.VariableBorrowIndex); err != nil {
				return nil, asCoded(err)
			}
		}
		if err := r.Underlying.Burn(r.Holder(), cmd.Amount); err != nil {
			return nil, asCoded(err)
		}
		if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		batch := e.journalGen.NewBatch(cmd.ActionID.String(), int64(cmd.Timestamp), ledger.Leg{
			Debit:  ledger.ExternalHolder(cmd.User),
			Credit: r.Holder(),
			Asset:  cmd.Asset,
			Amount: cmd.Amount,
			Type:   ledger.JournalTypeBorrow,
		})

		return &applied{
			batch: batch,
			events: []event.Event{
				&event.Borrowed{
					ActionID:    cmd.ActionID,
					User:        cmd.User,
					AssetSymbol: cmd.Asset,
					Amount:      cmd.Amount.Dec(),
					Mode:        cmd.Mode,
					Rate:        rate.Dec(),
					Timestamp:   int64(cmd.Timestamp),
				},
				e.reserveDataEvent(r, cmd.Timestamp),
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// Repay retires stable or variable debt. Overpayment is clamped to the debt
// outstanding.
func (e *PoolEngine) Repay(cmd RepayCommand) error {
	return errOrNil(e.process("Repay", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		if aerr := validAmount(cmd.Amount); aerr != nil {
			return nil, aerr
		}
		if cmd.Mode != event.RateModeStable && cmd.Mode != event.RateModeVariable {
			return nil, E(CodeInvalidRateMode, "rate mode %d", cmd.Mode)
		}
		r, aerr := st.activeReserve(cmd.Asset)
		if aerr != nil {
			return nil, aerr
		}
		if err := r.Accrue(cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}

		holder := ledger.UserHolder(cmd.OnBehalfOf)
		var debt *uint256.Int
		var err error
		switch cmd.Mode {
		case event.RateModeStable:
			debt, err = r.StableDebt.BalanceOf(holder, cmd.Timestamp)
		case event.RateModeVariable:
			debt, err = r.VariableDebt.BalanceOf(holder, r.VariableBorrowIndex)
		}
		if err != nil {
			return nil, asCoded(err)
		}
		if debt.IsZero() {
			return nil, E(CodeNoDebtOfSelectedType, "no %s debt on %s", cmd.Mode, cmd.Asset)
		}

		payback := cmd.Amount
		if payback.Eq(EntireBalance) || payback.Gt(debt) {
			payback = debt
		}

		switch cmd.Mode {
		case event.RateModeStable:
			if err := r.StableDebt.Burn(holder, payback, cmd.Timestamp); err != nil {
				return nil, asCoded(err)
			}
		case event.RateModeVariable:
			if payback.Eq(debt) {
				if _, err := r.VariableDebt.BurnAll(holder, r.VariableBorrowIndex); err != nil {
					return nil, asCoded(err)
				}
			} else if _, err := r.VariableDebt.Burn(holder, payback, r.VariableBorrowIndex); err != nil {
				return nil, asCoded(err)
			}
		}
		if err := r.Underlying.Mint(r.Holder(), payback); err != nil {
			return nil, asCoded(err)
		}
		if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		batch := e.journalGen.NewBatch(cmd.ActionID.String(), int64(cmd.Timestamp), ledger.Leg{
			Debit:  r.Holder(),
			Credit: ledger.ExternalHolder(cmd.Payer),
			Asset:  cmd.Asset,
			Amount: payback,
			Type:   ledger.JournalTypeRepay,
		})

		return &applied{
			batch: batch,
			events: []event.Event{
				&event.Repaid{
					ActionID:    cmd.ActionID,
					User:        cmd.OnBehalfOf,
					Payer:       cmd.Payer,
					AssetSymbol: cmd.Asset,
					Amount:      payback.Dec(),
					Mode:        cmd.Mode,
					Timestamp:   int64(cmd.Timestamp),
				},
				e.reserveDataEvent(r, cmd.Timestamp),
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// SwapRateMode moves the caller's entire debt in one asset between stable and
// variable pricing.
func (e *PoolEngine) SwapRateMode(cmd SwapRateModeCommand) error {
	return errOrNil(e.process("SwapRateMode", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		r, aerr := st.activeReserve(cmd.Asset)
		if aerr != nil {
			return nil, aerr
		}
		if r.Status == reserve.StatusFrozen {
			return nil, E(CodeReserveFrozen, "reserve %s is frozen", cmd.Asset)
		}
		if err := r.Accrue(cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}

		holder := ledger.UserHolder(cmd.User)
		var amount *uint256.Int
		var toMode event.RateMode

		switch cmd.FromMode {
		case event.RateModeVariable:
			debt, err := r.VariableDebt.BalanceOf(holder, r.VariableBorrowIndex)
			if err != nil {
				return nil, asCoded(err)
			}
			if debt.IsZero() {
				return nil, E(CodeNoDebtOfSelectedType, "no variable debt on %s", cmd.Asset)
			}
			if aerr := e.checkStableBorrow(r, debt); aerr != nil {
				return nil, aerr
			}
			if _, err := r.VariableDebt.BurnAll(holder, r.VariableBorrowIndex); err != nil {
				return nil, asCoded(err)
			}
			if err := r.StableDebt.Mint(holder, debt, r.CurrentStableBorrowRate, cmd.Timestamp); err != nil {
				return nil, asCoded(err)
			}
			amount, toMode = debt, event.RateModeStable

		case event.RateModeStable:
			debt, err := r.StableDebt.BalanceOf(holder, cmd.Timestamp)
			if err != nil {
				return nil, asCoded(err)
			}
			if debt.IsZero() {
				return nil, E(CodeNoDebtOfSelectedType, "no stable debt on %s", cmd.Asset)
			}
			if err := r.StableDebt.Burn(holder, debt, cmd.Timestamp); err != nil {
				return nil, asCoded(err)
			}
			if _, err := r.VariableDebt.Mint(holder, debt, r.VariableBorrowIndex); err != nil {
				return nil, asCoded(err)
			}
			amount, toMode = debt, event.RateModeVariable

		default:
			return nil, E(CodeInvalidRateMode, "rate mode %d", cmd.FromMode)
		}

		if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		return &applied{
			events: []event.Event{
				&event.SwappedRateMode{
					ActionID:    cmd.ActionID,
					User:        cmd.User,
					AssetSymbol: cmd.Asset,
					Amount:      amount.Dec(),
					FromMode:    cmd.FromMode,
					ToMode:      toMode,
					Timestamp:   int64(cmd.Timestamp),
				},
				e.reserveDataEvent(r, cmd.Timestamp),
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// RebalanceStableBorrowRate re-fixes a stable borrower onto the current
// stable rate once utilization has pushed past the rebalance threshold.
func (e *PoolEngine) RebalanceStableBorrowRate(cmd RebalanceCommand) error {
	return errOrNil(e.process("RebalanceStableBorrowRate", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		r, aerr := st.activeReserve(cmd.Asset)
		if aerr != nil {
			return nil, aerr
		}
		if err := r.Accrue(cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}

		holder := ledger.UserHolder(cmd.User)
		oldRate := r.StableDebt.RateOf(holder)
		if r.StableDebt.PrincipalOf(holder).IsZero() {
			return nil, E(CodeNoDebtOfSelectedType, "no stable debt on %s", cmd.Asset)
		}

		utilization, err := r.Utilization(cmd.Timestamp)
		if err != nil {
			return nil, asCoded(err)
		}
		threshold, err := fixedmath.PercentMul(fixedmath.Ray, uint256.NewInt(e.ctx.Params.RebalanceUsageThresholdBps))
		if err != nil {
			return nil, asCoded(err)
		}
		if utilization.Lt(threshold) {
			return nil, E(CodeRebalanceConditionsNotMet,
				"utilization %s below rebalance threshold", utilization.Dec())
		}

		if err := r.StableDebt.Rebalance(holder, r.CurrentStableBorrowRate, cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}
		newRate := r.StableDebt.RateOf(holder)
		if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		return &applied{
			events: []event.Event{
				&event.RebalancedStableRate{
					ActionID:    cmd.ActionID,
					User:        cmd.User,
					AssetSymbol: cmd.Asset,
					OldRate:     oldRate.Dec(),
					NewRate:     newRate.Dec(),
					Timestamp:   int64(cmd.Timestamp),
				},
				e.reserveDataEvent(r, cmd.Timestamp),
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// SetUserUseReserveAsCollateral flips the caller's collateral election on one
// reserve, refusing a disable that would break the health factor.
func (e *PoolEngine) SetUserUseReserveAsCollateral(cmd SetCollateralCommand) error {
	return errOrNil(e.process("SetUserUseReserveAsCollateral", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		r, aerr := st.activeReserve(cmd.Asset)
		if aerr != nil {
			return nil, aerr
		}
		holder := ledger.UserHolder(cmd.User)
		if r.Liquidity.ScaledBalanceOf(holder).IsZero() {
			return nil, E(CodeInsufficientBalance, "no deposit in %s", cmd.Asset)
		}
		if cmd.UseAsCollateral {
			if !r.Config.UsageAsCollateralEnabled || r.Config.LiquidationThresholdBps == 0 {
				return nil, E(CodeCollateralDisabled, "%s cannot back borrows", cmd.Asset)
			}
		}

		st.setCollateralFlag(cmd.User, cmd.Asset, cmd.UseAsCollateral)

		if !cmd.UseAsCollateral {
			data, aerr := e.accountData(st, cmd.User, cmd.Timestamp)
			if aerr != nil {
				return nil, aerr
			}
			if !data.TotalDebtUSD.IsZero() && data.HealthFactor.Lt(fixedmath.Ray) {
				return nil, E(CodeHealthFactorBelowThreshold,
					"disabling collateral would leave health factor %s", data.HealthFactor.Dec())
			}
		}

		return &applied{
			events: []event.Event{
				&event.CollateralToggled{
					ActionID:    cmd.ActionID,
					User:        cmd.User,
					AssetSymbol: cmd.Asset,
					Enabled:     cmd.UseAsCollateral,
					Timestamp:   int64(cmd.Timestamp),
				},
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}
