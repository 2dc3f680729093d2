package core

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/event"
	"lendpool/internal/ledger"
	"lendpool/internal/rates"
	"lendpool/internal/reserve"
)

// Configurator actions mutate reserve listings and parameters. Every one is
// role-gated; the caller's identity is part of the command, not ambient.

type InitReserveCommand struct {
	Action
	Admin    uuid.UUID
	Asset    string
	Config   reserve.Config
	Strategy rates.Strategy
}

type SetReserveConfigCommand struct {
	Action
	Admin  uuid.UUID
	Asset  string
	Config reserve.Config
}

type SetReserveStatusCommand struct {
	Action
	Admin  uuid.UUID
	Asset  string
	Status reserve.Status
}

type SetReserveStrategyCommand struct {
	Action
	Admin    uuid.UUID
	Asset    string
	Strategy rates.Strategy
}

type TreasuryWithdrawCommand struct {
	Action
	Admin  uuid.UUID
	Asset  string
	To     uuid.UUID
	Amount *uint256.Int // EntireBalance drains the accrued fees
}

func (e *PoolEngine) requireRole(role Role, account uuid.UUID) *Error {
	if !e.ctx.Roles.HasRole(role, account) {
		return E(CodeUnauthorized, "account %s lacks role %s", account, role)
	}
	return nil
}

// InitReserve lists a new asset with unit indices and the given strategy.
func (e *PoolEngine) InitReserve(cmd InitReserveCommand) error {
	return errOrNil(e.process("InitReserve", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		if aerr := e.requireRole(RolePoolAdmin, cmd.Admin); aerr != nil {
			return nil, aerr
		}
		if cmd.Asset == "" || len(cmd.Asset) > 16 {
			return nil, E(CodeInvalidConfiguration, "asset symbol %q", cmd.Asset)
		}
		if cmd.Strategy == nil {
			return nil, E(CodeInvalidConfiguration, "missing rate strategy")
		}
		if _, exists := st.reserve(cmd.Asset); exists {
			return nil, E(CodeReserveAlreadyInitialized, "reserve %s already listed", cmd.Asset)
		}
		if len(st.order) >= e.ctx.Params.MaxReserves {
			return nil, E(CodeMaxReservesReached, "pool holds %d reserves", len(st.order))
		}
		if err := reserve.ValidateConfig(cmd.Config); err != nil {
			return nil, WrapErr(CodeInvalidConfiguration, err)
		}

		r := reserve.New(cmd.Asset)
		if err := r.Initialize(cmd.Config, cmd.Strategy); err != nil {
			return nil, asCoded(err)
		}
		r.LastUpdateTimestamp = cmd.Timestamp
		st.addReserve(r)

		return &applied{
			events: []event.Event{
				&event.ReserveInitialized{
					ActionID:    cmd.ActionID,
					AssetSymbol: cmd.Asset,
					Decimals:    cmd.Config.Decimals,
					Timestamp:   int64(cmd.Timestamp),
				},
				e.reserveDataEvent(r, cmd.Timestamp),
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// SetReserveConfig replaces a reserve's configuration, logging the literal
// pre/post values.
func (e *PoolEngine) SetReserveConfig(cmd SetReserveConfigCommand) error {
	return errOrNil(e.process("SetReserveConfig", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		if aerr := e.requireRole(RoleRiskAdmin, cmd.Admin); aerr != nil {
			return nil, aerr
		}
		r, ok := st.reserve(cmd.Asset)
		if !ok {
			return nil, E(CodeReserveDoesNotExist, "reserve %s not listed", cmd.Asset)
		}
		if err := reserve.ValidateConfig(cmd.Config); err != nil {
			return nil, WrapErr(CodeInvalidConfiguration, err)
		}
		if cmd.Config.Decimals != r.Config.Decimals {
			return nil, E(CodeInvalidConfiguration, "decimals are immutable after listing")
		}
		// Dropping the liquidation threshold to zero would strand existing
		// depositors' collateral, so it is only allowed on an empty reserve.
		if cmd.Config.LiquidationThresholdBps == 0 && r.Config.LiquidationThresholdBps != 0 &&
			!r.Liquidity.TotalScaled().IsZero() {
			return nil, E(CodeReserveNotEmpty,
				"cannot zero the liquidation threshold of %s while deposits exist", cmd.Asset)
		}

		// Bring accrual current under the old reserve factor before the new
		// one takes effect.
		if err := r.Accrue(cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}

		oldJSON, _ := json.Marshal(r.Config)
		r.Config = cmd.Config
		newJSON, _ := json.Marshal(r.Config)

		if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		return &applied{
			events: []event.Event{
				&event.ReserveConfigChanged{
					ActionID:    cmd.ActionID,
					AssetSymbol: cmd.Asset,
					Old:         string(oldJSON),
					New:         string(newJSON),
					Timestamp:   int64(cmd.Timestamp),
				},
				e.reserveDataEvent(r, cmd.Timestamp),
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// SetReserveStatus freezes, reactivates or deactivates a reserve.
func (e *PoolEngine) SetReserveStatus(cmd SetReserveStatusCommand) error {
	return errOrNil(e.process("SetReserveStatus", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		if aerr := e.requireRole(RoleEmergencyAdmin, cmd.Admin); aerr != nil {
			return nil, aerr
		}
		r, ok := st.reserve(cmd.Asset)
		if !ok {
			return nil, E(CodeReserveDoesNotExist, "reserve %s not listed", cmd.Asset)
		}
		oldStatus := r.Status

		var err error
		switch cmd.Status {
		case reserve.StatusActive:
			err = r.Activate()
		case reserve.StatusFrozen:
			err = r.Freeze()
		case reserve.StatusDeactivated:
			err = r.Deactivate()
		default:
			return nil, E(CodeInvalidConfiguration, "cannot set status %s", cmd.Status)
		}
		if err != nil {
			switch err {
			case reserve.ErrDeactivateNonEmpty:
				return nil, WrapErr(CodeReserveNotEmpty, err)
			case reserve.ErrNotInitialized:
				return nil, WrapErr(CodeReserveDoesNotExist, err)
			}
			return nil, asCoded(err)
		}

		return &applied{
			events: []event.Event{
				&event.ReserveStatusChanged{
					ActionID:    cmd.ActionID,
					AssetSymbol: cmd.Asset,
					OldStatus:   oldStatus.String(),
					NewStatus:   r.Status.String(),
					Timestamp:   int64(cmd.Timestamp),
				},
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// SetReserveStrategy swaps the interest-rate strategy. Accrual runs under the
// outgoing strategy's rates first so no interest is repriced retroactively.
func (e *PoolEngine) SetReserveStrategy(cmd SetReserveStrategyCommand) error {
	return errOrNil(e.process("SetReserveStrategy", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		if aerr := e.requireRole(RoleRiskAdmin, cmd.Admin); aerr != nil {
			return nil, aerr
		}
		if cmd.Strategy == nil {
			return nil, E(CodeInvalidConfiguration, "missing rate strategy")
		}
		r, aerr := st.activeReserve(cmd.Asset)
		if aerr != nil {
			return nil, aerr
		}
		if err := r.Accrue(cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}

		oldDesc := strategyJSON(r.Strategy)
		r.Strategy = cmd.Strategy
		if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		return &applied{
			events: []event.Event{
				&event.ReserveConfigChanged{
					ActionID:    cmd.ActionID,
					AssetSymbol: cmd.Asset,
					Old:         oldDesc,
					New:         strategyJSON(cmd.Strategy),
					Timestamp:   int64(cmd.Timestamp),
				},
				e.reserveDataEvent(r, cmd.Timestamp),
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}

// strategyJSON renders a strategy's parameters for the config-change audit
// trail.
func strategyJSON(s rates.Strategy) string {
	ks, ok := s.(*rates.KinkedStrategy)
	if !ok {
		return `{"strategy":"custom"}`
	}
	p := ks.Params()
	out, _ := json.Marshal(map[string]string{
		"optimal_utilization":       p.OptimalUtilization.Dec(),
		"base_variable_borrow_rate": p.BaseVariableBorrowRate.Dec(),
		"variable_rate_slope1":      p.VariableRateSlope1.Dec(),
		"variable_rate_slope2":      p.VariableRateSlope2.Dec(),
		"stable_rate_slope1":        p.StableRateSlope1.Dec(),
		"stable_rate_slope2":        p.StableRateSlope2.Dec(),
	})
	return string(out)
}

// TreasuryWithdraw pays accrued protocol fees out of a reserve by burning the
// treasury's receipt tokens.
func (e *PoolEngine) TreasuryWithdraw(cmd TreasuryWithdrawCommand) error {
	return errOrNil(e.process("TreasuryWithdraw", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		if aerr := e.requireRole(RolePoolAdmin, cmd.Admin); aerr != nil {
			return nil, aerr
		}
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

		treasury := ledger.TreasuryHolder()
		balance, err := r.Liquidity.BalanceOf(treasury, r.LiquidityIndex)
		if err != nil {
			return nil, asCoded(err)
		}
		amount := cmd.Amount
		if amount.Eq(EntireBalance) {
			amount = balance
		}
		if balance.IsZero() || amount.Gt(balance) {
			return nil, E(CodeInsufficientBalance, "treasury holds %s of %s", balance.Dec(), cmd.Asset)
		}
		if aerr := checkAvailableLiquidity(r, amount); aerr != nil {
			return nil, aerr
		}

		if amount.Eq(balance) {
			if _, err := r.Liquidity.BurnAll(treasury, r.LiquidityIndex); err != nil {
				return nil, asCoded(err)
			}
		} else if _, err := r.Liquidity.Burn(treasury, amount, r.LiquidityIndex); err != nil {
			return nil, asCoded(err)
		}
		if err := r.Underlying.Burn(r.Holder(), amount); err != nil {
			return nil, asCoded(err)
		}
		if aerr := e.updateReserveRates(r, cmd.Timestamp); aerr != nil {
			return nil, aerr
		}

		batch := e.journalGen.NewBatch(cmd.ActionID.String(), int64(cmd.Timestamp), ledger.Leg{
			Debit:  ledger.ExternalHolder(cmd.To),
			Credit: ledger.TreasuryHolder(),
			Asset:  cmd.Asset,
			Amount: amount,
			Type:   ledger.JournalTypeTreasuryWithdrawal,
		})

		return &applied{
			batch: batch,
			events: []event.Event{
				&event.TreasuryWithdrawal{
					ActionID:    cmd.ActionID,
					AssetSymbol: cmd.Asset,
					To:          cmd.To,
					Amount:      amount.Dec(),
					Timestamp:   int64(cmd.Timestamp),
				},
				e.reserveDataEvent(r, cmd.Timestamp),
			},
			assets:    []string{cmd.Asset},
			timestamp: cmd.Timestamp,
		}, nil
	}))
}
