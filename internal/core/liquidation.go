package core

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/event"
	"lendpool/internal/fixedmath"
	"lendpool/internal/ledger"
)

type LiquidationCommand struct {
	Action
	Liquidator      uuid.UUID
	User            uuid.UUID
	CollateralAsset string
	DebtAsset       string
	DebtToCover     *uint256.Int // EntireBalance covers as much as allowed
}

// LiquidationCall repays part of an undercollateralized user's debt in
// exchange for their collateral plus the liquidation bonus.
func (e *PoolEngine) LiquidationCall(cmd LiquidationCommand) error {
	return errOrNil(e.process("LiquidationCall", cmd.ActionID.String(), func(st *poolState) (*applied, *Error) {
		res, aerr := e.applyLiquidation(st, cmd)
		if aerr != nil && e.metrics != nil {
			e.metrics.LiquidationRejected.WithLabelValues(string(aerr.Code)).Inc()
		}
		return res, aerr
	}))
}

func (e *PoolEngine) applyLiquidation(st *poolState, cmd LiquidationCommand) (*applied, *Error) {
	if aerr := validAmount(cmd.DebtToCover); aerr != nil {
		return nil, aerr
	}
	colReserve, aerr := st.activeReserve(cmd.CollateralAsset)
	if aerr != nil {
		return nil, aerr
	}
	debtReserve, aerr := st.activeReserve(cmd.DebtAsset)
	if aerr != nil {
		return nil, aerr
	}

	if err := colReserve.Accrue(cmd.Timestamp); err != nil {
		return nil, asCoded(err)
	}
	if err := debtReserve.Accrue(cmd.Timestamp); err != nil {
		return nil, asCoded(err)
	}

	data, aerr := e.accountData(st, cmd.User, cmd.Timestamp)
	if aerr != nil {
		return nil, aerr
	}
	if data.HealthFactor.Cmp(fixedmath.Ray) >= 0 {
		return nil, E(CodeHealthFactorNotBelowThreshold,
			"health factor %s is not liquidatable", data.HealthFactor.Dec())
	}

	userHolder := ledger.UserHolder(cmd.User)

	if !st.collateralFlag(cmd.User, cmd.CollateralAsset) || !colReserve.Config.UsageAsCollateralEnabled {
		return nil, E(CodeCollateralDisabled, "%s is not backing this account", cmd.CollateralAsset)
	}
	collateralBalance, err := colReserve.Liquidity.BalanceOf(userHolder, colReserve.LiquidityIndex)
	if err != nil {
		return nil, asCoded(err)
	}
	if collateralBalance.IsZero() {
		return nil, E(CodeCollateralDisabled, "no %s collateral to seize", cmd.CollateralAsset)
	}

	variableDebt, err := debtReserve.VariableDebt.BalanceOf(userHolder, debtReserve.VariableBorrowIndex)
	if err != nil {
		return nil, asCoded(err)
	}
	stableDebt, err := debtReserve.StableDebt.BalanceOf(userHolder, cmd.Timestamp)
	if err != nil {
		return nil, asCoded(err)
	}
	totalDebt := new(uint256.Int).Add(variableDebt, stableDebt)
	if totalDebt.IsZero() {
		return nil, E(CodeNoDebtOfSelectedType, "user owes no %s", cmd.DebtAsset)
	}

	// Close factor: only a slice of the debt may be covered per call, unless
	// the account has sunk below the full-liquidation threshold.
	maxCover := new(uint256.Int).Set(totalDebt)
	if data.HealthFactor.Cmp(e.ctx.Params.FullLiquidationThreshold) >= 0 {
		maxCover, err = fixedmath.PercentMul(totalDebt, uint256.NewInt(e.ctx.Params.CloseFactorBps))
		if err != nil {
			return nil, asCoded(err)
		}
	}
	debtToCover := cmd.DebtToCover
	if debtToCover.Eq(EntireBalance) || debtToCover.Gt(maxCover) {
		debtToCover = maxCover
	}
	if debtToCover.IsZero() {
		return nil, E(CodeInvalidAmount, "close factor leaves nothing to cover")
	}

	colPrice, aerr := e.assetPrice(cmd.CollateralAsset)
	if aerr != nil {
		return nil, aerr
	}
	debtPrice, aerr := e.assetPrice(cmd.DebtAsset)
	if aerr != nil {
		return nil, aerr
	}

	seize, err := collateralFromDebt(debtToCover, debtPrice, colPrice,
		debtReserve.Config.Decimals, colReserve.Config.Decimals, colReserve.Config.LiquidationBonusBps)
	if err != nil {
		return nil, asCoded(err)
	}

	// Never hand out more collateral than the user holds: cap the seize and
	// scale the covered debt back down proportionally.
	if seize.Gt(collateralBalance) {
		seize = collateralBalance
		debtToCover, err = debtFromCollateral(seize, debtPrice, colPrice,
			debtReserve.Config.Decimals, colReserve.Config.Decimals, colReserve.Config.LiquidationBonusBps)
		if err != nil {
			return nil, asCoded(err)
		}
		if debtToCover.IsZero() {
			return nil, E(CodeInvalidAmount, "collateral too small to cover any debt")
		}
	}

	// Seized collateral leaves as underlying, so the reserve must hold it.
	if aerr := checkAvailableLiquidity(colReserve, seize); aerr != nil {
		return nil, aerr
	}

	// Repay variable debt first, stable for the remainder.
	mode := event.RateModeVariable
	remaining := new(uint256.Int).Set(debtToCover)
	if !variableDebt.IsZero() {
		portion := remaining
		if portion.Gt(variableDebt) {
			portion = variableDebt
		}
		if portion.Eq(variableDebt) {
			if _, err := debtReserve.VariableDebt.BurnAll(userHolder, debtReserve.VariableBorrowIndex); err != nil {
				return nil, asCoded(err)
			}
		} else if _, err := debtReserve.VariableDebt.Burn(userHolder, portion, debtReserve.VariableBorrowIndex); err != nil {
			return nil, asCoded(err)
		}
		remaining = new(uint256.Int).Sub(remaining, portion)
	}
	if !remaining.IsZero() {
		mode = event.RateModeStable
		if err := debtReserve.StableDebt.Burn(userHolder, remaining, cmd.Timestamp); err != nil {
			return nil, asCoded(err)
		}
	}

	// Debt asset flows in from the liquidator; collateral flows out to them.
	if err := debtReserve.Underlying.Mint(debtReserve.Holder(), debtToCover); err != nil {
		return nil, asCoded(err)
	}
	if seize.Eq(collateralBalance) {
		if _, err := colReserve.Liquidity.BurnAll(userHolder, colReserve.LiquidityIndex); err != nil {
			return nil, asCoded(err)
		}
	} else if _, err := colReserve.Liquidity.Burn(userHolder, seize, colReserve.LiquidityIndex); err != nil {
		return nil, asCoded(err)
	}
	if err := colReserve.Underlying.Burn(colReserve.Holder(), seize); err != nil {
		return nil, asCoded(err)
	}

	if aerr := e.updateReserveRates(debtReserve, cmd.Timestamp); aerr != nil {
		return nil, aerr
	}
	if aerr := e.updateReserveRates(colReserve, cmd.Timestamp); aerr != nil {
		return nil, aerr
	}

	events := []event.Event{&event.LiquidationCall{
		ActionID:         cmd.ActionID,
		Liquidator:       cmd.Liquidator,
		User:             cmd.User,
		CollateralAsset:  cmd.CollateralAsset,
		DebtAsset:        cmd.DebtAsset,
		DebtCovered:      debtToCover.Dec(),
		CollateralSeized: seize.Dec(),
		Mode:             mode,
		HealthFactor:     data.HealthFactor.Dec(),
		Timestamp:        int64(cmd.Timestamp),
	}}

	// A fully-seized position no longer elects the asset as collateral.
	if colReserve.Liquidity.ScaledBalanceOf(userHolder).IsZero() && st.collateralFlag(cmd.User, cmd.CollateralAsset) {
		st.setCollateralFlag(cmd.User, cmd.CollateralAsset, false)
		events = append(events, &event.CollateralToggled{
			ActionID:    cmd.ActionID,
			User:        cmd.User,
			AssetSymbol: cmd.CollateralAsset,
			Enabled:     false,
			Timestamp:   int64(cmd.Timestamp),
		})
	}

	liquidatorHolder := ledger.ExternalHolder(cmd.Liquidator)
	batch := e.journalGen.NewBatch(cmd.ActionID.String(), int64(cmd.Timestamp),
		ledger.Leg{
			Debit:  debtReserve.Holder(),
			Credit: liquidatorHolder,
			Asset:  cmd.DebtAsset,
			Amount: debtToCover,
			Type:   ledger.JournalTypeLiquidationRepay,
		},
		ledger.Leg{
			Debit:  liquidatorHolder,
			Credit: colReserve.Holder(),
			Asset:  cmd.CollateralAsset,
			Amount: seize,
			Type:   ledger.JournalTypeLiquidationSeize,
		},
	)

	events = append(events,
		e.reserveDataEvent(debtReserve, cmd.Timestamp),
		e.reserveDataEvent(colReserve, cmd.Timestamp),
	)

	if e.metrics != nil {
		e.metrics.LiquidationCalls.WithLabelValues(cmd.DebtAsset, cmd.CollateralAsset).Inc()
		e.metrics.CollateralSeized.WithLabelValues(cmd.CollateralAsset).Add(u256ToFloat(seize))
	}

	return &applied{
		batch:     batch,
		events:    events,
		assets:    []string{cmd.CollateralAsset, cmd.DebtAsset},
		timestamp: cmd.Timestamp,
	}, nil
}

// collateralFromDebt converts covered debt into seized collateral:
// debt * priceDebt / priceCol, decimal-adjusted, times the bonus.
func collateralFromDebt(debt, debtPrice, colPrice *uint256.Int, debtDec, colDec uint8, bonusBps uint64) (*uint256.Int, error) {
	debtUSD, err := fixedmath.MulDiv(debt, debtPrice, fixedmath.Pow10(debtDec))
	if err != nil {
		return nil, err
	}
	base, err := fixedmath.MulDiv(debtUSD, fixedmath.Pow10(colDec), colPrice)
	if err != nil {
		return nil, err
	}
	return fixedmath.PercentMul(base, uint256.NewInt(bonusBps))
}

// debtFromCollateral is the inverse, used when the seize is capped by the
// user's actual collateral balance.
func debtFromCollateral(collateral, debtPrice, colPrice *uint256.Int, debtDec, colDec uint8, bonusBps uint64) (*uint256.Int, error) {
	deBonused, err := fixedmath.PercentDiv(collateral, uint256.NewInt(bonusBps))
	if err != nil {
		return nil, err
	}
	colUSD, err := fixedmath.MulDiv(deBonused, colPrice, fixedmath.Pow10(colDec))
	if err != nil {
		return nil, err
	}
	return fixedmath.MulDiv(colUSD, fixedmath.Pow10(debtDec), debtPrice)
}
