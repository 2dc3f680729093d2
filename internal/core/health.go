package core

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/fixedmath"
	"lendpool/internal/ledger"
	"lendpool/internal/reserve"
)

// AccountData aggregates a user's position across every reserve. USD values
// carry the oracle's 8-decimal scale; the health factor is ray-scaled.
type AccountData struct {
	TotalCollateralUSD  *uint256.Int
	TotalDebtUSD        *uint256.Int
	AvailableBorrowsUSD *uint256.Int

	// Collateral-weighted averages over the assets actually backing the
	// account.
	LTVBps                  uint64
	LiquidationThresholdBps uint64

	// HealthFactor is MaxUint256 when the account carries no debt.
	HealthFactor *uint256.Int
}

// maxHealthFactor is the sentinel for debt-free accounts.
func maxHealthFactor() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// usdValue converts a native amount to the oracle's 8-decimal USD scale:
// amount * price / 10^decimals.
func usdValue(amount, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	return fixedmath.MulDiv(amount, price, fixedmath.Pow10(decimals))
}

// usdToNative converts an 8-decimal USD value back to native units at the
// given price: usd * 10^decimals / price.
func usdToNative(usd, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	return fixedmath.MulDiv(usd, fixedmath.Pow10(decimals), price)
}

// accountData walks every reserve the user touches and prices the position.
// Any required oracle miss fails the whole computation: a position cannot be
// valued on a partial view.
func (e *PoolEngine) accountData(st *poolState, user uuid.UUID, now uint64) (*AccountData, *Error) {
	holder := ledger.UserHolder(user)

	totalCollateral := uint256.NewInt(0)
	totalDebt := uint256.NewInt(0)
	weightedLTV := uint256.NewInt(0)
	weightedThreshold := uint256.NewInt(0)

	for _, asset := range st.order {
		r := st.reserves[asset]
		if r.Status == reserve.StatusUninitialized {
			continue
		}

		collateralScaled := r.Liquidity.ScaledBalanceOf(holder)
		countCollateral := !collateralScaled.IsZero() &&
			st.collateralFlag(user, asset) &&
			r.Config.UsageAsCollateralEnabled &&
			r.Config.LiquidationThresholdBps > 0

		variableScaled := r.VariableDebt.ScaledBalanceOf(holder)
		stablePrincipal := r.StableDebt.PrincipalOf(holder)
		hasDebt := !variableScaled.IsZero() || !stablePrincipal.IsZero()

		if !countCollateral && !hasDebt {
			continue
		}

		price, ok := e.ctx.PriceOracle.GetAssetPrice(asset)
		if !ok {
			if e.metrics != nil {
				e.metrics.OracleFailures.WithLabelValues(asset).Inc()
			}
			return nil, E(CodeOracleFailure, "no price for %s", asset)
		}

		if countCollateral {
			income, err := r.NormalizedIncome(now)
			if err != nil {
				return nil, asCoded(err)
			}
			bal, err := r.Liquidity.BalanceOf(holder, income)
			if err != nil {
				return nil, asCoded(err)
			}
			colUSD, err := usdValue(bal, price, r.Config.Decimals)
			if err != nil {
				return nil, asCoded(err)
			}
			totalCollateral.Add(totalCollateral, colUSD)

			ltvPart := new(uint256.Int).Mul(colUSD, uint256.NewInt(r.Config.LTVBps))
			weightedLTV.Add(weightedLTV, ltvPart)
			thrPart := new(uint256.Int).Mul(colUSD, uint256.NewInt(r.Config.LiquidationThresholdBps))
			weightedThreshold.Add(weightedThreshold, thrPart)
		}

		if hasDebt {
			debt, cerr := e.userDebt(r, holder, now)
			if cerr != nil {
				return nil, cerr
			}
			debtUSD, err := usdValue(debt, price, r.Config.Decimals)
			if err != nil {
				return nil, asCoded(err)
			}
			totalDebt.Add(totalDebt, debtUSD)
		}
	}

	data := &AccountData{
		TotalCollateralUSD:  totalCollateral,
		TotalDebtUSD:        totalDebt,
		AvailableBorrowsUSD: uint256.NewInt(0),
		HealthFactor:        maxHealthFactor(),
	}

	if !totalCollateral.IsZero() {
		data.LTVBps = new(uint256.Int).Div(weightedLTV, totalCollateral).Uint64()
		data.LiquidationThresholdBps = new(uint256.Int).Div(weightedThreshold, totalCollateral).Uint64()
	}

	// Borrowing power left: ltv-weighted collateral minus current debt.
	borrowPower, err := fixedmath.PercentMul(totalCollateral, uint256.NewInt(data.LTVBps))
	if err != nil {
		return nil, asCoded(err)
	}
	if borrowPower.Gt(totalDebt) {
		data.AvailableBorrowsUSD = new(uint256.Int).Sub(borrowPower, totalDebt)
	}

	if !totalDebt.IsZero() {
		thresholdCollateral, err := fixedmath.PercentMul(totalCollateral, uint256.NewInt(data.LiquidationThresholdBps))
		if err != nil {
			return nil, asCoded(err)
		}
		hf, err := fixedmath.RayDiv(thresholdCollateral, totalDebt)
		if err != nil {
			return nil, asCoded(err)
		}
		data.HealthFactor = hf
	}

	return data, nil
}

// userDebt sums variable and stable debt in native units at time now.
func (e *PoolEngine) userDebt(r *reserve.Reserve, holder ledger.Holder, now uint64) (*uint256.Int, *Error) {
	nvd, err := r.NormalizedVariableDebt(now)
	if err != nil {
		return nil, asCoded(err)
	}
	variable, err := r.VariableDebt.BalanceOf(holder, nvd)
	if err != nil {
		return nil, asCoded(err)
	}
	stable, err := r.StableDebt.BalanceOf(holder, now)
	if err != nil {
		return nil, asCoded(err)
	}
	return new(uint256.Int).Add(variable, stable), nil
}
