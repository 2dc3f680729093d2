package core

import (
	"github.com/google/uuid"

	"lendpool/internal/ledger"
	"lendpool/internal/reserve"
)

// Views are non-mutating reads of the live state. Like every engine method
// they must run on the engine goroutine; callers elsewhere go through the
// engine's request loop or the Postgres projections.

// ReserveView is the API-facing picture of one reserve at a point in time.
type ReserveView struct {
	Asset  string         `json:"asset"`
	Status string         `json:"status"`
	Config reserve.Config `json:"config"`

	LiquidityIndex      string `json:"liquidity_index"`
	VariableBorrowIndex string `json:"variable_borrow_index"`
	LiquidityRate       string `json:"liquidity_rate"`
	VariableBorrowRate  string `json:"variable_borrow_rate"`
	StableBorrowRate    string `json:"stable_borrow_rate"`
	AverageStableRate   string `json:"average_stable_rate"`

	AvailableLiquidity string `json:"available_liquidity"`
	TotalVariableDebt  string `json:"total_variable_debt"`
	TotalStableDebt    string `json:"total_stable_debt"`
	Utilization        string `json:"utilization"`

	LastUpdateTimestamp uint64 `json:"last_update_timestamp"`
}

// UserReserveView is one user's position in one reserve.
type UserReserveView struct {
	Asset             string `json:"asset"`
	Balance           string `json:"balance"`
	ScaledBalance     string `json:"scaled_balance"`
	VariableDebt      string `json:"variable_debt"`
	StableDebt        string `json:"stable_debt"`
	StableRate        string `json:"stable_rate"`
	UsageAsCollateral bool   `json:"usage_as_collateral"`
}

// AccountView is the API rendering of AccountData.
type AccountView struct {
	TotalCollateralUSD      string `json:"total_collateral_usd"`
	TotalDebtUSD            string `json:"total_debt_usd"`
	AvailableBorrowsUSD     string `json:"available_borrows_usd"`
	LTVBps                  uint64 `json:"ltv_bps"`
	LiquidationThresholdBps uint64 `json:"liquidation_threshold_bps"`
	HealthFactor            string `json:"health_factor"`
}

// ListReserves returns the listed asset symbols in deterministic order.
func (e *PoolEngine) ListReserves() []string {
	return append([]string(nil), e.state.order...)
}

// GetReserveView prices a reserve at the given time without mutating it.
func (e *PoolEngine) GetReserveView(asset string, now uint64) (*ReserveView, error) {
	r, ok := e.state.reserve(asset)
	if !ok {
		return nil, E(CodeReserveDoesNotExist, "reserve %s not listed", asset)
	}
	variable, err := r.TotalVariableDebt()
	if err != nil {
		return nil, asCoded(err)
	}
	stable, err := r.TotalStableDebt(now)
	if err != nil {
		return nil, asCoded(err)
	}
	utilization, err := r.Utilization(now)
	if err != nil {
		return nil, asCoded(err)
	}
	return &ReserveView{
		Asset:               r.Asset,
		Status:              r.Status.String(),
		Config:              r.Config,
		LiquidityIndex:      r.LiquidityIndex.Dec(),
		VariableBorrowIndex: r.VariableBorrowIndex.Dec(),
		LiquidityRate:       r.CurrentLiquidityRate.Dec(),
		VariableBorrowRate:  r.CurrentVariableBorrowRate.Dec(),
		StableBorrowRate:    r.CurrentStableBorrowRate.Dec(),
		AverageStableRate:   r.StableDebt.AverageRate().Dec(),
		AvailableLiquidity:  r.AvailableLiquidity().Dec(),
		TotalVariableDebt:   variable.Dec(),
		TotalStableDebt:     stable.Dec(),
		Utilization:         utilization.Dec(),
		LastUpdateTimestamp: r.LastUpdateTimestamp,
	}, nil
}

// GetUserReserveView reads one user's position in one reserve.
func (e *PoolEngine) GetUserReserveView(user uuid.UUID, asset string, now uint64) (*UserReserveView, error) {
	r, ok := e.state.reserve(asset)
	if !ok {
		return nil, E(CodeReserveDoesNotExist, "reserve %s not listed", asset)
	}
	holder := ledger.UserHolder(user)

	income, err := r.NormalizedIncome(now)
	if err != nil {
		return nil, asCoded(err)
	}
	balance, err := r.Liquidity.BalanceOf(holder, income)
	if err != nil {
		return nil, asCoded(err)
	}
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
	return &UserReserveView{
		Asset:             asset,
		Balance:           balance.Dec(),
		ScaledBalance:     r.Liquidity.ScaledBalanceOf(holder).Dec(),
		VariableDebt:      variable.Dec(),
		StableDebt:        stable.Dec(),
		StableRate:        r.StableDebt.RateOf(holder).Dec(),
		UsageAsCollateral: e.state.collateralFlag(user, asset),
	}, nil
}

// GetUserAccountData aggregates a user's whole account.
func (e *PoolEngine) GetUserAccountData(user uuid.UUID, now uint64) (*AccountView, error) {
	data, aerr := e.accountData(e.state, user, now)
	if aerr != nil {
		return nil, aerr
	}
	return &AccountView{
		TotalCollateralUSD:      data.TotalCollateralUSD.Dec(),
		TotalDebtUSD:            data.TotalDebtUSD.Dec(),
		AvailableBorrowsUSD:     data.AvailableBorrowsUSD.Dec(),
		LTVBps:                  data.LTVBps,
		LiquidationThresholdBps: data.LiquidationThresholdBps,
		HealthFactor:            data.HealthFactor.Dec(),
	}, nil
}
