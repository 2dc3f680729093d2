package core

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/ledger"
	"lendpool/internal/rates"
	"lendpool/internal/reserve"
)

// SnapshotState is the engine's full state in serializable form. Snapshots
// bound replay time after a restart: restore the latest snapshot, then replay
// the event log from its sequence.
type SnapshotState struct {
	Sequence        int64               `json:"sequence"`
	JournalSequence int64               `json:"journal_sequence"`
	StateHash       [32]byte            `json:"state_hash"`
	Reserves        []ReserveSnapshot   `json:"reserves"`
	CollateralFlags map[string][]string `json:"collateral_flags"` // user uuid -> assets
	PricePartitions map[string]int64    `json:"price_partitions"`
}

// ReserveSnapshot carries one reserve. All uint256 values are decimal
// strings; ledger maps are keyed by holder path.
type ReserveSnapshot struct {
	Asset  string         `json:"asset"`
	Status uint8          `json:"status"`
	Config reserve.Config `json:"config"`

	LiquidityIndex      string `json:"liquidity_index"`
	VariableBorrowIndex string `json:"variable_borrow_index"`
	LiquidityRate       string `json:"liquidity_rate"`
	VariableBorrowRate  string `json:"variable_borrow_rate"`
	StableBorrowRate    string `json:"stable_borrow_rate"`
	LastUpdateTimestamp uint64 `json:"last_update_timestamp"`

	Strategy StrategySnapshot `json:"strategy"`

	ScaledLiquidity    map[string]string `json:"scaled_liquidity"`
	ScaledVariableDebt map[string]string `json:"scaled_variable_debt"`

	StablePositions      []StablePositionSnapshot `json:"stable_positions"`
	StableTotalPrincipal string                   `json:"stable_total_principal"`
	StableAverageRate    string                   `json:"stable_average_rate"`
	StableLastUpdate     uint64                   `json:"stable_last_update"`

	Underlying map[string]string `json:"underlying"`
}

type StrategySnapshot struct {
	OptimalUtilization     string `json:"optimal_utilization"`
	BaseVariableBorrowRate string `json:"base_variable_borrow_rate"`
	VariableRateSlope1     string `json:"variable_rate_slope1"`
	VariableRateSlope2     string `json:"variable_rate_slope2"`
	StableRateSlope1       string `json:"stable_rate_slope1"`
	StableRateSlope2       string `json:"stable_rate_slope2"`
}

type StablePositionSnapshot struct {
	Holder      string `json:"holder"`
	Principal   string `json:"principal"`
	Rate        string `json:"rate"`
	LastUpdated uint64 `json:"last_updated"`
}

// CreateSnapshotState captures the live state. Must run on the engine
// goroutine.
func (e *PoolEngine) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        e.sequence,
		JournalSequence: e.journalGen.Sequence(),
		StateHash:       e.hasher.GetPrevHash(),
		Reserves:        make([]ReserveSnapshot, 0, len(e.state.order)),
		CollateralFlags: make(map[string][]string, len(e.state.collateralFlags)),
		PricePartitions: e.priceGuard.GetAllPartitions(),
	}

	for _, asset := range e.state.order {
		r := e.state.reserves[asset]
		rs := ReserveSnapshot{
			Asset:  r.Asset,
			Status: uint8(r.Status),
			Config: r.Config,

			LiquidityIndex:      r.LiquidityIndex.Dec(),
			VariableBorrowIndex: r.VariableBorrowIndex.Dec(),
			LiquidityRate:       r.CurrentLiquidityRate.Dec(),
			VariableBorrowRate:  r.CurrentVariableBorrowRate.Dec(),
			StableBorrowRate:    r.CurrentStableBorrowRate.Dec(),
			LastUpdateTimestamp: r.LastUpdateTimestamp,

			ScaledLiquidity:    holdersToMap(r.Liquidity),
			ScaledVariableDebt: holdersToMap(r.VariableDebt),

			StableTotalPrincipal: r.StableDebt.TotalPrincipal().Dec(),
			StableAverageRate:    r.StableDebt.AverageRate().Dec(),
			StableLastUpdate:     r.StableDebt.LastTotalUpdate(),

			Underlying: make(map[string]string),
		}
		if ks, ok := r.Strategy.(*rates.KinkedStrategy); ok {
			p := ks.Params()
			rs.Strategy = StrategySnapshot{
				OptimalUtilization:     p.OptimalUtilization.Dec(),
				BaseVariableBorrowRate: p.BaseVariableBorrowRate.Dec(),
				VariableRateSlope1:     p.VariableRateSlope1.Dec(),
				VariableRateSlope2:     p.VariableRateSlope2.Dec(),
				StableRateSlope1:       p.StableRateSlope1.Dec(),
				StableRateSlope2:       p.StableRateSlope2.Dec(),
			}
		}
		for _, h := range r.StableDebt.Holders() {
			rs.StablePositions = append(rs.StablePositions, StablePositionSnapshot{
				Holder:      h.Path(),
				Principal:   r.StableDebt.PrincipalOf(h).Dec(),
				Rate:        r.StableDebt.RateOf(h).Dec(),
				LastUpdated: r.StableDebt.LastUpdatedOf(h),
			})
		}
		for _, h := range r.Underlying.Holders() {
			rs.Underlying[h.Path()] = r.Underlying.BalanceOf(h).Dec()
		}
		snap.Reserves = append(snap.Reserves, rs)
	}

	for user, flags := range e.state.collateralFlags {
		assets := make([]string, 0, len(flags))
		for asset := range flags {
			assets = append(assets, asset)
		}
		snap.CollateralFlags[user.String()] = assets
	}

	return snap
}

func holdersToMap(l *ledger.ScaledLedger[ledger.Holder]) map[string]string {
	out := make(map[string]string)
	for _, h := range l.Holders() {
		out[h.Path()] = l.ScaledBalanceOf(h).Dec()
	}
	return out
}

// RestoreFromSnapshot rebuilds the engine from a snapshot. Must run before
// the engine starts processing.
func (e *PoolEngine) RestoreFromSnapshot(snap *SnapshotState) error {
	st := newPoolState()

	for _, rs := range snap.Reserves {
		r := reserve.New(rs.Asset)
		r.Status = reserve.Status(rs.Status)
		r.Config = rs.Config

		var err error
		if r.LiquidityIndex, err = uint256.FromDecimal(rs.LiquidityIndex); err != nil {
			return fmt.Errorf("reserve %s liquidity index: %w", rs.Asset, err)
		}
		if r.VariableBorrowIndex, err = uint256.FromDecimal(rs.VariableBorrowIndex); err != nil {
			return fmt.Errorf("reserve %s variable index: %w", rs.Asset, err)
		}
		if r.CurrentLiquidityRate, err = uint256.FromDecimal(rs.LiquidityRate); err != nil {
			return fmt.Errorf("reserve %s liquidity rate: %w", rs.Asset, err)
		}
		if r.CurrentVariableBorrowRate, err = uint256.FromDecimal(rs.VariableBorrowRate); err != nil {
			return fmt.Errorf("reserve %s variable rate: %w", rs.Asset, err)
		}
		if r.CurrentStableBorrowRate, err = uint256.FromDecimal(rs.StableBorrowRate); err != nil {
			return fmt.Errorf("reserve %s stable rate: %w", rs.Asset, err)
		}
		r.LastUpdateTimestamp = rs.LastUpdateTimestamp

		if r.Strategy, err = strategyFromSnapshot(rs.Strategy); err != nil {
			return fmt.Errorf("reserve %s strategy: %w", rs.Asset, err)
		}

		if err := restoreScaled(r.Liquidity, rs.ScaledLiquidity); err != nil {
			return fmt.Errorf("reserve %s liquidity balances: %w", rs.Asset, err)
		}
		if err := restoreScaled(r.VariableDebt, rs.ScaledVariableDebt); err != nil {
			return fmt.Errorf("reserve %s variable debt: %w", rs.Asset, err)
		}

		for _, pos := range rs.StablePositions {
			h, err := ledger.ParseHolder(pos.Holder)
			if err != nil {
				return fmt.Errorf("reserve %s stable position: %w", rs.Asset, err)
			}
			principal, err := uint256.FromDecimal(pos.Principal)
			if err != nil {
				return fmt.Errorf("reserve %s stable principal: %w", rs.Asset, err)
			}
			rate, err := uint256.FromDecimal(pos.Rate)
			if err != nil {
				return fmt.Errorf("reserve %s stable rate: %w", rs.Asset, err)
			}
			r.StableDebt.RestorePosition(h, principal, rate, pos.LastUpdated)
		}
		totalPrincipal, err := uint256.FromDecimal(rs.StableTotalPrincipal)
		if err != nil {
			return fmt.Errorf("reserve %s stable total: %w", rs.Asset, err)
		}
		averageRate, err := uint256.FromDecimal(rs.StableAverageRate)
		if err != nil {
			return fmt.Errorf("reserve %s stable average rate: %w", rs.Asset, err)
		}
		r.StableDebt.RestoreTotals(totalPrincipal, averageRate, rs.StableLastUpdate)

		for path, dec := range rs.Underlying {
			h, err := ledger.ParseHolder(path)
			if err != nil {
				return fmt.Errorf("reserve %s underlying: %w", rs.Asset, err)
			}
			amount, err := uint256.FromDecimal(dec)
			if err != nil {
				return fmt.Errorf("reserve %s underlying balance: %w", rs.Asset, err)
			}
			r.Underlying.RestoreBalance(h, amount)
		}

		st.addReserve(r)
	}

	for userStr, assets := range snap.CollateralFlags {
		user, err := uuid.Parse(userStr)
		if err != nil {
			return fmt.Errorf("collateral flags: %w", err)
		}
		for _, asset := range assets {
			st.setCollateralFlag(user, asset, true)
		}
	}

	e.state = st
	e.sequence = snap.Sequence
	e.journalGen.SetSequence(snap.JournalSequence)
	e.hasher.SetPrevHash(snap.StateHash)
	for partition, seq := range snap.PricePartitions {
		e.priceGuard.SetExpectedSequence(partition, seq)
	}
	return nil
}

func restoreScaled(l *ledger.ScaledLedger[ledger.Holder], balances map[string]string) error {
	for path, dec := range balances {
		h, err := ledger.ParseHolder(path)
		if err != nil {
			return err
		}
		amount, err := uint256.FromDecimal(dec)
		if err != nil {
			return err
		}
		l.RestoreBalance(h, amount)
	}
	return nil
}

func strategyFromSnapshot(s StrategySnapshot) (rates.Strategy, error) {
	fields := []string{
		s.OptimalUtilization, s.BaseVariableBorrowRate,
		s.VariableRateSlope1, s.VariableRateSlope2,
		s.StableRateSlope1, s.StableRateSlope2,
	}
	vals := make([]*uint256.Int, len(fields))
	for i, f := range fields {
		v, err := uint256.FromDecimal(f)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return rates.NewKinkedStrategy(rates.Params{
		OptimalUtilization:     vals[0],
		BaseVariableBorrowRate: vals[1],
		VariableRateSlope1:     vals[2],
		VariableRateSlope2:     vals[3],
		StableRateSlope1:       vals[4],
		StableRateSlope2:       vals[5],
	})
}
