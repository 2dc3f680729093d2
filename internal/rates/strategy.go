// Package rates maps reserve utilization to borrow and liquidity rates.
//
// A strategy is a pure function of the reserve's current debt composition and
// a fixed parameter set. All rates are annualized and ray-scaled (1e27).
package rates

import (
	"errors"

	"github.com/holiman/uint256"

	"lendpool/internal/fixedmath"
)

// CalcInput carries everything a strategy needs to price a reserve.
type CalcInput struct {
	AvailableLiquidity *uint256.Int // native units
	TotalStableDebt    *uint256.Int // native units, accrued
	TotalVariableDebt  *uint256.Int // native units, accrued
	AverageStableRate  *uint256.Int // ray
	MarketBorrowRate   *uint256.Int // ray, stable reference from the rate oracle
	ReserveFactorBps   uint64
}

// Rates is the strategy output.
type Rates struct {
	LiquidityRate      *uint256.Int // ray
	StableBorrowRate   *uint256.Int // ray
	VariableBorrowRate *uint256.Int // ray
}

// Strategy prices a reserve. One instance is attached per reserve; swapping
// the instance is a configurator action.
type Strategy interface {
	CalculateRates(in CalcInput) (Rates, error)
	OptimalUtilization() *uint256.Int
}

// KinkedStrategy is the standard two-slope model: rates climb gently up to the
// optimal utilization and steeply beyond it.
type KinkedStrategy struct {
	optimalUtilization     *uint256.Int // ray, in (0, 1)
	excessUtilization      *uint256.Int // ray, 1 - optimal, precomputed
	baseVariableBorrowRate *uint256.Int // ray
	variableRateSlope1     *uint256.Int // ray
	variableRateSlope2     *uint256.Int // ray
	stableRateSlope1       *uint256.Int // ray
	stableRateSlope2       *uint256.Int // ray
}

// Params configures a KinkedStrategy. All values are ray-scaled.
type Params struct {
	OptimalUtilization     *uint256.Int
	BaseVariableBorrowRate *uint256.Int
	VariableRateSlope1     *uint256.Int
	VariableRateSlope2     *uint256.Int
	StableRateSlope1       *uint256.Int
	StableRateSlope2       *uint256.Int
}

var (
	ErrInvalidOptimalUtilization = errors.New("rates: optimal utilization must be in (0, 1 ray)")
	ErrMissingParam              = errors.New("rates: nil strategy parameter")
	ErrInvalidReserveFactor      = errors.New("rates: reserve factor above 100%")
)

// NewKinkedStrategy validates params and builds a strategy. The optimal
// utilization is required to sit strictly inside (0, 1 ray) so the
// second-branch denominator (1 - optimal) can never be zero at runtime.
func NewKinkedStrategy(p Params) (*KinkedStrategy, error) {
	for _, v := range []*uint256.Int{
		p.OptimalUtilization, p.BaseVariableBorrowRate,
		p.VariableRateSlope1, p.VariableRateSlope2,
		p.StableRateSlope1, p.StableRateSlope2,
	} {
		if v == nil {
			return nil, ErrMissingParam
		}
	}
	if p.OptimalUtilization.IsZero() || !p.OptimalUtilization.Lt(fixedmath.Ray) {
		return nil, ErrInvalidOptimalUtilization
	}
	return &KinkedStrategy{
		optimalUtilization:     new(uint256.Int).Set(p.OptimalUtilization),
		excessUtilization:      new(uint256.Int).Sub(fixedmath.Ray, p.OptimalUtilization),
		baseVariableBorrowRate: new(uint256.Int).Set(p.BaseVariableBorrowRate),
		variableRateSlope1:     new(uint256.Int).Set(p.VariableRateSlope1),
		variableRateSlope2:     new(uint256.Int).Set(p.VariableRateSlope2),
		stableRateSlope1:       new(uint256.Int).Set(p.StableRateSlope1),
		stableRateSlope2:       new(uint256.Int).Set(p.StableRateSlope2),
	}, nil
}

// OptimalUtilization returns the kink point in ray.
func (s *KinkedStrategy) OptimalUtilization() *uint256.Int {
	return new(uint256.Int).Set(s.optimalUtilization)
}

// Params returns a copy of the parameter set, used when serializing the
// strategy into snapshots.
func (s *KinkedStrategy) Params() Params {
	return Params{
		OptimalUtilization:     new(uint256.Int).Set(s.optimalUtilization),
		BaseVariableBorrowRate: new(uint256.Int).Set(s.baseVariableBorrowRate),
		VariableRateSlope1:     new(uint256.Int).Set(s.variableRateSlope1),
		VariableRateSlope2:     new(uint256.Int).Set(s.variableRateSlope2),
		StableRateSlope1:       new(uint256.Int).Set(s.stableRateSlope1),
		StableRateSlope2:       new(uint256.Int).Set(s.stableRateSlope2),
	}
}

// CalculateRates implements Strategy.
func (s *KinkedStrategy) CalculateRates(in CalcInput) (Rates, error) {
	totalDebt := new(uint256.Int).Add(in.TotalStableDebt, in.TotalVariableDebt)

	utilization := uint256.NewInt(0)
	if !totalDebt.IsZero() {
		denom := new(uint256.Int).Add(in.AvailableLiquidity, totalDebt)
		u, err := fixedmath.RayDiv(totalDebt, denom)
		if err != nil {
			return Rates{}, err
		}
		utilization = u
	}

	variableRate := new(uint256.Int).Set(s.baseVariableBorrowRate)
	stableRate := new(uint256.Int).Set(in.MarketBorrowRate)

	if utilization.Gt(s.optimalUtilization) {
		// Past the kink: slope1 in full, slope2 scaled by how far into the
		// excess region utilization sits.
		excessRatio, err := fixedmath.RayDiv(
			new(uint256.Int).Sub(utilization, s.optimalUtilization),
			s.excessUtilization,
		)
		if err != nil {
			return Rates{}, err
		}
		varExcess, err := fixedmath.RayMul(s.variableRateSlope2, excessRatio)
		if err != nil {
			return Rates{}, err
		}
		variableRate.Add(variableRate, s.variableRateSlope1)
		variableRate.Add(variableRate, varExcess)

		stableExcess, err := fixedmath.RayMul(s.stableRateSlope2, excessRatio)
		if err != nil {
			return Rates{}, err
		}
		stableRate.Add(stableRate, s.stableRateSlope1)
		stableRate.Add(stableRate, stableExcess)
	} else {
		ratio, err := fixedmath.RayDiv(utilization, s.optimalUtilization)
		if err != nil {
			return Rates{}, err
		}
		varSlope, err := fixedmath.RayMul(s.variableRateSlope1, ratio)
		if err != nil {
			return Rates{}, err
		}
		variableRate.Add(variableRate, varSlope)

		stableSlope, err := fixedmath.RayMul(s.stableRateSlope1, ratio)
		if err != nil {
			return Rates{}, err
		}
		stableRate.Add(stableRate, stableSlope)
	}

	liquidityRate, err := s.liquidityRate(in, totalDebt, utilization, variableRate)
	if err != nil {
		return Rates{}, err
	}

	return Rates{
		LiquidityRate:      liquidityRate,
		StableBorrowRate:   stableRate,
		VariableBorrowRate: variableRate,
	}, nil
}

// liquidityRate = overallBorrowRate * utilization * (1 - reserveFactor),
// where overallBorrowRate is the debt-weighted average of the variable rate
// and the average stable rate.
func (s *KinkedStrategy) liquidityRate(in CalcInput, totalDebt, utilization, variableRate *uint256.Int) (*uint256.Int, error) {
	if in.ReserveFactorBps > 10_000 {
		return nil, ErrInvalidReserveFactor
	}
	if totalDebt.IsZero() {
		return uint256.NewInt(0), nil
	}
	weightedVariable, err := fixedmath.RayMul(in.TotalVariableDebt, variableRate)
	if err != nil {
		return nil, err
	}
	weightedStable, err := fixedmath.RayMul(in.TotalStableDebt, in.AverageStableRate)
	if err != nil {
		return nil, err
	}
	overall, err := fixedmath.RayDiv(new(uint256.Int).Add(weightedVariable, weightedStable), totalDebt)
	if err != nil {
		return nil, err
	}
	gross, err := fixedmath.RayMul(overall, utilization)
	if err != nil {
		return nil, err
	}
	keepBps := uint256.NewInt(10_000 - in.ReserveFactorBps)
	return fixedmath.PercentMul(gross, keepBps)
}
