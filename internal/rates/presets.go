package rates

import "github.com/holiman/uint256"

// rayFraction returns (num/den) in ray, for building preset parameters.
func rayFraction(num, den uint64) *uint256.Int {
	out := uint256.MustFromDecimal("1000000000000000000000000000")
	out.Mul(out, uint256.NewInt(num))
	return out.Div(out, uint256.NewInt(den))
}

// NewDefaultStrategy returns a mid-risk parameter set: kink at 80%
// utilization, 0% base, 4% slope1, 75% slope2.
func NewDefaultStrategy() *KinkedStrategy {
	s, err := NewKinkedStrategy(Params{
		OptimalUtilization:     rayFraction(80, 100),
		BaseVariableBorrowRate: uint256.NewInt(0),
		VariableRateSlope1:     rayFraction(4, 100),
		VariableRateSlope2:     rayFraction(75, 100),
		StableRateSlope1:       rayFraction(2, 100),
		StableRateSlope2:       rayFraction(75, 100),
	})
	if err != nil {
		panic(err) // static parameters, cannot fail
	}
	return s
}

// NewStablecoinStrategy returns the parameter set used for stable-value
// assets: kink at 90%, shallow first slope, steep second slope.
func NewStablecoinStrategy() *KinkedStrategy {
	s, err := NewKinkedStrategy(Params{
		OptimalUtilization:     rayFraction(90, 100),
		BaseVariableBorrowRate: uint256.NewInt(0),
		VariableRateSlope1:     rayFraction(4, 100),
		VariableRateSlope2:     rayFraction(60, 100),
		StableRateSlope1:       rayFraction(2, 100),
		StableRateSlope2:       rayFraction(60, 100),
	})
	if err != nil {
		panic(err)
	}
	return s
}

// NewVolatileStrategy returns the parameter set used for volatile assets:
// kink at 45%, nonzero base, very steep second slope.
func NewVolatileStrategy() *KinkedStrategy {
	s, err := NewKinkedStrategy(Params{
		OptimalUtilization:     rayFraction(45, 100),
		BaseVariableBorrowRate: rayFraction(1, 100),
		VariableRateSlope1:     rayFraction(7, 100),
		VariableRateSlope2:     rayFraction(300, 100),
		StableRateSlope1:       rayFraction(3, 100),
		StableRateSlope2:       rayFraction(300, 100),
	})
	if err != nil {
		panic(err)
	}
	return s
}
