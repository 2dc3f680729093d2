package fixedmath

import "github.com/holiman/uint256"

// SecondsPerYear is the accrual year used for per-second rate conversion.
const SecondsPerYear = 365 * 24 * 60 * 60

var secondsPerYear = uint256.NewInt(SecondsPerYear)

// LinearInterest returns 1 ray + rate*dt/secondsPerYear, the cumulative factor
// applied to the liquidity index. rate is an annual rate in ray.
func LinearInterest(rate *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if elapsed == 0 {
		return new(uint256.Int).Set(Ray), nil
	}
	accrued, overflow := new(uint256.Int).MulOverflow(rate, uint256.NewInt(elapsed))
	if overflow {
		return nil, ErrOverflow
	}
	accrued.Div(accrued, secondsPerYear)
	out, overflow := new(uint256.Int).AddOverflow(Ray, accrued)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// CompoundedInterest approximates (1 + rate/secondsPerYear)^dt with a
// second-order binomial expansion:
//
//	1 + x*dt + x^2 * dt*(dt-1)/2, where x = rate/secondsPerYear
//
// The approximation undershoots true compounding slightly, which keeps debt
// growth conservative. rate is an annual rate in ray.
func CompoundedInterest(rate *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if elapsed == 0 {
		return new(uint256.Int).Set(Ray), nil
	}
	perSecond := new(uint256.Int).Div(rate, secondsPerYear)

	dt := uint256.NewInt(elapsed)
	firstTerm, overflow := new(uint256.Int).MulOverflow(perSecond, dt)
	if overflow {
		return nil, ErrOverflow
	}

	// x^2 * dt*(dt-1)/2
	xSquared, err := RayMul(perSecond, perSecond)
	if err != nil {
		return nil, err
	}
	dtMinusOne := uint256.NewInt(elapsed - 1)
	pairs, overflow := new(uint256.Int).MulOverflow(dt, dtMinusOne)
	if overflow {
		return nil, ErrOverflow
	}
	pairs.Rsh(pairs, 1)
	secondTerm, overflow := new(uint256.Int).MulOverflow(xSquared, pairs)
	if overflow {
		return nil, ErrOverflow
	}

	out, overflow := new(uint256.Int).AddOverflow(Ray, firstTerm)
	if overflow {
		return nil, ErrOverflow
	}
	out, overflow = out.AddOverflow(out, secondTerm)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
