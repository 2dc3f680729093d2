package fixedmath

import (
	"errors"

	"github.com/holiman/uint256"
)

// Fixed-point scales used across the protocol.
// Ray (1e27) carries indices and rates; the percentage scale (1e4)
// carries basis-point parameters like reserve factors and premiums.
var (
	Ray          = uint256.MustFromDecimal("1000000000000000000000000000") // 1e27
	HalfRay      = new(uint256.Int).Rsh(Ray, 1)
	Wad          = uint256.MustFromDecimal("1000000000000000000") // 1e18
	PercentScale = uint256.NewInt(10_000)
	HalfPercent  = uint256.NewInt(5_000)
)

var (
	// ErrOverflow is returned when an intermediate product or sum exceeds 256 bits.
	ErrOverflow = errors.New("fixedmath: arithmetic overflow")
	// ErrDivisionByZero is returned when a divisor is zero.
	ErrDivisionByZero = errors.New("fixedmath: division by zero")
)

// RayMul computes round(a*b/1e27) with round-half-up.
func RayMul(a, b *uint256.Int) (*uint256.Int, error) {
	return scaledMul(a, b, Ray, HalfRay)
}

// RayDiv computes round(a*1e27/b) with round-half-up.
func RayDiv(a, b *uint256.Int) (*uint256.Int, error) {
	return scaledDiv(a, b, Ray)
}

// PercentMul computes round(a*bps/1e4) with round-half-up.
func PercentMul(a, b *uint256.Int) (*uint256.Int, error) {
	return scaledMul(a, b, PercentScale, HalfPercent)
}

// PercentDiv computes round(a*1e4/b) with round-half-up.
func PercentDiv(a, b *uint256.Int) (*uint256.Int, error) {
	return scaledDiv(a, b, PercentScale)
}

func scaledMul(a, b, scale, halfScale *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	rounded, overflow := new(uint256.Int).AddOverflow(product, halfScale)
	if overflow {
		return nil, ErrOverflow
	}
	return rounded.Div(rounded, scale), nil
}

func scaledDiv(a, b, scale *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	numerator, overflow := new(uint256.Int).MulOverflow(a, scale)
	if overflow {
		return nil, ErrOverflow
	}
	halfB := new(uint256.Int).Rsh(b, 1)
	rounded, overflow := new(uint256.Int).AddOverflow(numerator, halfB)
	if overflow {
		return nil, ErrOverflow
	}
	return rounded.Div(rounded, b), nil
}

// MulDiv computes round-half-up(a*b/denominator) without an intermediate scale.
// Used for price conversions where the denominator is a power of ten derived
// from asset decimals rather than a protocol-wide constant.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	half := new(uint256.Int).Rsh(denominator, 1)
	rounded, overflow := new(uint256.Int).AddOverflow(product, half)
	if overflow {
		return nil, ErrOverflow
	}
	return rounded.Div(rounded, denominator), nil
}

// Pow10 returns 10^n as a uint256. Asset decimals are bounded well below the
// point where this could overflow.
func Pow10(n uint8) *uint256.Int {
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		out.Mul(out, ten)
	}
	return out
}
