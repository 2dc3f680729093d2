package fixedmath

import (
	"testing"

	"github.com/holiman/uint256"
)

// fivePercent is a 5% annual rate in ray.
var fivePercent = uint256.MustFromDecimal("50000000000000000000000000")

func TestLinearInterestZeroElapsed(t *testing.T) {
	got, err := LinearInterest(fivePercent, 0)
	if err != nil {
		t.Fatalf("LinearInterest: %v", err)
	}
	if !got.Eq(Ray) {
		t.Errorf("zero elapsed factor = %s, want 1 ray", got.Dec())
	}
}

func TestLinearInterestFullYear(t *testing.T) {
	got, err := LinearInterest(fivePercent, SecondsPerYear)
	if err != nil {
		t.Fatalf("LinearInterest: %v", err)
	}
	want := new(uint256.Int).Add(Ray, fivePercent)
	if !got.Eq(want) {
		t.Errorf("full year factor = %s, want %s", got.Dec(), want.Dec())
	}
}

func TestLinearInterestProportional(t *testing.T) {
	half, err := LinearInterest(fivePercent, SecondsPerYear/2)
	if err != nil {
		t.Fatalf("LinearInterest: %v", err)
	}
	accrued := new(uint256.Int).Sub(half, Ray)
	want := new(uint256.Int).Rsh(fivePercent, 1)
	if !accrued.Eq(want) {
		t.Errorf("half year accrual = %s, want %s", accrued.Dec(), want.Dec())
	}
}

func TestCompoundedInterestZeroElapsed(t *testing.T) {
	got, err := CompoundedInterest(fivePercent, 0)
	if err != nil {
		t.Fatalf("CompoundedInterest: %v", err)
	}
	if !got.Eq(Ray) {
		t.Errorf("zero elapsed factor = %s, want 1 ray", got.Dec())
	}
}

func TestCompoundedInterestOneSecond(t *testing.T) {
	// With dt=1 the quadratic term vanishes and the factor is exactly
	// 1 + rate/secondsPerYear.
	got, err := CompoundedInterest(fivePercent, 1)
	if err != nil {
		t.Fatalf("CompoundedInterest: %v", err)
	}
	perSecond := new(uint256.Int).Div(fivePercent, uint256.NewInt(SecondsPerYear))
	want := new(uint256.Int).Add(Ray, perSecond)
	if !got.Eq(want) {
		t.Errorf("one second factor = %s, want %s", got.Dec(), want.Dec())
	}
}

func TestCompoundedExceedsLinear(t *testing.T) {
	// Over any multi-second window the quadratic term makes compounded
	// accrual strictly larger than linear accrual at the same rate.
	elapsed := uint64(30 * 24 * 60 * 60)
	linear, err := LinearInterest(fivePercent, elapsed)
	if err != nil {
		t.Fatalf("LinearInterest: %v", err)
	}
	compounded, err := CompoundedInterest(fivePercent, elapsed)
	if err != nil {
		t.Fatalf("CompoundedInterest: %v", err)
	}
	if !compounded.Gt(linear) {
		t.Errorf("compounded %s not above linear %s after 30 days", compounded.Dec(), linear.Dec())
	}
}
