package core

import (
	"testing"

	"github.com/google/uuid"

	"lendpool/internal/event"
)

func TestAccountDataAggregatesAcrossReserves(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	user := uuid.New()
	p.deposit(user, "USDC", usdcUnits(1_000), t0)
	p.deposit(user, "WETH", wethUnits(1), t0)

	av, err := p.engine.GetUserAccountData(user, t0)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	// 1000 USD of USDC plus 2000 USD of WETH at the oracle's 8-decimal
	// scale.
	if av.TotalCollateralUSD != usd(3_000).Dec() {
		t.Fatalf("collateral = %s, want %s", av.TotalCollateralUSD, usd(3_000).Dec())
	}
	// Collateral-weighted: (1000*8000 + 2000*7500) / 3000.
	if av.LTVBps != 7_666 {
		t.Fatalf("ltv = %d, want 7666", av.LTVBps)
	}
	// (1000*8500 + 2000*8000) / 3000.
	if av.LiquidationThresholdBps != 8_166 {
		t.Fatalf("threshold = %d, want 8166", av.LiquidationThresholdBps)
	}
	if av.TotalDebtUSD != "0" {
		t.Fatalf("debt = %s, want 0", av.TotalDebtUSD)
	}

	p.borrow(user, "USDC", usdcUnits(1_000), event.RateModeVariable, t0)

	av, err = p.engine.GetUserAccountData(user, t0)
	if err != nil {
		t.Fatalf("account data with debt: %v", err)
	}
	if av.TotalDebtUSD != usd(1_000).Dec() {
		t.Fatalf("debt = %s, want %s", av.TotalDebtUSD, usd(1_000).Dec())
	}
	// 3000 * 76.66% - 1000 in 8-decimal USD.
	if av.AvailableBorrowsUSD != "129980000000" {
		t.Fatalf("available borrows = %s, want 129980000000", av.AvailableBorrowsUSD)
	}
	// 3000 * 81.66% / 1000 in ray.
	if av.HealthFactor != "2449800000000000000000000000" {
		t.Fatalf("health factor = %s", av.HealthFactor)
	}
}

func TestAccountDataIgnoresUnelectedCollateral(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.setPrice("USDC", 1)

	user := uuid.New()
	p.deposit(user, "USDC", usdcUnits(1_000), t0)
	if err := p.engine.SetUserUseReserveAsCollateral(SetCollateralCommand{
		Action: act(t0), User: user, Asset: "USDC", UseAsCollateral: false,
	}); err != nil {
		t.Fatalf("disable collateral: %v", err)
	}

	av, err := p.engine.GetUserAccountData(user, t0)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if av.TotalCollateralUSD != "0" {
		t.Fatalf("unelected deposit counted as collateral: %s", av.TotalCollateralUSD)
	}
}

func TestHealthFactorSentinelWithoutDebt(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.setPrice("USDC", 1)

	user := uuid.New()
	p.deposit(user, "USDC", usdcUnits(500), t0)

	av, err := p.engine.GetUserAccountData(user, t0)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if av.HealthFactor != maxHealthFactor().Dec() {
		t.Fatalf("debt-free health factor = %s, want the max sentinel", av.HealthFactor)
	}
}
