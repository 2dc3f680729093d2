package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/event"
)

// liquidationScenario lists USDC and WETH, funds the pool and puts a borrower
// at 1 WETH collateral against 1400 USDC of variable debt. At 2000 USD per
// WETH the position is healthy; dropping the price tips it over.
func liquidationScenario(t *testing.T) (*testPool, uuid.UUID) {
	t.Helper()
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(100_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)
	p.borrow(borrower, "USDC", usdcUnits(1_400), event.RateModeVariable, t0)
	p.drainPersist()
	return p, borrower
}

func TestLiquidationRejectsHealthyPosition(t *testing.T) {
	p, borrower := liquidationScenario(t)

	err := p.engine.LiquidationCall(LiquidationCommand{
		Action:          act(t0),
		Liquidator:      uuid.New(),
		User:            borrower,
		CollateralAsset: "WETH",
		DebtAsset:       "USDC",
		DebtToCover:     EntireBalance,
	})
	wantCode(t, err, CodeHealthFactorNotBelowThreshold)
}

func TestLiquidationCloseFactorLimitsCover(t *testing.T) {
	p, borrower := liquidationScenario(t)

	// HF = 1700 * 0.80 / 1400 = 0.971: liquidatable, but inside the soft
	// band where only half the debt may be covered.
	p.setPrice("WETH", 1_700)

	if err := p.engine.LiquidationCall(LiquidationCommand{
		Action:          act(t0),
		Liquidator:      uuid.New(),
		User:            borrower,
		CollateralAsset: "WETH",
		DebtAsset:       "USDC",
		DebtToCover:     EntireBalance,
	}); err != nil {
		t.Fatalf("liquidation: %v", err)
	}

	uv := p.userView(borrower, "USDC", t0)
	if uv.VariableDebt != usdcUnits(700).Dec() {
		t.Fatalf("remaining debt = %s, want %s", uv.VariableDebt, usdcUnits(700).Dec())
	}

	// Seized: 700 USD of WETH at 1700, plus the 7.5% bonus.
	wv := p.userView(borrower, "WETH", t0)
	left, err := uint256.FromDecimal(wv.Balance)
	if err != nil {
		t.Fatalf("parse balance: %v", err)
	}
	seized := new(uint256.Int).Sub(wethUnits(1), left)
	lo := uint256.MustFromDecimal("442000000000000000")
	hi := uint256.MustFromDecimal("443000000000000000")
	if seized.Lt(lo) || seized.Gt(hi) {
		t.Fatalf("seized %s WETH, want about 0.4426", seized.Dec())
	}
	if !wv.UsageAsCollateral {
		t.Fatal("partial seizure must keep the collateral election")
	}

	// Repaid debt flows back into the reserve.
	want := new(uint256.Int).Add(usdcUnits(98_600), usdcUnits(700))
	if got := p.reserveView("USDC", t0).AvailableLiquidity; got != want.Dec() {
		t.Fatalf("debt reserve liquidity = %s, want %s", got, want.Dec())
	}
}

func TestLiquidationFullBelowHardThreshold(t *testing.T) {
	p, borrower := liquidationScenario(t)

	// HF = 1600 * 0.80 / 1400 = 0.914, under the 0.95 hard threshold: the
	// close factor no longer applies.
	p.setPrice("WETH", 1_600)

	if err := p.engine.LiquidationCall(LiquidationCommand{
		Action:          act(t0),
		Liquidator:      uuid.New(),
		User:            borrower,
		CollateralAsset: "WETH",
		DebtAsset:       "USDC",
		DebtToCover:     EntireBalance,
	}); err != nil {
		t.Fatalf("liquidation: %v", err)
	}

	if got := p.userView(borrower, "USDC", t0).VariableDebt; got != "0" {
		t.Fatalf("remaining debt = %s, want 0", got)
	}
	// 1400 USD at 1600 with the 7.5% bonus seizes 0.940625 WETH exactly.
	wv := p.userView(borrower, "WETH", t0)
	if wv.Balance != "59375000000000000" {
		t.Fatalf("collateral left = %s, want 0.059375 WETH", wv.Balance)
	}
	if !wv.UsageAsCollateral {
		t.Fatal("nonzero remainder keeps the collateral election")
	}
}

func TestLiquidationSeizeCappedByCollateral(t *testing.T) {
	p, borrower := liquidationScenario(t)

	// At 1000 the bonus-adjusted seize for the full debt exceeds the whole
	// collateral, so the cover is scaled back to what 1 WETH can buy.
	p.setPrice("WETH", 1_000)

	if err := p.engine.LiquidationCall(LiquidationCommand{
		Action:          act(t0),
		Liquidator:      uuid.New(),
		User:            borrower,
		CollateralAsset: "WETH",
		DebtAsset:       "USDC",
		DebtToCover:     EntireBalance,
	}); err != nil {
		t.Fatalf("liquidation: %v", err)
	}

	wv := p.userView(borrower, "WETH", t0)
	if wv.Balance != "0" {
		t.Fatalf("collateral left = %s, want 0", wv.Balance)
	}
	if wv.UsageAsCollateral {
		t.Fatal("fully seized position must drop the collateral election")
	}

	// 1 WETH de-bonused buys back about 930.23 USDC of debt.
	debt, err := uint256.FromDecimal(p.userView(borrower, "USDC", t0).VariableDebt)
	if err != nil {
		t.Fatalf("parse debt: %v", err)
	}
	lo := usdcUnits(469)
	hi := usdcUnits(471)
	if debt.Lt(lo) || debt.Gt(hi) {
		t.Fatalf("remaining debt = %s, want about 469.77 USDC", debt.Dec())
	}

	var sawToggle bool
	for _, o := range p.drainPersist() {
		if o.Envelope.EventType == event.EventTypeCollateralToggled {
			sawToggle = true
		}
	}
	if !sawToggle {
		t.Fatal("full seizure should emit a collateral toggle")
	}
}

func TestLiquidationPartialCover(t *testing.T) {
	p, borrower := liquidationScenario(t)
	p.setPrice("WETH", 1_700)

	// An explicit cover below the close-factor limit is honored as given.
	if err := p.engine.LiquidationCall(LiquidationCommand{
		Action:          act(t0),
		Liquidator:      uuid.New(),
		User:            borrower,
		CollateralAsset: "WETH",
		DebtAsset:       "USDC",
		DebtToCover:     usdcUnits(100),
	}); err != nil {
		t.Fatalf("liquidation: %v", err)
	}
	if got := p.userView(borrower, "USDC", t0).VariableDebt; got != usdcUnits(1_300).Dec() {
		t.Fatalf("remaining debt = %s, want %s", got, usdcUnits(1_300).Dec())
	}
}

func TestLiquidationRequiresCollateralElection(t *testing.T) {
	p, borrower := liquidationScenario(t)
	p.setPrice("WETH", 1_700)

	// USDC is collateral-capable but the borrower has no deposit there, let
	// alone an election.
	err := p.engine.LiquidationCall(LiquidationCommand{
		Action:          act(t0),
		Liquidator:      uuid.New(),
		User:            borrower,
		CollateralAsset: "USDC",
		DebtAsset:       "USDC",
		DebtToCover:     EntireBalance,
	})
	wantCode(t, err, CodeCollateralDisabled)
}
