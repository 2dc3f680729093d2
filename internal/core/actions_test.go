package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/event"
	"lendpool/internal/reserve"
)

func TestWithdrawEntireBalanceClearsCollateral(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())

	user := uuid.New()
	p.deposit(user, "USDC", usdcUnits(1_000), t0)
	p.drainPersist()

	if err := p.engine.Withdraw(WithdrawCommand{
		Action: act(t0), User: user, Asset: "USDC", Amount: EntireBalance,
	}); err != nil {
		t.Fatalf("withdraw all: %v", err)
	}

	uv := p.userView(user, "USDC", t0)
	if uv.Balance != "0" {
		t.Fatalf("balance after full withdraw = %s", uv.Balance)
	}
	if uv.UsageAsCollateral {
		t.Fatal("collateral election should clear with the last unit withdrawn")
	}

	var sawToggle bool
	for _, o := range p.drainPersist() {
		if o.Envelope.EventType == event.EventTypeCollateralToggled {
			sawToggle = true
		}
	}
	if !sawToggle {
		t.Fatal("full withdraw should emit a collateral toggle")
	}
}

func TestWithdrawMoreThanBalance(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())

	user := uuid.New()
	p.deposit(user, "USDC", usdcUnits(100), t0)

	err := p.engine.Withdraw(WithdrawCommand{
		Action: act(t0), User: user, Asset: "USDC", Amount: usdcUnits(101),
	})
	wantCode(t, err, CodeInsufficientBalance)
}

func TestWithdrawRefusedWhenHealthFactorBreaks(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(100_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)
	// 2000 USD collateral at 75% ltv covers a 1400 USD draw.
	p.borrow(borrower, "USDC", usdcUnits(1_400), event.RateModeVariable, t0)

	err := p.engine.Withdraw(WithdrawCommand{
		Action: act(t0), User: borrower, Asset: "WETH",
		Amount: new(uint256.Int).Div(wethUnits(1), uint256.NewInt(2)),
	})
	wantCode(t, err, CodeHealthFactorBelowThreshold)

	// The rejected withdrawal must not have touched the position.
	if got := p.userView(borrower, "WETH", t0).Balance; got != wethUnits(1).Dec() {
		t.Fatalf("collateral balance after rejected withdraw = %s", got)
	}
}

func TestWithdrawRefusedWhenLiquidityLent(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	depositor := uuid.New()
	borrower := uuid.New()
	p.deposit(depositor, "USDC", usdcUnits(1_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)
	p.borrow(borrower, "USDC", usdcUnits(800), event.RateModeVariable, t0)

	// Only 200 USDC remains on hand.
	err := p.engine.Withdraw(WithdrawCommand{
		Action: act(t0), User: depositor, Asset: "USDC", Amount: usdcUnits(500),
	})
	wantCode(t, err, CodeInsufficientLiquidity)
}

func TestBorrowVariableAndRepay(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(10_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)

	p.borrow(borrower, "USDC", usdcUnits(1_000), event.RateModeVariable, t0)

	uv := p.userView(borrower, "USDC", t0)
	if uv.VariableDebt != usdcUnits(1_000).Dec() {
		t.Fatalf("variable debt = %s, want %s", uv.VariableDebt, usdcUnits(1_000).Dec())
	}
	rv := p.reserveView("USDC", t0)
	if rv.AvailableLiquidity != usdcUnits(9_000).Dec() {
		t.Fatalf("available liquidity = %s, want %s", rv.AvailableLiquidity, usdcUnits(9_000).Dec())
	}

	if err := p.engine.Repay(RepayCommand{
		Action: act(t0), Payer: borrower, OnBehalfOf: borrower,
		Asset: "USDC", Amount: EntireBalance, Mode: event.RateModeVariable,
	}); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if got := p.userView(borrower, "USDC", t0).VariableDebt; got != "0" {
		t.Fatalf("debt after repay = %s", got)
	}
	if got := p.reserveView("USDC", t0).AvailableLiquidity; got != usdcUnits(10_000).Dec() {
		t.Fatalf("liquidity after repay = %s", got)
	}
}

func TestBorrowRequiresCollateralValue(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(10_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)

	// Borrowing power is 1500 USD at 75% ltv.
	err := p.engine.Borrow(BorrowCommand{
		Action: act(t0), User: borrower, Asset: "USDC",
		Amount: usdcUnits(1_501), Mode: event.RateModeVariable,
	})
	wantCode(t, err, CodeCollateralCannotCoverBorrow)
}

func TestBorrowRejectsBadMode(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())

	err := p.engine.Borrow(BorrowCommand{
		Action: act(t0), User: uuid.New(), Asset: "USDC",
		Amount: usdcUnits(1), Mode: event.RateModeNone,
	})
	wantCode(t, err, CodeInvalidRateMode)
}

func TestStableBorrowGates(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(1_000), t0)
	p.deposit(borrower, "WETH", wethUnits(10), t0)

	// A single stable borrow is capped at 25% of available liquidity.
	err := p.engine.Borrow(BorrowCommand{
		Action: act(t0), User: borrower, Asset: "USDC",
		Amount: usdcUnits(300), Mode: event.RateModeStable,
	})
	wantCode(t, err, CodeExceedsStableBorrowLimit)

	p.borrow(borrower, "USDC", usdcUnits(250), event.RateModeStable, t0)
	uv := p.userView(borrower, "USDC", t0)
	if uv.StableDebt != usdcUnits(250).Dec() {
		t.Fatalf("stable debt = %s, want %s", uv.StableDebt, usdcUnits(250).Dec())
	}
	if uv.StableRate == "0" {
		t.Fatal("stable position should fix a nonzero rate")
	}

	// WETH never enables stable borrowing. The amount stays inside the
	// whale's borrowing power so the mode gate is what rejects it.
	err = p.engine.Borrow(BorrowCommand{
		Action: act(t0), User: whale, Asset: "WETH",
		Amount: new(uint256.Int).Div(wethUnits(1), uint256.NewInt(10)), Mode: event.RateModeStable,
	})
	wantCode(t, err, CodeStableBorrowingDisabled)
}

func TestRepayWithoutDebt(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())

	user := uuid.New()
	p.deposit(user, "USDC", usdcUnits(100), t0)

	err := p.engine.Repay(RepayCommand{
		Action: act(t0), Payer: user, OnBehalfOf: user,
		Asset: "USDC", Amount: usdcUnits(50), Mode: event.RateModeVariable,
	})
	wantCode(t, err, CodeNoDebtOfSelectedType)
}

func TestRepayOverpaymentClamped(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(10_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)
	p.borrow(borrower, "USDC", usdcUnits(1_000), event.RateModeVariable, t0)
	p.drainPersist()

	if err := p.engine.Repay(RepayCommand{
		Action: act(t0), Payer: borrower, OnBehalfOf: borrower,
		Asset: "USDC", Amount: usdcUnits(5_000), Mode: event.RateModeVariable,
	}); err != nil {
		t.Fatalf("overpay repay: %v", err)
	}
	if got := p.userView(borrower, "USDC", t0).VariableDebt; got != "0" {
		t.Fatalf("debt after clamped repay = %s", got)
	}
	// The reserve took back exactly the debt, not the overpayment.
	if got := p.reserveView("USDC", t0).AvailableLiquidity; got != usdcUnits(10_000).Dec() {
		t.Fatalf("liquidity after clamped repay = %s", got)
	}
}

func TestRepayOnBehalfOf(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	payer := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(10_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)
	p.borrow(borrower, "USDC", usdcUnits(500), event.RateModeVariable, t0)

	if err := p.engine.Repay(RepayCommand{
		Action: act(t0), Payer: payer, OnBehalfOf: borrower,
		Asset: "USDC", Amount: EntireBalance, Mode: event.RateModeVariable,
	}); err != nil {
		t.Fatalf("third-party repay: %v", err)
	}
	if got := p.userView(borrower, "USDC", t0).VariableDebt; got != "0" {
		t.Fatalf("debt after third-party repay = %s", got)
	}
}

func TestSwapRateModeRoundTrip(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(10_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)
	p.borrow(borrower, "USDC", usdcUnits(500), event.RateModeVariable, t0)

	if err := p.engine.SwapRateMode(SwapRateModeCommand{
		Action: act(t0), User: borrower, Asset: "USDC", FromMode: event.RateModeVariable,
	}); err != nil {
		t.Fatalf("swap to stable: %v", err)
	}
	uv := p.userView(borrower, "USDC", t0)
	if uv.VariableDebt != "0" {
		t.Fatalf("variable debt after swap = %s", uv.VariableDebt)
	}
	if uv.StableDebt != usdcUnits(500).Dec() {
		t.Fatalf("stable debt after swap = %s, want %s", uv.StableDebt, usdcUnits(500).Dec())
	}

	if err := p.engine.SwapRateMode(SwapRateModeCommand{
		Action: act(t0), User: borrower, Asset: "USDC", FromMode: event.RateModeStable,
	}); err != nil {
		t.Fatalf("swap back to variable: %v", err)
	}
	uv = p.userView(borrower, "USDC", t0)
	if uv.StableDebt != "0" || uv.VariableDebt != usdcUnits(500).Dec() {
		t.Fatalf("after round trip: stable %s variable %s", uv.StableDebt, uv.VariableDebt)
	}
}

func TestSwapRateModeWithoutDebt(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())

	err := p.engine.SwapRateMode(SwapRateModeCommand{
		Action: act(t0), User: uuid.New(), Asset: "USDC", FromMode: event.RateModeVariable,
	})
	wantCode(t, err, CodeNoDebtOfSelectedType)
}

func TestRebalanceStableRateThreshold(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(1_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)
	p.borrow(borrower, "USDC", usdcUnits(100), event.RateModeStable, t0)

	// Utilization is 10%, nowhere near the rebalance threshold.
	err := p.engine.RebalanceStableBorrowRate(RebalanceCommand{
		Action: act(t0), Caller: whale, User: borrower, Asset: "USDC",
	})
	wantCode(t, err, CodeRebalanceConditionsNotMet)

	// 950 of 1000 lent out puts utilization exactly at 95%.
	p.borrow(borrower, "USDC", usdcUnits(850), event.RateModeVariable, t0)
	if err := p.engine.RebalanceStableBorrowRate(RebalanceCommand{
		Action: act(t0), Caller: whale, User: borrower, Asset: "USDC",
	}); err != nil {
		t.Fatalf("rebalance at threshold: %v", err)
	}

	uv := p.userView(borrower, "USDC", t0)
	rv := p.reserveView("USDC", t0)
	if uv.StableRate != rv.StableBorrowRate {
		t.Fatalf("rebalanced rate %s should match current stable rate %s", uv.StableRate, rv.StableBorrowRate)
	}
}

func TestSetCollateralToggles(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())

	user := uuid.New()
	err := p.engine.SetUserUseReserveAsCollateral(SetCollateralCommand{
		Action: act(t0), User: user, Asset: "USDC", UseAsCollateral: true,
	})
	wantCode(t, err, CodeInsufficientBalance)

	p.deposit(user, "USDC", usdcUnits(100), t0)
	if err := p.engine.SetUserUseReserveAsCollateral(SetCollateralCommand{
		Action: act(t0), User: user, Asset: "USDC", UseAsCollateral: false,
	}); err != nil {
		t.Fatalf("disable collateral: %v", err)
	}
	if p.userView(user, "USDC", t0).UsageAsCollateral {
		t.Fatal("collateral flag should be off")
	}

	if err := p.engine.SetUserUseReserveAsCollateral(SetCollateralCommand{
		Action: act(t0), User: user, Asset: "USDC", UseAsCollateral: true,
	}); err != nil {
		t.Fatalf("re-enable collateral: %v", err)
	}
	if !p.userView(user, "USDC", t0).UsageAsCollateral {
		t.Fatal("collateral flag should be back on")
	}
}

func TestSetCollateralRejectedOnNonCollateralReserve(t *testing.T) {
	p := newTestPool(t)
	cfg := usdcConfig()
	cfg.UsageAsCollateralEnabled = false
	cfg.LiquidationThresholdBps = 0
	cfg.LiquidationBonusBps = 0
	cfg.LTVBps = 0
	p.listReserve("USDT", cfg)

	user := uuid.New()
	p.deposit(user, "USDT", usdcUnits(100), t0)
	// A borrow-only listing never auto-elects, and cannot be elected.
	if p.userView(user, "USDT", t0).UsageAsCollateral {
		t.Fatal("borrow-only reserve must not auto-elect collateral")
	}
	err := p.engine.SetUserUseReserveAsCollateral(SetCollateralCommand{
		Action: act(t0), User: user, Asset: "USDT", UseAsCollateral: true,
	})
	wantCode(t, err, CodeCollateralDisabled)
}

func TestDisableCollateralBlockedByDebt(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(10_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)
	p.borrow(borrower, "USDC", usdcUnits(1_000), event.RateModeVariable, t0)

	err := p.engine.SetUserUseReserveAsCollateral(SetCollateralCommand{
		Action: act(t0), User: borrower, Asset: "WETH", UseAsCollateral: false,
	})
	wantCode(t, err, CodeHealthFactorBelowThreshold)
	if !p.userView(borrower, "WETH", t0).UsageAsCollateral {
		t.Fatal("flag must survive the rejected disable")
	}
}

func TestSupplyCapEnforced(t *testing.T) {
	p := newTestPool(t)
	cfg := usdcConfig()
	cfg.SupplyCapUSD = 1_000
	p.listReserve("USDC", cfg)
	p.setPrice("USDC", 1)

	user := uuid.New()
	// Landing exactly on the cap is allowed.
	p.deposit(user, "USDC", usdcUnits(1_000), t0)

	err := p.engine.Deposit(DepositCommand{
		Action: act(t0), User: user, Asset: "USDC", Amount: uint256.NewInt(1),
	})
	wantCode(t, err, CodeSupplyCapExceeded)
}

func TestSupplyCapZeroMeansUncapped(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())

	// No price listed either: an uncapped deposit never consults the oracle.
	p.deposit(uuid.New(), "USDC", usdcUnits(100_000_000), t0)
}

func TestBorrowCapEnforced(t *testing.T) {
	p := newTestPool(t)
	cfg := usdcConfig()
	cfg.BorrowCapUSD = 500
	p.listReserve("USDC", cfg)
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(10_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)

	p.borrow(borrower, "USDC", usdcUnits(500), event.RateModeVariable, t0)

	err := p.engine.Borrow(BorrowCommand{
		Action: act(t0), User: borrower, Asset: "USDC",
		Amount: usdcUnits(1), Mode: event.RateModeVariable,
	})
	wantCode(t, err, CodeBorrowCapExceeded)
}

func TestFrozenReserveBlocksNewExposure(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(10_000), t0)
	p.deposit(borrower, "WETH", wethUnits(1), t0)
	p.borrow(borrower, "USDC", usdcUnits(500), event.RateModeVariable, t0)

	if err := p.engine.SetReserveStatus(SetReserveStatusCommand{
		Action: act(t0), Admin: p.admin, Asset: "USDC", Status: reserve.StatusFrozen,
	}); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	err := p.engine.Deposit(DepositCommand{
		Action: act(t0), User: whale, Asset: "USDC", Amount: usdcUnits(1),
	})
	wantCode(t, err, CodeReserveFrozen)

	err = p.engine.Borrow(BorrowCommand{
		Action: act(t0), User: borrower, Asset: "USDC",
		Amount: usdcUnits(1), Mode: event.RateModeVariable,
	})
	wantCode(t, err, CodeReserveFrozen)

	err = p.engine.SwapRateMode(SwapRateModeCommand{
		Action: act(t0), User: borrower, Asset: "USDC", FromMode: event.RateModeVariable,
	})
	wantCode(t, err, CodeReserveFrozen)

	// Exposure-reducing actions keep working on a frozen reserve.
	if err := p.engine.Repay(RepayCommand{
		Action: act(t0), Payer: borrower, OnBehalfOf: borrower,
		Asset: "USDC", Amount: EntireBalance, Mode: event.RateModeVariable,
	}); err != nil {
		t.Fatalf("repay on frozen reserve: %v", err)
	}
	if err := p.engine.Withdraw(WithdrawCommand{
		Action: act(t0), User: whale, Asset: "USDC", Amount: usdcUnits(1_000),
	}); err != nil {
		t.Fatalf("withdraw on frozen reserve: %v", err)
	}
}
