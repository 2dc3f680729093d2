package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"lendpool/internal/event"
	"lendpool/internal/ledger"
)

// ackReceiver acknowledges every flash loan and records what it was handed.
type ackReceiver struct {
	assets   []string
	amounts  []*uint256.Int
	premiums []*uint256.Int
	params   []byte
}

func (r *ackReceiver) ExecuteOperation(assets []string, amounts, premiums []*uint256.Int, params []byte) bool {
	r.assets = assets
	r.amounts = amounts
	r.premiums = premiums
	r.params = params
	return true
}

type nakReceiver struct{}

func (nakReceiver) ExecuteOperation([]string, []*uint256.Int, []*uint256.Int, []byte) bool {
	return false
}

func TestFlashLoanChargesPremiumToTreasury(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.deposit(uuid.New(), "USDC", usdcUnits(1_000_000), t0)
	p.drainPersist()

	recv := &ackReceiver{}
	if err := p.engine.FlashLoan(FlashLoanCommand{
		Action:     act(t0),
		ReceiverID: uuid.New(),
		Receiver:   recv,
		Assets:     []string{"USDC"},
		Amounts:    []*uint256.Int{usdcUnits(100_000)},
		Params:     []byte(`{"strategy":"arb"}`),
	}); err != nil {
		t.Fatalf("flash loan: %v", err)
	}

	// 9 bps of 100k is 90 USDC.
	premium := usdcUnits(90)
	if len(recv.premiums) != 1 || !recv.premiums[0].Eq(premium) {
		t.Fatalf("receiver premium = %v, want %s", recv.premiums, premium.Dec())
	}

	want := new(uint256.Int).Add(usdcUnits(1_000_000), premium)
	if got := p.reserveView("USDC", t0).AvailableLiquidity; got != want.Dec() {
		t.Fatalf("available liquidity = %s, want %s", got, want.Dec())
	}

	// The premium accrues to the treasury as receipt tokens.
	r := p.engine.state.reserves["USDC"]
	bal, err := r.Liquidity.BalanceOf(ledger.TreasuryHolder(), r.LiquidityIndex)
	if err != nil {
		t.Fatalf("treasury balance: %v", err)
	}
	if !bal.Eq(premium) {
		t.Fatalf("treasury receipt balance = %s, want %s", bal.Dec(), premium.Dec())
	}

	var sawFlashLoan bool
	for _, o := range p.drainPersist() {
		if o.Envelope.EventType == event.EventTypeFlashLoan {
			sawFlashLoan = true
		}
	}
	if !sawFlashLoan {
		t.Fatal("no FlashLoan event emitted")
	}
}

func TestFlashLoanValidationOrder(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.deposit(uuid.New(), "USDC", usdcUnits(1_000), t0)

	recv := &ackReceiver{}
	base := func() FlashLoanCommand {
		return FlashLoanCommand{
			Action:     act(t0),
			ReceiverID: uuid.New(),
			Receiver:   recv,
			Assets:     []string{"USDC"},
			Amounts:    []*uint256.Int{usdcUnits(100)},
		}
	}

	cmd := base()
	cmd.Assets = nil
	cmd.Amounts = nil
	wantCode(t, p.engine.FlashLoan(cmd), CodeEmptyArray)

	cmd = base()
	cmd.Amounts = []*uint256.Int{usdcUnits(100), usdcUnits(200)}
	wantCode(t, p.engine.FlashLoan(cmd), CodeInconsistentArraySize)

	cmd = base()
	cmd.Receiver = nil
	wantCode(t, p.engine.FlashLoan(cmd), CodeInvalidAddress)

	cmd = base()
	cmd.ReceiverID = uuid.Nil
	wantCode(t, p.engine.FlashLoan(cmd), CodeInvalidAddress)

	cmd = base()
	cmd.Amounts = []*uint256.Int{uint256.NewInt(0)}
	wantCode(t, p.engine.FlashLoan(cmd), CodeInvalidAmount)

	cmd = base()
	cmd.Assets = []string{"DOGE"}
	wantCode(t, p.engine.FlashLoan(cmd), CodeReserveDoesNotExist)
}

func TestFlashLoanUSDLimit(t *testing.T) {
	p := newTestPool(t)
	cfg := usdcConfig()
	cfg.FlashLoanLimitUSD = 50_000
	p.listReserve("USDC", cfg)
	p.setPrice("USDC", 1)
	p.deposit(uuid.New(), "USDC", usdcUnits(1_000_000), t0)

	err := p.engine.FlashLoan(FlashLoanCommand{
		Action:     act(t0),
		ReceiverID: uuid.New(),
		Receiver:   &ackReceiver{},
		Assets:     []string{"USDC"},
		Amounts:    []*uint256.Int{usdcUnits(60_000)},
	})
	wantCode(t, err, CodeFlashLoanAmountOverLimit)
}

func TestFlashLoanInsufficientLiquidity(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.deposit(uuid.New(), "USDC", usdcUnits(1_000), t0)

	err := p.engine.FlashLoan(FlashLoanCommand{
		Action:     act(t0),
		ReceiverID: uuid.New(),
		Receiver:   &ackReceiver{},
		Assets:     []string{"USDC"},
		Amounts:    []*uint256.Int{usdcUnits(1_001)},
	})
	wantCode(t, err, CodeInsufficientLiquidity)
}

func TestFlashLoanRejectedExecutorRollsBackWhole(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.deposit(uuid.New(), "USDC", usdcUnits(1_000_000), t0)
	p.drainPersist()

	seq := p.engine.GetSequence()
	hash := p.engine.GetStateHash()

	err := p.engine.FlashLoan(FlashLoanCommand{
		Action:     act(t0),
		ReceiverID: uuid.New(),
		Receiver:   nakReceiver{},
		Assets:     []string{"USDC"},
		Amounts:    []*uint256.Int{usdcUnits(100_000)},
	})
	wantCode(t, err, CodeInvalidFlashLoanExecutorReturn)

	if got := p.reserveView("USDC", t0).AvailableLiquidity; got != usdcUnits(1_000_000).Dec() {
		t.Fatalf("liquidity after rollback = %s, want untouched", got)
	}
	if p.engine.GetSequence() != seq || p.engine.GetStateHash() != hash {
		t.Fatal("rejected flash loan left a mark on sequence or hash")
	}
	if outputs := p.drainPersist(); len(outputs) != 0 {
		t.Fatalf("rejected flash loan emitted %d outputs", len(outputs))
	}
}

func TestFlashLoanMultiAsset(t *testing.T) {
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.deposit(uuid.New(), "USDC", usdcUnits(1_000_000), t0)
	p.deposit(uuid.New(), "WETH", wethUnits(100), t0)

	recv := &ackReceiver{}
	if err := p.engine.FlashLoan(FlashLoanCommand{
		Action:     act(t0),
		ReceiverID: uuid.New(),
		Receiver:   recv,
		Assets:     []string{"USDC", "WETH"},
		Amounts:    []*uint256.Int{usdcUnits(200_000), wethUnits(10)},
	}); err != nil {
		t.Fatalf("multi-asset flash loan: %v", err)
	}
	if len(recv.premiums) != 2 {
		t.Fatalf("got %d premiums, want 2", len(recv.premiums))
	}
	if !recv.premiums[0].Eq(usdcUnits(180)) {
		t.Fatalf("USDC premium = %s, want %s", recv.premiums[0].Dec(), usdcUnits(180).Dec())
	}
	// 9 bps of 10 WETH.
	wethPremium := new(uint256.Int).Div(
		new(uint256.Int).Mul(wethUnits(10), uint256.NewInt(9)), uint256.NewInt(10_000))
	if !recv.premiums[1].Eq(wethPremium) {
		t.Fatalf("WETH premium = %s, want %s", recv.premiums[1].Dec(), wethPremium.Dec())
	}
}
