package core

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"lendpool/internal/event"
)

// busyPool drives a state with two reserves, stable and variable debt, price
// history and a year of accrual, so a snapshot has something to carry.
func busyPool(t *testing.T) (*testPool, uuid.UUID, uuid.UUID) {
	t.Helper()
	p := newTestPool(t)
	p.listReserve("USDC", usdcConfig())
	p.listReserve("WETH", wethConfig())
	p.setPrice("USDC", 1)
	p.setPrice("WETH", 2_000)

	if err := p.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "WETH", Price: usd(2_000), PriceSequence: 1, PriceTimestamp: t0,
	}); err != nil {
		t.Fatalf("price update: %v", err)
	}

	whale := uuid.New()
	borrower := uuid.New()
	p.deposit(whale, "USDC", usdcUnits(1_000_000), t0)
	p.deposit(borrower, "WETH", wethUnits(100), t0)
	p.borrow(borrower, "USDC", usdcUnits(50_000), event.RateModeStable, t0)
	p.borrow(borrower, "USDC", usdcUnits(100_000), event.RateModeVariable, t0)

	// A later action forces index growth into the snapshot.
	month := t0 + 30*24*3600
	p.deposit(whale, "USDC", usdcUnits(1_000), month)

	p.drainPersist()
	return p, whale, borrower
}

func TestSnapshotRestoreReproducesState(t *testing.T) {
	p, whale, borrower := busyPool(t)
	month := t0 + 30*24*3600

	snap := p.engine.CreateSnapshotState()

	// Round trip through JSON the way the snapshot store does.
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var decoded SnapshotState
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	q := newTestPool(t)
	if err := q.engine.RestoreFromSnapshot(&decoded); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if q.engine.GetSequence() != p.engine.GetSequence() {
		t.Fatalf("sequence %d, want %d", q.engine.GetSequence(), p.engine.GetSequence())
	}
	if q.engine.GetStateHash() != p.engine.GetStateHash() {
		t.Fatal("state hash differs after restore")
	}
	if q.engine.journalGen.Sequence() != p.engine.journalGen.Sequence() {
		t.Fatal("journal sequence differs after restore")
	}

	for _, asset := range p.engine.ListReserves() {
		pv, err := p.engine.GetReserveView(asset, month)
		if err != nil {
			t.Fatalf("source view %s: %v", asset, err)
		}
		qv, err := q.engine.GetReserveView(asset, month)
		if err != nil {
			t.Fatalf("restored view %s: %v", asset, err)
		}
		if *pv != *qv {
			t.Fatalf("reserve %s differs after restore:\n  source   %+v\n  restored %+v", asset, pv, qv)
		}
	}
	for _, user := range []uuid.UUID{whale, borrower} {
		for _, asset := range []string{"USDC", "WETH"} {
			pv := p.userView(user, asset, month)
			qv := q.userView(user, asset, month)
			if *pv != *qv {
				t.Fatalf("user position %s differs after restore", asset)
			}
		}
	}

	// Both engines applying the same next action must stay in lockstep.
	next := DepositCommand{
		Action: Action{ActionID: uuid.New(), Timestamp: month + 60},
		User:   whale, Asset: "USDC", Amount: usdcUnits(777),
	}
	if err := p.engine.Deposit(next); err != nil {
		t.Fatalf("source deposit: %v", err)
	}
	if err := q.engine.Deposit(next); err != nil {
		t.Fatalf("restored deposit: %v", err)
	}
	if p.engine.GetStateHash() != q.engine.GetStateHash() {
		t.Fatal("engines diverged on the first action after restore")
	}
	if p.engine.GetSequence() != q.engine.GetSequence() {
		t.Fatal("sequences diverged on the first action after restore")
	}
}

func TestSnapshotCarriesPriceGuardPartitions(t *testing.T) {
	p, _, _ := busyPool(t)

	snap := p.engine.CreateSnapshotState()
	if snap.PricePartitions["price:WETH"] != 2 {
		t.Fatalf("price partition = %d, want 2", snap.PricePartitions["price:WETH"])
	}

	q := newTestPool(t)
	if err := q.engine.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// Replayed tick 1 is stale on the restored engine and must not land.
	if err := q.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "WETH", Price: usd(9_999), PriceSequence: 1, PriceTimestamp: t0,
	}); err != nil {
		t.Fatalf("stale tick should be dropped silently, got %v", err)
	}
	if _, ok := q.prices.GetAssetPrice("WETH"); ok {
		t.Fatal("stale tick set a price on the restored engine")
	}

	if err := q.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "WETH", Price: usd(2_100), PriceSequence: 2, PriceTimestamp: t0,
	}); err != nil {
		t.Fatalf("fresh tick: %v", err)
	}
	price, ok := q.prices.GetAssetPrice("WETH")
	if !ok || !price.Eq(usd(2_100)) {
		t.Fatalf("price after fresh tick = %v, want %s", price, usd(2_100).Dec())
	}
}

func TestRestoreRejectsCorruptValues(t *testing.T) {
	p, _, _ := busyPool(t)
	snap := p.engine.CreateSnapshotState()
	snap.Reserves[0].LiquidityIndex = "not-a-number"

	q := newTestPool(t)
	if err := q.engine.RestoreFromSnapshot(snap); err == nil {
		t.Fatal("restore accepted a corrupt liquidity index")
	}
}

func TestSnapshotStrategySurvivesRestore(t *testing.T) {
	p, whale, _ := busyPool(t)
	month := t0 + 30*24*3600

	q := newTestPool(t)
	if err := q.engine.RestoreFromSnapshot(p.engine.CreateSnapshotState()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// Rates recomputed on the restored engine must match the source, which
	// only holds if the kinked strategy parameters travelled with the
	// snapshot.
	next := DepositCommand{
		Action: Action{ActionID: uuid.New(), Timestamp: month + 3600},
		User:   whale, Asset: "USDC", Amount: usdcUnits(12_345),
	}
	if err := p.engine.Deposit(next); err != nil {
		t.Fatalf("source deposit: %v", err)
	}
	if err := q.engine.Deposit(next); err != nil {
		t.Fatalf("restored deposit: %v", err)
	}
	pv := p.reserveView("USDC", month+3600)
	qv := q.reserveView("USDC", month+3600)
	if pv.VariableBorrowRate != qv.VariableBorrowRate || pv.LiquidityRate != qv.LiquidityRate {
		t.Fatalf("rates diverged: %s/%s vs %s/%s",
			pv.VariableBorrowRate, pv.LiquidityRate, qv.VariableBorrowRate, qv.LiquidityRate)
	}
}
