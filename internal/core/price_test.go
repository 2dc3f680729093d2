package core

import (
	"testing"

	"github.com/holiman/uint256"

	"lendpool/internal/event"
)

func TestPriceUpdateSetsOracleAndLogs(t *testing.T) {
	p := newTestPool(t)
	p.drainPersist()

	if err := p.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "WETH", Price: usd(2_000), PriceSequence: 1, PriceTimestamp: t0,
	}); err != nil {
		t.Fatalf("price update: %v", err)
	}

	price, ok := p.prices.GetAssetPrice("WETH")
	if !ok || !price.Eq(usd(2_000)) {
		t.Fatalf("oracle price = %v, want %s", price, usd(2_000).Dec())
	}

	outputs := p.drainPersist()
	if len(outputs) != 1 {
		t.Fatalf("got %d outputs, want one PriceUpdated", len(outputs))
	}
	if outputs[0].Envelope.EventType != event.EventTypePriceUpdated {
		t.Fatalf("event type = %s", outputs[0].Envelope.EventType)
	}
	if outputs[0].Envelope.Asset == nil || *outputs[0].Envelope.Asset != "WETH" {
		t.Fatal("envelope should carry the asset symbol")
	}
}

func TestStalePriceTickDroppedSilently(t *testing.T) {
	p := newTestPool(t)

	if err := p.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "WETH", Price: usd(2_000), PriceSequence: 5, PriceTimestamp: t0,
	}); err != nil {
		t.Fatalf("price update: %v", err)
	}
	p.drainPersist()
	seq := p.engine.GetSequence()

	// Replaying the same feed sequence with a different price is a no-op,
	// not an error.
	if err := p.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "WETH", Price: usd(1), PriceSequence: 5, PriceTimestamp: t0,
	}); err != nil {
		t.Fatalf("stale tick: %v", err)
	}
	price, _ := p.prices.GetAssetPrice("WETH")
	if !price.Eq(usd(2_000)) {
		t.Fatalf("stale tick overwrote the price: %s", price.Dec())
	}
	if p.engine.GetSequence() != seq {
		t.Fatal("stale tick advanced the action sequence")
	}
	if outputs := p.drainPersist(); len(outputs) != 0 {
		t.Fatalf("stale tick emitted %d outputs", len(outputs))
	}
}

func TestPriceFeedGapAccepted(t *testing.T) {
	p := newTestPool(t)

	if err := p.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "WETH", Price: usd(2_000), PriceSequence: 1, PriceTimestamp: t0,
	}); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	// The feed skipped ahead. The update still lands.
	if err := p.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "WETH", Price: usd(2_050), PriceSequence: 10, PriceTimestamp: t0 + 60,
	}); err != nil {
		t.Fatalf("tick 10: %v", err)
	}
	price, _ := p.prices.GetAssetPrice("WETH")
	if !price.Eq(usd(2_050)) {
		t.Fatalf("price = %s, want 2050", price.Dec())
	}
	if got := p.engine.priceGuard.GetMetrics().GetPriceGaps("WETH"); got != 1 {
		t.Fatalf("recorded %d gaps, want 1", got)
	}
}

func TestPriceUpdateValidation(t *testing.T) {
	p := newTestPool(t)

	err := p.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "", Price: usd(1), PriceSequence: 1, PriceTimestamp: t0,
	})
	wantCode(t, err, CodeInvalidAddress)

	err = p.engine.ApplyPriceUpdate(PriceUpdateCommand{
		Asset: "WETH", Price: uint256.NewInt(0), PriceSequence: 1, PriceTimestamp: t0,
	})
	wantCode(t, err, CodeInvalidAmount)
}

func TestPriceSequenceGuardPartitions(t *testing.T) {
	g := NewPriceSequenceGuard()

	if !g.Accept("WETH", 0) {
		t.Fatal("first tick rejected")
	}
	if g.Accept("WETH", 0) {
		t.Fatal("repeat tick accepted")
	}
	// Partitions are independent per asset.
	if !g.Accept("USDC", 0) {
		t.Fatal("other asset gated by WETH's sequence")
	}
	if got := g.GetMetrics().GetStale("WETH"); got != 1 {
		t.Fatalf("stale count = %d, want 1", got)
	}

	all := g.GetAllPartitions()
	if all["price:WETH"] != 1 || all["price:USDC"] != 1 {
		t.Fatalf("partitions = %v", all)
	}
	// The returned map is a copy.
	all["price:WETH"] = 99
	if g.GetExpectedSequence("price:WETH") != 1 {
		t.Fatal("GetAllPartitions leaked internal state")
	}
}
