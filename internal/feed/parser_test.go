package feed_test

import (
	"encoding/json"
	"testing"
	"time"

	"lendpool/internal/feed"
)

func rawFromJSON(t *testing.T, v interface{}) feed.RawTick {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return feed.RawTick{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParsePriceTick(t *testing.T) {
	payload := map[string]interface{}{
		"asset":          "WETH",
		"price":          "250000000000", // 2500 USD at 8 decimals
		"price_sequence": int64(42),
		"timestamp_us":   int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := feed.ParsePriceTick(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cmd.Asset != "WETH" {
		t.Errorf("asset: got %s, want WETH", cmd.Asset)
	}
	if cmd.Price.Dec() != "250000000000" {
		t.Errorf("price: got %s, want 250000000000", cmd.Price.Dec())
	}
	if cmd.PriceSequence != 42 {
		t.Errorf("price_sequence: got %d, want 42", cmd.PriceSequence)
	}
	if cmd.PriceTimestamp != 1700000000 {
		t.Errorf("timestamp: got %d, want 1700000000", cmd.PriceTimestamp)
	}
}

func TestParsePriceTickRejectsMissingAsset(t *testing.T) {
	payload := map[string]interface{}{
		"price":          "100000000",
		"price_sequence": int64(1),
		"timestamp_us":   int64(1700000000000000),
	}

	if _, err := feed.ParsePriceTick(rawFromJSON(t, payload)); err == nil {
		t.Fatal("expected error for missing asset")
	}
}

func TestParsePriceTickRejectsZeroPrice(t *testing.T) {
	payload := map[string]interface{}{
		"asset":          "USDC",
		"price":          "0",
		"price_sequence": int64(1),
		"timestamp_us":   int64(1700000000000000),
	}

	if _, err := feed.ParsePriceTick(rawFromJSON(t, payload)); err == nil {
		t.Fatal("expected error for zero price")
	}
}

func TestParsePriceTickRejectsMalformedPrice(t *testing.T) {
	payload := map[string]interface{}{
		"asset":          "USDC",
		"price":          "not-a-number",
		"price_sequence": int64(1),
		"timestamp_us":   int64(1700000000000000),
	}

	if _, err := feed.ParsePriceTick(rawFromJSON(t, payload)); err == nil {
		t.Fatal("expected error for malformed price")
	}
}

func TestParsePriceTickRejectsNegativeSequence(t *testing.T) {
	payload := map[string]interface{}{
		"asset":          "USDC",
		"price":          "100000000",
		"price_sequence": int64(-5),
		"timestamp_us":   int64(1700000000000000),
	}

	if _, err := feed.ParsePriceTick(rawFromJSON(t, payload)); err == nil {
		t.Fatal("expected error for negative sequence")
	}
}

func TestParsePriceTickRejectsGarbage(t *testing.T) {
	raw := feed.RawTick{Subject: "test", Data: []byte("{not json"), AckFunc: func() {}, NakFunc: func() {}}
	if _, err := feed.ParsePriceTick(raw); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
