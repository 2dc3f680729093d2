package core

import (
	"fmt"
)

// PriceSequenceGuard validates oracle price-feed sequences per asset.
// Stale updates are dropped, gaps are tolerated with a metric.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type PriceSequenceGuard struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewPriceSequenceGuard() *PriceSequenceGuard {
	return &PriceSequenceGuard{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// Accept reports whether a price update should be applied. Sequences at or
// below the last accepted one are stale and dropped; gaps are accepted but
// counted.
func (g *PriceSequenceGuard) Accept(asset string, priceSequence int64) bool {
	partition := fmt.Sprintf("price:%s", asset)

	expected := g.expectedNextSeq[partition]

	if priceSequence < expected {
		// Stale - silently ignore (idempotent)
		g.metrics.RecordStale(asset)
		return false
	}

	if priceSequence > expected {
		// Gap detected - accept but count. Price gaps are tolerable.
		g.metrics.RecordPriceGap(asset, expected, priceSequence)
	}

	g.expectedNextSeq[partition] = priceSequence + 1

	return true
}

// GetExpectedSequence returns next expected sequence for a partition
func (g *PriceSequenceGuard) GetExpectedSequence(partition string) int64 {
	return g.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (g *PriceSequenceGuard) SetExpectedSequence(partition string, seq int64) {
	g.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns a copy of every partition's expected sequence,
// for inclusion in snapshots.
func (g *PriceSequenceGuard) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(g.expectedNextSeq))
	for k, v := range g.expectedNextSeq {
		out[k] = v
	}
	return out
}

// GetMetrics returns metrics for monitoring
func (g *PriceSequenceGuard) GetMetrics() *SequenceMetrics {
	return g.metrics
}

// --- Metrics ---

// SequenceMetrics tracks price sequence validation stats.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type SequenceMetrics struct {
	stale     map[string]int64 // asset -> stale-drop count
	priceGaps map[string]int64 // asset -> gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		stale:     make(map[string]int64),
		priceGaps: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordStale(asset string) {
	m.stale[asset]++
}

func (m *SequenceMetrics) RecordPriceGap(asset string, expected, got int64) {
	m.priceGaps[asset]++
}

func (m *SequenceMetrics) GetStale(asset string) int64 {
	return m.stale[asset]
}

func (m *SequenceMetrics) GetPriceGaps(asset string) int64 {
	return m.priceGaps[asset]
}
