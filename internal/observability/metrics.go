package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lending pool service.
type Metrics struct {
	// --- Action processing ---
	ActionsApplied  *prometheus.CounterVec
	ActionsRejected *prometheus.CounterVec
	ActionDuration  *prometheus.HistogramVec
	StateHashDur    prometheus.Histogram
	ActionSequence  prometheus.Gauge

	// --- Reserve state ---
	ReserveLiquidityRate    *prometheus.GaugeVec
	ReserveVariableRate     *prometheus.GaugeVec
	ReserveStableRate       *prometheus.GaugeVec
	ReserveUtilization      *prometheus.GaugeVec
	ReserveAvailableLiq     *prometheus.GaugeVec
	ReserveAccrualsTotal    *prometheus.CounterVec
	ReserveTreasuryAccrued  *prometheus.CounterVec

	// --- Flash loans ---
	FlashLoansExecuted *prometheus.CounterVec
	FlashLoanPremiums  *prometheus.CounterVec
	FlashLoanReverts   *prometheus.CounterVec

	// --- Liquidations ---
	LiquidationCalls     *prometheus.CounterVec
	LiquidationRejected  *prometheus.CounterVec
	CollateralSeized     *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	PublishDrops       prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Oracle ---
	OracleLookups  *prometheus.CounterVec
	OracleFailures *prometheus.CounterVec
	PriceUpdates   *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Action processing
		ActionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_actions_applied_total",
			Help: "Pool actions successfully applied",
		}, []string{"action"}),

		ActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_actions_rejected_total",
			Help: "Pool actions rejected (validation, caps, health factor)",
		}, []string{"action", "code"}),

		ActionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_action_apply_duration_seconds",
			Help:    "Time to apply a single pool action",
			Buckets: latencyBuckets,
		}, []string{"action"}),

		StateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		ActionSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_action_sequence",
			Help: "Current global action sequence number",
		}),

		// Reserve state
		ReserveLiquidityRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_liquidity_rate",
			Help: "Current annualized liquidity rate (fraction of 1)",
		}, []string{"asset"}),

		ReserveVariableRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_variable_borrow_rate",
			Help: "Current annualized variable borrow rate (fraction of 1)",
		}, []string{"asset"}),

		ReserveStableRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_stable_borrow_rate",
			Help: "Current annualized stable borrow rate (fraction of 1)",
		}, []string{"asset"}),

		ReserveUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_utilization",
			Help: "Total debt / (available liquidity + total debt)",
		}, []string{"asset"}),

		ReserveAvailableLiq: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_reserve_available_liquidity",
			Help: "Available liquidity in native units",
		}, []string{"asset"}),

		ReserveAccrualsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_reserve_accruals_total",
			Help: "Index accrual passes per reserve",
		}, []string{"asset"}),

		ReserveTreasuryAccrued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_reserve_treasury_accrued_total",
			Help: "Reserve-factor cut minted to treasury (native units)",
		}, []string{"asset"}),

		// Flash loans
		FlashLoansExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_flashloans_executed_total",
			Help: "Flash loans completed",
		}, []string{"asset"}),

		FlashLoanPremiums: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_flashloan_premiums_total",
			Help: "Flash loan premiums collected (native units)",
		}, []string{"asset"}),

		FlashLoanReverts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_flashloan_reverts_total",
			Help: "Flash loans rolled back",
		}, []string{"code"}),

		// Liquidations
		LiquidationCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_liquidation_calls_total",
			Help: "Liquidation calls executed",
		}, []string{"collateral_asset", "debt_asset"}),

		LiquidationRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_liquidation_rejected_total",
			Help: "Liquidation calls rejected",
		}, []string{"code"}),

		CollateralSeized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_collateral_seized_total",
			Help: "Collateral seized by liquidators (native units)",
		}, []string{"asset"}),

		// Channel & backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_idempotency_duplicates_total",
			Help: "Duplicate actions caught by the dedup tiers",
		}, []string{"action"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		// Oracle
		OracleLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_oracle_lookups_total",
			Help: "Price oracle lookups",
		}, []string{"asset"}),

		OracleFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_oracle_failures_total",
			Help: "Price oracle lookups that returned no valid price",
		}, []string{"asset"}),

		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_price_updates_total",
			Help: "Oracle price updates ingested",
		}, []string{"asset"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
