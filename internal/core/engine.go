package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"lendpool/internal/event"
	"lendpool/internal/ledger"
	"lendpool/internal/observability"
)

// PoolEngine is the single-threaded action processor. All pool state lives
// behind it; every action runs against a clone of the state and commits only
// on success, so rejected actions leave no trace.
type PoolEngine struct {
	ctx   *ProtocolContext
	state *poolState

	sequence   int64
	hasher     *StateHasher
	journalGen *ledger.JournalGenerator
	validator  *ledger.InvariantValidator

	idempotency *IdempotencyChecker
	priceGuard  *PriceSequenceGuard

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one committed envelope plus its journal batch, handed to the
// persistence and projection workers.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

func NewPoolEngine(
	startSequence int64,
	ctx *ProtocolContext,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *PoolEngine {
	return &PoolEngine{
		ctx:            ctx,
		state:          newPoolState(),
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		journalGen:     ledger.NewJournalGenerator(startSequence),
		validator:      ledger.NewInvariantValidator(),
		idempotency:    NewIdempotencyChecker(1_000_000, dbChecker),
		priceGuard:     NewPriceSequenceGuard(),
		metrics:        metrics,
		logger:         observability.NewLogger("core"),
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// applied is what an action handler hands back: the balanced journal batch
// (may be nil for state-only actions), the events to log, and which reserves
// were touched.
type applied struct {
	batch  *ledger.Batch
	events []event.Event
	assets []string
	// timestamp is the action's versioned time in epoch seconds. The core
	// never reads the wall clock for anything that lands in the event log.
	timestamp uint64
}

// process runs one action through the full pipeline: dedup, clone, mutate,
// validate, hash, commit, emit. The handler fn mutates the clone in place and
// never sees the live state.
func (e *PoolEngine) process(actionType, idempotencyKey string, fn func(st *poolState) (*applied, *Error)) *Error {
	start := time.Now()

	if e.idempotency.IsDuplicate(actionType, idempotencyKey) {
		if e.metrics != nil {
			e.metrics.ActionsRejected.WithLabelValues(actionType, "duplicate").Inc()
			e.metrics.IdempotencyDuplicates.WithLabelValues(actionType).Inc()
		}
		return nil
	}

	st := e.state.Clone()
	journalMark := e.journalGen.Sequence()

	res, aerr := fn(st)
	if aerr != nil {
		// Roll back any journal sequence the handler consumed.
		e.journalGen.SetSequence(journalMark)
		if e.metrics != nil {
			e.metrics.ActionsRejected.WithLabelValues(actionType, string(aerr.Code)).Inc()
		}
		e.logger.Warn().
			Str("action_type", actionType).
			Str("idempotency_key", idempotencyKey).
			Str("code", string(aerr.Code)).
			Err(aerr).
			Msg("action rejected")
		return aerr
	}

	if res.batch != nil && len(res.batch.Journals) > 0 {
		// An unbalanced batch means a handler bug, not a bad request.
		if err := e.validator.ValidateBatchBalance(res.batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
	}

	hashStart := time.Now()
	digest := st.digest(res.assets)

	eventTime := time.Unix(int64(res.timestamp), 0).UTC()
	outputs := make([]CoreOutput, 0, len(res.events))
	for i, evt := range res.events {
		payload, err := json.Marshal(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: unmarshalable event %T: %v", evt, err))
		}

		prevHash := e.hasher.GetPrevHash()
		stateHash := e.hasher.ComputeHash(e.sequence, digest[:])

		envelope := &event.EventEnvelope{
			Sequence:       e.sequence,
			IdempotencyKey: evt.IdempotencyKey(),
			EventType:      evt.EventType(),
			Asset:          evt.Asset(),
			Timestamp:      eventTime,
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		output := CoreOutput{
			Envelope:   envelope,
			StateDelta: digest[:],
		}
		// The batch rides with the first envelope of the action.
		if i == 0 {
			output.Batch = res.batch
		}
		outputs = append(outputs, output)
		e.sequence++
	}

	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Commit: the clone becomes the live state.
	e.state = st

	// Persistence gets a blocking send (backpressure); projections get a
	// non-blocking send and rebuild from the event log if they fall behind.
	for _, output := range outputs {
		e.persistChan <- output

		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues(output.Envelope.EventType.String()).Inc()
			}
		}
	}

	e.idempotency.MarkProcessed(actionType, idempotencyKey)

	for _, asset := range res.assets {
		e.publishReserveMetrics(asset)
	}

	if e.metrics != nil {
		e.metrics.ActionsApplied.WithLabelValues(actionType).Inc()
		e.metrics.ActionDuration.WithLabelValues(actionType).Observe(time.Since(start).Seconds())
		e.metrics.ActionSequence.Set(float64(e.sequence))
		e.metrics.DedupLRUSize.Set(float64(e.idempotency.lru.Size()))
	}

	return nil
}

// publishReserveMetrics pushes a reserve's post-action rates into Prometheus.
func (e *PoolEngine) publishReserveMetrics(asset string) {
	if e.metrics == nil {
		return
	}
	r, ok := e.state.reserve(asset)
	if !ok {
		return
	}
	e.metrics.ReserveLiquidityRate.WithLabelValues(asset).Set(rayToFloat(r.CurrentLiquidityRate))
	e.metrics.ReserveVariableRate.WithLabelValues(asset).Set(rayToFloat(r.CurrentVariableBorrowRate))
	e.metrics.ReserveStableRate.WithLabelValues(asset).Set(rayToFloat(r.CurrentStableBorrowRate))
	e.metrics.ReserveAvailableLiq.WithLabelValues(asset).Set(u256ToFloat(r.AvailableLiquidity()))
}

// rayToFloat renders a ray-scaled rate as a float for gauges. Lossy, metrics
// only.
func rayToFloat(v *uint256.Int) float64 {
	f := new(uint256.Int).Div(v, uint256.NewInt(1e18)) // ray -> 1e9 fixed
	return float64(f.Uint64()) / 1e9
}

func u256ToFloat(v *uint256.Int) float64 {
	if v.BitLen() > 53 {
		shift := uint(v.BitLen() - 53)
		hi := new(uint256.Int).Rsh(v, shift)
		f := float64(hi.Uint64())
		for i := uint(0); i < shift; i++ {
			f *= 2
		}
		return f
	}
	return float64(v.Uint64())
}

// GetSequence returns the next action sequence.
func (e *PoolEngine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current chain tip.
func (e *PoolEngine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// WarmLRU loads recently processed idempotency keys after a restart.
func (e *PoolEngine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetIdempotencyMetrics exposes dedup counters for diagnostics.
func (e *PoolEngine) GetIdempotencyMetrics() *IdempotencyMetrics {
	return e.idempotency.GetMetrics()
}
