package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"lendpool/internal/core"
	"lendpool/internal/feed"
	"lendpool/internal/observability"
	"lendpool/internal/oracle"
	"lendpool/internal/persistence"
	"lendpool/internal/projection"
	"lendpool/internal/query"
	"lendpool/internal/server"
)

type Config struct {
	PostgresDSN   string
	NATSURL       string
	HTTPAddr      string
	MigrationsDir string
	BootstrapPath string

	PersistChanSize    int
	ProjectionChanSize int
	PublishChanSize    int
	TickChanSize       int
	EngineQueueSize    int

	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	SnapshotInterval int64
	LRUWarmLimit     int
}

func loadConfig() Config {
	return Config{
		PostgresDSN:   envOrDefault("LEND_POSTGRES_DSN", "postgres://localhost:5432/lendpool?sslmode=disable"),
		NATSURL:       envOrDefault("LEND_NATS_URL", "nats://localhost:4222"),
		HTTPAddr:      envOrDefault("LEND_HTTP_ADDR", ":8080"),
		MigrationsDir: envOrDefault("LEND_MIGRATIONS_DIR", "migrations"),
		BootstrapPath: os.Getenv("LEND_BOOTSTRAP_CONFIG"),

		PersistChanSize:    envIntOrDefault("LEND_PERSIST_CHAN_SIZE", 1024),
		ProjectionChanSize: envIntOrDefault("LEND_PROJECTION_CHAN_SIZE", 2048),
		PublishChanSize:    envIntOrDefault("LEND_PUBLISH_CHAN_SIZE", 2048),
		TickChanSize:       envIntOrDefault("LEND_TICK_CHAN_SIZE", 1024),
		EngineQueueSize:    envIntOrDefault("LEND_ENGINE_QUEUE_SIZE", 256),

		PersistBatchSize:    envIntOrDefault("LEND_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: time.Duration(envIntOrDefault("LEND_PERSIST_FLUSH_MS", 10)) * time.Millisecond,

		SnapshotInterval: int64(envIntOrDefault("LEND_SNAPSHOT_INTERVAL", 10_000)),
		LRUWarmLimit:     envIntOrDefault("LEND_LRU_WARM_LIMIT", 100_000),
	}
}

func main() {
	logger := observability.NewLogger("lendpoold")
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("ping postgres")
	}

	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// Core output channels. Persist is the durability path and blocks the
	// engine when full; projection is lossy and bridged non-blocking.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	priceOracle := oracle.NewMemoryPriceOracle()
	rateOracle := oracle.NewMemoryRateOracle()
	roles := core.NewMemoryRoleRegistry()
	idem := persistence.NewPostgresIdempotencyChecker(db)

	engine := core.NewPoolEngine(0, &core.ProtocolContext{
		PriceOracle: priceOracle,
		RateOracle:  rateOracle,
		Roles:       roles,
		Params:      core.DefaultProtocolParams(),
	}, persistChan, projectionChan, idem, metrics)

	snapshots := persistence.NewSnapshotManager(db)
	if err := recoverState(ctx, db, engine, snapshots, logger); err != nil {
		logger.Fatal().Err(err).Msg("state recovery")
	}

	if keys, err := idem.RecentKeys(ctx, cfg.LRUWarmLimit); err != nil {
		logger.Warn().Err(err).Msg("idempotency LRU warm-up failed, starting cold")
	} else {
		engine.WarmLRU(keys)
		logger.Info().Int("keys", len(keys)).Msg("idempotency LRU warmed")
	}

	if err := warmPrices(ctx, db, priceOracle, logger); err != nil {
		logger.Warn().Err(err).Msg("price warm-up failed, waiting for live feed")
	}

	nc, js, err := feed.ConnectNATS(cfg.NATSURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Close()
	if err := feed.EnsureStreams(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure price stream")
	}
	if err := feed.EnsureOutboundStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure event stream")
	}

	// Downstream worker channels fed by the bridges.
	persistOut := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionOut := make(chan projection.Output, cfg.ProjectionChanSize)
	publishOut := make(chan feed.PublishableEvent, cfg.PublishChanSize)

	persistWorker := persistence.NewWorker(db, persistOut, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	projectionWorker := projection.NewWorker(db, projectionOut)
	publisher := feed.NewOutboundPublisher(js, publishOut)

	var workers sync.WaitGroup
	workers.Add(3)
	go func() { defer workers.Done(); persistWorker.Run(ctx) }()
	go func() { defer workers.Done(); projectionWorker.Run(ctx) }()
	go func() { defer workers.Done(); publisher.Run(ctx) }()

	var bridges sync.WaitGroup
	bridges.Add(2)
	go func() {
		defer bridges.Done()
		bridgePersist(persistChan, persistOut)
	}()
	go func() {
		defer bridges.Done()
		bridgeProjection(projectionChan, projectionOut, publishOut, metrics)
	}()

	// Genesis reserves and role grants. Roles live in memory only, so
	// grants are re-applied on every start; reserves only on a cold one.
	if cfg.BootstrapPath != "" {
		boot, err := loadBootstrap(cfg.BootstrapPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.BootstrapPath).Msg("load bootstrap config")
		}
		if err := applyBootstrap(boot, engine, roles, logger); err != nil {
			logger.Fatal().Err(err).Msg("apply bootstrap config")
		}
	}

	runner := server.NewEngineRunner(engine, cfg.EngineQueueSize)
	go runner.Run(ctx)

	tickChan := make(chan feed.RawTick, cfg.TickChanSize)
	subscriber := feed.NewPriceSubscriber(js, tickChan)
	if err := subscriber.Subscribe(ctx); err != nil {
		logger.Fatal().Err(err).Msg("subscribe price feed")
	}
	go runPriceFeed(ctx, tickChan, runner, logger)

	snapper := &snapshotter{
		runner:    runner,
		snapshots: snapshots,
		metrics:   metrics,
		logger:    logger,
	}
	go runPeriodicSnapshots(ctx, snapper, runner, cfg.SnapshotInterval, logger)

	srv := server.New(cfg.HTTPAddr, &server.Deps{
		Runner:       runner,
		QueryService: query.NewService(db),
		Snapshots:    snapper,
		Rebuild: func(ctx context.Context) error {
			return projection.RebuildProjections(ctx, db)
		},
		HealthChecker: health,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	health.SetReady(true)
	logger.Info().
		Str("http_addr", cfg.HTTPAddr).
		Int64("sequence", engine.GetSequence()).
		Msg("lendpoold ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("fatal component error, shutting down")
	}
	health.SetReady(false)

	// Stop intake first: cancel stops the HTTP server and the runner, the
	// subscriber stops delivering ticks. After that the engine is quiescent
	// and the output channels can be drained and closed.
	subscriber.Stop()
	cancel()
	time.Sleep(200 * time.Millisecond)
	close(persistChan)
	close(projectionChan)
	bridges.Wait()
	workers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	state := engine.CreateSnapshotState()
	if seq, err := snapper.persist(shutdownCtx, state); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot written")
	}
	logger.Info().Msg("shutdown complete")
}

// recoverState restores the engine from the newest verified snapshot and
// checks it against the event log head. The log is an audit trail, not a
// rebuild source: state that only exists in events past the snapshot cannot
// be reconstructed, so a log head ahead of the snapshot refuses startup
// instead of silently diverging.
func recoverState(
	ctx context.Context,
	db *sql.DB,
	engine *core.PoolEngine,
	snapshots *persistence.SnapshotManager,
	logger zerolog.Logger,
) error {
	rec, err := snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if rec != nil {
		var state core.SnapshotState
		if err := json.Unmarshal(rec.Data, &state); err != nil {
			return fmt.Errorf("decode snapshot %d: %w", rec.Sequence, err)
		}
		if err := engine.RestoreFromSnapshot(&state); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", rec.Sequence, err)
		}
		logger.Info().
			Int64("sequence", rec.Sequence).
			Time("created_at", rec.CreatedAt).
			Msg("state restored from snapshot")
	} else {
		logger.Info().Msg("no snapshot found, starting from genesis")
	}

	head, err := persistence.NewEventLogWriter(db).LatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("read log head: %w", err)
	}
	restored := engine.GetSequence()
	switch {
	case head > restored:
		return fmt.Errorf("event log head %d is ahead of restored state %d: restore a newer snapshot before starting", head, restored)
	case head < restored:
		// Snapshot outran the durable log (crash between snapshot and
		// flush). State is authoritative; the log gap is an audit gap.
		logger.Warn().
			Int64("log_head", head).
			Int64("sequence", restored).
			Msg("event log is behind restored state")
	case head > 0:
		rows, err := snapshots.LoadEventsFrom(ctx, head, 1)
		if err != nil {
			return fmt.Errorf("read log head event: %w", err)
		}
		hash := engine.GetStateHash()
		if len(rows) == 1 && !bytes.Equal(rows[0].StateHash, hash[:]) {
			return fmt.Errorf("state hash mismatch at sequence %d: log %x, restored %x", head, rows[0].StateHash, hash[:])
		}
		logger.Info().Int64("sequence", head).Msg("state hash verified against event log")
	}
	return nil
}

// warmPrices reloads the last accepted tick per asset from the event log so
// reads work before the live feed delivers. The engine's per-asset sequence
// guards come from the snapshot and already cover these ticks.
func warmPrices(ctx context.Context, db *sql.DB, setter oracle.PriceSetter, logger zerolog.Logger) error {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT ON (asset) payload
		FROM lend.events
		WHERE event_type = 'PriceUpdated'
		ORDER BY asset, sequence DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	warmed := 0
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		var tick struct {
			Asset string `json:"asset"`
			Price string `json:"price"`
		}
		if err := json.Unmarshal(payload, &tick); err != nil {
			logger.Warn().Err(err).Msg("skipping malformed price event")
			continue
		}
		price, err := uint256.FromDecimal(tick.Price)
		if err != nil {
			logger.Warn().Err(err).Str("asset", tick.Asset).Msg("skipping unparseable logged price")
			continue
		}
		setter.SetAssetPrice(tick.Asset, price)
		warmed++
	}
	if warmed > 0 {
		logger.Info().Int("assets", warmed).Msg("prices warmed from event log")
	}
	return rows.Err()
}

// bridgePersist converts engine outputs to persistence rows. The send blocks:
// durability backpressure propagates all the way to the engine.
func bridgePersist(in <-chan core.CoreOutput, out chan<- persistence.CoreOutput) {
	defer close(out)
	for co := range in {
		out <- toPersistOutput(co)
	}
}

func toPersistOutput(co core.CoreOutput) persistence.CoreOutput {
	env := co.Envelope
	pco := persistence.CoreOutput{
		EventRow: persistence.EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Asset:          env.Asset,
			Payload:        env.Payload,
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
		},
	}
	if co.Batch != nil {
		pco.JournalRows = make([]persistence.JournalRow, 0, len(co.Batch.Journals))
		for _, j := range co.Batch.Journals {
			pco.JournalRows = append(pco.JournalRows, persistence.JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				ActionRef:     j.ActionRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.Path(),
				CreditAccount: j.CreditAccount.Path(),
				Asset:         j.Asset,
				Amount:        j.Amount.Dec(),
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}
	return pco
}

// bridgeProjection fans engine outputs out to the projection worker and the
// outbound publisher. Both sends are non-blocking: these consumers are
// rebuildable, so a full channel drops with a metric instead of stalling
// the engine.
func bridgeProjection(
	in <-chan core.CoreOutput,
	projOut chan<- projection.Output,
	pubOut chan<- feed.PublishableEvent,
	metrics *observability.Metrics,
) {
	defer close(projOut)
	defer close(pubOut)
	for co := range in {
		env := co.Envelope
		po := projection.Output{
			Sequence:  env.Sequence,
			EventType: env.EventType.String(),
			Asset:     env.Asset,
			Payload:   env.Payload,
			Timestamp: env.Timestamp,
		}
		if co.Batch != nil {
			po.JournalEntries = make([]projection.JournalEntry, 0, len(co.Batch.Journals))
			for _, j := range co.Batch.Journals {
				po.JournalEntries = append(po.JournalEntries, projection.JournalEntry{
					DebitAccount:  j.DebitAccount.Path(),
					CreditAccount: j.CreditAccount.Path(),
					Asset:         j.Asset,
					Amount:        j.Amount.Dec(),
					JournalType:   int32(j.JournalType),
				})
			}
		}
		select {
		case projOut <- po:
		default:
			metrics.ProjectionDrops.WithLabelValues("balances").Inc()
		}

		select {
		case pubOut <- feed.PublishableEvent{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Asset:          env.Asset,
			Payload:        json.RawMessage(env.Payload),
			StateHash:      env.StateHash[:],
			Timestamp:      env.Timestamp,
		}:
		default:
			metrics.PublishDrops.Inc()
		}
	}
}

// runPriceFeed drains parsed ticks into the engine. Malformed ticks are
// acked so the consumer does not redeliver poison messages; engine errors
// nak for redelivery.
func runPriceFeed(ctx context.Context, ticks <-chan feed.RawTick, runner *server.EngineRunner, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			cmd, err := feed.ParsePriceTick(tick)
			if err != nil {
				logger.Warn().Err(err).Str("subject", tick.Subject).Msg("dropping malformed price tick")
				tick.AckFunc()
				continue
			}
			err = runner.Do(ctx, func(e *core.PoolEngine) error {
				return e.ApplyPriceUpdate(cmd)
			})
			if err != nil {
				logger.Warn().Err(err).Str("asset", cmd.Asset).Msg("price update rejected")
				tick.NakFunc()
				continue
			}
			tick.AckFunc()
		}
	}
}

// snapshotter implements server.SnapshotTrigger against the live engine.
type snapshotter struct {
	runner    *server.EngineRunner
	snapshots *persistence.SnapshotManager
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func (s *snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	var state *core.SnapshotState
	err := s.runner.Do(ctx, func(e *core.PoolEngine) error {
		state = e.CreateSnapshotState()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return s.persist(ctx, state)
}

// persist writes a snapshot captured from the live engine. Live state is
// authoritative, so the record is marked verified immediately.
func (s *snapshotter) persist(ctx context.Context, state *core.SnapshotState) (int64, error) {
	start := time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	rec := persistence.SnapshotRecord{
		Sequence:  state.Sequence,
		StateHash: state.StateHash[:],
		Data:      data,
		CreatedAt: start.UTC(),
	}
	if err := s.snapshots.SaveSnapshot(ctx, &rec); err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	if err := s.snapshots.MarkVerified(ctx, state.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot verified: %w", err)
	}
	s.metrics.SnapshotTaken.Inc()
	s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	s.metrics.SnapshotSizeBytes.Set(float64(len(data)))
	s.metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	s.logger.Info().
		Int64("sequence", state.Sequence).
		Int("size_bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("snapshot written")
	return state.Sequence, nil
}

// runPeriodicSnapshots takes a snapshot whenever the engine has advanced by
// at least interval actions since the previous one.
func runPeriodicSnapshots(
	ctx context.Context,
	snapper *snapshotter,
	runner *server.EngineRunner,
	interval int64,
	logger zerolog.Logger,
) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var lastSnapshotSeq int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var seq int64
			if err := runner.Do(ctx, func(e *core.PoolEngine) error {
				seq = e.GetSequence()
				return nil
			}); err != nil {
				return
			}
			if lastSnapshotSeq >= 0 && seq-lastSnapshotSeq < interval {
				continue
			}
			taken, err := snapper.TakeSnapshot(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = taken
		}
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
