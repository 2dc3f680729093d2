package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lendpool/internal/observability"
)

// Output mirrors the slice of core.CoreOutput projections care about. The
// orchestrator in cmd/ bridges between the two.
type Output struct {
	Sequence       int64
	EventType      string
	Asset          *string
	Payload        []byte
	JournalEntries []JournalEntry
	Timestamp      time.Time
}

// JournalEntry is a simplified journal leg for balance projection. Amount is
// a uint256 decimal string; the arithmetic happens in Postgres NUMERIC.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string
	JournalType   int32
}

// Worker updates projection tables from committed envelopes. The projection
// channel is non-blocking with drop on the engine side; a worker that falls
// behind rebuilds from the event log instead of stalling the engine.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	lastSeq   int64
	logger    zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan Output) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection loop. Blocks until ctx is cancelled or the input
// channel closes.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent; a failed update is
				// recovered by RebuildProjections, not by stalling.
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *Worker) processOutput(ctx context.Context, output Output) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.EventType == "ReserveDataUpdated" {
		if err := pw.recordRateHistory(ctx, tx, output); err != nil {
			return fmt.Errorf("rate history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lend.projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *Worker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	// Debit account receives, credit account gives.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lend.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = lend.balances.balance + $3::NUMERIC, last_sequence = $4
	`, j.DebitAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lend.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -($3::NUMERIC), $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = lend.balances.balance - $3::NUMERIC, last_sequence = $4
	`, j.CreditAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

// RebuildProjections rebuilds all projection tables from the journal. Used
// after a projection worker has dropped envelopes or on operator request.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE lend.balances`,
		`TRUNCATE lend.reserve_rate_history`,
		`DELETE FROM lend.projection_watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO lend.balances (account_path, asset, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM lend.journal
		GROUP BY debit_account, asset
		ON CONFLICT (account_path, asset) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO lend.balances (account_path, asset, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM lend.journal
		GROUP BY credit_account, asset
		ON CONFLICT (account_path, asset) DO UPDATE
			SET balance = lend.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(lend.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO lend.reserve_rate_history
			(asset, sequence, liquidity_rate, variable_borrow_rate, stable_borrow_rate,
			 liquidity_index, variable_borrow_index, timestamp)
		SELECT
			payload->>'asset',
			sequence,
			(payload->>'liquidity_rate')::NUMERIC,
			(payload->>'variable_borrow_rate')::NUMERIC,
			(payload->>'stable_borrow_rate')::NUMERIC,
			(payload->>'liquidity_index')::NUMERIC,
			(payload->>'variable_borrow_index')::NUMERIC,
			timestamp
		FROM lend.events
		WHERE event_type = 'ReserveDataUpdated'
		ON CONFLICT (asset, sequence) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("rebuild rate history: %w", err)
	}

	return nil
}
