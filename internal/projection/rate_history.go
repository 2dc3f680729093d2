package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// rateUpdate is the slice of the ReserveDataUpdated payload the rate history
// projection keeps.
type rateUpdate struct {
	Asset               string `json:"asset"`
	LiquidityRate       string `json:"liquidity_rate"`
	StableBorrowRate    string `json:"stable_borrow_rate"`
	VariableBorrowRate  string `json:"variable_borrow_rate"`
	LiquidityIndex      string `json:"liquidity_index"`
	VariableBorrowIndex string `json:"variable_borrow_index"`
}

// RateHistoryEntry is one row of the reserve rate history, as served to
// queries.
type RateHistoryEntry struct {
	Asset               string    `json:"asset"`
	Sequence            int64     `json:"sequence"`
	LiquidityRate       string    `json:"liquidity_rate"`
	VariableBorrowRate  string    `json:"variable_borrow_rate"`
	StableBorrowRate    string    `json:"stable_borrow_rate"`
	LiquidityIndex      string    `json:"liquidity_index"`
	VariableBorrowIndex string    `json:"variable_borrow_index"`
	Timestamp           time.Time `json:"timestamp"`
}

func (pw *Worker) recordRateHistory(ctx context.Context, tx *sql.Tx, output Output) error {
	var upd rateUpdate
	if err := json.Unmarshal(output.Payload, &upd); err != nil {
		return fmt.Errorf("decode rate update: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO lend.reserve_rate_history
			(asset, sequence, liquidity_rate, variable_borrow_rate, stable_borrow_rate,
			 liquidity_index, variable_borrow_index, timestamp)
		VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)
		ON CONFLICT (asset, sequence) DO NOTHING
	`, upd.Asset, output.Sequence,
		upd.LiquidityRate, upd.VariableBorrowRate, upd.StableBorrowRate,
		upd.LiquidityIndex, upd.VariableBorrowIndex, output.Timestamp)
	return err
}

// QueryRateHistory pages a reserve's rate history, newest first.
func QueryRateHistory(ctx context.Context, db *sql.DB, asset string, limit int) ([]RateHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT asset, sequence, liquidity_rate, variable_borrow_rate, stable_borrow_rate,
		       liquidity_index, variable_borrow_index, timestamp
		FROM lend.reserve_rate_history
		WHERE asset = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, asset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RateHistoryEntry
	for rows.Next() {
		var e RateHistoryEntry
		if err := rows.Scan(
			&e.Asset, &e.Sequence, &e.LiquidityRate, &e.VariableBorrowRate,
			&e.StableBorrowRate, &e.LiquidityIndex, &e.VariableBorrowIndex, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
