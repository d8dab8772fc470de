package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AccountSnapshot is one point-in-time record of account health, taken
// once per cycle and after resets. TotalPnL is realized plus unrealized.
type AccountSnapshot struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	BalanceUSD    float64   `json:"balance_usd"`
	EquityUSD     float64   `json:"equity_usd"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	TotalPnL      float64   `json:"total_pnl"`
	SharpeRatio   *float64  `json:"sharpe_ratio,omitempty"`
	NumPositions  int       `json:"num_positions"`
}

// AppendAccountSnapshot records an equity-curve point.
func (s *Store) AppendAccountSnapshot(snap *AccountSnapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	snap.TotalPnL = snap.RealizedPnL + snap.UnrealizedPnL

	var sharpe interface{}
	if snap.SharpeRatio != nil {
		sharpe = *snap.SharpeRatio
	}

	res, err := s.db.Exec(`
		INSERT INTO account_state (
			timestamp, balance_usd, equity_usd, unrealized_pnl,
			realized_pnl, total_pnl, sharpe_ratio, num_positions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.Timestamp, snap.BalanceUSD, snap.EquityUSD, snap.UnrealizedPnL,
		snap.RealizedPnL, snap.TotalPnL, sharpe, snap.NumPositions)
	if err != nil {
		return fmt.Errorf("insert account snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("account snapshot id: %w", err)
	}
	snap.ID = id
	return nil
}

const accountColumns = `
	id, timestamp, balance_usd, equity_usd, unrealized_pnl,
	realized_pnl, total_pnl, sharpe_ratio, num_positions`

// LatestAccountSnapshot returns the newest snapshot, or ErrNotFound on a
// fresh database.
func (s *Store) LatestAccountSnapshot() (*AccountSnapshot, error) {
	row := s.db.QueryRow(`
		SELECT ` + accountColumns + ` FROM account_state
		ORDER BY timestamp DESC, id DESC LIMIT 1`)

	snap, err := scanAccountSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest account snapshot: %w", err)
	}
	return snap, nil
}

// AccountHistory returns snapshots oldest first, suitable for charting
// the equity curve. limit <= 0 means no limit.
func (s *Store) AccountHistory(limit int) ([]AccountSnapshot, error) {
	query := `SELECT ` + accountColumns + ` FROM account_state ORDER BY timestamp ASC, id ASC`
	var args []interface{}
	if limit > 0 {
		// Keep the most recent rows but preserve chronological order.
		query = `SELECT ` + accountColumns + ` FROM (
			SELECT ` + accountColumns + ` FROM account_state
			ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query account history: %w", err)
	}
	defer rows.Close()

	var history []AccountSnapshot
	for rows.Next() {
		var (
			snap   AccountSnapshot
			sharpe sql.NullFloat64
		)
		err := rows.Scan(
			&snap.ID, &snap.Timestamp, &snap.BalanceUSD, &snap.EquityUSD,
			&snap.UnrealizedPnL, &snap.RealizedPnL, &snap.TotalPnL,
			&sharpe, &snap.NumPositions,
		)
		if err != nil {
			return nil, fmt.Errorf("scan account snapshot: %w", err)
		}
		snap.SharpeRatio = floatPtr(sharpe)
		history = append(history, snap)
	}
	return history, rows.Err()
}

func scanAccountSnapshot(row *sql.Row) (*AccountSnapshot, error) {
	var (
		snap   AccountSnapshot
		sharpe sql.NullFloat64
	)
	err := row.Scan(
		&snap.ID, &snap.Timestamp, &snap.BalanceUSD, &snap.EquityUSD,
		&snap.UnrealizedPnL, &snap.RealizedPnL, &snap.TotalPnL,
		&sharpe, &snap.NumPositions,
	)
	if err != nil {
		return nil, err
	}
	snap.SharpeRatio = floatPtr(sharpe)
	return &snap, nil
}
