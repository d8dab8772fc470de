package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Position sides and lifecycle states.
const (
	SideLong  = "long"
	SideShort = "short"

	PositionOpen   = "open"
	PositionClosed = "closed"
)

// Position is one trade, open or closed. QuantityUSD is the committed
// margin, not the notional.
type Position struct {
	ID          int64      `json:"id"`
	PositionID  string     `json:"position_id"`
	Coin        string     `json:"coin"`
	Side        string     `json:"side"`
	EntryTime   time.Time  `json:"entry_time"`
	EntryPrice  float64    `json:"entry_price"`
	QuantityUSD float64    `json:"quantity_usd"`
	Leverage    float64    `json:"leverage"`
	DecisionID  *int64     `json:"decision_id,omitempty"`
	ExitTime    *time.Time `json:"exit_time,omitempty"`
	ExitPrice   *float64   `json:"exit_price,omitempty"`
	RealizedPnL *float64   `json:"realized_pnl,omitempty"`
	Status      string     `json:"status"`
}

// AppendPositionEntry records a freshly opened position.
func (s *Store) AppendPositionEntry(p *Position) (int64, error) {
	if p.EntryTime.IsZero() {
		p.EntryTime = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = PositionOpen
	}

	var decisionID interface{}
	if p.DecisionID != nil {
		decisionID = *p.DecisionID
	}

	res, err := s.db.Exec(`
		INSERT INTO positions (
			position_id, coin, side, entry_time, entry_price,
			quantity_usd, leverage, decision_id, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.PositionID, p.Coin, p.Side, p.EntryTime, p.EntryPrice,
		p.QuantityUSD, p.Leverage, decisionID, p.Status)
	if err != nil {
		return 0, fmt.Errorf("insert position: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("position id: %w", err)
	}
	p.ID = id
	return id, nil
}

// ClosePosition finalizes an open position. Closing twice is an error;
// closed rows are immutable.
func (s *Store) ClosePosition(positionID string, exitPrice, realizedPnL float64) error {
	res, err := s.db.Exec(`
		UPDATE positions
		SET exit_time = ?, exit_price = ?, realized_pnl = ?, status = ?
		WHERE position_id = ? AND status = ?
	`, time.Now().UTC(), exitPrice, realizedPnL, PositionClosed, positionID, PositionOpen)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close position rows: %w", err)
	}
	if n == 0 {
		var status string
		err := s.db.QueryRow(`SELECT status FROM positions WHERE position_id = ?`, positionID).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read position status: %w", err)
		}
		return fmt.Errorf("position %s already %s", positionID, status)
	}
	return nil
}

const positionColumns = `
	id, position_id, coin, side, entry_time, entry_price,
	quantity_usd, leverage, decision_id, exit_time, exit_price,
	realized_pnl, status`

// OpenPositions returns open positions, newest entries first.
func (s *Store) OpenPositions() ([]Position, error) {
	return s.queryPositions(`
		SELECT `+positionColumns+` FROM positions
		WHERE status = ? ORDER BY entry_time DESC`, PositionOpen)
}

// OpenPositionByCoin returns the open position for a coin, or ErrNotFound.
func (s *Store) OpenPositionByCoin(coin string) (*Position, error) {
	positions, err := s.queryPositions(`
		SELECT `+positionColumns+` FROM positions
		WHERE status = ? AND coin = ? ORDER BY entry_time DESC LIMIT 1`, PositionOpen, coin)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("open position for %s: %w", coin, ErrNotFound)
	}
	return &positions[0], nil
}

// ClosedPositions returns closed positions, most recently exited first.
func (s *Store) ClosedPositions(limit int) ([]Position, error) {
	return s.queryPositions(`
		SELECT `+positionColumns+` FROM positions
		WHERE status = ? ORDER BY exit_time DESC LIMIT ?`, PositionClosed, limit)
}

// AllPositions returns positions of any status, newest entries first.
func (s *Store) AllPositions(limit int) ([]Position, error) {
	return s.queryPositions(`
		SELECT `+positionColumns+` FROM positions
		ORDER BY entry_time DESC LIMIT ?`, limit)
}

// CountOpenPositions returns how many positions are currently open.
func (s *Store) CountOpenPositions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM positions WHERE status = ?`, PositionOpen).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open positions: %w", err)
	}
	return n, nil
}

// TotalRealizedPnL sums realized P&L over all closed positions.
func (s *Store) TotalRealizedPnL() (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT SUM(realized_pnl) FROM positions WHERE status = ?`, PositionClosed).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total realized pnl: %w", err)
	}
	return total.Float64, nil
}

// RealizedPnLBetween sums realized P&L of positions exited in [from, to).
// The risk gate uses this with UTC day boundaries.
func (s *Store) RealizedPnLBetween(from, to time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT SUM(realized_pnl) FROM positions
		WHERE status = ? AND exit_time >= ? AND exit_time < ?`,
		PositionClosed, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("realized pnl between: %w", err)
	}
	return total.Float64, nil
}

func (s *Store) queryPositions(query string, args ...interface{}) ([]Position, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var (
			p          Position
			decisionID sql.NullInt64
			exitTime   sql.NullTime
			exitPrice  sql.NullFloat64
			realized   sql.NullFloat64
		)
		err := rows.Scan(
			&p.ID, &p.PositionID, &p.Coin, &p.Side, &p.EntryTime, &p.EntryPrice,
			&p.QuantityUSD, &p.Leverage, &decisionID, &exitTime, &exitPrice,
			&realized, &p.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}

		if decisionID.Valid {
			v := decisionID.Int64
			p.DecisionID = &v
		}
		if exitTime.Valid {
			t := exitTime.Time
			p.ExitTime = &t
		}
		p.ExitPrice = floatPtr(exitPrice)
		p.RealizedPnL = floatPtr(realized)

		positions = append(positions, p)
	}
	return positions, rows.Err()
}
