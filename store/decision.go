package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Execution status of a persisted decision.
const (
	ExecPending = "pending"
	ExecSuccess = "success"
	ExecFailed  = "failed"
	ExecSkipped = "skipped"
)

// Decision is one persisted LLM trading decision together with the
// prompts that produced it and the outcome of its execution attempt.
type Decision struct {
	ID                    int64      `json:"id"`
	Timestamp             time.Time  `json:"timestamp"`
	Coin                  string     `json:"coin"`
	Signal                string     `json:"signal"`
	QuantityUSD           float64    `json:"quantity_usd"`
	Leverage              float64    `json:"leverage"`
	Confidence            float64    `json:"confidence"`
	ProfitTarget          *float64   `json:"profit_target,omitempty"`
	StopLoss              *float64   `json:"stop_loss,omitempty"`
	InvalidationCondition string     `json:"invalidation_condition,omitempty"`
	Justification         string     `json:"justification"`
	RawResponse           string     `json:"raw_response,omitempty"`
	SystemPrompt          string     `json:"system_prompt,omitempty"`
	UserPrompt            string     `json:"user_prompt,omitempty"`
	ExecutionStatus       string     `json:"execution_status"`
	ExecutionError        string     `json:"execution_error,omitempty"`
	ExecutionTimestamp    *time.Time `json:"execution_timestamp,omitempty"`
}

// DecisionOutcome carries the position linked to a decision: the one it
// opened for entry signals, or the most recent position for the same coin
// at decision time for hold/close signals.
type DecisionOutcome struct {
	PositionID     *string  `json:"position_id,omitempty"`
	Side           *string  `json:"side,omitempty"`
	EntryPrice     *float64 `json:"entry_price,omitempty"`
	ExitPrice      *float64 `json:"exit_price,omitempty"`
	RealizedPnL    *float64 `json:"realized_pnl,omitempty"`
	PositionStatus *string  `json:"position_status,omitempty"`
}

// DecisionWithOutcome is the joined read model served by the history API.
type DecisionWithOutcome struct {
	Decision
	Outcome DecisionOutcome `json:"outcome"`
}

// AppendDecision inserts a new decision with execution_status=pending and
// returns its id. The row is inserted before any execution is attempted.
func (s *Store) AppendDecision(d *Decision) (int64, error) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	if d.ExecutionStatus == "" {
		d.ExecutionStatus = ExecPending
	}

	res, err := s.db.Exec(`
		INSERT INTO decisions (
			timestamp, coin, signal, quantity_usd, leverage, confidence,
			profit_target, stop_loss, invalidation_condition, justification,
			raw_response, system_prompt, user_prompt, execution_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Timestamp, d.Coin, d.Signal, d.QuantityUSD, d.Leverage, d.Confidence,
		nullableFloat(d.ProfitTarget), nullableFloat(d.StopLoss),
		d.InvalidationCondition, d.Justification,
		d.RawResponse, d.SystemPrompt, d.UserPrompt, d.ExecutionStatus)
	if err != nil {
		return 0, fmt.Errorf("insert decision: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("decision id: %w", err)
	}
	d.ID = id
	return id, nil
}

// SetDecisionExecution records the outcome of the single execution attempt.
// Repeating the same status is a no-op; changing an already finalized
// status is an error.
func (s *Store) SetDecisionExecution(id int64, status, execErr string) error {
	res, err := s.db.Exec(`
		UPDATE decisions
		SET execution_status = ?, execution_error = ?, execution_timestamp = ?
		WHERE id = ? AND execution_status IN (?, ?)
	`, status, nullableString(execErr), time.Now().UTC(), id, ExecPending, status)
	if err != nil {
		return fmt.Errorf("update decision execution: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decision execution rows: %w", err)
	}
	if n == 0 {
		var current string
		err := s.db.QueryRow(`SELECT execution_status FROM decisions WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("decision %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read decision status: %w", err)
		}
		return fmt.Errorf("decision %d already finalized as %s", id, current)
	}
	return nil
}

const decisionJoin = `
	SELECT d.id, d.timestamp, d.coin, d.signal, d.quantity_usd, d.leverage,
	       d.confidence, d.profit_target, d.stop_loss, d.invalidation_condition,
	       d.justification, d.raw_response, d.execution_status, d.execution_error,
	       d.execution_timestamp,
	       p.position_id, p.side, p.entry_price, p.exit_price, p.realized_pnl, p.status
	FROM decisions d
	LEFT JOIN positions p ON p.id = (
		SELECT p2.id FROM positions p2
		WHERE (d.signal IN ('buy_to_enter', 'sell_to_enter') AND p2.decision_id = d.id)
		   OR (d.signal IN ('hold', 'close') AND p2.coin = d.coin AND p2.entry_time <= d.timestamp)
		ORDER BY p2.entry_time DESC
		LIMIT 1
	)`

// RecentDecisions returns the newest decisions, each joined with its
// linked position so history reads carry realized outcomes.
func (s *Store) RecentDecisions(limit int) ([]DecisionWithOutcome, error) {
	rows, err := s.db.Query(decisionJoin+` ORDER BY d.timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisionRows(rows)
}

// DecisionsByCoin returns the newest decisions for one coin.
func (s *Store) DecisionsByCoin(coin string, limit int) ([]DecisionWithOutcome, error) {
	rows, err := s.db.Query(decisionJoin+` WHERE d.coin = ? ORDER BY d.timestamp DESC LIMIT ?`, coin, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions by coin: %w", err)
	}
	defer rows.Close()
	return scanDecisionRows(rows)
}

// DecisionByID returns one decision without its joined outcome.
func (s *Store) DecisionByID(id int64) (*Decision, error) {
	row := s.db.QueryRow(`
		SELECT id, timestamp, coin, signal, quantity_usd, leverage, confidence,
		       profit_target, stop_loss, invalidation_condition, justification,
		       execution_status, execution_error, execution_timestamp
		FROM decisions WHERE id = ?
	`, id)

	var (
		d            Decision
		profitTarget sql.NullFloat64
		stopLoss     sql.NullFloat64
		invalidation sql.NullString
		just         sql.NullString
		execError    sql.NullString
		execTime     sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.Timestamp, &d.Coin, &d.Signal, &d.QuantityUSD, &d.Leverage,
		&d.Confidence, &profitTarget, &stopLoss, &invalidation, &just,
		&d.ExecutionStatus, &execError, &execTime,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("decision %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read decision: %w", err)
	}

	d.ProfitTarget = floatPtr(profitTarget)
	d.StopLoss = floatPtr(stopLoss)
	d.InvalidationCondition = invalidation.String
	d.Justification = just.String
	d.ExecutionError = execError.String
	if execTime.Valid {
		t := execTime.Time
		d.ExecutionTimestamp = &t
	}
	return &d, nil
}

// CountDecisions returns the total number of recorded decisions.
func (s *Store) CountDecisions() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM decisions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count decisions: %w", err)
	}
	return n, nil
}

func scanDecisionRows(rows *sql.Rows) ([]DecisionWithOutcome, error) {
	var out []DecisionWithOutcome
	for rows.Next() {
		var (
			d             DecisionWithOutcome
			profitTarget  sql.NullFloat64
			stopLoss      sql.NullFloat64
			invalidation  sql.NullString
			justification sql.NullString
			rawResponse   sql.NullString
			execError     sql.NullString
			execTime      sql.NullTime
			posID         sql.NullString
			side          sql.NullString
			entryPrice    sql.NullFloat64
			exitPrice     sql.NullFloat64
			realizedPnL   sql.NullFloat64
			posStatus     sql.NullString
		)

		err := rows.Scan(
			&d.ID, &d.Timestamp, &d.Coin, &d.Signal, &d.QuantityUSD, &d.Leverage,
			&d.Confidence, &profitTarget, &stopLoss, &invalidation,
			&justification, &rawResponse, &d.ExecutionStatus, &execError, &execTime,
			&posID, &side, &entryPrice, &exitPrice, &realizedPnL, &posStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}

		d.ProfitTarget = floatPtr(profitTarget)
		d.StopLoss = floatPtr(stopLoss)
		d.InvalidationCondition = invalidation.String
		d.Justification = justification.String
		d.RawResponse = rawResponse.String
		d.ExecutionError = execError.String
		if execTime.Valid {
			t := execTime.Time
			d.ExecutionTimestamp = &t
		}
		d.Outcome = DecisionOutcome{
			PositionID:     stringPtr(posID),
			Side:           stringPtr(side),
			EntryPrice:     floatPtr(entryPrice),
			ExitPrice:      floatPtr(exitPrice),
			RealizedPnL:    floatPtr(realizedPnL),
			PositionStatus: stringPtr(posStatus),
		}

		out = append(out, d)
	}
	return out, rows.Err()
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
