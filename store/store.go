package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"perp-agent/logger"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// Store is a handle over one mode-separated SQLite event log. Paper and
// live trading never share a file, so a paper run can be reset without
// touching live history.
type Store struct {
	db   *sql.DB
	mode string
	path string
	log  zerolog.Logger
}

// Open opens (creating if needed) the store for the given trading mode
// and brings its schema up to date.
func Open(dataDir, mode string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, fmt.Sprintf("perp_agent_%s.db", mode))
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, mode: mode, path: path, log: logger.Component("store")}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}
	if err := s.migrateColumns(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate columns: %w", err)
	}

	s.log.Info().Str("mode", mode).Str("path", path).Msg("database initialized")
	return s, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, mode: "test", log: logger.Component("store")}
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Mode() string { return s.mode }

var tables = []string{"decisions", "positions", "account_state", "bot_status", "operator_inputs", "settings"}

// TableRows returns the newest raw rows of one whitelisted table as
// column→value maps. Serves the debug endpoint; table names outside the
// schema are rejected before any SQL runs.
func (s *Store) TableRows(table string, limit int) ([]map[string]interface{}, error) {
	known := false
	for _, t := range tables {
		if t == table {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(fmt.Sprintf(`SELECT * FROM %s ORDER BY rowid DESC LIMIT ?`, table), limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			coin TEXT NOT NULL,
			signal TEXT NOT NULL,
			quantity_usd REAL DEFAULT 0,
			leverage REAL DEFAULT 0,
			confidence REAL DEFAULT 0,
			profit_target REAL,
			stop_loss REAL,
			invalidation_condition TEXT,
			justification TEXT,
			raw_response TEXT,
			system_prompt TEXT,
			user_prompt TEXT,
			execution_status TEXT DEFAULT 'pending',
			execution_error TEXT,
			execution_timestamp DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id TEXT UNIQUE NOT NULL,
			coin TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_time DATETIME NOT NULL,
			entry_price REAL NOT NULL,
			quantity_usd REAL NOT NULL,
			leverage REAL NOT NULL,
			decision_id INTEGER,
			exit_time DATETIME,
			exit_price REAL,
			realized_pnl REAL,
			status TEXT DEFAULT 'open',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS account_state (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			balance_usd REAL NOT NULL,
			equity_usd REAL NOT NULL,
			unrealized_pnl REAL DEFAULT 0,
			realized_pnl REAL DEFAULT 0,
			total_pnl REAL DEFAULT 0,
			sharpe_ratio REAL,
			num_positions INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS bot_status (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS operator_inputs (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			message TEXT NOT NULL,
			message_type TEXT DEFAULT 'cycle',
			image_path TEXT,
			is_active BOOLEAN DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_account_timestamp ON account_state(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// migrateColumns adds columns introduced after the original schema so an
// existing database keeps its rows. SQLite has no ADD COLUMN IF NOT
// EXISTS, hence the PRAGMA check.
func (s *Store) migrateColumns() error {
	additions := []struct {
		table, column, ddl string
	}{
		{"positions", "decision_id", "ALTER TABLE positions ADD COLUMN decision_id INTEGER"},
		{"decisions", "system_prompt", "ALTER TABLE decisions ADD COLUMN system_prompt TEXT"},
		{"decisions", "user_prompt", "ALTER TABLE decisions ADD COLUMN user_prompt TEXT"},
		{"decisions", "execution_status", "ALTER TABLE decisions ADD COLUMN execution_status TEXT DEFAULT 'pending'"},
		{"decisions", "execution_error", "ALTER TABLE decisions ADD COLUMN execution_error TEXT"},
		{"decisions", "execution_timestamp", "ALTER TABLE decisions ADD COLUMN execution_timestamp DATETIME"},
		{"operator_inputs", "message_type", "ALTER TABLE operator_inputs ADD COLUMN message_type TEXT DEFAULT 'cycle'"},
		{"operator_inputs", "image_path", "ALTER TABLE operator_inputs ADD COLUMN image_path TEXT"},
	}

	for _, a := range additions {
		has, err := s.hasColumn(a.table, a.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.db.Exec(a.ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", a.table, a.column, err)
		}
		s.log.Info().Str("table", a.table).Str("column", a.column).Msg("added missing column")
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Reset clears all recorded history. With preserveSchema the tables stay
// and the file is vacuumed; otherwise the tables are dropped and rebuilt.
func (s *Store) Reset(preserveSchema bool) error {
	if preserveSchema {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin reset: %w", err)
		}
		defer tx.Rollback()

		for _, table := range tables {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit reset: %w", err)
		}
	} else {
		for _, table := range tables {
			if _, err := s.db.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
		}
		if err := s.initTables(); err != nil {
			return err
		}
	}

	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	s.log.Warn().Bool("preserve_schema", preserveSchema).Msg("database reset")
	return nil
}

// StatusInfo summarizes the database for the operator dashboard.
type StatusInfo struct {
	Mode            string           `json:"mode"`
	Path            string           `json:"path"`
	SizeBytes       int64            `json:"size_bytes"`
	RowCounts       map[string]int64 `json:"row_counts"`
	LatestDecision  *string          `json:"latest_decision,omitempty"`
	LatestSnapshot  *string          `json:"latest_snapshot,omitempty"`
	LatestStatusRow *string          `json:"latest_status,omitempty"`
}

func (s *Store) Status() (*StatusInfo, error) {
	info := &StatusInfo{
		Mode:      s.mode,
		Path:      s.path,
		RowCounts: make(map[string]int64),
	}

	if s.path != "" {
		if fi, err := os.Stat(s.path); err == nil {
			info.SizeBytes = fi.Size()
		}
	}

	for _, table := range tables {
		var n int64
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		info.RowCounts[table] = n
	}

	latest := []struct {
		query string
		dst   **string
	}{
		{`SELECT MAX(timestamp) FROM decisions`, &info.LatestDecision},
		{`SELECT MAX(timestamp) FROM account_state`, &info.LatestSnapshot},
		{`SELECT MAX(timestamp) FROM bot_status`, &info.LatestStatusRow},
	}
	for _, l := range latest {
		var ts sql.NullString
		if err := s.db.QueryRow(l.query).Scan(&ts); err != nil {
			return nil, fmt.Errorf("latest timestamp: %w", err)
		}
		if ts.Valid {
			v := ts.String
			*l.dst = &v
		}
	}

	return info, nil
}
