package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Recognized setting keys. Values live in the settings table as strings
// and are parsed on read.
const (
	SettingPromptPreset     = "prompt_preset"
	SettingMinMarginUSD     = "min_margin_usd"
	SettingMinBalanceUSD    = "min_balance_threshold"
	SettingMaxMarginUSD     = "max_margin_usd"
	SettingIntervalSeconds  = "execution_interval_seconds"
	SettingMaxOpenPositions = "max_open_positions"
	SettingNextCycleTime    = "next_cycle_time"
)

// GetSetting retrieves a setting value by key. Missing keys return "".
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting saves a single setting value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// AllSettings retrieves every stored setting as a map.
func (s *Store) AllSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// SetSettings saves multiple settings in one transaction.
func (s *Store) SetSettings(settings map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare settings: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for key, value := range settings {
		if _, err := stmt.Exec(key, value, now); err != nil {
			return fmt.Errorf("set setting %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// BotSettings is the typed view of engine configuration the control
// plane can change at runtime. MaxMarginUSD bounds per-trade margin;
// MinBalanceUSD gates the pre-flight skip.
type BotSettings struct {
	PromptPreset     string  `json:"prompt_preset"`
	MinMarginUSD     float64 `json:"min_margin_usd"`
	MinBalanceUSD    float64 `json:"min_balance_threshold"`
	MaxMarginUSD     float64 `json:"max_margin_usd"`
	IntervalSeconds  int     `json:"execution_interval_seconds"`
	MaxOpenPositions int     `json:"max_open_positions"`
}

// DefaultBotSettings returns the settings used until the operator saves
// their own. maxMargin and interval come from the env config.
func DefaultBotSettings(maxMarginUSD float64, intervalSeconds int) BotSettings {
	return BotSettings{
		PromptPreset:     "standard",
		MinMarginUSD:     10,
		MinBalanceUSD:    10,
		MaxMarginUSD:     maxMarginUSD,
		IntervalSeconds:  intervalSeconds,
		MaxOpenPositions: 3,
	}
}

// BotSettings loads the typed settings, filling missing or malformed
// keys from defaults.
func (s *Store) BotSettings(defaults BotSettings) (BotSettings, error) {
	all, err := s.AllSettings()
	if err != nil {
		return defaults, err
	}

	bs := defaults
	if v, ok := all[SettingPromptPreset]; ok && v != "" {
		bs.PromptPreset = v
	}
	if v, ok := parseSettingFloat(all, SettingMinMarginUSD); ok {
		bs.MinMarginUSD = v
	}
	if v, ok := parseSettingFloat(all, SettingMinBalanceUSD); ok {
		bs.MinBalanceUSD = v
	}
	if v, ok := parseSettingFloat(all, SettingMaxMarginUSD); ok {
		bs.MaxMarginUSD = v
	}
	if v, ok := parseSettingInt(all, SettingIntervalSeconds); ok {
		bs.IntervalSeconds = v
	}
	if v, ok := parseSettingInt(all, SettingMaxOpenPositions); ok {
		bs.MaxOpenPositions = v
	}
	return bs, nil
}

// SaveBotSettings persists the typed settings atomically.
func (s *Store) SaveBotSettings(bs BotSettings) error {
	return s.SetSettings(map[string]string{
		SettingPromptPreset:     bs.PromptPreset,
		SettingMinMarginUSD:     strconv.FormatFloat(bs.MinMarginUSD, 'f', -1, 64),
		SettingMinBalanceUSD:    strconv.FormatFloat(bs.MinBalanceUSD, 'f', -1, 64),
		SettingMaxMarginUSD:     strconv.FormatFloat(bs.MaxMarginUSD, 'f', -1, 64),
		SettingIntervalSeconds:  strconv.Itoa(bs.IntervalSeconds),
		SettingMaxOpenPositions: strconv.Itoa(bs.MaxOpenPositions),
	})
}

// SetNextCycleTime records when the engine will wake next.
func (s *Store) SetNextCycleTime(t time.Time) error {
	return s.SetSetting(SettingNextCycleTime, t.UTC().Format(time.RFC3339))
}

// NextCycleTime returns the recorded wake time, or nil when unset.
func (s *Store) NextCycleTime() (*time.Time, error) {
	v, err := s.GetSetting(SettingNextCycleTime)
	if err != nil || v == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("parse next_cycle_time: %w", err)
	}
	return &t, nil
}

func parseSettingFloat(all map[string]string, key string) (float64, bool) {
	v, ok := all[key]
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseSettingInt(all map[string]string, key string) (int, bool) {
	v, ok := all[key]
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
