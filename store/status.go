package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Bot lifecycle states recorded in bot_status.
const (
	StatusRunning = "running"
	StatusPaused  = "paused"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// StatusEvent is one bot state transition.
type StatusEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// AppendStatus records a state transition.
func (s *Store) AppendStatus(status, message, errMsg string) error {
	_, err := s.db.Exec(`
		INSERT INTO bot_status (timestamp, status, message, error)
		VALUES (?, ?, ?, ?)
	`, time.Now().UTC(), status, message, errMsg)
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}
	return nil
}

// LatestStatus returns the most recent transition, or ErrNotFound when
// the bot has never run in this mode.
func (s *Store) LatestStatus() (*StatusEvent, error) {
	row := s.db.QueryRow(`
		SELECT id, timestamp, status, message, error FROM bot_status
		ORDER BY timestamp DESC, id DESC LIMIT 1`)

	var (
		ev      StatusEvent
		message sql.NullString
		errMsg  sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.Timestamp, &ev.Status, &message, &errMsg)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bot status: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest status: %w", err)
	}
	ev.Message = message.String
	ev.Error = errMsg.String
	return &ev, nil
}

// RecentStatus returns transitions newest first.
func (s *Store) RecentStatus(limit int) ([]StatusEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, status, message, error FROM bot_status
		ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var (
			ev      StatusEvent
			message sql.NullString
			errMsg  sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Status, &message, &errMsg); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		ev.Message = message.String
		ev.Error = errMsg.String
		events = append(events, ev)
	}
	return events, rows.Err()
}
