package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operator input kinds. Cycle guidance is injected into the next prompt;
// interrupt queries are answered immediately and never reach a cycle.
const (
	InputCycle     = "cycle"
	InputInterrupt = "interrupt"
)

// OperatorInput is free-form guidance from the operator, optionally with
// an attached chart image.
type OperatorInput struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Message     string    `json:"message"`
	MessageType string    `json:"message_type"`
	ImagePath   string    `json:"image_path,omitempty"`
	IsActive    bool      `json:"is_active"`
}

// SaveOperatorInput stores a new input and archives any previously
// active one in the same transaction, so at most one input is ever
// active.
func (s *Store) SaveOperatorInput(message, messageType, imagePath string) (*OperatorInput, error) {
	if messageType == "" {
		messageType = InputCycle
	}

	input := &OperatorInput{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Message:     message,
		MessageType: messageType,
		ImagePath:   imagePath,
		IsActive:    true,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin input tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE operator_inputs SET is_active = 0 WHERE is_active = 1`); err != nil {
		return nil, fmt.Errorf("archive prior input: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO operator_inputs (id, timestamp, message, message_type, image_path, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
	`, input.ID, input.Timestamp, input.Message, input.MessageType, nullableString(input.ImagePath))
	if err != nil {
		return nil, fmt.Errorf("insert input: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit input: %w", err)
	}
	return input, nil
}

// ActiveOperatorInput returns the single active input, or ErrNotFound.
func (s *Store) ActiveOperatorInput() (*OperatorInput, error) {
	row := s.db.QueryRow(`
		SELECT id, timestamp, message, message_type, image_path, is_active
		FROM operator_inputs WHERE is_active = 1
		ORDER BY timestamp DESC LIMIT 1`)

	var (
		input     OperatorInput
		imagePath sql.NullString
	)
	err := row.Scan(&input.ID, &input.Timestamp, &input.Message,
		&input.MessageType, &imagePath, &input.IsActive)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active operator input: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("active operator input: %w", err)
	}
	input.ImagePath = imagePath.String
	return &input, nil
}

// ArchiveActiveInput deactivates whatever input is active. Archiving
// when nothing is active is not an error.
func (s *Store) ArchiveActiveInput() error {
	if _, err := s.db.Exec(`UPDATE operator_inputs SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("archive input: %w", err)
	}
	return nil
}

// RecentOperatorInputs returns inputs newest first, active or not.
func (s *Store) RecentOperatorInputs(limit int) ([]OperatorInput, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, message, message_type, image_path, is_active
		FROM operator_inputs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query inputs: %w", err)
	}
	defer rows.Close()

	var inputs []OperatorInput
	for rows.Next() {
		var (
			input     OperatorInput
			imagePath sql.NullString
		)
		err := rows.Scan(&input.ID, &input.Timestamp, &input.Message,
			&input.MessageType, &imagePath, &input.IsActive)
		if err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		input.ImagePath = imagePath.String
		inputs = append(inputs, input)
	}
	return inputs, rows.Err()
}
