package trader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// State is the operator-visible run state of the trading loop.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

const controlFile = "bot_control.txt"

// Control is the operator→engine channel: a single-line token file that
// survives restarts and is visible to other processes, plus an
// in-process signal so writes from this process take effect without
// waiting for the next poll. Whichever writer ran last wins.
type Control struct {
	path    string
	signals chan State
}

func NewControl(dataDir string) *Control {
	return &Control{
		path:    filepath.Join(dataDir, controlFile),
		signals: make(chan State, 8),
	}
}

// State reads the current token. An absent file means stopped, as does
// any value outside the known set: an unreadable token must never keep
// the loop trading.
func (c *Control) State() State {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return StateStopped
	}
	switch State(strings.TrimSpace(string(data))) {
	case StateRunning:
		return StateRunning
	case StatePaused:
		return StatePaused
	}
	return StateStopped
}

// Set writes the token with an atomic replace so a concurrent reader
// never observes a partial write, then nudges the in-process channel.
func (c *Control) Set(s State) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("control dir: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(s), 0644); err != nil {
		return fmt.Errorf("write control token: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace control token: %w", err)
	}

	select {
	case c.signals <- s:
	default:
	}
	return nil
}

// Signal delivers in-process token writes between polls. Out-of-process
// writes are only seen by polling State.
func (c *Control) Signal() <-chan State {
	return c.signals
}
