package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perp-agent/config"
	"perp-agent/logger"
	"perp-agent/notify"
	"perp-agent/store"
)

// Manager owns the loop goroutine and the control token, serializing
// operator commands from the control plane and Telegram. The loop
// itself only reads the token; all writes go through here or through
// another process editing the file.
type Manager struct {
	cfg     *config.Config
	st      *store.Store
	engine  *Engine
	control *Control
	log     zerolog.Logger

	mu   sync.Mutex
	done chan struct{} // closed when the loop goroutine exits
}

func NewManager(deps Deps) *Manager {
	if deps.Control == nil {
		deps.Control = NewControl(deps.Config.DataDir)
	}
	return &Manager{
		cfg:     deps.Config,
		st:      deps.Store,
		engine:  NewEngine(deps),
		control: deps.Control,
		log:     logger.Component("manager"),
	}
}

// Start writes running and launches the loop goroutine if it is not
// already alive. Starting a running bot degenerates to resume.
func (m *Manager) Start() error {
	if err := m.control.Set(StateRunning); err != nil {
		return err
	}
	m.launch()
	return nil
}

// Launch spawns the loop without touching the token. Used at boot to
// pick up whatever state the previous run left behind.
func (m *Manager) Launch() {
	m.launch()
}

func (m *Manager) launch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.aliveLocked() {
		return
	}

	done := make(chan struct{})
	m.done = done
	go func() {
		defer close(done)
		if err := m.engine.Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error().Err(err).Msg("trading loop exited")
		}
	}()
	m.log.Info().Msg("trading loop launched")
}

// Pause writes paused. The loop finishes any in-flight cycle before it
// honors the token.
func (m *Manager) Pause() error {
	return m.control.Set(StatePaused)
}

// Resume writes running. Unlike Start it refuses to revive a dead
// loop: resuming something that is not running is an operator mistake
// worth surfacing.
func (m *Manager) Resume() error {
	if !m.IsProcessRunning() {
		return errors.New("bot process is not running, use start")
	}
	return m.control.Set(StateRunning)
}

// Stop writes stopped and returns immediately; the loop exits at its
// next token check.
func (m *Manager) Stop() error {
	return m.control.Set(StateStopped)
}

// Shutdown stops the loop and waits for it to exit, bounded by the
// context. Used on SIGINT/SIGTERM.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.control.Set(StateStopped); err != nil {
		return err
	}

	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("trading loop did not exit: %w", ctx.Err())
	}
}

// IsProcessRunning reports whether the loop goroutine is alive. A
// paused loop is alive; a stopped one is not.
func (m *Manager) IsProcessRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aliveLocked()
}

func (m *Manager) aliveLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// BotStatus is the control-plane view of the loop.
type BotStatus struct {
	State                State      `json:"state"`
	IsProcessRunning     bool       `json:"is_process_running"`
	CycleIntervalSeconds int        `json:"cycle_interval_seconds"`
	NextCycleTime        *time.Time `json:"next_cycle_time,omitempty"`
}

func (m *Manager) Status() BotStatus {
	s := BotStatus{
		State:                m.control.State(),
		IsProcessRunning:     m.IsProcessRunning(),
		CycleIntervalSeconds: m.intervalSeconds(),
	}
	if next, err := m.st.NextCycleTime(); err == nil {
		s.NextCycleTime = next
	}
	return s
}

func (m *Manager) intervalSeconds() int {
	settings, err := m.st.BotSettings(store.DefaultBotSettings(m.cfg.MaxPositionSizeUSD, m.cfg.IntervalSeconds))
	if err != nil {
		return m.cfg.IntervalSeconds
	}
	return settings.IntervalSeconds
}

// StatusLine renders a one-line status for the Telegram /status command.
func (m *Manager) StatusLine() string {
	s := m.Status()
	line := fmt.Sprintf("state: %s | process: %v | interval: %ds", s.State, s.IsProcessRunning, s.CycleIntervalSeconds)
	if s.NextCycleTime != nil && s.State == StateRunning {
		line += fmt.Sprintf(" | next cycle in %s", time.Until(*s.NextCycleTime).Round(time.Second))
	}
	return line
}

// DirectQuery forwards an interrupt-type operator message to the model
// without touching the trading cadence.
func (m *Manager) DirectQuery(ctx context.Context, message string) (string, error) {
	return m.engine.DirectQuery(ctx, message)
}

// SetNotifier attaches Telegram once its command callbacks exist. Call
// before the loop is launched.
func (m *Manager) SetNotifier(n *notify.Notifier) {
	m.engine.SetNotifier(n)
}
